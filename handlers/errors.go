package handlers

import "errors"

var (
	errNoKeySet       = errors.New("no key set configured")
	errKeySetNotReady = errors.New("key set not loaded")
	errNoClaims       = errors.New("verified claims missing from request context")
)
