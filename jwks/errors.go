package jwks

import "errors"

var (
	// ErrMissingKeyID is returned when a token header carries no "kid"
	ErrMissingKeyID = errors.New("token header has no kid")

	// ErrKeyNotFound is returned when the key set has no key for the requested kid
	ErrKeyNotFound = errors.New("signing key not found in JWKS")

	// ErrMalformedKeySet is returned when the JWKS payload cannot be used
	ErrMalformedKeySet = errors.New("malformed JWKS")

	// ErrFetchTimeout is returned when fetching the JWKS exceeds the configured timeout
	ErrFetchTimeout = errors.New("JWKS fetch timed out")

	// ErrFetchFailed is returned when the JWKS endpoint is unreachable or answers with a non-2xx status.
	// It is the only resolver error that signals an infrastructure fault rather than a bad token.
	ErrFetchFailed = errors.New("failed to fetch JWKS")

	// ErrDiscoveryFailed is returned when OIDC discovery cannot produce a jwks_uri
	ErrDiscoveryFailed = errors.New("OIDC discovery failed")
)

// IsInfrastructure reports whether err came from the key set endpoint being unavailable.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrFetchFailed)
}
