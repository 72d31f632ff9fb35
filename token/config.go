// Package token verifies bearer tokens issued by an Auth0-style identity
// provider and exposes the verified claims and protected header.
package token

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMisconfigured is returned when the provider configuration is unusable.
// It is an operator error, never a per-request rejection.
var ErrMisconfigured = errors.New("token verifier misconfigured")

// ProviderConfig identifies the identity provider and the API the tokens must be issued for
type ProviderConfig struct {
	Domain   string // hostname only, see NormalizeDomain
	Audience string
}

// NormalizeDomain strips a leading "https://" and a single trailing "/"
func NormalizeDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimSuffix(domain, "/")
	return domain
}

// Normalized returns a copy of the config with the domain normalized
func (c ProviderConfig) Normalized() ProviderConfig {
	c.Domain = NormalizeDomain(c.Domain)
	return c
}

// Validate checks that both domain and audience are set
func (c ProviderConfig) Validate() error {
	if NormalizeDomain(c.Domain) == "" {
		return fmt.Errorf("%w: provider domain is required", ErrMisconfigured)
	}
	if c.Audience == "" {
		return fmt.Errorf("%w: audience is required", ErrMisconfigured)
	}
	return nil
}

// Issuer returns the expected "iss" claim, https://{domain}/
func (c ProviderConfig) Issuer() string {
	return "https://" + NormalizeDomain(c.Domain) + "/"
}
