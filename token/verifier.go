package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/upb/api-gatekeeper/jwks"
)

// Outcome tags the result of a verification
type Outcome int

const (
	// OutcomeVerified means signature and claims checked out
	OutcomeVerified Outcome = iota
	// OutcomeRejected means the token is not acceptable: bad signature, wrong audience or issuer,
	// expired, malformed, or signed by a key the provider does not publish
	OutcomeRejected
	// OutcomeUnavailable means the key set could not be obtained from the provider
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what Verify produces for one token
type Result struct {
	Outcome Outcome
	Claims  *Claims
	Header  *Header
	Err     error
}

// Verified reports whether the token was accepted
func (r Result) Verified() bool { return r.Outcome == OutcomeVerified }

// DefaultAlgorithms are the signing algorithms accepted when none are configured
var DefaultAlgorithms = []string{"RS256"}

type options struct {
	algorithms []string
	leeway     time.Duration
	now        func() time.Time
}

// Option customizes a Verifier
type Option func(*options)

// WithAlgorithms restricts the accepted "alg" header values
func WithAlgorithms(algs ...string) Option {
	return func(o *options) {
		if len(algs) > 0 {
			o.algorithms = algs
		}
	}
}

// WithLeeway tolerates clock skew when checking exp, nbf and iat
func WithLeeway(d time.Duration) Option {
	return func(o *options) { o.leeway = d }
}

// WithClock overrides the time source used for exp and nbf checks
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Verifier checks bearer tokens against the provider's key set
type Verifier struct {
	cfg    ProviderConfig
	keys   jwks.KeySet
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for cfg. It fails with ErrMisconfigured when the domain
// or audience is empty or no key set is given.
func NewVerifier(cfg ProviderConfig, keys jwks.KeySet, opts ...Option) (*Verifier, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: key set is required", ErrMisconfigured)
	}

	o := options{algorithms: DefaultAlgorithms}
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(o.algorithms),
		jwt.WithAudience(cfg.Audience),
		jwt.WithIssuer(cfg.Issuer()),
	}
	if o.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(o.leeway))
	}
	if o.now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(o.now))
	}

	return &Verifier{
		cfg:    cfg,
		keys:   keys,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Config returns the normalized provider configuration
func (v *Verifier) Config() ProviderConfig { return v.cfg }

// Verify validates the signature and the registered claims of raw.
// Key set lookups performed on the way honour ctx.
func (v *Verifier) Verify(ctx context.Context, raw string) Result {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(raw, claims, v.keys.Keyfunc(ctx))
	if err != nil {
		if jwks.IsInfrastructure(err) {
			return Result{Outcome: OutcomeUnavailable, Err: err}
		}
		return Result{Outcome: OutcomeRejected, Err: err}
	}
	if !parsed.Valid {
		return Result{Outcome: OutcomeRejected, Err: errors.New("token is not valid")}
	}

	return Result{
		Outcome: OutcomeVerified,
		Claims:  claims,
		Header:  headerFromToken(parsed),
	}
}
