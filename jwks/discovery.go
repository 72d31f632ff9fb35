package jwks

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discover reads the issuer's OpenID Connect discovery document and returns its jwks_uri.
// A nil client uses http.DefaultClient.
func Discover(ctx context.Context, issuer string, client *http.Client) (string, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("%w: invalid discovery metadata: %v", ErrDiscoveryFailed, err)
	}
	if meta.JWKSURI == "" {
		return "", fmt.Errorf("%w: discovery document has no jwks_uri", ErrDiscoveryFailed)
	}
	return meta.JWKSURI, nil
}
