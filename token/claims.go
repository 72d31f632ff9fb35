package token

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified token payload
type Claims struct {
	jwt.RegisteredClaims
	Scope ScopeSet `json:"scope,omitempty"`

	// Raw holds every payload member as decoded JSON
	Raw map[string]any `json:"-"`
}

// UnmarshalJSON decodes the registered claims and keeps the full payload in Raw
func (c *Claims) UnmarshalJSON(b []byte) error {
	type plain Claims
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	raw := make(map[string]any)
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*c = Claims(p)
	c.Raw = raw
	return nil
}

// HasScope reports whether the token grants scope
func (c *Claims) HasScope(scope string) bool {
	return c != nil && c.Scope.Has(scope)
}

// ScopeSet is the set of permissions carried by a token.
// It decodes from a space-delimited string or from a JSON list of strings.
// Any other JSON type decodes to an empty set.
type ScopeSet map[string]struct{}

// ParseScope builds a ScopeSet from a space-delimited string
func ParseScope(s string) ScopeSet {
	return NewScopeSet(strings.Fields(s)...)
}

// NewScopeSet builds a ScopeSet from individual scopes, ignoring empty strings
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// Has reports whether scope is in the set
func (s ScopeSet) Has(scope string) bool {
	if scope == "" {
		return false
	}
	_, ok := s[scope]
	return ok
}

// List returns the scopes sorted
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// String returns the scopes in space-delimited form
func (s ScopeSet) String() string {
	return strings.Join(s.List(), " ")
}

func (s *ScopeSet) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = nil
	case b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = ParseScope(str)
	case b[0] == '[':
		var items []any
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		set := make(ScopeSet, len(items))
		for _, item := range items {
			if str, ok := item.(string); ok && str != "" {
				set[str] = struct{}{}
			}
		}
		*s = set
	default:
		*s = ScopeSet{}
	}
	return nil
}

func (s ScopeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Header is the token's protected header
type Header struct {
	Algorithm string         `json:"alg"`
	KeyID     string         `json:"kid,omitempty"`
	Type      string         `json:"typ,omitempty"`
	Raw       map[string]any `json:"-"`
}

func headerFromToken(t *jwt.Token) *Header {
	h := &Header{Raw: t.Header}
	h.Algorithm, _ = t.Header["alg"].(string)
	h.KeyID, _ = t.Header["kid"].(string)
	h.Type, _ = t.Header["typ"].(string)
	return h
}
