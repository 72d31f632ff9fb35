package middleware

import (
	"net/http"
	"strings"
)

// Bearer challenge error codes
const (
	ErrorInvalidRequest    = "invalid_request"
	ErrorInvalidToken      = "invalid_token"
	ErrorInsufficientScope = "insufficient_scope"
)

// Challenge is a Bearer WWW-Authenticate challenge
type Challenge struct {
	Realm       string
	Error       string
	Description string
}

var challengeEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// String formats the challenge as a WWW-Authenticate header value
func (c Challenge) String() string {
	var b strings.Builder
	b.WriteString(`Bearer realm="`)
	b.WriteString(challengeEscaper.Replace(c.Realm))
	b.WriteString(`",error="`)
	b.WriteString(challengeEscaper.Replace(c.Error))
	b.WriteString(`",error_description="`)
	b.WriteString(challengeEscaper.Replace(c.Description))
	b.WriteString(`"`)
	return b.String()
}

// RequestURL reconstructs the absolute URL the client requested
func RequestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// writeChallenge rejects the request with status, a Bearer challenge and the status text as body
func writeChallenge(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	challenge := Challenge{
		Realm:       RequestURL(r),
		Error:       code,
		Description: description,
	}
	w.Header().Set("WWW-Authenticate", challenge.String())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(http.StatusText(status)))
}
