package transport

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// HeaderRequestID carries one id per logical request, shared by its retry.
const HeaderRequestID = "X-Request-ID"

// TokenSource yields the access token to attach. An empty token means the
// request goes out unauthenticated.
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) string

func (f TokenSourceFunc) AccessToken(ctx context.Context) string {
	return f(ctx)
}

var _ http.RoundTripper = (*Bearer)(nil)

// Bearer is the request phase of the authenticated transport: it attaches
// the current token and nothing else. The credential store's own refresh
// call goes through a Bearer so it can never recurse into refresh handling.
type Bearer struct {
	base   http.RoundTripper
	source TokenSource
}

// NewBearer wraps base (http.DefaultTransport when nil).
func NewBearer(base http.RoundTripper, source TokenSource) *Bearer {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Bearer{base: base, source: source}
}

func (b *Bearer) RoundTrip(req *http.Request) (*http.Response, error) {
	outbound := req.Clone(req.Context())
	if outbound.Header.Get(HeaderRequestID) == "" {
		outbound.Header.Set(HeaderRequestID, uuid.NewString())
	}
	if accessToken := b.token(req.Context()); accessToken != "" {
		(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(outbound)
	}
	return b.base.RoundTrip(outbound)
}

// token never fails the request: a missing or broken source means no header.
func (b *Bearer) token(ctx context.Context) (accessToken string) {
	if b.source == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("token source unavailable, sending request unauthenticated")
			accessToken = ""
		}
	}()
	return b.source.AccessToken(ctx)
}
