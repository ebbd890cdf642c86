package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jrsteele09/order101-console/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultLoginPath is where forced logouts send the user.
const DefaultLoginPath = "/login"

// peekLimit caps how much of an error body is read for classification.
const peekLimit = 64 << 10

// Authenticator is the credential store as the transport sees it.
type Authenticator interface {
	TokenSource
	// Refresh obtains a new token. False means the session could not be renewed.
	Refresh(ctx context.Context) bool
	// ForceLogout purges the session without contacting the backend.
	ForceLogout(ctx context.Context)
}

// Navigator performs forced navigation, e.g. to the login page.
type Navigator interface {
	Redirect(ctx context.Context, path string)
}

type attemptKey struct{}

// Attempt returns how many times the request carrying ctx has been re-issued.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

func withAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

var _ http.RoundTripper = (*Transport)(nil)

// Transport is the authenticated transport: Bearer injection on the way out
// and refresh-and-retry or forced logout on the way back.
type Transport struct {
	bearer    *Bearer
	auth      Authenticator
	navigator Navigator
	loginPath string
}

// Option configures a Transport.
type Option func(*Transport)

// WithLoginPath overrides the forced-logout redirect target.
func WithLoginPath(path string) Option {
	return func(t *Transport) {
		t.loginPath = path
	}
}

// New wraps base (http.DefaultTransport when nil).
func New(base http.RoundTripper, auth Authenticator, navigator Navigator, options ...Option) *Transport {
	t := &Transport{
		bearer:    NewBearer(base, auth),
		auth:      auth,
		navigator: navigator,
		loginPath: DefaultLoginPath,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	outbound, err := replayable(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Transport] buffer request body")
	}

	resp, err := t.bearer.RoundTrip(outbound)
	if err != nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}
	if Attempt(outbound.Context()) > 0 {
		return resp, nil
	}

	errBody := peekErrorBody(resp)
	ctx := context.WithoutCancel(outbound.Context())
	requestID := outbound.Header.Get(HeaderRequestID)

	switch {
	case errBody.SignatureInvalid():
		log.Warn().Str("requestId", requestID).Int("status", resp.StatusCode).
			Str("path", outbound.URL.Path).Msg("token signature rejected, forcing logout")
		t.forceLogout(ctx)
		return resp, nil

	case resp.StatusCode == http.StatusUnauthorized:
		if !t.auth.Refresh(ctx) {
			log.Warn().Str("requestId", requestID).Str("path", outbound.URL.Path).Msg("token refresh failed, forcing logout")
			t.forceLogout(ctx)
			return resp, nil
		}

		retry, err := t.retryRequest(outbound)
		if err != nil {
			log.Err(err).Str("requestId", requestID).Msg("cannot replay request after refresh")
			return resp, nil
		}
		drain(resp)
		log.Debug().Str("requestId", requestID).Str("path", outbound.URL.Path).Msg("token refreshed, retrying request")
		return t.RoundTrip(retry)
	}

	return resp, nil
}

func (t *Transport) forceLogout(ctx context.Context) {
	t.auth.ForceLogout(ctx)
	if t.navigator != nil {
		t.navigator.Redirect(ctx, t.loginPath)
	}
}

// retryRequest rebuilds req with a fresh body and the new token. The attempt
// count lives in the context so concurrent requests keep separate accounting.
func (t *Transport) retryRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(withAttempt(req.Context(), Attempt(req.Context())+1))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Del("Authorization")
	return retry, nil
}

// replayable clones req and buffers its body so a retry can resend it. It
// also pins the request id so the retry shares it.
func replayable(req *http.Request) (*http.Request, error) {
	outbound := req.Clone(req.Context())
	if outbound.Header.Get(HeaderRequestID) == "" {
		outbound.Header.Set(HeaderRequestID, uuid.NewString())
	}
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return outbound, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	outbound.Body = io.NopCloser(bytes.NewReader(data))
	outbound.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return outbound, nil
}

// peekErrorBody reads the start of an error body for classification and
// puts it back so the caller still sees the whole response.
func peekErrorBody(resp *http.Response) api.ErrorBody {
	if resp.Body == nil {
		return api.ErrorBody{}
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, peekLimit))
	resp.Body = &replayedBody{
		Reader: io.MultiReader(bytes.NewReader(data), resp.Body),
		Closer: resp.Body,
	}
	return api.ParseErrorBody(data)
}

type replayedBody struct {
	io.Reader
	io.Closer
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, peekLimit))
	_ = resp.Body.Close()
}
