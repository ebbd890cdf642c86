package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/pkg/errors"
)

// maxErrorBody caps how much of an error response is kept for classification.
const maxErrorBody = 64 << 10

// Client talks to the order101 REST backend. All of its traffic goes through
// the *http.Client it was built with, so the caller decides which transport
// (request-phase only, or full refresh/retry handling) applies.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL (e.g., "https://order101.link").
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[api.New] invalid base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}, nil
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPError is returned for every non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Code       string // backend error code, e.g. "TOKEN_EXPIRED"
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// SignatureInvalid reports whether the backend rejected the token's signature.
func (e *HTTPError) SignatureInvalid() bool {
	return ParseErrorBody(e.Body).SignatureInvalid()
}

// StatusCode extracts the backend status from err, or 0 if err is not an *HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// ErrorBody is the error payload the backend writes for failed requests.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Signature-invalid markers the backend uses when a token does not verify.
const (
	CodeInvalidTokenSignature = "INVALID_TOKEN_SIGNATURE"
	msgSignatureMismatch      = "JWT signature does not match"
	msgSignatureException     = "SignatureException"
)

// SignatureInvalid reports whether the payload says the token signature does
// not verify. The HTTP status plays no part in the decision.
func (b ErrorBody) SignatureInvalid() bool {
	if b.Code == CodeInvalidTokenSignature {
		return true
	}
	for _, text := range []string{b.Message, b.Error} {
		if strings.Contains(text, msgSignatureMismatch) || strings.Contains(text, msgSignatureException) {
			return true
		}
	}
	return false
}

// ParseErrorBody decodes an error payload. Non-JSON bodies are returned as the message.
func ParseErrorBody(data []byte) ErrorBody {
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return ErrorBody{Message: strings.TrimSpace(string(data))}
	}
	if body.Message == "" {
		body.Message = body.Error
	}
	return body
}

// Do sends a JSON request and decodes a JSON response into out (if non-nil).
// Collaborators use it for resource endpoints the console does not model.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "[api.Do] encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.Wrap(err, "[api.Do] build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[api.Do] %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		parsed := ParseErrorBody(data)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       parsed.Code,
			Message:    parsed.Message,
			Body:       data,
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return conerrors.Wrapf(conerrors.ErrUnexpectedEnvelope, "%s %s: empty body", method, path)
		}
		return conerrors.Wrapf(conerrors.ErrUnexpectedEnvelope, "%s %s: %v", method, path, err)
	}
	return nil
}
