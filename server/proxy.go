package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/jrsteele09/order101-console/transport"
	"github.com/rs/zerolog/log"
)

// newBackendProxy forwards /api/ calls to the backend through rt, so the
// console's token, refresh-and-retry and forced logout apply to them.
// Browser credentials are stripped; the console's own session is the only one sent.
func newBackendProxy(backend *url.URL, rt http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(backend)
			pr.Out.Host = backend.Host
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
			if id := pr.In.Header.Get(transport.HeaderRequestID); id != "" {
				pr.Out.Header.Set(transport.HeaderRequestID, id)
			}
		},
		Transport: rt,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del("Set-Cookie")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("backend proxy failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Code: "BACKEND_UNAVAILABLE", Message: "backend unavailable"})
		},
	}
}
