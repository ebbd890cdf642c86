package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/order101-console/api"
	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/sessions"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write json response")
	}
}

// writeBackendError relays a backend failure, keeping its status and code.
func writeBackendError(w http.ResponseWriter, err error) {
	status := api.StatusCode(err)
	resp := errorResponse{Code: "BACKEND_UNAVAILABLE", Message: err.Error()}
	var httpErr *api.HTTPError
	if conerrors.As(err, &httpErr) && httpErr.Code != "" {
		resp.Code = httpErr.Code
	}
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

// HealthHandler reports liveness plus the session and stream state.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"authenticated":    s.console.Store.IsLive(),
			"stream":           s.console.Channel.State().String(),
			"reconnectPending": s.console.Channel.ReconnectPending(),
		})
	}
}

// LoginPageData contains data for rendering the login page
type LoginPageData struct {
	AppName  string
	Email    string // Preserve email on error
	Redirect string
	Remember bool
	Error    string
}

// LoginPageHandler serves the login form. The guard sends live sessions home first.
func (s *Server) LoginPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := LoginPageData{AppName: s.config.GetAppName()}
		if redirectTo := r.URL.Query().Get("redirect"); s.validator.ValidateReturnPath(redirectTo) == nil {
			data.Redirect = redirectTo
		}
		s.renderLogin(w, http.StatusOK, data)
	}
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, data LoginPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.loginPage.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("failed to render login page")
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	Remember   bool   `json:"remember"`
	Redirect   string `json:"redirect"`
}

type loginResponse struct {
	Redirect string      `json:"redirect"`
	Session  sessionView `json:"session"`
}

func parseLoginRequest(r *http.Request) (loginRequest, error) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Identifier = r.PostFormValue("identifier")
	req.Secret = r.PostFormValue("secret")
	req.Redirect = r.PostFormValue("redirect")
	switch strings.ToLower(r.PostFormValue("remember")) {
	case "on", "true", "1", "yes":
		req.Remember = true
	}
	return req, nil
}

// LoginSubmissionHandler logs in, opens the notification channel and sends
// the user to the requested page, or the role's home when it is not allowed.
func (s *Server) LoginSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asJSON := wantsJSON(r)
		req, err := parseLoginRequest(r)
		if err != nil {
			if asJSON {
				writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "malformed login request"})
				return
			}
			s.renderLogin(w, http.StatusBadRequest, LoginPageData{AppName: s.config.GetAppName(), Error: "Malformed login request."})
			return
		}
		if req.Redirect != "" && s.validator.ValidateReturnPath(req.Redirect) != nil {
			log.Warn().Str("redirect", req.Redirect).Msg("dropping unsafe post-login redirect")
			req.Redirect = ""
		}

		if err := s.console.Store.Login(r.Context(), req.Identifier, req.Secret, req.Remember); err != nil {
			status, code, message := loginFailure(err)
			log.Info().Err(err).Str("email", req.Identifier).Msg("login rejected")
			if asJSON {
				writeJSON(w, status, errorResponse{Code: code, Message: message})
				return
			}
			s.renderLogin(w, status, LoginPageData{
				AppName:  s.config.GetAppName(),
				Email:    req.Identifier,
				Redirect: req.Redirect,
				Remember: req.Remember,
				Error:    message,
			})
			return
		}

		// a redirect latched by the previous session is stale now
		s.console.Latch.Take()
		s.console.startChannel(r.Context())

		session := s.console.Store.Session()
		target := req.Redirect
		if target == "" || !session.Role.CanAccess(target) {
			target = session.Role.HomePath()
		}
		log.Info().Int64("userId", session.UserID).Str("role", session.Role.String()).Bool("remember", req.Remember).Msg("logged in")

		if asJSON {
			writeJSON(w, http.StatusOK, loginResponse{Redirect: target, Session: s.sessionView(session)})
			return
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

func loginFailure(err error) (status int, code, message string) {
	switch {
	case conerrors.Is(err, conerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Check your email and password."
	case conerrors.Is(err, conerrors.ErrMissingStoreID):
		return http.StatusForbidden, "MISSING_STORE", "This store account is not linked to a store. Contact head office."
	default:
		return http.StatusBadGateway, "LOGIN_FAILED", "Login failed. Try again later."
	}
}

// LogoutHandler ends the session. Backend failures never block it.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.console.Store.Logout(r.Context())
		s.console.Latch.Take()
		if wantsJSON(r) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Redirect(w, r, s.console.Guard.LoginPath(), http.StatusSeeOther)
	}
}

type sessionView struct {
	UserID        int64     `json:"userId"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	Role          string    `json:"role"`
	StoreID       string    `json:"storeId,omitempty"`
	Tier          string    `json:"tier,omitempty"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	StatusMessage string    `json:"statusMessage,omitempty"`
	Home          string    `json:"home"`
	Scope         string    `json:"scope"`
	Live          bool      `json:"live"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func (s *Server) sessionView(session sessions.Session) sessionView {
	view := sessionView{
		UserID:        session.UserID,
		Name:          session.Name,
		Phone:         session.Phone,
		Role:          session.Role.String(),
		StoreID:       session.StoreID,
		Tier:          session.Tier,
		AvatarURL:     session.AvatarURL,
		StatusMessage: session.StatusMessage,
		Home:          session.Role.HomePath(),
		Scope:         string(s.console.Store.Scope()),
		Live:          s.console.Store.IsLive(),
	}
	if tok, err := s.console.Store.Token(); err == nil {
		view.ExpiresAt = tok.Expiry.UTC()
	}
	return view
}

// SessionHandler describes the signed-in user. The token never leaves the console.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, _ := SessionFromContext(r.Context())
		writeJSON(w, http.StatusOK, s.sessionView(session))
	}
}

type pageResponse struct {
	Path      string      `json:"path"`
	Namespace string      `json:"namespace"`
	User      sessionView `json:"user"`
}

// PageHandler answers an admitted navigation with the page descriptor.
func (s *Server) PageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, _ := SessionFromContext(r.Context())
		writeJSON(w, http.StatusOK, pageResponse{
			Path:      r.URL.Path,
			Namespace: string(session.Role.Namespace()),
			User:      s.sessionView(session),
		})
	}
}
