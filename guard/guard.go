package guard

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/jrsteele09/order101-console/sessions"
	"github.com/rs/zerolog/log"
)

// DefaultLoginPath is the public entry point.
const DefaultLoginPath = "/login"

// QueryRedirect carries the originally requested path through the login page.
const QueryRedirect = "redirect"

// Credentials is the credential store as the guard sees it.
type Credentials interface {
	IsLive() bool
	Expired() bool
	Session() sessions.Session
	Refresh(ctx context.Context) bool
	ForceLogout(ctx context.Context)
}

// Decision is the outcome of a navigation. Redirect is empty when Allow is true.
type Decision struct {
	Allow    bool
	Redirect string
}

func allow() Decision {
	return Decision{Allow: true}
}

func redirect(target string) Decision {
	return Decision{Redirect: target}
}

// Guard gates navigation on session liveness and role namespace.
type Guard struct {
	creds       Credentials
	loginPath   string
	publicPaths map[string]bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithLoginPath overrides the login entry point.
func WithLoginPath(loginPath string) Option {
	return func(g *Guard) {
		delete(g.publicPaths, g.loginPath)
		g.loginPath = loginPath
		g.publicPaths[loginPath] = true
	}
}

// WithPublicPaths adds routes that do not need a session (e.g., "/signup").
func WithPublicPaths(paths ...string) Option {
	return func(g *Guard) {
		for _, p := range paths {
			g.publicPaths[p] = true
		}
	}
}

func New(creds Credentials, options ...Option) *Guard {
	g := &Guard{
		creds:       creds,
		loginPath:   DefaultLoginPath,
		publicPaths: map[string]bool{DefaultLoginPath: true},
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// LoginPath returns the login entry point.
func (g *Guard) LoginPath() string {
	return g.loginPath
}

// IsPublic reports whether target is reachable without a session.
func (g *Guard) IsPublic(target string) bool {
	return g.publicPaths[cleanPath(target)]
}

// Navigate decides whether the session may visit target.
func (g *Guard) Navigate(ctx context.Context, target string) Decision {
	target = cleanPath(target)

	// one silent refresh for a held but expired token
	if g.creds.Expired() {
		if !g.creds.Refresh(ctx) {
			log.Debug().Str("path", target).Msg("silent refresh failed")
		}
	}

	session := g.creds.Session()
	if session.AccessToken != "" && session.MissingStore() {
		log.Warn().Int64("userId", session.UserID).Msg("store admin session without store id, forcing logout")
		g.creds.ForceLogout(ctx)
		if g.IsPublic(target) {
			return allow()
		}
		return redirect(g.loginPath)
	}

	live := g.creds.IsLive()
	if g.IsPublic(target) {
		if live {
			return redirect(session.Role.HomePath())
		}
		return allow()
	}

	if !live {
		return redirect(g.loginRedirect(target))
	}

	if !session.Role.Known() {
		log.Warn().Str("role", session.Role.String()).Msg("session role cannot be routed, forcing logout")
		g.creds.ForceLogout(ctx)
		return redirect(g.loginPath)
	}

	if !session.Role.CanAccess(target) {
		return redirect(session.Role.HomePath())
	}
	return allow()
}

func (g *Guard) loginRedirect(target string) string {
	if target == "/" {
		return g.loginPath
	}
	return g.loginPath + "?" + url.Values{QueryRedirect: {target}}.Encode()
}

func cleanPath(target string) string {
	if target == "" {
		return "/"
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	cleaned := path.Clean(target)
	if strings.HasSuffix(target, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
