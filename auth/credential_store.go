package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/order101-console/api"
	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/sessions"
	"github.com/jrsteele09/order101-console/token"
	"github.com/jrsteele09/order101-console/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// API is the slice of the backend the credential store calls.
type API interface {
	Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error)
	Refresh(ctx context.Context) (*api.TokenResponse, error)
	Logout(ctx context.Context) error
}

// Repos holds the two storage scopes a session can be persisted to
type Repos struct {
	Durable sessions.Repo // "remember me"
	Tab     sessions.Repo // process lifetime
}

var _ oauth2.TokenSource = (*CredentialStore)(nil)

// CredentialStore owns the console's single session. It is the only writer;
// the transport, the notification channel and the route guard read through it.
type CredentialStore struct {
	repos     Repos
	api       API
	validator *Validator
	nowTime   func() time.Time

	lock       sync.RWMutex
	session    sessions.Session
	scope      sessions.Scope
	generation uint64 // bumped on login and purge

	hooksLock sync.Mutex
	hooks     []func()

	refreshes singleflight.Group
}

// CredentialStoreOption defines a function type to modify the CredentialStore instance.
type CredentialStoreOption func(*CredentialStore)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) CredentialStoreOption {
	return func(cs *CredentialStore) {
		cs.nowTime = nowFunc
	}
}

// NewCredentialStore creates an empty store. Call Restore to pick up a persisted session.
func NewCredentialStore(repos Repos, client API, options ...CredentialStoreOption) (*CredentialStore, error) {
	if repos.Durable == nil {
		return nil, errors.New("[NewCredentialStore] Durable repo is required")
	}
	if repos.Tab == nil {
		return nil, errors.New("[NewCredentialStore] Tab repo is required")
	}
	if client == nil {
		return nil, errors.New("[NewCredentialStore] api is required")
	}

	cs := &CredentialStore{
		repos:     repos,
		api:       client,
		validator: NewValidator(),
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(cs)
	}
	return cs, nil
}

// Login authenticates against the backend and, on success, replaces the
// session in one step and persists it to the scope chosen by remember.
// A store admin without a store id is refused and nothing is written.
// A session that is already held is purged first, so logout hooks run on
// every identity switch.
func (cs *CredentialStore) Login(ctx context.Context, identifier, secret string, remember bool) error {
	if err := cs.validator.ValidateCredentials(identifier, secret); err != nil {
		return errors.Wrapf(conerrors.ErrInvalidCredentials, "[Login] %v", err)
	}

	resp, err := cs.api.Login(ctx, api.LoginRequest{Email: strings.TrimSpace(identifier), Password: secret})
	if err != nil {
		switch api.StatusCode(err) {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
			return errors.Wrapf(conerrors.ErrInvalidCredentials, "[Login] %v", err)
		}
		return errors.Wrapf(conerrors.ErrLoginFailed, "[Login] %v", err)
	}
	if resp.AccessToken == "" {
		return errors.Wrap(conerrors.ErrLoginFailed, "[Login] backend returned no access token")
	}

	session := cs.sessionFromLogin(resp)
	if session.MissingStore() || (resp.IsStoreAdmin() && session.StoreID == "") {
		log.Warn().Int64("userId", session.UserID).Msg("store admin login without store id refused")
		return errors.Wrap(conerrors.ErrMissingStoreID, "[Login]")
	}

	cs.lock.RLock()
	previous := cs.session
	cs.lock.RUnlock()
	if !previous.Empty() {
		log.Info().Int64("previousUserId", previous.UserID).Msg("replacing the current session")
		cs.purge(ctx)
	}

	scope, other := sessions.ScopeTab, cs.repos.Durable
	if remember {
		scope, other = sessions.ScopeDurable, cs.repos.Tab
	}
	if err := cs.repo(scope).Save(ctx, session); err != nil {
		return errors.Wrap(err, "[Login] failed to persist session")
	}
	if err := other.Clear(ctx); err != nil {
		log.Err(err).Msg("failed to clear the unused session scope")
	}

	cs.lock.Lock()
	cs.session = session
	cs.scope = scope
	cs.generation++
	cs.lock.Unlock()

	log.Info().Int64("userId", session.UserID).Str("role", session.Role.String()).
		Str("scope", string(scope)).Msg("login succeeded")
	return nil
}

// sessionFromLogin builds the session from the login body. Role, store id,
// user id and the timestamps fall back to the access token's claims.
func (cs *CredentialStore) sessionFromLogin(resp *api.TokenResponse) sessions.Session {
	session := sessions.Session{
		AccessToken:   resp.AccessToken,
		UserID:        resp.ResolvedUserID(),
		Name:          resp.ResolvedName(),
		Phone:         resp.Phone,
		Role:          resp.PrimaryRole(),
		StoreID:       strings.TrimSpace(string(resp.StoreID)),
		Tier:          resp.Tier,
		AvatarURL:     resp.AvatarURL,
		StatusMessage: resp.StatusMessage,
		IssuedAt:      int64(resp.IssuedAt),
		ExpiresAt:     resp.ExpiryMillis(),
	}
	if session.Role == "" && resp.IsStoreAdmin() {
		session.Role = users.RoleStoreAdmin
	}

	claims, err := token.ParseClaims(resp.AccessToken)
	if err != nil {
		log.Debug().Err(err).Msg("access token claims unreadable")
		claims = &token.Claims{}
	}
	if session.Role == "" {
		session.Role = users.FirstRole(append([]string{claims.Role}, claims.Roles...)...)
	}
	if session.StoreID == "" {
		session.StoreID = strings.TrimSpace(claims.StoreID)
	}
	if session.UserID == 0 {
		session.UserID, _ = strconv.ParseInt(claims.Subject, 10, 64)
	}
	if session.ExpiresAt == 0 && !claims.ExpiresAt.IsZero() {
		session.ExpiresAt = claims.ExpiresAt.UnixMilli()
	}
	if session.IssuedAt == 0 {
		if !claims.IssuedAt.IsZero() {
			session.IssuedAt = claims.IssuedAt.UnixMilli()
		} else {
			session.IssuedAt = cs.nowTime().UnixMilli()
		}
	}
	return session
}

// Logout tells the backend to drop the refresh token, then purges the
// session. Backend failures are logged; the local purge always happens.
func (cs *CredentialStore) Logout(ctx context.Context) {
	if cs.AccessToken(ctx) != "" {
		if err := cs.api.Logout(ctx); err != nil {
			log.Warn().Err(err).Msg("backend logout failed")
		}
	}
	cs.purge(ctx)
	log.Info().Msg("logged out")
}

// ForceLogout purges the session without contacting the backend.
func (cs *CredentialStore) ForceLogout(ctx context.Context) {
	cs.purge(ctx)
	log.Warn().Msg("session purged")
}

// purge zeroes the session, clears both scopes and runs the logout hooks.
// It is safe to call when already logged out.
func (cs *CredentialStore) purge(ctx context.Context) {
	cs.lock.Lock()
	cs.session = sessions.Session{}
	cs.scope = sessions.ScopeNone
	cs.generation++
	cs.lock.Unlock()

	for _, repo := range []sessions.Repo{cs.repos.Durable, cs.repos.Tab} {
		if err := repo.Clear(ctx); err != nil {
			log.Err(err).Msg("failed to clear persisted session")
		}
	}

	cs.hooksLock.Lock()
	hooks := append([]func(){}, cs.hooks...)
	cs.hooksLock.Unlock()
	for _, hook := range hooks {
		hook()
	}
}

// OnLogout registers a function to run after every purge.
func (cs *CredentialStore) OnLogout(hook func()) {
	cs.hooksLock.Lock()
	defer cs.hooksLock.Unlock()
	cs.hooks = append(cs.hooks, hook)
}

// Refresh asks the backend for a new access token. On success only the token
// and expiry change; on failure nothing changes and false is returned.
// Concurrent callers share a single backend call, which is not cancelled
// when the caller that started it goes away.
func (cs *CredentialStore) Refresh(ctx context.Context) bool {
	// joined callers share one refresh; it is detached from the first caller's ctx
	detached := context.WithoutCancel(ctx)
	_, err, shared := cs.refreshes.Do("refresh", func() (any, error) {
		return nil, cs.refresh(detached)
	})
	if err != nil {
		if !shared {
			log.Warn().Err(err).Msg("token refresh failed")
		}
		return false
	}
	return true
}

func (cs *CredentialStore) refresh(ctx context.Context) error {
	cs.lock.RLock()
	generation := cs.generation
	cs.lock.RUnlock()

	resp, err := cs.api.Refresh(ctx)
	if err != nil {
		return errors.Wrapf(conerrors.ErrRefreshFailed, "%v", err)
	}

	expiresAt := resp.ExpiryMillis()
	if expiresAt == 0 {
		expiresAt, _ = token.ExpiryMillis(resp.AccessToken)
	}

	cs.lock.Lock()
	defer cs.lock.Unlock()
	if cs.generation != generation {
		return errors.Wrap(conerrors.ErrRefreshFailed, "session changed during refresh")
	}

	current, scope := cs.session, cs.scope
	if current.Empty() {
		current, scope = cs.loadPersisted(ctx)
	}
	current.AccessToken = resp.AccessToken
	if expiresAt != 0 {
		current.ExpiresAt = expiresAt
	}
	if scope == sessions.ScopeNone {
		scope = sessions.ScopeTab
	}
	if err := cs.repo(scope).Save(ctx, current); err != nil {
		log.Err(err).Str("scope", string(scope)).Msg("failed to persist refreshed token")
	}
	cs.session = current
	cs.scope = scope
	log.Debug().Int64("expiresAt", current.ExpiresAt).Msg("access token refreshed")
	return nil
}

// Restore loads a persisted session, tab scope first. Store admin sessions
// without a store id are discarded.
func (cs *CredentialStore) Restore(ctx context.Context) error {
	session, scope := cs.loadPersisted(ctx)
	if scope == sessions.ScopeNone {
		return conerrors.ErrNotLoggedIn
	}
	if session.MissingStore() {
		log.Warn().Str("scope", string(scope)).Msg("persisted store admin session has no store id")
		cs.purge(ctx)
		return conerrors.ErrMissingStoreID
	}

	cs.lock.Lock()
	cs.session = session
	cs.scope = scope
	cs.generation++
	cs.lock.Unlock()

	log.Info().Int64("userId", session.UserID).Str("scope", string(scope)).
		Bool("live", session.IsLive(cs.nowTime())).Msg("session restored")
	return nil
}

// loadPersisted returns the first persisted session holding a token.
func (cs *CredentialStore) loadPersisted(ctx context.Context) (sessions.Session, sessions.Scope) {
	for _, scope := range []sessions.Scope{sessions.ScopeTab, sessions.ScopeDurable} {
		session, err := cs.repo(scope).Load(ctx)
		if err != nil {
			if !conerrors.Is(err, conerrors.ErrNotFound) {
				log.Err(err).Str("scope", string(scope)).Msg("failed to load persisted session")
			}
			continue
		}
		if session.AccessToken != "" {
			return session, scope
		}
	}
	return sessions.Session{}, sessions.ScopeNone
}

func (cs *CredentialStore) repo(scope sessions.Scope) sessions.Repo {
	if scope == sessions.ScopeDurable {
		return cs.repos.Durable
	}
	return cs.repos.Tab
}

// IsLive is recomputed from the current token and expiry on every call.
func (cs *CredentialStore) IsLive() bool {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.session.IsLive(cs.nowTime())
}

// Expired reports whether a token is held but is past its expiry.
func (cs *CredentialStore) Expired() bool {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.session.Expired(cs.nowTime())
}

// AccessToken returns the session token, falling back to the persisted
// token. Storage errors yield an empty token.
func (cs *CredentialStore) AccessToken(ctx context.Context) string {
	cs.lock.RLock()
	accessToken := cs.session.AccessToken
	cs.lock.RUnlock()
	if accessToken != "" {
		return accessToken
	}
	persisted, _ := cs.loadPersisted(ctx)
	return persisted.AccessToken
}

// Session returns a copy of the current session.
func (cs *CredentialStore) Session() sessions.Session {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.session
}

// Generation changes on every login, restore and purge. Token refreshes keep it.
func (cs *CredentialStore) Generation() uint64 {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.generation
}

// Scope returns where the current session is persisted.
func (cs *CredentialStore) Scope() sessions.Scope {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.scope
}

// Token exposes the session as an oauth2 token.
func (cs *CredentialStore) Token() (*oauth2.Token, error) {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	if cs.session.AccessToken == "" {
		return nil, conerrors.ErrNotLoggedIn
	}
	return &oauth2.Token{
		AccessToken: cs.session.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.UnixMilli(cs.session.ExpiresAt),
	}, nil
}
