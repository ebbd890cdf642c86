package server

import (
	"context"
	"net/http"
	"net/http/cookiejar"

	"github.com/jrsteele09/order101-console/api"
	"github.com/jrsteele09/order101-console/auth"
	"github.com/jrsteele09/order101-console/guard"
	"github.com/jrsteele09/order101-console/internal/config"
	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/notify"
	"github.com/jrsteele09/order101-console/sessions"
	"github.com/jrsteele09/order101-console/sessions/filestore"
	"github.com/jrsteele09/order101-console/sessions/memstore"
	"github.com/jrsteele09/order101-console/sessions/redisstore"
	"github.com/jrsteele09/order101-console/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Console wires the credential store, the authenticated backend client,
// the notification channel and the route guard into one unit.
type Console struct {
	Store     *auth.CredentialStore
	API       *api.Client // authenticated: bearer, refresh-and-retry, forced logout
	Transport http.RoundTripper
	Channel   *notify.Channel
	Guard     *guard.Guard
	Latch     *guard.RedirectLatch

	closers []func() error
}

// ConsoleOption adjusts the console during bootstrap.
type ConsoleOption func(*consoleOptions)

type consoleOptions struct {
	base      http.RoundTripper
	durable   sessions.Repo
	storeOpts []auth.CredentialStoreOption
	chanOpts  []notify.ChannelOption
}

// WithBaseTransport sets the round tripper every backend call ends in.
func WithBaseTransport(base http.RoundTripper) ConsoleOption {
	return func(o *consoleOptions) {
		o.base = base
	}
}

// WithDurableRepo bypasses the configured session backend.
func WithDurableRepo(repo sessions.Repo) ConsoleOption {
	return func(o *consoleOptions) {
		o.durable = repo
	}
}

// WithStoreOptions forwards options to the credential store.
func WithStoreOptions(options ...auth.CredentialStoreOption) ConsoleOption {
	return func(o *consoleOptions) {
		o.storeOpts = append(o.storeOpts, options...)
	}
}

// WithChannelOptions forwards options to the notification channel.
func WithChannelOptions(options ...notify.ChannelOption) ConsoleOption {
	return func(o *consoleOptions) {
		o.chanOpts = append(o.chanOpts, options...)
	}
}

// NewConsole builds the console from config. Nothing touches the network
// until Start or a login.
func NewConsole(ctx context.Context, cfg config.Config, options ...ConsoleOption) (*Console, error) {
	opts := consoleOptions{base: http.DefaultTransport}
	for _, opt := range options {
		opt(&opts)
	}

	c := &Console{Latch: &guard.RedirectLatch{}}

	durable := opts.durable
	if durable == nil {
		repo, closer, err := newDurableRepo(ctx, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "[NewConsole] session backend")
		}
		durable = repo
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
	}

	// the refresh cookie set at login must ride on refresh calls
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "[NewConsole] cookie jar")
	}

	// Auth calls go through the bearer only, so a 401 on refresh cannot
	// recurse into another refresh. The store is read lazily; until it is
	// assigned the bearer sends no Authorization header.
	var store *auth.CredentialStore
	bearer := transport.NewBearer(opts.base, transport.TokenSourceFunc(func(ctx context.Context) string {
		return store.AccessToken(ctx)
	}))
	authClient, err := api.New(cfg.GetAPIBaseURL(), &http.Client{Transport: bearer, Jar: jar, Timeout: cfg.GetRequestTimeout()})
	if err != nil {
		return nil, errors.Wrap(err, "[NewConsole] auth client")
	}
	store, err = auth.NewCredentialStore(auth.Repos{Durable: durable, Tab: memstore.New()}, authClient, opts.storeOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "[NewConsole] credential store")
	}
	c.Store = store

	c.Transport = transport.New(opts.base, store, c.Latch, transport.WithLoginPath(cfg.GetLoginPath()))
	c.API, err = api.New(cfg.GetAPIBaseURL(), &http.Client{Transport: c.Transport, Jar: jar, Timeout: cfg.GetRequestTimeout()})
	if err != nil {
		return nil, errors.Wrap(err, "[NewConsole] api client")
	}

	chanOpts := []notify.ChannelOption{
		notify.WithPageSize(cfg.GetNotificationPageSize()),
		notify.WithBackoff(cfg.GetBackoffFloor(), cfg.GetBackoffCeiling()),
		notify.WithLoginPath(cfg.GetLoginPath()),
		// the stream carries its token in the query; the bearer only stamps request ids
		notify.WithHTTPClient(&http.Client{Transport: transport.NewBearer(opts.base, nil)}),
	}
	c.Channel, err = notify.NewChannel(c.API, store, c.Latch, cfg.GetStreamURL(), append(chanOpts, opts.chanOpts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "[NewConsole] notification channel")
	}
	store.OnLogout(c.Channel.Reset)

	c.Guard = guard.New(store, guard.WithLoginPath(cfg.GetLoginPath()))
	return c, nil
}

// Start restores a persisted session and, when one is found, opens the
// notification channel.
func (c *Console) Start(ctx context.Context) {
	if err := c.Store.Restore(ctx); err != nil {
		if !conerrors.Is(err, conerrors.ErrNotLoggedIn) {
			log.Warn().Err(err).Msg("session restore")
		}
		return
	}
	session := c.Store.Session()
	log.Info().Int64("userId", session.UserID).Str("role", session.Role.String()).Str("scope", string(c.Store.Scope())).Msg("session restored")
	c.startChannel(ctx)
}

func (c *Console) startChannel(ctx context.Context) {
	if err := c.Channel.Start(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("notification bootstrap failed")
	}
}

// Close tears the channel down and releases the session backend.
func (c *Console) Close() error {
	c.Channel.Teardown()
	var firstErr error
	for _, closer := range c.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newDurableRepo(ctx context.Context, cfg config.Config) (sessions.Repo, func() error, error) {
	switch cfg.GetSessionBackend() {
	case config.SessionBackendRedis:
		store, err := redisstore.NewFromAddr(ctx, cfg.GetRedisAddr(), cfg.GetRedisDB())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.SessionBackendMemory:
		return memstore.New(), nil, nil
	default:
		store, err := filestore.New(cfg.GetDataFolder(), cfg.GetSessionKey())
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}
