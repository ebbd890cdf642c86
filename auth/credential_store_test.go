package auth_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/order101-console/api"
	"github.com/jrsteele09/order101-console/auth"
	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/sessions"
	"github.com/jrsteele09/order101-console/sessions/memstore"
	"github.com/jrsteele09/order101-console/users"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "owner@store.kr"
	testPassword = "password123"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeAPI lets each test decide how the backend answers.
type fakeAPI struct {
	login       func(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error)
	refresh     func(ctx context.Context) (*api.TokenResponse, error)
	logoutCalls int32
}

func (f *fakeAPI) Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	return f.login(ctx, req)
}

func (f *fakeAPI) Refresh(ctx context.Context) (*api.TokenResponse, error) {
	return f.refresh(ctx)
}

func (f *fakeAPI) Logout(context.Context) error {
	atomic.AddInt32(&f.logoutCalls, 1)
	return nil
}

// testFixture holds all test dependencies
type testFixture struct {
	durable *memstore.Store
	tab     *memstore.Store
	api     *fakeAPI
	store   *auth.CredentialStore
	now     time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		durable: memstore.New(),
		tab:     memstore.New(),
		api:     &fakeAPI{},
		now:     testNow,
	}
	store, err := auth.NewCredentialStore(
		auth.Repos{Durable: f.durable, Tab: f.tab},
		f.api,
		auth.WithNowTime(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.store = store
	return f
}

func (f *testFixture) loginAs(t *testing.T, resp api.TokenResponse, remember bool) {
	t.Helper()
	f.api.login = func(context.Context, api.LoginRequest) (*api.TokenResponse, error) {
		return &resp, nil
	}
	require.NoError(t, f.store.Login(context.Background(), testEmail, testPassword, remember))
}

func hqLogin(expires time.Time) api.TokenResponse {
	return api.TokenResponse{
		AccessToken: "access-1",
		UserID:      15,
		Name:        "Lee",
		Phone:       "010-1234-5678",
		Role:        "HQ",
		ExpiresAt:   api.FlexInt64(expires.UnixMilli()),
	}
}

func TestNewCredentialStore_Validation(t *testing.T) {
	_, err := auth.NewCredentialStore(auth.Repos{Tab: memstore.New()}, &fakeAPI{})
	require.Error(t, err)
	_, err = auth.NewCredentialStore(auth.Repos{Durable: memstore.New()}, &fakeAPI{})
	require.Error(t, err)
	_, err = auth.NewCredentialStore(auth.Repos{Durable: memstore.New(), Tab: memstore.New()}, nil)
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	t.Run("populates session and persists to tab scope", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.login = func(_ context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
			require.Equal(t, testEmail, req.Email)
			require.Equal(t, testPassword, req.Password)
			resp := hqLogin(testNow.Add(time.Hour))
			return &resp, nil
		}

		require.NoError(t, f.store.Login(context.Background(), testEmail, testPassword, false))
		require.True(t, f.store.IsLive())

		s := f.store.Session()
		require.Equal(t, "access-1", s.AccessToken)
		require.Equal(t, int64(15), s.UserID)
		require.Equal(t, users.RoleHQ, s.Role)
		require.Equal(t, sessions.ScopeTab, f.store.Scope())

		v, ok := f.tab.Get(sessions.KeyAuthToken)
		require.True(t, ok)
		require.Equal(t, "access-1", v)
		require.Equal(t, len(sessions.Keys), f.tab.Len())
		require.Zero(t, f.durable.Len())
	})

	t.Run("remember persists to durable scope", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Hour)), true)
		require.Equal(t, sessions.ScopeDurable, f.store.Scope())
		require.Equal(t, len(sessions.Keys), f.durable.Len())
		require.Zero(t, f.tab.Len())
	})

	t.Run("store admin without store id fails closed", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.login = func(context.Context, api.LoginRequest) (*api.TokenResponse, error) {
			return &api.TokenResponse{AccessToken: "a", Type: "STORE_ADMIN", ExpiresAt: api.FlexInt64(testNow.Add(time.Hour).UnixMilli())}, nil
		}

		err := f.store.Login(context.Background(), testEmail, testPassword, true)
		require.ErrorIs(t, err, conerrors.ErrMissingStoreID)
		require.False(t, f.store.IsLive())
		require.True(t, f.store.Session().Empty())
		require.Zero(t, f.durable.Len())
		require.Zero(t, f.tab.Len())
	})

	t.Run("store admin with store id", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, api.TokenResponse{
			AccessToken: "a",
			Roles:       []string{"STORE_ADMIN"},
			StoreID:     "31",
			ExpiresAt:   api.FlexInt64(testNow.Add(time.Hour).UnixMilli()),
		}, false)
		require.Equal(t, users.RoleStoreAdmin, f.store.Session().Role)
		require.Equal(t, "31", f.store.Session().StoreID)
	})

	t.Run("backend 404 is invalid credentials", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.login = func(context.Context, api.LoginRequest) (*api.TokenResponse, error) {
			return nil, &api.HTTPError{StatusCode: http.StatusNotFound}
		}
		err := f.store.Login(context.Background(), testEmail, testPassword, false)
		require.ErrorIs(t, err, conerrors.ErrInvalidCredentials)
	})

	t.Run("backend 500 is login failed", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.login = func(context.Context, api.LoginRequest) (*api.TokenResponse, error) {
			return nil, &api.HTTPError{StatusCode: http.StatusInternalServerError}
		}
		err := f.store.Login(context.Background(), testEmail, testPassword, false)
		require.ErrorIs(t, err, conerrors.ErrLoginFailed)
	})

	t.Run("malformed email never reaches the backend", func(t *testing.T) {
		f := setupTestFixture(t)
		err := f.store.Login(context.Background(), "nobody", testPassword, false)
		require.ErrorIs(t, err, conerrors.ErrInvalidCredentials)
	})

	t.Run("expiry falls back to the token's exp claim", func(t *testing.T) {
		f := setupTestFixture(t)
		exp := testNow.Add(30 * time.Minute).Truncate(time.Second)
		raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
			"sub": "15",
			"iat": testNow.Unix(),
			"exp": exp.Unix(),
		}).SignedString([]byte("backend-key"))
		require.NoError(t, err)

		f.loginAs(t, api.TokenResponse{AccessToken: raw, Role: "HQ_ADMIN"}, false)
		s := f.store.Session()
		require.Equal(t, exp.UnixMilli(), s.ExpiresAt)
		require.Equal(t, testNow.UnixMilli(), s.IssuedAt)
		require.True(t, f.store.IsLive())
	})

	t.Run("role, store id and user id fall back to the token's claims", func(t *testing.T) {
		f := setupTestFixture(t)
		raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
			"sub":     "77",
			"roles":   []any{"STORE_ADMIN"},
			"storeId": float64(31),
			"exp":     testNow.Add(time.Hour).Unix(),
		}).SignedString([]byte("backend-key"))
		require.NoError(t, err)

		f.loginAs(t, api.TokenResponse{AccessToken: raw}, false)
		s := f.store.Session()
		require.Equal(t, users.RoleStoreAdmin, s.Role)
		require.Equal(t, "31", s.StoreID)
		require.Equal(t, int64(77), s.UserID)
		require.True(t, f.store.IsLive())
	})

	t.Run("login body wins over the token's claims", func(t *testing.T) {
		f := setupTestFixture(t)
		raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
			"role":    "STORE_ADMIN",
			"storeId": "99",
		}).SignedString([]byte("backend-key"))
		require.NoError(t, err)

		resp := hqLogin(testNow.Add(time.Hour))
		resp.AccessToken = raw
		f.loginAs(t, resp, false)
		s := f.store.Session()
		require.Equal(t, users.RoleHQ, s.Role)
		require.Equal(t, int64(15), s.UserID)
		require.Equal(t, "99", s.StoreID)
	})

	t.Run("store admin claim without store id fails closed", func(t *testing.T) {
		f := setupTestFixture(t)
		raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
			"role": "STORE_ADMIN",
			"exp":  testNow.Add(time.Hour).Unix(),
		}).SignedString([]byte("backend-key"))
		require.NoError(t, err)
		f.api.login = func(context.Context, api.LoginRequest) (*api.TokenResponse, error) {
			return &api.TokenResponse{AccessToken: raw}, nil
		}

		err = f.store.Login(context.Background(), testEmail, testPassword, false)
		require.ErrorIs(t, err, conerrors.ErrMissingStoreID)
		require.True(t, f.store.Session().Empty())
		require.Zero(t, f.tab.Len())
	})
}

func TestLogin_ReplacesHeldSession(t *testing.T) {
	t.Run("purges the previous identity first", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Hour)), true)
		generation := f.store.Generation()

		var hooks int
		f.store.OnLogout(func() {
			hooks++
			require.True(t, f.store.Session().Empty(), "hooks see the old session gone")
		})

		f.loginAs(t, api.TokenResponse{
			AccessToken: "access-store",
			UserID:      40,
			Role:        "STORE_ADMIN",
			StoreID:     "12",
			ExpiresAt:   api.FlexInt64(testNow.Add(time.Hour).UnixMilli()),
		}, false)

		require.Equal(t, 1, hooks)
		require.Greater(t, f.store.Generation(), generation)
		s := f.store.Session()
		require.Equal(t, users.RoleStoreAdmin, s.Role)
		require.Equal(t, int64(40), s.UserID)
		require.Equal(t, sessions.ScopeTab, f.store.Scope())
		require.Zero(t, f.durable.Len(), "previous durable session cleared")
		v, _ := f.tab.Get(sessions.KeyAuthToken)
		require.Equal(t, "access-store", v)
		require.Zero(t, f.api.logoutCalls, "switching identity does not call backend logout")
	})

	t.Run("a rejected login keeps the held session", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Hour)), false)
		before := f.store.Session()

		var hooks int
		f.store.OnLogout(func() { hooks++ })
		f.api.login = func(context.Context, api.LoginRequest) (*api.TokenResponse, error) {
			return nil, &api.HTTPError{StatusCode: http.StatusUnauthorized}
		}

		err := f.store.Login(context.Background(), testEmail, testPassword, false)
		require.ErrorIs(t, err, conerrors.ErrInvalidCredentials)
		require.Zero(t, hooks)
		require.Equal(t, before, f.store.Session())
	})
}

func TestIsLive_FollowsClock(t *testing.T) {
	f := setupTestFixture(t)
	f.loginAs(t, hqLogin(testNow.Add(time.Minute)), false)
	require.True(t, f.store.IsLive())
	require.False(t, f.store.Expired())

	f.now = testNow.Add(2 * time.Minute)
	require.False(t, f.store.IsLive())
	require.True(t, f.store.Expired())
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.loginAs(t, hqLogin(testNow.Add(time.Hour)), true)
	require.NoError(t, f.tab.Save(context.Background(), sessions.Session{AccessToken: "stale"}))

	var hooks int
	f.store.OnLogout(func() { hooks++ })

	f.store.Logout(context.Background())
	require.False(t, f.store.IsLive())
	require.True(t, f.store.Session().Empty())
	require.Zero(t, f.durable.Len())
	require.Zero(t, f.tab.Len())
	require.Equal(t, int32(1), f.api.logoutCalls)
	require.Equal(t, 1, hooks)

	// idempotent, and no backend call without a token
	f.store.Logout(context.Background())
	require.Equal(t, int32(1), f.api.logoutCalls)
	require.Equal(t, 2, hooks)
}

func TestForceLogout_NoBackendCall(t *testing.T) {
	f := setupTestFixture(t)
	f.loginAs(t, hqLogin(testNow.Add(time.Hour)), false)

	f.store.ForceLogout(context.Background())
	require.True(t, f.store.Session().Empty())
	require.Zero(t, f.tab.Len())
	require.Zero(t, f.api.logoutCalls)
}

func TestRefresh(t *testing.T) {
	t.Run("replaces token and expiry only", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Minute)), true)
		before := f.store.Session()

		newExpiry := testNow.Add(2 * time.Hour).UnixMilli()
		f.api.refresh = func(context.Context) (*api.TokenResponse, error) {
			return &api.TokenResponse{AccessToken: "access-2", ExpiresAt: api.FlexInt64(newExpiry), Name: "ignored"}, nil
		}

		require.True(t, f.store.Refresh(context.Background()))
		after := f.store.Session()
		require.Equal(t, "access-2", after.AccessToken)
		require.Equal(t, newExpiry, after.ExpiresAt)

		after.AccessToken, after.ExpiresAt = before.AccessToken, before.ExpiresAt
		require.Equal(t, before, after, "identity fields preserved")

		v, _ := f.durable.Get(sessions.KeyAuthToken)
		require.Equal(t, "access-2", v)
	})

	t.Run("missing expiry keeps the previous one", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Minute)), false)
		f.api.refresh = func(context.Context) (*api.TokenResponse, error) {
			return &api.TokenResponse{AccessToken: "opaque"}, nil
		}
		require.True(t, f.store.Refresh(context.Background()))
		require.Equal(t, testNow.Add(time.Minute).UnixMilli(), f.store.Session().ExpiresAt)
	})

	t.Run("failure mutates nothing", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Minute)), false)
		before := f.store.Session()
		f.api.refresh = func(context.Context) (*api.TokenResponse, error) {
			return nil, &api.HTTPError{StatusCode: http.StatusUnauthorized}
		}

		require.False(t, f.store.Refresh(context.Background()))
		require.Equal(t, before, f.store.Session())
		v, _ := f.tab.Get(sessions.KeyAuthToken)
		require.Equal(t, "access-1", v)
	})

	t.Run("concurrent callers share one backend call", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Minute)), false)

		var calls int32
		release := make(chan struct{})
		f.api.refresh = func(context.Context) (*api.TokenResponse, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return &api.TokenResponse{AccessToken: "access-2"}, nil
		}

		var wg sync.WaitGroup
		results := make([]bool, 4)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = f.store.Refresh(context.Background())
			}(i)
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		require.Equal(t, int32(1), atomic.LoadInt32(&calls))
		for _, ok := range results {
			require.True(t, ok)
		}
	})

	t.Run("cancelling the first caller does not fail joined callers", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Minute)), false)

		started := make(chan struct{}, 1)
		release := make(chan struct{})
		f.api.refresh = func(ctx context.Context) (*api.TokenResponse, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			select {
			case <-release:
				return &api.TokenResponse{AccessToken: "access-2"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		navCtx, cancel := context.WithCancel(context.Background())
		first := make(chan bool, 1)
		go func() { first <- f.store.Refresh(navCtx) }()
		<-started

		joined := make(chan bool, 1)
		go func() { joined <- f.store.Refresh(context.WithoutCancel(context.Background())) }()
		time.Sleep(50 * time.Millisecond)

		cancel()
		time.Sleep(20 * time.Millisecond)
		close(release)

		require.True(t, <-first)
		require.True(t, <-joined)
		require.Equal(t, "access-2", f.store.Session().AccessToken)
	})

	t.Run("logout during refresh wins", func(t *testing.T) {
		f := setupTestFixture(t)
		f.loginAs(t, hqLogin(testNow.Add(time.Minute)), false)
		f.api.refresh = func(ctx context.Context) (*api.TokenResponse, error) {
			f.store.ForceLogout(ctx)
			return &api.TokenResponse{AccessToken: "access-2"}, nil
		}

		require.False(t, f.store.Refresh(context.Background()))
		require.True(t, f.store.Session().Empty())
		require.Zero(t, f.tab.Len())
	})
}

func TestAccessToken_FallsBackToPersisted(t *testing.T) {
	f := setupTestFixture(t)
	require.Empty(t, f.store.AccessToken(context.Background()))

	require.NoError(t, f.durable.Save(context.Background(), sessions.Session{AccessToken: "persisted"}))
	require.Equal(t, "persisted", f.store.AccessToken(context.Background()))
}

func TestRestore(t *testing.T) {
	t.Run("tab scope wins over durable", func(t *testing.T) {
		f := setupTestFixture(t)
		ctx := context.Background()
		expires := testNow.Add(time.Hour).UnixMilli()
		require.NoError(t, f.durable.Save(ctx, sessions.Session{AccessToken: "durable", Role: users.RoleHQ, ExpiresAt: expires}))
		require.NoError(t, f.tab.Save(ctx, sessions.Session{AccessToken: "tab", Role: users.RoleHQ, ExpiresAt: expires}))

		require.NoError(t, f.store.Restore(ctx))
		require.Equal(t, "tab", f.store.Session().AccessToken)
		require.Equal(t, sessions.ScopeTab, f.store.Scope())
		require.True(t, f.store.IsLive())
	})

	t.Run("nothing persisted", func(t *testing.T) {
		f := setupTestFixture(t)
		require.ErrorIs(t, f.store.Restore(context.Background()), conerrors.ErrNotLoggedIn)
	})

	t.Run("store admin without store id is purged", func(t *testing.T) {
		f := setupTestFixture(t)
		ctx := context.Background()
		require.NoError(t, f.durable.Save(ctx, sessions.Session{AccessToken: "a", Role: users.RoleStoreAdmin, ExpiresAt: testNow.Add(time.Hour).UnixMilli()}))

		require.ErrorIs(t, f.store.Restore(ctx), conerrors.ErrMissingStoreID)
		require.Zero(t, f.durable.Len())
		require.True(t, f.store.Session().Empty())
	})
}

func TestToken(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.store.Token()
	require.ErrorIs(t, err, conerrors.ErrNotLoggedIn)

	expires := testNow.Add(time.Hour)
	f.loginAs(t, hqLogin(expires), false)
	tok, err := f.store.Token()
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	require.Equal(t, "Bearer", tok.Type())
	require.True(t, expires.Equal(tok.Expiry))
}
