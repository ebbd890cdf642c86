package api

import (
	"context"
	"net/http"

	"github.com/jrsteele09/order101-console/users"
	"github.com/pkg/errors"
)

// Auth endpoints
const (
	PathLogin   = "/api/v1/auth/login"
	PathRefresh = "/api/v1/auth/refresh"
	PathLogout  = "/api/v1/auth/logout"
)

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is items[0] of the login and refresh envelopes.
// Refresh responses only carry the token fields.
type TokenResponse struct {
	AccessToken   string     `json:"accessToken"`
	UserID        FlexInt64  `json:"userId"`
	ID            FlexInt64  `json:"id"`
	Name          string     `json:"name"`
	UserName      string     `json:"userName"`
	Phone         string     `json:"phone"`
	Role          string     `json:"role"`
	Roles         []string   `json:"roles"`
	Type          string     `json:"type"`
	StoreID       FlexString `json:"storeId"`
	Tier          string     `json:"tier"`
	AvatarURL     string     `json:"avatarUrl"`
	StatusMessage string     `json:"statusMessage"`
	IssuedAt      FlexInt64  `json:"issuedAt"`
	ExpiresAt     FlexInt64  `json:"expiresAt"`
	ExpireAt      FlexInt64  `json:"expireAt"`
	Expires       FlexInt64  `json:"expires"`
}

// PrimaryRole resolves the role from role, roles[0] or type, in that order.
func (t TokenResponse) PrimaryRole() users.RoleType {
	candidates := []string{t.Role}
	if len(t.Roles) > 0 {
		candidates = append(candidates, t.Roles[0])
	}
	candidates = append(candidates, t.Type)
	return users.FirstRole(candidates...)
}

// IsStoreAdmin is true when either the role or the account type says STORE_ADMIN.
func (t TokenResponse) IsStoreAdmin() bool {
	return t.PrimaryRole() == users.RoleStoreAdmin || users.ParseRole(t.Type) == users.RoleStoreAdmin
}

// ResolvedUserID prefers userId over id.
func (t TokenResponse) ResolvedUserID() int64 {
	if t.UserID != 0 {
		return int64(t.UserID)
	}
	return int64(t.ID)
}

// ResolvedName prefers name over userName.
func (t TokenResponse) ResolvedName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.UserName
}

// ExpiryMillis returns the first non-zero of expiresAt, expireAt and expires.
func (t TokenResponse) ExpiryMillis() int64 {
	for _, v := range []FlexInt64{t.ExpiresAt, t.ExpireAt, t.Expires} {
		if v != 0 {
			return int64(v)
		}
	}
	return 0
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var env Envelope[TokenResponse]
	if err := c.Do(ctx, http.MethodPost, PathLogin, nil, req, &env); err != nil {
		return nil, errors.Wrap(err, "[Login]")
	}
	tok, err := env.First()
	if err != nil {
		return nil, errors.Wrap(err, "[Login]")
	}
	return &tok, nil
}

// Refresh asks for a new access token. The current token travels in the
// Authorization header and the refresh cookie rides in the client's jar.
func (c *Client) Refresh(ctx context.Context) (*TokenResponse, error) {
	var env Envelope[TokenResponse]
	if err := c.Do(ctx, http.MethodPost, PathRefresh, nil, nil, &env); err != nil {
		return nil, errors.Wrap(err, "[Refresh]")
	}
	tok, err := env.First()
	if err != nil {
		return nil, errors.Wrap(err, "[Refresh]")
	}
	if tok.AccessToken == "" {
		return nil, errors.New("[Refresh] empty access token")
	}
	return &tok, nil
}

// Logout revokes the refresh token server side.
func (c *Client) Logout(ctx context.Context) error {
	return errors.Wrap(c.Do(ctx, http.MethodPost, PathLogout, nil, nil, nil), "[Logout]")
}
