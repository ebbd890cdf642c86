package sessions

import (
	"strconv"
	"time"

	"github.com/jrsteele09/order101-console/users"
)

// Persisted key layout. Every key is written and removed as one group.
const (
	KeyAuthToken     = "authToken"
	KeyUserID        = "userId"
	KeyName          = "name"
	KeyPhone         = "phone"
	KeyRole          = "role"
	KeyStoreID       = "storeId"
	KeyTier          = "tier"
	KeyAvatarURL     = "avatarUrl"
	KeyStatusMessage = "statusMessage"
	KeyExpiresAt     = "expiresAt"
)

// Keys lists the persisted keys in a stable order.
var Keys = []string{
	KeyAuthToken, KeyUserID, KeyName, KeyPhone, KeyRole,
	KeyStoreID, KeyTier, KeyAvatarURL, KeyStatusMessage, KeyExpiresAt,
}

// Scope selects where a session is persisted.
type Scope string

const (
	ScopeNone    Scope = ""
	ScopeDurable Scope = "durable" // survives restarts ("remember me")
	ScopeTab     Scope = "tab"     // lives as long as the console process
)

// Session is the authenticated user's credential and profile state held by the console.
// IssuedAt and ExpiresAt are epoch milliseconds.
type Session struct {
	AccessToken   string         `json:"accessToken,omitempty"`
	UserID        int64          `json:"userId,omitempty"`
	Name          string         `json:"name,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	Role          users.RoleType `json:"role,omitempty"`
	StoreID       string         `json:"storeId,omitempty"`
	Tier          string         `json:"tier,omitempty"`
	AvatarURL     string         `json:"avatarUrl,omitempty"`
	StatusMessage string         `json:"statusMessage,omitempty"`
	IssuedAt      int64          `json:"issuedAt,omitempty"`
	ExpiresAt     int64          `json:"expiresAt,omitempty"`
}

// IsLive reports whether the session holds a token that has not yet expired.
func (s Session) IsLive(now time.Time) bool {
	return s.AccessToken != "" && s.ExpiresAt > now.UnixMilli()
}

// Expired reports whether a token is present but past its expiry.
func (s Session) Expired(now time.Time) bool {
	return s.AccessToken != "" && !s.IsLive(now)
}

// Empty reports whether the session carries no credential and no identity.
func (s Session) Empty() bool {
	return s == Session{}
}

// MissingStore reports whether the role demands a store id the session lacks.
func (s Session) MissingStore() bool {
	return s.Role.RequiresStore() && s.StoreID == ""
}

// Values renders the session into the persisted key layout.
func (s Session) Values() map[string]string {
	return map[string]string{
		KeyAuthToken:     s.AccessToken,
		KeyUserID:        strconv.FormatInt(s.UserID, 10),
		KeyName:          s.Name,
		KeyPhone:         s.Phone,
		KeyRole:          string(s.Role),
		KeyStoreID:       s.StoreID,
		KeyTier:          s.Tier,
		KeyAvatarURL:     s.AvatarURL,
		KeyStatusMessage: s.StatusMessage,
		KeyExpiresAt:     strconv.FormatInt(s.ExpiresAt, 10),
	}
}

// FromValues rebuilds a session from the persisted key layout. Numeric
// fields that fail to parse are left at zero.
func FromValues(values map[string]string) Session {
	userID, _ := strconv.ParseInt(values[KeyUserID], 10, 64)
	expiresAt, _ := strconv.ParseInt(values[KeyExpiresAt], 10, 64)
	return Session{
		AccessToken:   values[KeyAuthToken],
		UserID:        userID,
		Name:          values[KeyName],
		Phone:         values[KeyPhone],
		Role:          users.ParseRole(values[KeyRole]),
		StoreID:       values[KeyStoreID],
		Tier:          values[KeyTier],
		AvatarURL:     values[KeyAvatarURL],
		StatusMessage: values[KeyStatusMessage],
		ExpiresAt:     expiresAt,
	}
}
