package token

import (
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/internal/utils"
)

// Claims holds the fields the console reads out of a backend access token.
// The console never verifies signatures; the backend does that on every call.
type Claims struct {
	Subject   string
	Role      string
	Roles     []string
	StoreID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ParseClaims decodes a JWT access token without verifying it.
func ParseClaims(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, conerrors.ErrMalformedToken
	}

	unverifiedToken, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, conerrors.Wrapf(conerrors.ErrMalformedToken, "parse: %v", err)
	}

	claims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, conerrors.ErrMalformedToken
	}

	c := &Claims{}
	c.Subject, _ = claims.GetSubject()
	c.Role, _ = claims["role"].(string)
	if claimRoles, ok := claims["roles"].([]any); ok {
		c.Roles = utils.ToStringSlice(claimRoles)
	}
	switch storeID := claims["storeId"].(type) {
	case string:
		c.StoreID = storeID
	case float64:
		c.StoreID = strconv.FormatInt(int64(storeID), 10)
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// ExpiryMillis returns the token's exp claim as epoch milliseconds.
func ExpiryMillis(rawToken string) (int64, error) {
	c, err := ParseClaims(rawToken)
	if err != nil {
		return 0, err
	}
	if c.ExpiresAt.IsZero() {
		return 0, conerrors.Wrapf(conerrors.ErrMissingTokenClaim, "exp")
	}
	return c.ExpiresAt.UnixMilli(), nil
}
