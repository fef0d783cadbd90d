package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/byteforge/forgelive/internal/ws"
)

// Claims are the fields the platform puts in its access tokens. The subject
// is the numeric user id.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// IdentityFromToken reads the caller's identity out of an access token. The
// signature is not checked; the server verifies it on every request.
func IdentityFromToken(token string) (ws.Identity, time.Time, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ws.Identity{}, time.Time{}, fmt.Errorf("parse jwt: %w", err)
	}
	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return ws.Identity{}, time.Time{}, fmt.Errorf("jwt subject %q is not a user id", claims.Subject)
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return ws.Identity{
		UserID:   ws.ID(uid),
		Username: claims.Username,
		Email:    claims.Email,
	}, exp, nil
}
