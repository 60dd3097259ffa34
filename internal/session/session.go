package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("access token expired")
	ErrForbidden    = errors.New("role not permitted")
)

// Profile is the authenticated identity returned by /auth/me.
type Profile struct {
	ID    string            `json:"id"`
	Email string            `json:"email"`
	Roles []json.RawMessage `json:"roles"`
}

func (p Profile) RoleSet() RoleSet {
	return NormalizeRoles(p.Roles)
}

// Require fails unless the profile holds one of the allowed roles.
func (p Profile) Require(allowed ...string) error {
	if p.RoleSet().Any(allowed...) {
		return nil
	}
	return fmt.Errorf("%w: need one of %v", ErrForbidden, allowed)
}

// TokenExpiry reads the exp claim without verifying the signature; the
// server remains the authority, this only lets the client fail early.
func TokenExpiry(accessToken string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// CheckToken returns ErrTokenExpired when the token's exp is before now.
// Tokens without exp are accepted.
func CheckToken(accessToken string, now time.Time) error {
	exp, err := TokenExpiry(accessToken)
	if err != nil {
		return err
	}
	if !exp.IsZero() && !now.Before(exp) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
	}
	return nil
}
