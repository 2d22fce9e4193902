// Package token reads identity claims from the bearer token a room client
// presents when it opens a channel.
//
// The client cannot verify signatures (the backend owns the key), so the
// token is parsed unverified and only used to derive the user id and to
// avoid dialing with a token that has already expired.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
)

// Claims captures the identity fields the client needs.
type Claims struct {
	UserID      string
	DisplayName string
	ExpiresAt   time.Time
}

// accessClaims is the internal claims type used for JWT parsing.
type accessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Inspect parses raw without verifying its signature and validates expiry
// against now. The user id comes from user_id, falling back to sub.
func Inspect(raw string, now func() time.Time) (Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "access token is required")
	}
	if now == nil {
		now = time.Now
	}

	var parsed accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &parsed); err != nil {
		return Claims{}, mapJWTError(err)
	}

	userID := strings.TrimSpace(parsed.UserID)
	if userID == "" {
		userID = strings.TrimSpace(parsed.Subject)
	}
	if userID == "" {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeTokenInvalid,
			"access token has no subject",
			map[string]string{"Field": "sub"},
		)
	}

	claims := Claims{
		UserID:      userID,
		DisplayName: strings.TrimSpace(parsed.Name),
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time.UTC()
		if !claims.ExpiresAt.After(now().UTC()) {
			return Claims{}, apperrors.New(apperrors.CodeTokenExpired, "access token is expired")
		}
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "access token is malformed", err)
	}
	return apperrors.Wrap(apperrors.CodeTokenInvalid, "access token is invalid", err)
}

// Issue signs claims with key using HS256. A zero ttl leaves the token
// without expiry.
func Issue(claims Claims, key []byte, now time.Time, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", apperrors.New(apperrors.CodeTokenInvalid, "signing key is required")
	}
	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		return "", apperrors.New(apperrors.CodeTokenInvalid, "user id is required")
	}
	registered := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now.UTC()),
	}
	if ttl > 0 {
		registered.ExpiresAt = jwt.NewNumericDate(now.UTC().Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: registered,
		UserID:           userID,
		Name:             strings.TrimSpace(claims.DisplayName),
	}).SignedString(key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeTokenInvalid, "sign access token", err)
	}
	return signed, nil
}

// Verify checks the HS256 signature of raw against key, then applies the
// same claim rules as Inspect.
func Verify(raw string, key []byte, now func() time.Time) (Claims, error) {
	if len(key) == 0 {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "signing key is required")
	}
	if now == nil {
		now = time.Now
	}
	stripped := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	_, err := jwt.ParseWithClaims(
		stripped,
		&accessClaims{},
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, apperrors.New(apperrors.CodeTokenExpired, "access token is expired")
	}
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	return Inspect(stripped, now)
}
