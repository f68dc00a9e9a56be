// ABOUTME: HS256 token issue/verify for bot clients connecting over the socket channel.
// ABOUTME: The subject claim carries the API key the token was issued for.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Tokens issues and verifies HS256 signed connection tokens for bot clients.
type Tokens struct {
	secret []byte
}

// NewTokens creates a token issuer/verifier with the given shared secret.
func NewTokens(secret []byte) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret must not be empty")
	}
	return &Tokens{secret: secret}, nil
}

// Verify validates the token and extracts the API key from the "sub" claim.
func (t *Tokens) Verify(tokenString string) (apiKey string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Issue creates a token bound to the given API key, valid for expiresIn.
func (t *Tokens) Issue(apiKey string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": apiKey,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
