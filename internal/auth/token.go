package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptySecret is returned when no signing secret is configured.
var ErrEmptySecret = errors.New("jwt secret is empty")

// Claims is the payload issued by the account service. Only ID is used by
// the chat core.
type Claims struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Tokens verifies (and, for tooling and tests, issues) HS256 tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Tokens{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for userID.
func (t *Tokens) Issue(userID string, isAdmin bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		ID:      userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks signature and expiry and returns the claims.
func (t *Tokens) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
