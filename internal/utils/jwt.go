package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

// Claims represents JWT claims
type Claims struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates bearer tokens with one HMAC secret
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a manager; a zero ttl means 24 hours
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is not set")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}, nil
}

// GenerateToken generates a JWT token for a user
func (m *TokenManager) GenerateToken(userID int64, name string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken validates and parses a JWT token
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.UserID <= 0 {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
