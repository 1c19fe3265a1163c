// Package auth protects the ops API with an operator password (bcrypt) and
// short-lived HS256 JWTs.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims are the JWT claims for an operator session
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager handles operator authentication for the ops API
type Manager struct {
	secret        []byte
	passwordHash  string
	tokenDuration time.Duration
}

// NewManager creates an auth manager
func NewManager(jwtSecret, operatorPasswordHash string, tokenDuration time.Duration) *Manager {
	if tokenDuration <= 0 {
		tokenDuration = time.Hour
	}
	return &Manager{
		secret:        []byte(jwtSecret),
		passwordHash:  operatorPasswordHash,
		tokenDuration: tokenDuration,
	}
}

// Login verifies the operator password and mints a token
func (m *Manager) Login(password string) (string, error) {
	if m.passwordHash == "" {
		return "", fmt.Errorf("no operator password configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.passwordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid password")
	}
	return m.generateToken()
}

func (m *Manager) generateToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "kraken-gateway",
			Audience:  []string{"kraken-gateway-api"},
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token, returning its claims
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// HashPassword produces a bcrypt hash for configuration
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
