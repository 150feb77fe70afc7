package middleware

import (
	"fmt"
	"time"

	"botmarket-backend/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the token
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims JWT claims for both user and admin tokens
type Claims struct {
	Address string `json:"address"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for an address with the given role
func IssueToken(address, role string) (string, error) {
	if config.AppConfig == nil || config.AppConfig.Auth.JWTSecret == "" {
		return "", fmt.Errorf("JWT secret not configured")
	}

	ttl := 7 * 24 * time.Hour
	if config.AppConfig.Auth.TokenTTLMinutes > 0 {
		ttl = time.Duration(config.AppConfig.Auth.TokenTTLMinutes) * time.Minute
	}

	now := time.Now()
	claims := Claims{
		Address: address,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "botmarket-backend",
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.Auth.JWTSecret))
}

// ValidateToken parses and verifies a token string
func ValidateToken(tokenString string) (*Claims, error) {
	if config.AppConfig == nil || config.AppConfig.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.Auth.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
