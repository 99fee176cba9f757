// Package auth issues and validates the bearer tokens guarding the admin
// API. A single operator account is configured through the environment;
// while ADMIN_PASSWORD is unset every login attempt is refused.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/config"
)

const issuer = "vpc-gateway"

// Claims carried by an admin API token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth signs and verifies admin tokens with an HMAC secret.
type Auth struct {
	secret   []byte
	ttl      time.Duration
	user     string
	password string
}

// New creates the auth service from the validated configuration.
func New(cfg *config.Config) *Auth {
	return &Auth{
		secret:   []byte(cfg.JWTSecret),
		ttl:      cfg.JWTTTL,
		user:     cfg.AdminUser,
		password: cfg.AdminPassword,
	}
}

// LoginEnabled reports whether an admin password is configured.
func (a *Auth) LoginEnabled() bool {
	return a.password != ""
}

// Login checks the operator credentials and mints a token. The comparison
// is constant-time; an unset password refuses everything.
func (a *Auth) Login(username, password string) (string, time.Time, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.user))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password))
	if a.password == "" || userOK&passOK != 1 {
		return "", time.Time{}, errors.AuthError("invalid credentials")
	}
	return a.GenerateToken(username)
}

// GenerateToken signs a token for the given username, returning the token
// and its expiry.
func (a *Auth) GenerateToken(username string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(a.ttl)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken parses and verifies a token, rejecting wrong signing
// methods, bad signatures, and expired claims.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, errors.AuthError("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.AuthError("invalid or expired token")
	}
	return claims, nil
}

// RequireAuth wraps a handler with bearer-token enforcement. The validated
// username is exposed to handlers via the X-Admin-User request header.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "authentication required")
			return
		}

		claims, err := a.ValidateToken(token)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		r.Header.Set("X-Admin-User", claims.Username)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"type":  string(errors.ErrTypeAuth),
	})
}
