// Package auth resolves the identity behind an HTTP request or WebSocket
// attach. Credentials are issued elsewhere; this package only verifies them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated means the request carried no usable identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	// ErrMissingCredentials means nothing identifying was presented at all.
	ErrMissingCredentials = fmt.Errorf("%w: no credentials", ErrUnauthenticated)
)

// Claims carries the identity in UserID, falling back to the subject.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
}

// GenerateToken signs an HS256 token for userID valid for validity.
func GenerateToken(userID string, secret []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		UserID: userID,
	})
	return token.SignedString(secret)
}

// UserIDFromToken verifies tokenString with secret and returns its identity.
func UserIDFromToken(tokenString string, secret []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return "", ErrUnauthenticated
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return id, nil
}

// Resolver extracts identities from requests. With a secret it accepts only
// signed tokens; without one it trusts the userId query parameter or the
// X-User-ID header, which is meant for development and tests.
type Resolver struct {
	secret []byte
}

// NewResolver returns a Resolver. An empty secret selects trusted mode.
func NewResolver(secret string) *Resolver {
	r := &Resolver{}
	if secret != "" {
		r.secret = []byte(secret)
	}
	return r
}

// Trusted reports whether identities are taken from the request unverified.
func (r *Resolver) Trusted() bool { return r.secret == nil }

// Identity returns the identity of req or ErrUnauthenticated.
func (r *Resolver) Identity(req *http.Request) (string, error) {
	if r.Trusted() {
		if id := strings.TrimSpace(req.URL.Query().Get("userId")); id != "" {
			return id, nil
		}
		if id := strings.TrimSpace(req.Header.Get("X-User-ID")); id != "" {
			return id, nil
		}
		return "", ErrMissingCredentials
	}

	token := bearerToken(req)
	if token == "" {
		return "", ErrMissingCredentials
	}
	return UserIDFromToken(token, r.secret)
}

// bearerToken reads the Authorization header, then the token query
// parameter, which browsers use for WebSocket upgrades.
func bearerToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return req.URL.Query().Get("token")
}
