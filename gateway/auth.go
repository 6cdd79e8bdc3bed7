package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const contextKeyCaller contextKey = "caller"

var (
	// ErrMissingToken is returned when no bearer token accompanies the request.
	ErrMissingToken = errors.New("gateway: missing bearer token")
	// ErrInvalidToken is returned for tokens that fail verification or carry a
	// malformed subject.
	ErrInvalidToken = errors.New("gateway: invalid bearer token")
)

// Authenticator verifies HS256 bearer tokens whose subject is the caller's
// hex-encoded 20-byte address.
type Authenticator struct {
	secret []byte
	nowFn  func() time.Time
}

// NewAuthenticator constructs an authenticator for the shared signing secret.
func NewAuthenticator(secret []byte) (*Authenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("gateway: empty JWT secret")
	}
	return &Authenticator{secret: append([]byte(nil), secret...), nowFn: time.Now}, nil
}

// Issue mints a token binding the caller address, valid for ttl. Used by
// operational tooling and tests.
func (a *Authenticator) Issue(caller [20]byte, ttl time.Duration) (string, error) {
	now := a.nowFn()
	claims := jwt.RegisteredClaims{
		Subject:   hex.EncodeToString(caller[:]),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Authenticate extracts and verifies the bearer token, returning the caller
// address bound in its subject.
func (a *Authenticator) Authenticate(r *http.Request) ([20]byte, error) {
	var caller [20]byte
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return caller, ErrMissingToken
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return caller, ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(a.nowFn))
	if err != nil || !token.Valid {
		return caller, ErrInvalidToken
	}
	subject := strings.TrimPrefix(strings.TrimSpace(claims.Subject), "0x")
	decoded, err := hex.DecodeString(subject)
	if err != nil || len(decoded) != 20 {
		return caller, ErrInvalidToken
	}
	copy(caller[:], decoded)
	return caller, nil
}

// Middleware authenticates the request and stores the caller address in the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext returns the authenticated caller address, if present.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(contextKeyCaller).([20]byte)
	return caller, ok
}
