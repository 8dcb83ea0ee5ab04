package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the caller identity for one request.
type Session struct {
	UserID string
}

const sessionKey contextKey = "session"

// SessionFrom returns the request's session, if the caller presented one.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok && s.UserID != ""
}

// IssueToken signs an HS256 token whose subject is userID, the shape
// withSession accepts. Sign-in lives outside this service; whatever mints
// tokens for it, and the load tool, call this.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, raw string) (string, error) {
	t, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := t.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// withSession attaches a Session built from a bearer token, or from
// X-User-ID when no secret is configured. A request without credentials
// passes through anonymous; a request with bad credentials is refused.
func withSession(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userID string
		if len(secret) > 0 {
			if h := r.Header.Get("Authorization"); h != "" {
				raw, ok := strings.CutPrefix(h, "Bearer ")
				if !ok {
					writeErr(w, http.StatusUnauthorized, "bearer token required")
					return
				}
				sub, err := parseToken(secret, raw)
				if err != nil {
					writeErr(w, http.StatusUnauthorized, "invalid token")
					return
				}
				userID = sub
			}
		} else {
			userID = r.Header.Get("X-User-ID")
		}
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, Session{UserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSession writes 401 and reports false when the request is anonymous.
func requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	s, ok := SessionFrom(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "session required")
	}
	return s, ok
}
