package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const SessionTokenPrefix = "crm_session_v1"

// SessionClaims snapshot a resolved principal so later requests can skip
// the user and permission lookups.
type SessionClaims struct {
	Subject       string   `json:"sub"`
	UserID        string   `json:"uid"`
	Email         string   `json:"email,omitempty"`
	Role          string   `json:"role"`
	TeamID        string   `json:"team,omitempty"`
	Permissions   []string `json:"perms"`
	IssuedAtUnix  int64    `json:"iat"`
	ExpiresAtUnix int64    `json:"exp"`
}

func (c SessionClaims) ExpiresAt() int64 { return c.ExpiresAtUnix }

func IssueSessionToken(signer *Signer, claims SessionClaims, ttl time.Duration, now time.Time) (string, error) {
	claims.Subject = strings.TrimSpace(claims.Subject)
	claims.UserID = strings.TrimSpace(claims.UserID)
	if claims.Subject == "" || claims.UserID == "" {
		return "", errors.New("session subject and user id are required")
	}
	if ttl <= 0 {
		return "", errors.New("session ttl must be positive")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	claims.IssuedAtUnix = now.UTC().Unix()
	claims.ExpiresAtUnix = now.Add(ttl).UTC().Unix()
	return signer.Sign(SessionTokenPrefix, claims, now)
}

func VerifySessionToken(signer *Signer, token string, now time.Time) (SessionClaims, error) {
	var claims SessionClaims
	if err := signer.Verify(SessionTokenPrefix, token, &claims, now); err != nil {
		return SessionClaims{}, err
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, ErrTokenInvalid
	}
	return claims, nil
}

// SessionTokenAuthenticator accepts bearer session tokens and defers every
// other request to Next.
// Browser clients carry the token in CookieName instead of the header.
type SessionTokenAuthenticator struct {
	Signer     *Signer
	Next       Authenticator
	CookieName string
	Now        func() time.Time
}

func (a SessionTokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	token := tokenFromHeader(r)
	if token == "" && a.CookieName != "" {
		token = tokenFromCookie(r, a.CookieName)
	}
	if strings.HasPrefix(token, SessionTokenPrefix+".") {
		now := time.Now().UTC()
		if a.Now != nil {
			now = a.Now().UTC()
		}
		claims, err := VerifySessionToken(a.Signer, token, now)
		if err != nil {
			return Identity{}, err
		}
		return Identity{
			Subject: claims.Subject,
			Email:   claims.Email,
			Roles:   []string{strings.ToLower(claims.Role)},
			Session: &claims,
		}, nil
	}

	if a.Next == nil {
		return Identity{}, ErrUnauthenticated
	}
	return a.Next.Authenticate(ctx, r)
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func tokenFromCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
