package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var ErrForbidden = errors.New("forbidden")

type AuthorizeFunc func(r *http.Request, identity Identity) error

// EnrichFunc attaches request-scoped state derived from the identity, such
// as the resolved principal. ErrForbidden denies the request; any other
// error means the lookup itself failed.
type EnrichFunc func(r *http.Request, identity Identity) (*http.Request, error)

type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Subject    string
	Email      string
	Roles      []string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	Enrich        EnrichFunc
	Audit         AuditFunc
	SkipPrefixes  []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			reason, code := "invalid_token", "invalid_token"
			if errors.Is(err, ErrUnauthenticated) {
				reason, code = "unauthenticated", "unauthorized"
			}
			m.deny(w, r, Identity{}, http.StatusUnauthorized, reason, code, err)
			return
		}

		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.deny(w, r, identity, http.StatusForbidden, "forbidden", "forbidden", err)
				return
			}
		}

		if m.Enrich != nil {
			enriched, err := m.Enrich(r, identity)
			if err != nil {
				if errors.Is(err, ErrForbidden) {
					m.deny(w, r, identity, http.StatusForbidden, "forbidden", "forbidden", err)
					return
				}
				m.deny(w, r, identity, http.StatusServiceUnavailable, "identity_unavailable", "identity_unavailable", err)
				return
			}
			if enriched != nil {
				r = enriched
			}
		}

		r = r.WithContext(ContextWithIdentity(r.Context(), identity))
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, identity Identity, status int, reason string, code string, err error) {
	m.logDeny(r, status, reason, err, "subject", identity.Subject)
	m.auditDeny(r, identity, status, reason, err)
	writeError(w, r, status, code)
}

func (m Middleware) auditDeny(r *http.Request, identity Identity, status int, reason string, err error) {
	if m.Audit == nil {
		return
	}
	auditErr := m.Audit(r.Context(), DenyEvent{
		Time:       time.Now().UTC(),
		Status:     status,
		Reason:     reason,
		Error:      err.Error(),
		RequestID:  r.Header.Get("X-Request-Id"),
		Method:     r.Method,
		Path:       r.URL.Path,
		Subject:    identity.Subject,
		Email:      identity.Email,
		Roles:      identity.Roles,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if auditErr == nil || m.Logger == nil {
		return
	}
	m.Logger.Warn("audit deny failed", "request_id", r.Header.Get("X-Request-Id"), "error", auditErr.Error())
}

func (m Middleware) logDeny(r *http.Request, status int, reason string, err error, extra ...any) {
	if m.Logger == nil {
		return
	}
	fields := []any{
		"reason", reason,
		"status", status,
		"request_id", r.Header.Get("X-Request-Id"),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	}
	fields = append(fields, extra...)
	if status >= 500 {
		m.Logger.Error("auth deny", fields...)
		return
	}
	m.Logger.Warn("auth deny", fields...)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}
