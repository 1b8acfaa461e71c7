package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testAuthenticator struct {
	identity Identity
	err      error
	calls    int
}

func (a *testAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	a.calls++
	return a.identity, a.err
}

func serve(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://example.test"+path, nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
	}
	return rec, body
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestMiddleware_Unauthorized(t *testing.T) {
	called := false
	h := Middleware{
		Authenticator: &testAuthenticator{err: ErrUnauthenticated},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec, body := serve(t, h, "/leads")
	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if body["error"] != "unauthorized" {
		t.Fatalf("error=%v, want unauthorized", body["error"])
	}
	if body["request_id"] != "rid-1" {
		t.Fatalf("request_id=%v, want rid-1", body["request_id"])
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	h := Middleware{
		Authenticator: &testAuthenticator{err: ErrTokenExpired},
	}.Wrap(okHandler)

	rec, body := serve(t, h, "/leads")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if body["error"] != "invalid_token" {
		t.Fatalf("error=%v, want invalid_token", body["error"])
	}
}

func TestMiddleware_SkipPrefixes(t *testing.T) {
	authn := &testAuthenticator{err: ErrUnauthenticated}
	h := Middleware{
		Authenticator: authn,
		SkipPrefixes:  []string{"/public/"},
	}.Wrap(okHandler)

	rec, _ := serve(t, h, "/public/gate")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if authn.calls != 0 {
		t.Fatalf("authenticator calls=%d, want 0", authn.calls)
	}
}

func TestMiddleware_EnrichAndAudit(t *testing.T) {
	type ctxKey struct{}
	var denies []DenyEvent
	audit := func(ctx context.Context, ev DenyEvent) error {
		denies = append(denies, ev)
		return nil
	}

	cases := []struct {
		name       string
		enrichErr  error
		wantStatus int
		wantError  string
	}{
		{name: "ok", wantStatus: http.StatusOK},
		{name: "forbidden", enrichErr: ErrForbidden, wantStatus: http.StatusForbidden, wantError: "forbidden"},
		{name: "lookup failure", enrichErr: errors.New("db down"), wantStatus: http.StatusServiceUnavailable, wantError: "identity_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			denies = nil
			var seen any
			h := Middleware{
				Authenticator: &testAuthenticator{identity: Identity{Subject: "alice"}},
				Audit:         audit,
				Enrich: func(r *http.Request, identity Identity) (*http.Request, error) {
					if tc.enrichErr != nil {
						return nil, tc.enrichErr
					}
					return r.WithContext(context.WithValue(r.Context(), ctxKey{}, identity.Subject)), nil
				},
			}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = r.Context().Value(ctxKey{})
				if _, ok := IdentityFromContext(r.Context()); !ok {
					t.Fatalf("identity missing from context")
				}
				w.WriteHeader(http.StatusOK)
			}))

			rec, body := serve(t, h, "/leads")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status=%d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantError == "" {
				if seen != "alice" {
					t.Fatalf("enriched value=%v, want alice", seen)
				}
				if len(denies) != 0 {
					t.Fatalf("denies=%d, want 0", len(denies))
				}
				return
			}
			if body["error"] != tc.wantError {
				t.Fatalf("error=%v, want %s", body["error"], tc.wantError)
			}
			if len(denies) != 1 || denies[0].Subject != "alice" || denies[0].Status != tc.wantStatus {
				t.Fatalf("denies=%+v", denies)
			}
		})
	}
}

func TestMiddleware_AuthorizeDenied(t *testing.T) {
	h := Middleware{
		Authenticator: &testAuthenticator{identity: Identity{Subject: "bob"}},
		Authorize: func(r *http.Request, identity Identity) error {
			return ErrForbidden
		},
	}.Wrap(okHandler)

	rec, body := serve(t, h, "/admin/permissions")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}
	if body["error"] != "forbidden" {
		t.Fatalf("error=%v, want forbidden", body["error"])
	}
}
