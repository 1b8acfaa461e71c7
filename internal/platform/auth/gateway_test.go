package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestInternalAuthSignature_Verify(t *testing.T) {
	secret := "test-secret"
	ts := "1700000000"
	sig, err := ComputeInternalAuthSignature(secret, ts, "GET", "/leads", "rid-1", "alice", "alice@example.test", "manager")
	if err != nil {
		t.Fatalf("ComputeInternalAuthSignature() err=%v", err)
	}
	if err := VerifyInternalAuthSignature(secret, ts, "GET", "/leads", "rid-1", "alice", "alice@example.test", "manager", sig); err != nil {
		t.Fatalf("VerifyInternalAuthSignature() err=%v", err)
	}
	if err := VerifyInternalAuthSignature(secret, ts, "GET", "/leads", "rid-1", "alice", "alice@example.test", "admin", sig); err == nil {
		t.Fatalf("expected verification to fail when roles change")
	}
}

func TestInternalAuthTimestamp_Verify(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	if err := VerifyInternalAuthTimestamp("1700000100", now, 5*time.Minute); err != nil {
		t.Fatalf("VerifyInternalAuthTimestamp() err=%v", err)
	}
	if err := VerifyInternalAuthTimestamp("1690000000", now, 5*time.Minute); err == nil {
		t.Fatalf("expected timestamp to be rejected")
	}
	if err := VerifyInternalAuthTimestamp("abc", now, 5*time.Minute); err == nil {
		t.Fatalf("expected malformed timestamp to be rejected")
	}
}

func TestGatewayHeadersAuthenticator(t *testing.T) {
	secret := "test-secret"
	authn, err := NewGatewayHeadersAuthenticator(secret)
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator() err=%v", err)
	}
	now := time.Unix(1700000000, 0).UTC()
	authn.Now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodGet, "http://example.test/leads", nil)
	req.Header.Set("X-Request-Id", "rid-2")
	req.Header.Set(HeaderSubject, "alice")
	req.Header.Set(HeaderEmail, "alice@example.test")
	req.Header.Set(HeaderRoles, "Manager, sdr")

	ts := strconv.FormatInt(now.Unix(), 10)
	sig, err := ComputeInternalAuthSignature(secret, ts, req.Method, req.URL.Path, "rid-2", "alice", "alice@example.test", "Manager, sdr")
	if err != nil {
		t.Fatalf("ComputeInternalAuthSignature() err=%v", err)
	}
	req.Header.Set(HeaderInternalAuthTimestamp, ts)
	req.Header.Set(HeaderInternalAuthSignature, sig)

	identity, err := authn.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if identity.Subject != "alice" || identity.Email != "alice@example.test" {
		t.Fatalf("identity=%+v", identity)
	}
	if len(identity.Roles) != 2 || identity.Roles[0] != "manager" || identity.Roles[1] != "sdr" {
		t.Fatalf("roles=%v", identity.Roles)
	}

	req.Header.Set(HeaderRoles, "admin")
	if _, err := authn.Authenticate(req.Context(), req); err == nil {
		t.Fatalf("expected tampered roles to be rejected")
	}
}

func TestGatewayHeadersAuthenticator_MissingHeaders(t *testing.T) {
	authn, err := NewGatewayHeadersAuthenticator("test-secret")
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator() err=%v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "http://example.test/leads", nil)
	if _, err := authn.Authenticate(req.Context(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate() err=%v, want ErrUnauthenticated", err)
	}
	req.Header.Set(HeaderSubject, "alice")
	if _, err := authn.Authenticate(req.Context(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate() err=%v, want ErrUnauthenticated", err)
	}
}

func TestNewGatewayHeadersAuthenticator_RequiresSecret(t *testing.T) {
	if _, err := NewGatewayHeadersAuthenticator("  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
