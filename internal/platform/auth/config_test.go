package auth

import (
	"os"
	"testing"
)

const testSessionSecret = "0123456789abcdef-test"

func TestConfigFromEnv_Dev(t *testing.T) {
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("CRM_SESSION_SECRET", testSessionSecret)
	t.Setenv("DEV_AUTH_SUBJECT", "dev")
	t.Setenv("DEV_AUTH_EMAIL", "dev@example.local")
	t.Setenv("DEV_AUTH_ROLES", "admin,Manager,admin")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode=%q, want dev", cfg.Mode)
	}
	if cfg.SessionCookieName != "crm_session" {
		t.Fatalf("SessionCookieName=%q, want crm_session", cfg.SessionCookieName)
	}
	if len(cfg.DevRoles) != 2 || cfg.DevRoles[1] != "manager" {
		t.Fatalf("DevRoles=%v, want [admin manager]", cfg.DevRoles)
	}
}

func TestConfigFromEnv_OIDC_RequiresIssuerAndClientID(t *testing.T) {
	_ = os.Unsetenv("OIDC_ISSUER_URL")
	_ = os.Unsetenv("OIDC_CLIENT_ID")
	t.Setenv("AUTH_MODE", "oidc")
	t.Setenv("CRM_SESSION_SECRET", testSessionSecret)

	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigFromEnv_Gateway_RequiresSecret(t *testing.T) {
	_ = os.Unsetenv("CRM_INTERNAL_AUTH_SECRET")
	t.Setenv("AUTH_MODE", "gateway")
	t.Setenv("CRM_SESSION_SECRET", testSessionSecret)

	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}

	t.Setenv("CRM_INTERNAL_AUTH_SECRET", "gw-secret")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.GatewaySecret != "gw-secret" {
		t.Fatalf("GatewaySecret=%q", cfg.GatewaySecret)
	}
}

func TestConfigFromEnv_ShortSessionSecret(t *testing.T) {
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("CRM_SESSION_SECRET", "short")

	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigFromEnv_UnknownMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "saml")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateForLogin(t *testing.T) {
	cfg := Config{Mode: ModeDev}
	if err := cfg.ValidateForLogin(); err == nil {
		t.Fatalf("expected error outside oidc mode")
	}
	cfg = Config{Mode: ModeOIDC, OIDCClientSecret: "s", OIDCRedirectURL: "http://localhost/auth/callback"}
	if err := cfg.ValidateForLogin(); err != nil {
		t.Fatalf("ValidateForLogin() err=%v", err)
	}
}
