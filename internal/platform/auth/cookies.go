package auth

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Login flow cookies live for the length of one redirect round trip.
const loginCookieTTL = 10 * time.Minute

const (
	cookieOIDCState    = "crm_oidc_state"
	cookieOIDCVerifier = "crm_oidc_verifier"
	cookieOIDCNonce    = "crm_oidc_nonce"
	cookieReturnTo     = "crm_return_to"
)

var loginCookies = []string{cookieOIDCState, cookieOIDCVerifier, cookieOIDCNonce, cookieReturnTo}

// cookieJar writes cookies with the attributes from Config.
type cookieJar struct {
	secure   bool
	sameSite http.SameSite
}

func newCookieJar(cfg Config) cookieJar {
	return cookieJar{secure: cfg.SessionCookieSecure, sameSite: parseSameSite(cfg.SessionCookieSameSite)}
}

func (j cookieJar) set(w http.ResponseWriter, name, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = loginCookieTTL
	}
	http.SetCookie(w, j.cookie(name, value, int(ttl.Seconds())))
}

func (j cookieJar) clear(w http.ResponseWriter, names ...string) {
	for _, name := range names {
		http.SetCookie(w, j.cookie(name, "", -1))
	}
}

func (j cookieJar) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: j.sameSite,
	}
}

// SetSessionCookie stores an issued session token for browser clients.
func SetSessionCookie(w http.ResponseWriter, value string, cfg Config) {
	newCookieJar(cfg).set(w, cfg.SessionCookieName, value, cfg.SessionTTL)
}

// LogoutHandler clears the session cookie. It works in every auth mode.
func LogoutHandler(cfg Config) http.HandlerFunc {
	jar := newCookieJar(cfg)
	return func(w http.ResponseWriter, r *http.Request) {
		jar.clear(w, cfg.SessionCookieName)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// safeReturnTo keeps only same-origin relative paths.
func safeReturnTo(raw string) string {
	u, err := url.Parse(raw)
	if raw == "" || err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}
