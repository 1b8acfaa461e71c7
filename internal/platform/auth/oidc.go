package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCService verifies ID tokens from the bearer header or the session
// cookie and serves the PKCE login flow.
type OIDCService struct {
	cfg      Config
	jar      cookieJar
	verifier *oidc.IDTokenVerifier
	oauth2   oauth2.Config
	issue    SessionIssuer
}

// SessionIssuer turns a freshly verified login into the value stored in the
// session cookie. Returning ErrForbidden rejects the login.
type SessionIssuer func(ctx context.Context, identity Identity) (string, error)

// WithSessionIssuer makes the callback store an issued session token instead
// of the raw ID token.
func (s *OIDCService) WithSessionIssuer(issue SessionIssuer) *OIDCService {
	s.issue = issue
	return s
}

func NewOIDCService(ctx context.Context, cfg Config) (*OIDCService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", cfg.OIDCIssuerURL, err)
	}
	return &OIDCService{
		cfg:      cfg,
		jar:      newCookieJar(cfg),
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
		oauth2: oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       cfg.OIDCScopes,
		},
	}, nil
}

func (s *OIDCService) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := tokenFromHeader(r)
	if raw == "" {
		raw = tokenFromCookie(r, s.cfg.SessionCookieName)
	}
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	idToken, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}
	return s.identityFromToken(idToken)
}

func (s *OIDCService) identityFromToken(idToken *oidc.IDToken) (Identity, error) {
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(idToken.Subject) == "" {
		return Identity{}, errors.New("id token has no subject")
	}
	return Identity{
		Subject: idToken.Subject,
		Email:   extractStringClaim(claims, s.cfg.EmailClaim),
		Roles:   extractRolesClaim(claims, s.cfg.RolesClaim),
	}, nil
}

// loginState is what the login redirect leaves behind for the callback.
type loginState struct {
	state    string
	verifier string
	nonce    string
	returnTo string
}

func newLoginState(returnTo string) (loginState, error) {
	state, err := randomToken()
	if err != nil {
		return loginState{}, err
	}
	nonce, err := randomToken()
	if err != nil {
		return loginState{}, err
	}
	return loginState{
		state:    state,
		verifier: oauth2.GenerateVerifier(),
		nonce:    nonce,
		returnTo: safeReturnTo(returnTo),
	}, nil
}

func (l loginState) save(w http.ResponseWriter, jar cookieJar) {
	jar.set(w, cookieOIDCState, l.state, loginCookieTTL)
	jar.set(w, cookieOIDCVerifier, l.verifier, loginCookieTTL)
	jar.set(w, cookieOIDCNonce, l.nonce, loginCookieTTL)
	jar.set(w, cookieReturnTo, l.returnTo, loginCookieTTL)
}

func loadLoginState(r *http.Request) loginState {
	return loginState{
		state:    tokenFromCookie(r, cookieOIDCState),
		verifier: tokenFromCookie(r, cookieOIDCVerifier),
		nonce:    tokenFromCookie(r, cookieOIDCNonce),
		returnTo: safeReturnTo(tokenFromCookie(r, cookieReturnTo)),
	}
}

func (s *OIDCService) LoginHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}
	return func(w http.ResponseWriter, r *http.Request) {
		login, err := newLoginState(r.URL.Query().Get("return_to"))
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		login.save(w, s.jar)
		opts := []oauth2.AuthCodeOption{
			oauth2.AccessTypeOnline,
			oauth2.S256ChallengeOption(login.verifier),
			oidc.Nonce(login.nonce),
		}
		if hint := strings.TrimSpace(r.URL.Query().Get("login_hint")); hint != "" {
			opts = append(opts, oauth2.SetAuthURLParam("login_hint", hint))
		}
		http.Redirect(w, r, s.oauth2.AuthCodeURL(login.state, opts...), http.StatusFound)
	}, nil
}

func (s *OIDCService) CallbackHandler() (http.HandlerFunc, error) {
	if err := s.cfg.ValidateForLogin(); err != nil {
		return nil, err
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			writeError(w, r, http.StatusUnauthorized, "provider_"+sanitizeCode(e))
			return
		}
		code, state := q.Get("code"), q.Get("state")
		if code == "" || state == "" {
			writeError(w, r, http.StatusBadRequest, "missing_code_or_state")
			return
		}
		login := loadLoginState(r)
		if login.state == "" || login.state != state {
			writeError(w, r, http.StatusBadRequest, "invalid_state")
			return
		}
		if login.verifier == "" || login.nonce == "" {
			writeError(w, r, http.StatusBadRequest, "missing_pkce_or_nonce")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		token, err := s.oauth2.Exchange(ctx, code, oauth2.VerifierOption(login.verifier))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "token_exchange_failed")
			return
		}
		rawIDToken, _ := token.Extra("id_token").(string)
		if rawIDToken == "" {
			writeError(w, r, http.StatusUnauthorized, "missing_id_token")
			return
		}
		idToken, err := s.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid_id_token")
			return
		}
		if idToken.Nonce == "" || idToken.Nonce != login.nonce {
			writeError(w, r, http.StatusUnauthorized, "invalid_nonce")
			return
		}

		value, ttl := rawIDToken, s.cfg.SessionCookieMaxAge
		if s.issue != nil {
			identity, err := s.identityFromToken(idToken)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid_id_token_claims")
				return
			}
			value, err = s.issue(ctx, identity)
			switch {
			case errors.Is(err, ErrForbidden):
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			case err != nil:
				writeError(w, r, http.StatusServiceUnavailable, "identity_unavailable")
				return
			}
			ttl = s.cfg.SessionTTL
		}

		s.jar.set(w, s.cfg.SessionCookieName, value, ttl)
		s.jar.clear(w, loginCookies...)
		http.Redirect(w, r, login.returnTo, http.StatusFound)
	}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// sanitizeCode keeps provider error codes to the snake_case alphabet used by
// our own error codes.
func sanitizeCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= 40 {
			break
		}
	}
	if b.Len() == 0 {
		return "error"
	}
	return b.String()
}

func extractStringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractRolesClaim accepts a JSON array or a comma separated string.
func extractRolesClaim(claims map[string]any, key string) []string {
	var items []string
	switch typed := claims[key].(type) {
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	case []string:
		items = typed
	case string:
		return parseCSV(typed)
	default:
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.ToLower(strings.TrimSpace(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
