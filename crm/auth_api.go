package main

import (
	"context"
	"net/http"
	"time"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/platform/auth"
)

type principalResponse struct {
	UserID      string   `json:"user_id"`
	Subject     string   `json:"subject"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role"`
	TeamID      string   `json:"team_id,omitempty"`
	Scope       string   `json:"lead_scope"`
	Permissions []string `json:"permissions"`
}

func principalFromDomain(p access.Principal) principalResponse {
	return principalResponse{
		UserID:      p.UserID,
		Subject:     p.Subject,
		Email:       p.Email,
		Role:        string(p.Role),
		TeamID:      p.TeamID,
		Scope:       string(p.Scope().Kind),
		Permissions: p.Permissions.Strings(),
	}
}

type sessionResponse struct {
	Principal principalResponse `json:"principal"`
	Session   bool              `json:"session"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

func (api *crmAPI) handleSession(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	resp := sessionResponse{Principal: principalFromDomain(p)}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Session != nil {
		exp := time.Unix(identity.Session.ExpiresAtUnix, 0).UTC()
		resp.Session = true
		resp.ExpiresAt = &exp
	}
	api.writeJSON(w, http.StatusOK, resp)
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleIssueToken exchanges the current identity for a session token that
// carries the resolved principal. A session token is refreshed from the
// stored user, never from its own claims.
func (api *crmAPI) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Session != nil {
		fresh, err := api.resolver.Refresh(r.Context(), identity)
		if err != nil {
			api.writeServiceError(w, r, err)
			return
		}
		p = fresh
	}
	now := api.now().UTC()
	token, err := api.issueSession(p, now)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: now.Add(api.cfg.SessionTTL).Truncate(time.Second),
	})
}

func (api *crmAPI) issueSession(p access.Principal, now time.Time) (string, error) {
	return auth.IssueSessionToken(api.signer, auth.SessionClaims{
		Subject:     p.Subject,
		UserID:      p.UserID,
		Email:       p.Email,
		Role:        string(p.Role),
		TeamID:      p.TeamID,
		Permissions: p.Permissions.Strings(),
	}, api.cfg.SessionTTL, now)
}

// sessionIssuer backs the OIDC callback: the cookie stores a session token
// instead of the raw ID token.
func (api *crmAPI) sessionIssuer(ctx context.Context, identity auth.Identity) (string, error) {
	p, err := api.resolver.Resolve(ctx, identity)
	if err != nil {
		return "", err
	}
	return api.issueSession(p, api.now().UTC())
}

type meResponse struct {
	Principal principalResponse `json:"principal"`
	User      userResponse      `json:"user"`
}

func (api *crmAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	user, err := api.users.Get(r.Context(), p, p.UserID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, meResponse{Principal: principalFromDomain(p), User: userFromDomain(user)})
}

type userResponse struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	TeamID      string    `json:"team_id,omitempty"`
	Timezone    string    `json:"timezone"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func userFromDomain(u domain.User) userResponse {
	return userResponse{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		TeamID:      u.TeamID,
		Timezone:    u.Timezone,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
