package access

import (
	"context"
	"strings"

	"github.com/leadline-labs/leadline/internal/domain"
)

// Principal is the resolved caller of an authenticated request.
type Principal struct {
	UserID      string
	Subject     string
	Email       string
	Role        domain.Role
	TeamID      string
	Permissions Set
}

func (p Principal) Can(perm Permission) bool {
	return p.Permissions.Has(perm)
}

// Actor is the audit actor string for the principal.
func (p Principal) Actor() string {
	return "user:" + p.UserID
}

// Scope derives which leads the principal may read. A team-scoped
// principal without a team falls back to its own leads.
func (p Principal) Scope() domain.LeadScope {
	switch {
	case p.Can(LeadsReadAll):
		return domain.LeadScope{Kind: domain.ScopeAll, UserID: p.UserID}
	case p.Can(LeadsReadTeam) && strings.TrimSpace(p.TeamID) != "":
		return domain.LeadScope{Kind: domain.ScopeTeam, UserID: p.UserID, TeamID: p.TeamID}
	case p.Can(LeadsReadTeam), p.Can(LeadsReadOwn):
		return domain.LeadScope{Kind: domain.ScopeOwn, UserID: p.UserID}
	default:
		return domain.LeadScope{Kind: domain.ScopeNone, UserID: p.UserID}
	}
}

type ctxKeyPrincipal struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal{}).(Principal)
	return p, ok
}
