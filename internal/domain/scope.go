package domain

import "strings"

type ScopeKind string

const (
	ScopeAll  ScopeKind = "all"
	ScopeTeam ScopeKind = "team"
	ScopeOwn  ScopeKind = "own"
	ScopeNone ScopeKind = "none"
)

// LeadScope restricts which leads a caller can see. UserID and TeamID are
// only meaningful for the own and team kinds.
type LeadScope struct {
	Kind   ScopeKind
	UserID string
	TeamID string
}

// Allows applies the scope to a single lead. Stores apply the same rule in
// SQL so list results and single reads agree.
func (s LeadScope) Allows(lead Lead) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeTeam:
		if strings.TrimSpace(s.TeamID) != "" && lead.TeamID == s.TeamID {
			return true
		}
		return s.ownsLead(lead)
	case ScopeOwn:
		return s.ownsLead(lead)
	default:
		return false
	}
}

func (s LeadScope) ownsLead(lead Lead) bool {
	if strings.TrimSpace(s.UserID) == "" {
		return false
	}
	return lead.OwnerID == s.UserID || lead.ConsultantID == s.UserID
}
