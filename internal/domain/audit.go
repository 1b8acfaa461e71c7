package domain

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Resource types carried on audit events.
const (
	ResourceLead         = "lead"
	ResourceMeeting      = "meeting"
	ResourceAvailability = "availability"
	ResourceStage        = "pipeline_stage"
	ResourceUser         = "user"
	ResourceTeam         = "team"
	ResourceSettings     = "settings"
	ResourceExport       = "audit_export"
	ResourceFunnel       = "funnel_session"
)

// AuditEvent is one append-only entry in the audit trail. Events are never
// updated; corrections are new events.
type AuditEvent struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      Metadata
}

func (e AuditEvent) Validate() error {
	var missing []string
	if strings.TrimSpace(e.Actor) == "" {
		missing = append(missing, "actor")
	}
	if strings.TrimSpace(e.Action) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		missing = append(missing, "resource_type")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		missing = append(missing, "resource_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("audit event: %s required", strings.Join(missing, ", "))
	}
	if ns, rest, ok := strings.Cut(strings.TrimSpace(e.Action), "."); !ok || ns == "" || rest == "" {
		return errors.New("audit event: action must be namespaced")
	}
	return nil
}

// Domain is the namespace of the action, such as "lead" in "lead.created".
func (e AuditEvent) Domain() string {
	ns, _, _ := strings.Cut(strings.TrimSpace(e.Action), ".")
	return ns
}
