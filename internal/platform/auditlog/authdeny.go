package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/leadline-labs/leadline/internal/platform/auth"
)

// InsertAuthDeny records a rejected request as "auth.<reason>" against the
// route. Identities that authenticated but were refused are recorded by
// subject since they may have no CRM user.
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	_, err := Insert(ctx, q, denyEvent(service, event))
	return err
}

func denyEvent(service string, d auth.DenyEvent) Event {
	actor := AnonymousActor
	if sub := strings.TrimSpace(d.Subject); sub != "" {
		actor = SubjectActorPrefix + sub
	}
	payload := map[string]any{"service": service, "http_status": d.Status}
	if d.Error != "" {
		payload["error"] = d.Error
	}
	if d.Email != "" {
		payload["email"] = d.Email
	}
	if len(d.Roles) > 0 {
		payload["claim_roles"] = d.Roles
	}
	return Event{
		OccurredAt:   d.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(d.Reason),
		ResourceType: "route",
		ResourceID:   d.Method + " " + d.Path,
		RequestID:    d.RequestID,
		IP:           remoteIP(d.RemoteAddr),
		UserAgent:    d.UserAgent,
		Payload:      payload,
	}
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}
