package service

import (
	"net"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
)

// AuditInfo carries the request facts copied onto every audit event.
type AuditInfo struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
}

func (i AuditInfo) Event(action, resourceType, resourceID string, payload domain.Metadata) domain.AuditEvent {
	if payload == nil {
		payload = domain.Metadata{}
	}
	return domain.AuditEvent{
		OccurredAt:   time.Now().UTC(),
		Actor:        strings.TrimSpace(i.Actor),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    i.RequestID,
		IP:           i.IP,
		UserAgent:    i.UserAgent,
		Payload:      payload,
	}
}
