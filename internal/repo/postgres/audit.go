package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/platform/auditlog"
)

// AuditStore appends to audit_events through the shared auditlog writer so
// every row carries its integrity digest. Inside InTx it runs on the tx.
type AuditStore struct {
	q     auditlog.QueryRower
	clock func() time.Time
}

func NewAuditStore(q auditlog.QueryRower) *AuditStore {
	return &AuditStore{q: q, clock: time.Now}
}

func (s *AuditStore) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	if s == nil || s.q == nil {
		return 0, errors.New("audit store not initialized")
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}
	at := event.OccurredAt
	if at.IsZero() {
		at = s.clock()
	}
	row := auditlog.Event{
		OccurredAt:   at.UTC(),
		Actor:        event.Actor,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		RequestID:    event.RequestID,
		IP:           event.IP,
		UserAgent:    event.UserAgent,
	}
	if len(event.Payload) > 0 {
		row.Payload = map[string]any(event.Payload)
	}
	id, err := auditlog.Insert(ctx, s.q, row)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", event.Action, err)
	}
	return id, nil
}
