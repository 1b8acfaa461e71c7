package auditexport

import (
	"context"

	"github.com/leadline-labs/leadline/internal/platform/auditlog"
)

// Exporter writes stored audit events to an external sink.
type Exporter interface {
	Export(ctx context.Context, rec auditlog.Record) error
}

// Source streams stored audit events matching a filter.
type Source interface {
	Each(ctx context.Context, f auditlog.Filter, fn func(auditlog.Record) error) error
}

// DBSource reads events straight from the audit_events table.
type DBSource struct {
	Q auditlog.Queryer
}

func (s DBSource) Each(ctx context.Context, f auditlog.Filter, fn func(auditlog.Record) error) error {
	return auditlog.Each(ctx, s.Q, f, fn)
}
