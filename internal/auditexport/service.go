package auditexport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/platform/auditlog"
	"github.com/leadline-labs/leadline/internal/platform/objectstore"
	"github.com/leadline-labs/leadline/internal/repo"
	"github.com/leadline-labs/leadline/internal/service"
)

const (
	ActionExportCreated = "audit.export_created"
	contentTypeNDJSON   = "application/x-ndjson"
)

var errTooManyEvents = errors.New("too many events")

type Result struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
	Bytes int64  `json:"bytes"`
	// Unverified counts exported rows whose integrity digest did not match.
	Unverified int       `json:"unverified"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Service writes filtered audit events to the exports bucket as one NDJSON
// object and hands back a presigned download link.
type Service struct {
	source Source
	store  objectstore.Store
	bucket string
	cfg    Config
	audit  repo.AuditEventAppender
	now    func() time.Time
}

func NewService(source Source, store objectstore.Store, bucket string, cfg Config, audit repo.AuditEventAppender) (*Service, error) {
	if source == nil || store == nil {
		return nil, errors.New("audit export source and store are required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("audit export bucket is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{source: source, store: store, bucket: bucket, cfg: cfg, audit: audit, now: time.Now}, nil
}

func (s *Service) Export(ctx context.Context, info service.AuditInfo, f auditlog.Filter) (Result, error) {
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return Result{}, service.Invalid("to must be after from")
	}
	now := s.now().UTC()

	var buf bytes.Buffer
	exporter := NewNDJSONExporter(&buf)
	err := s.source.Each(ctx, f, func(rec auditlog.Record) error {
		if exporter.Count() >= s.cfg.MaxEvents {
			return errTooManyEvents
		}
		return exporter.Export(ctx, rec)
	})
	if errors.Is(err, errTooManyEvents) {
		return Result{}, service.Invalid(fmt.Sprintf("export matches more than %d events; narrow the filter", s.cfg.MaxEvents))
	}
	if err != nil {
		return Result{}, fmt.Errorf("read audit events: %w", err)
	}

	key := ObjectKey(now, uuid.NewString())
	size := int64(buf.Len())
	if err := s.store.Put(ctx, s.bucket, key, &buf, size, contentTypeNDJSON); err != nil {
		return Result{}, fmt.Errorf("upload audit export: %w", err)
	}
	url, err := s.store.PresignGet(ctx, s.bucket, key, s.cfg.PresignTTL)
	if err != nil {
		return Result{}, fmt.Errorf("presign audit export: %w", err)
	}

	res := Result{
		Key:        key,
		Count:      exporter.Count(),
		Bytes:      size,
		Unverified: exporter.Unverified(),
		URL:        url,
		ExpiresAt:  now.Add(s.cfg.PresignTTL),
	}
	if s.audit != nil {
		payload := map[string]any{"key": key, "count": res.Count, "bytes": size, "unverified": res.Unverified}
		if f.ActionPrefix != "" {
			payload["action_prefix"] = f.ActionPrefix
		}
		if _, err := s.audit.Append(ctx, info.Event(ActionExportCreated, domain.ResourceExport, key, payload)); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// ObjectKey places an export under its UTC creation date.
func ObjectKey(now time.Time, id string) string {
	now = now.UTC()
	return fmt.Sprintf(objectstore.ExportPrefix+"%04d/%02d/%02d/%s.ndjson", now.Year(), int(now.Month()), now.Day(), id)
}
