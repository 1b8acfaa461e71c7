package auditexport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/platform/auditlog"
	"github.com/leadline-labs/leadline/internal/service"
)

type fakeSource struct {
	records []auditlog.Record
	filter  auditlog.Filter
}

func (s *fakeSource) Each(ctx context.Context, f auditlog.Filter, fn func(auditlog.Record) error) error {
	s.filter = f
	for _, rec := range s.records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

type fakeStore struct {
	bucket      string
	key         string
	body        []byte
	contentType string
	putErr      error
}

func (s *fakeStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	s.bucket, s.key, s.body, s.contentType = bucket, key, data, contentType
	return nil
}

func (s *fakeStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://minio.test/" + bucket + "/" + key + "?ttl=" + ttl.String(), nil
}

type fakeAppender struct {
	events []domain.AuditEvent
}

func (a *fakeAppender) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	a.events = append(a.events, event)
	return int64(len(a.events)), nil
}

func testConfig() Config {
	return Config{Format: "ndjson", PresignTTL: 15 * time.Minute, MaxEvents: 10}
}

func TestExportWritesNDJSON(t *testing.T) {
	occurred := time.Date(2026, 4, 9, 8, 30, 0, 0, time.UTC)
	source := &fakeSource{records: []auditlog.Record{
		{EventID: 1, OccurredAt: occurred, Actor: "user:u1", Action: "lead.created", ResourceType: "lead", ResourceID: "l1", Payload: json.RawMessage(`{"name":"<Acme>"}`), IntegritySHA256: "aa"},
		{EventID: 2, OccurredAt: occurred, Actor: "visitor:sess_0123456789", Action: "funnel.page.view", ResourceType: "funnel_session", ResourceID: "sess_0123456789", IntegritySHA256: "bb"},
	}}
	store := &fakeStore{}
	appender := &fakeAppender{}

	svc, err := NewService(source, store, "crm-exports", testConfig(), appender)
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	fixed := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	filter := auditlog.Filter{ActionPrefix: "lead.", From: occurred.Add(-time.Hour)}
	res, err := svc.Export(context.Background(), service.AuditInfo{Actor: "user:admin", RequestID: "req-1"}, filter)
	if err != nil {
		t.Fatalf("Export() err=%v", err)
	}
	if source.filter.ActionPrefix != "lead." {
		t.Fatalf("filter not passed through: %+v", source.filter)
	}
	if res.Count != 2 || res.Bytes != int64(len(store.body)) {
		t.Fatalf("Export() = %+v", res)
	}
	if !strings.HasPrefix(res.Key, "audit/2026/04/10/") || !strings.HasSuffix(res.Key, ".ndjson") {
		t.Fatalf("Key = %q", res.Key)
	}
	if store.bucket != "crm-exports" || store.key != res.Key || store.contentType != contentTypeNDJSON {
		t.Fatalf("stored %s/%s (%s)", store.bucket, store.key, store.contentType)
	}
	if !res.ExpiresAt.Equal(fixed.Add(15 * time.Minute)) {
		t.Fatalf("ExpiresAt = %v", res.ExpiresAt)
	}

	scanner := bufio.NewScanner(bytes.NewReader(store.body))
	var lines []map[string]any
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decode line err=%v", err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0]["occurred_at"] != "2026-04-09T08:30:00Z" {
		t.Fatalf("occurred_at = %v", lines[0]["occurred_at"])
	}
	if bytes.Contains(store.body, []byte(`<Acme>`)) {
		t.Fatalf("payload HTML not escaped: %s", store.body)
	}
	if payload, _ := lines[1]["payload"].(map[string]any); payload == nil {
		t.Fatalf("empty payload not rendered as object: %v", lines[1]["payload"])
	}

	if res.Unverified != 2 || lines[0]["integrity_ok"] != false {
		t.Fatalf("Unverified = %d, integrity_ok = %v", res.Unverified, lines[0]["integrity_ok"])
	}

	if len(appender.events) != 1 || appender.events[0].Action != ActionExportCreated || appender.events[0].ResourceID != res.Key {
		t.Fatalf("audit events = %+v", appender.events)
	}
}

func TestExportRejectsOversizedAndBadRange(t *testing.T) {
	records := make([]auditlog.Record, 11)
	for i := range records {
		records[i] = auditlog.Record{EventID: int64(i + 1), Action: "x"}
	}
	store := &fakeStore{}
	svc, err := NewService(&fakeSource{records: records}, store, "b", testConfig(), nil)
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	if _, err := svc.Export(context.Background(), service.AuditInfo{}, auditlog.Filter{}); !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("Export(too many) err=%v", err)
	}
	if store.key != "" {
		t.Fatalf("oversized export was uploaded")
	}

	now := time.Now()
	if _, err := svc.Export(context.Background(), service.AuditInfo{}, auditlog.Filter{From: now, To: now}); !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("Export(bad range) err=%v", err)
	}
}

func TestExportUploadFailure(t *testing.T) {
	store := &fakeStore{putErr: errors.New("boom")}
	svc, err := NewService(&fakeSource{}, store, "b", testConfig(), nil)
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	_, err = svc.Export(context.Background(), service.AuditInfo{}, auditlog.Filter{})
	if err == nil || !strings.Contains(err.Error(), "upload audit export") {
		t.Fatalf("Export() err=%v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	bad := testConfig()
	bad.Format = "csv"
	if err := bad.Validate(); err == nil {
		t.Fatalf("Validate() accepted csv")
	}
	bad = testConfig()
	bad.PresignTTL = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("Validate() accepted zero ttl")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CRM_EXPORT_PRESIGN_TTL", "5m")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.PresignTTL != 5*time.Minute || cfg.MaxEvents != 100000 {
		t.Fatalf("ConfigFromEnv() = %+v", cfg)
	}
}

func TestExportLineVerifiesIntegrity(t *testing.T) {
	event := auditlog.Event{
		OccurredAt:   time.Date(2026, 4, 9, 8, 30, 0, 0, time.UTC),
		Actor:        "user:u1",
		Action:       "lead.created",
		ResourceType: "lead",
		ResourceID:   "l1",
	}
	sum, err := auditlog.ComputeIntegritySHA256(event, []byte(`{"name":"Acme"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	rec := auditlog.Record{
		EventID:         7,
		OccurredAt:      event.OccurredAt,
		Actor:           event.Actor,
		Action:          event.Action,
		ResourceType:    event.ResourceType,
		ResourceID:      event.ResourceID,
		Payload:         json.RawMessage(`{"name": "Acme"}`),
		IntegritySHA256: sum,
	}

	var buf bytes.Buffer
	exp := NewNDJSONExporter(&buf)
	if err := exp.Export(context.Background(), rec); err != nil {
		t.Fatalf("Export() err=%v", err)
	}
	rec.ResourceID = "l2"
	if err := exp.Export(context.Background(), rec); err != nil {
		t.Fatalf("Export() err=%v", err)
	}
	if exp.Count() != 2 || exp.Unverified() != 1 {
		t.Fatalf("Count()=%d Unverified()=%d", exp.Count(), exp.Unverified())
	}
	first, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	var line map[string]any
	if err := json.Unmarshal(first, &line); err != nil {
		t.Fatalf("decode line err=%v", err)
	}
	if line["integrity_ok"] != true || line["event_id"] != float64(7) {
		t.Fatalf("line = %v", line)
	}
}
