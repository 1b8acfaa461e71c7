package auditexport

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/leadline-labs/leadline/internal/platform/auditlog"
)

// NDJSONExporter writes one JSON object per line and re-checks each row's
// integrity digest on the way out.
type NDJSONExporter struct {
	enc        *json.Encoder
	count      int
	unverified int
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONExporter{enc: enc}
}

func (e *NDJSONExporter) Export(ctx context.Context, rec auditlog.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line := newExportLine(rec)
	if !line.IntegrityOK {
		e.unverified++
	}
	if err := e.enc.Encode(line); err != nil {
		return err
	}
	e.count++
	return nil
}

func (e *NDJSONExporter) Count() int { return e.count }

// Unverified counts rows whose stored digest did not match.
func (e *NDJSONExporter) Unverified() int { return e.unverified }

type exportLine struct {
	auditlog.Record
	OccurredAt  string `json:"occurred_at"`
	IntegrityOK bool   `json:"integrity_ok"`
}

func newExportLine(rec auditlog.Record) exportLine {
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage(`{}`)
	}
	return exportLine{
		Record:      rec,
		OccurredAt:  rec.OccurredAt.UTC().Format(time.RFC3339Nano),
		IntegrityOK: rec.VerifyIntegrity() == nil,
	}
}
