package auditlog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"regexp"
	"strings"
	"time"
)

// Actor prefixes. Every stored actor is one of these followed by an id, or
// AnonymousActor.
const (
	UserActorPrefix    = "user:"
	VisitorActorPrefix = "visitor:"
	SystemActorPrefix  = "system:"
	SubjectActorPrefix = "subject:"
	AnonymousActor     = "anonymous"
)

const maxUserAgent = 512

var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)+$`)

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ValidActor reports whether actor names a user, visitor, system job or
// identity subject, or is anonymous.
func ValidActor(actor string) bool {
	actor = strings.TrimSpace(actor)
	if actor == AnonymousActor {
		return true
	}
	for _, prefix := range []string{UserActorPrefix, VisitorActorPrefix, SystemActorPrefix, SubjectActorPrefix} {
		if strings.HasPrefix(actor, prefix) && len(actor) > len(prefix) {
			return true
		}
	}
	return false
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if !ValidActor(e.Actor) {
		return fmt.Errorf("actor %q has no known prefix", e.Actor)
	}
	if !actionPattern.MatchString(strings.TrimSpace(e.Action)) {
		return fmt.Errorf("action %q must be dotted lowercase", e.Action)
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return errors.New("ResourceType is required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return errors.New("ResourceID is required")
	}
	return nil
}

// Insert appends one event. The payload must encode as a JSON object.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	// timestamptz keeps microseconds; the digest must see the stored value.
	event.OccurredAt = event.OccurredAt.Truncate(time.Microsecond)
	if err := event.Validate(); err != nil {
		return 0, err
	}
	payloadJSON, err := encodePayload(event.Payload)
	if err != nil {
		return 0, err
	}
	event.UserAgent = truncateRunes(strings.TrimSpace(event.UserAgent), maxUserAgent)

	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO audit_events (
			occurred_at, actor, action, resource_type, resource_id,
			request_id, ip, user_agent, payload, integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Actor),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.ResourceType),
		strings.TrimSpace(event.ResourceID),
		nullString(event.RequestID),
		nullString(ipString(event.IP)),
		nullString(event.UserAgent),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if string(raw) == "null" {
		return []byte("{}"), nil
	}
	return canonicalPayload(raw)
}

// canonicalPayload re-encodes a JSON object with sorted keys, no whitespace
// and numbers in plain decimal form, which survives a round trip through
// jsonb.
func canonicalPayload(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	if err := canonicalNumbers(obj); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func canonicalNumbers(v any) error {
	switch typed := v.(type) {
	case map[string]any:
		for k, item := range typed {
			if n, ok := item.(json.Number); ok {
				c, err := plainDecimal(n)
				if err != nil {
					return err
				}
				typed[k] = c
				continue
			}
			if err := canonicalNumbers(item); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range typed {
			if n, ok := item.(json.Number); ok {
				c, err := plainDecimal(n)
				if err != nil {
					return err
				}
				typed[i] = c
				continue
			}
			if err := canonicalNumbers(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// plainDecimal spells a JSON number the way Postgres numeric prints it,
// without exponent or trailing zeros: 1e-7 becomes 0.0000001 and 1.50
// becomes 1.5.
func plainDecimal(n json.Number) (json.Number, error) {
	r, ok := new(big.Rat).SetString(string(n))
	if !ok {
		return "", fmt.Errorf("payload number %q is invalid", string(n))
	}
	if r.IsInt() {
		return json.Number(r.Num().String()), nil
	}
	// A finite decimal has a denominator of 2^a * 5^b and needs max(a, b)
	// fractional digits.
	denom := new(big.Int).Set(r.Denom())
	twos := int(denom.TrailingZeroBits())
	denom.Rsh(denom, uint(twos))
	fives := 0
	five, rem := big.NewInt(5), new(big.Int)
	for denom.Cmp(big.NewInt(1)) > 0 {
		q, m := new(big.Int).QuoRem(denom, five, rem)
		if m.Sign() != 0 {
			return "", fmt.Errorf("payload number %q is not a finite decimal", string(n))
		}
		denom = q
		fives++
	}
	return json.Number(r.FloatString(max(twos, fives))), nil
}

type integrityInput struct {
	OccurredAt   time.Time       `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RequestID    string          `json:"request_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// ComputeIntegritySHA256 digests the row as it will be stored.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	return digest(integrityInput{
		OccurredAt:   event.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		RequestID:    strings.TrimSpace(event.RequestID),
		IP:           ipString(event.IP),
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Payload:      payloadJSON,
	})
}

// ErrIntegrityMismatch means a stored row no longer matches its digest.
var ErrIntegrityMismatch = errors.New("audit event integrity mismatch")

// VerifyIntegrity recomputes the digest of a stored record.
func (r Record) VerifyIntegrity() error {
	payload, err := canonicalPayload(r.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrityMismatch, err)
	}
	got, err := digest(integrityInput{
		OccurredAt:   r.OccurredAt.UTC(),
		Actor:        r.Actor,
		Action:       r.Action,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		RequestID:    r.RequestID,
		IP:           ipString(net.ParseIP(r.IP)),
		UserAgent:    r.UserAgent,
		Payload:      json.RawMessage(payload),
	})
	if err != nil {
		return err
	}
	if got != r.IntegritySHA256 {
		return fmt.Errorf("%w: event %d", ErrIntegrityMismatch, r.EventID)
	}
	return nil
}

func digest(in integrityInput) (string, error) {
	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
