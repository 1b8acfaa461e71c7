package funnel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/platform/auditlog"
	"github.com/leadline-labs/leadline/internal/service"
)

const (
	EventActionPrefix = "funnel."
	EventResourceType = domain.ResourceFunnel
	MaxEventProps     = 8 << 10
	maxEventName      = 64
)

var (
	// Dots separate segments; empty segments are rejected so the stored
	// action stays a valid audit action.
	eventNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)
)

// Event is a free-form analytics event posted by the public site.
type Event struct {
	SessionID  string          `json:"session_id"`
	Name       string          `json:"name"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Path       string          `json:"path,omitempty"`
}

func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return errors.New("session_id must be 8-64 characters of [A-Za-z0-9_-]")
	}
	return nil
}

// Validate checks the event envelope and decodes its properties.
func (e Event) Validate() (map[string]any, error) {
	var verr service.ValidationError
	if err := ValidateSessionID(strings.TrimSpace(e.SessionID)); err != nil {
		verr.Add(err.Error())
	}
	if name := strings.TrimSpace(e.Name); len(name) > maxEventName || !eventNamePattern.MatchString(name) {
		verr.Add(fmt.Sprintf("name must be at most %d characters matching %s", maxEventName, eventNamePattern))
	}

	var props map[string]any
	raw := []byte(strings.TrimSpace(string(e.Properties)))
	switch {
	case len(raw) == 0 || string(raw) == "null":
	case len(raw) > MaxEventProps:
		verr.Add(fmt.Sprintf("properties exceed %d bytes", MaxEventProps))
	case raw[0] != '{':
		verr.Add("properties must be a JSON object")
	default:
		if err := json.Unmarshal(raw, &props); err != nil {
			verr.Add("properties must be a JSON object")
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return props, nil
}

// AuditEvent converts a validated event into its audit log row.
func (e Event) AuditEvent(props map[string]any, requestID string, ip net.IP, userAgent string, now time.Time) domain.AuditEvent {
	sessionID := strings.TrimSpace(e.SessionID)
	payload := domain.Metadata{"properties": map[string]any{}}
	if props != nil {
		payload["properties"] = props
	}
	if path := normalizeLandingPath(e.Path); path != "" {
		payload["path"] = path
	}
	return domain.AuditEvent{
		OccurredAt:   now.UTC(),
		Actor:        auditlog.VisitorActorPrefix + sessionID,
		Action:       EventActionPrefix + strings.TrimSpace(e.Name),
		ResourceType: EventResourceType,
		ResourceID:   sessionID,
		RequestID:    requestID,
		IP:           ip,
		UserAgent:    userAgent,
		Payload:      payload,
	}
}

// GateEvent records a gate evaluation for funnel statistics.
func GateEvent(sessionID string, decision Decision, acq domain.Acquisition, requestID string, ip net.IP, userAgent string, now time.Time) domain.AuditEvent {
	payload := domain.Metadata{
		"outcome": decision.Outcome,
		"reason":  decision.Reason,
	}
	if decision.RuleID != "" {
		payload["rule_id"] = decision.RuleID
	}
	if !acq.IsZero() {
		payload["acquisition"] = acq
	}
	return domain.AuditEvent{
		OccurredAt:   now.UTC(),
		Actor:        auditlog.VisitorActorPrefix + sessionID,
		Action:       EventActionPrefix + "gate." + decision.Outcome,
		ResourceType: EventResourceType,
		ResourceID:   sessionID,
		RequestID:    requestID,
		IP:           ip,
		UserAgent:    userAgent,
		Payload:      payload,
	}
}
