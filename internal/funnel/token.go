package funnel

import (
	"errors"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/platform/auth"
)

const GateTokenPrefix = "crm_gate_v1"

// GateClaims prove that a visitor passed the gate with a given outcome.
type GateClaims struct {
	SessionID     string             `json:"sid"`
	Outcome       string             `json:"cls"`
	RuleID        string             `json:"rule,omitempty"`
	Acquisition   domain.Acquisition `json:"acq"`
	IssuedAtUnix  int64              `json:"iat"`
	ExpiresAtUnix int64              `json:"exp"`
}

func (c GateClaims) ExpiresAt() int64 { return c.ExpiresAtUnix }

// LeadAcquisition is the acquisition record stored on a captured lead.
func (c GateClaims) LeadAcquisition() domain.Acquisition {
	acq := c.Acquisition
	acq.SessionID = c.SessionID
	acq.Outcome = c.Outcome
	acq.RuleID = c.RuleID
	return acq
}

func IssueGateToken(signer *auth.Signer, sessionID string, decision Decision, acq domain.Acquisition, ttl time.Duration, now time.Time) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	if !isOutcomeAllowed(decision.Outcome) {
		return "", errors.New("gate outcome is required")
	}
	if ttl <= 0 {
		return "", errors.New("gate token ttl must be positive")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	acq = NormalizeAcquisition(acq)
	acq.SessionID, acq.Outcome, acq.RuleID = "", "", ""
	claims := GateClaims{
		SessionID:     sessionID,
		Outcome:       normalizeString(decision.Outcome),
		RuleID:        decision.RuleID,
		Acquisition:   acq,
		IssuedAtUnix:  now.UTC().Unix(),
		ExpiresAtUnix: now.Add(ttl).UTC().Unix(),
	}
	return signer.Sign(GateTokenPrefix, claims, now)
}

func VerifyGateToken(signer *auth.Signer, token string, now time.Time) (GateClaims, error) {
	var claims GateClaims
	if err := signer.Verify(GateTokenPrefix, token, &claims, now); err != nil {
		return GateClaims{}, err
	}
	if ValidateSessionID(claims.SessionID) != nil || !isOutcomeAllowed(claims.Outcome) {
		return GateClaims{}, auth.ErrTokenInvalid
	}
	return claims, nil
}
