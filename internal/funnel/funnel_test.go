package funnel

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/platform/auth"
	"github.com/leadline-labs/leadline/internal/service"
)

func mustDefault(t *testing.T) Definition {
	t.Helper()
	def, err := DefaultDefinition()
	if err != nil {
		t.Fatalf("DefaultDefinition() err=%v", err)
	}
	return def
}

func TestParseDefinitionRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "schema",
			yaml: "schema: other\nquestions: [{id: a}]\ndefault_outcome: nurture\n",
			want: "gate.schema",
		},
		{
			name: "default outcome",
			yaml: "schema: crm.gate.v1\nquestions: [{id: a}]\ndefault_outcome: maybe\n",
			want: "gate.default_outcome",
		},
		{
			name: "unknown answer field",
			yaml: "schema: crm.gate.v1\nquestions: [{id: a}]\nrules:\n  - id: r\n    outcome: qualified\n    when: {all: [{field: answers.b, op: exists}]}\ndefault_outcome: nurture\n",
			want: "field unsupported",
		},
		{
			name: "non numeric bound",
			yaml: "schema: crm.gate.v1\nquestions: [{id: a}]\nrules:\n  - id: r\n    outcome: qualified\n    when: {all: [{field: answers.a, op: gte, value: lots}]}\ndefault_outcome: nurture\n",
			want: "must be numeric",
		},
		{
			name: "duplicate question",
			yaml: "schema: crm.gate.v1\nquestions: [{id: a}, {id: a}]\ndefault_outcome: nurture\n",
			want: "must be unique",
		},
		{
			name: "empty when",
			yaml: "schema: crm.gate.v1\nquestions: [{id: a}]\nrules:\n  - id: r\n    outcome: qualified\ndefault_outcome: nurture\n",
			want: "must include all or any",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("ParseDefinition() err=%v, want %q", err, tc.want)
			}
		})
	}
}

func TestEvaluateDefaultGate(t *testing.T) {
	def := mustDefault(t)
	cases := []struct {
		name    string
		sub     Submission
		outcome string
		rule    string
	}{
		{
			name:    "ready buyer",
			sub:     Submission{Answers: map[string]string{"company_size": "51-200", "budget_eur": "1500", "timeline": "NOW"}},
			outcome: OutcomeQualified,
			rule:    "ready-buyer",
		},
		{
			name:    "no budget wins first",
			sub:     Submission{Answers: map[string]string{"company_size": "51-200", "budget_eur": "50", "timeline": "now"}},
			outcome: OutcomeDisqualified,
			rule:    "no-budget",
		},
		{
			name: "partner campaign",
			sub: Submission{
				Answers:     map[string]string{"company_size": "1-10", "budget_eur": "500", "timeline": "later"},
				Acquisition: domain.Acquisition{UTMSource: " Partner "},
			},
			outcome: OutcomeQualified,
			rule:    "partner-referral",
		},
		{
			name:    "default",
			sub:     Submission{Answers: map[string]string{"company_size": "1-10", "budget_eur": "500", "timeline": "later"}},
			outcome: OutcomeNurture,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, normalized, err := Evaluate(def, tc.sub)
			if err != nil {
				t.Fatalf("Evaluate() err=%v", err)
			}
			if decision.Outcome != tc.outcome || decision.RuleID != tc.rule {
				t.Fatalf("Evaluate() = %+v, want %s/%s", decision, tc.outcome, tc.rule)
			}
			if tc.rule == "" && decision.Reason != "default" {
				t.Fatalf("Reason = %q, want default", decision.Reason)
			}
			if tc.name == "ready buyer" && normalized.Answers["timeline"] != "now" {
				t.Fatalf("option not canonicalized: %q", normalized.Answers["timeline"])
			}
		})
	}
}

func TestEvaluateInvalidSubmission(t *testing.T) {
	def := mustDefault(t)
	_, _, err := Evaluate(def, Submission{Answers: map[string]string{
		"company_size": "huge",
		"timeline":     "now",
		"favorite":     "blue",
	}})
	if !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("Evaluate() err=%v, want ErrInvalidInput", err)
	}
	issues := strings.Join(service.Issues(err), "\n")
	for _, want := range []string{
		"answers.favorite is not a gate question",
		"answers.budget_eur is required",
		"answers.company_size must be one of",
	} {
		if !strings.Contains(issues, want) {
			t.Fatalf("issues %q missing %q", issues, want)
		}
	}
}

func TestConditionOnAbsentField(t *testing.T) {
	sub := Submission{Answers: map[string]string{}}
	if conditionMatches(Condition{Field: "utm.source", Op: "eq", Value: "x"}, sub) {
		t.Fatalf("eq on absent field matched")
	}
	if !conditionMatches(Condition{Field: "utm.source", Op: "neq", Value: "x"}, sub) {
		t.Fatalf("neq on absent field did not match")
	}
	if conditionMatches(Condition{Field: "referrer", Op: "exists"}, sub) {
		t.Fatalf("exists on absent field matched")
	}
}

func TestNormalizeAcquisition(t *testing.T) {
	q := url.Values{
		"utm_source":   {"  Google "},
		"utm_campaign": {strings.Repeat("a", 300)},
		"landing_path": {"/pricing?plan=pro#top"},
		"session_id":   {"abc"},
	}
	acq := AcquisitionFromQuery(q, "https://News.Example.com/story?id=1")
	if acq.UTMSource != "google" {
		t.Fatalf("UTMSource = %q", acq.UTMSource)
	}
	if len(acq.UTMCampaign) != maxUTMLength {
		t.Fatalf("UTMCampaign length = %d", len(acq.UTMCampaign))
	}
	if acq.Referrer != "https://news.example.com/story" {
		t.Fatalf("Referrer = %q", acq.Referrer)
	}
	if acq.LandingPath != "/pricing" {
		t.Fatalf("LandingPath = %q", acq.LandingPath)
	}
	if acq.SessionID != "" {
		t.Fatalf("short session id kept: %q", acq.SessionID)
	}

	bad := NormalizeAcquisition(domain.Acquisition{Referrer: "javascript:alert(1)", LandingPath: "//evil.example"})
	if bad.Referrer != "" || bad.LandingPath != "" {
		t.Fatalf("NormalizeAcquisition() kept unsafe values: %+v", bad)
	}
}

func TestGateTokenRoundTrip(t *testing.T) {
	signer, err := auth.NewSigner("gate-secret-for-tests")
	if err != nil {
		t.Fatalf("NewSigner() err=%v", err)
	}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	decision := Decision{Outcome: OutcomeQualified, RuleID: "ready-buyer"}
	acq := domain.Acquisition{UTMSource: "newsletter", SessionID: "ignored"}

	token, err := IssueGateToken(signer, "sess_0123456789", decision, acq, 30*time.Minute, now)
	if err != nil {
		t.Fatalf("IssueGateToken() err=%v", err)
	}
	if !strings.HasPrefix(token, GateTokenPrefix+".") {
		t.Fatalf("token prefix = %q", token)
	}
	claims, err := VerifyGateToken(signer, token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("VerifyGateToken() err=%v", err)
	}
	got := claims.LeadAcquisition()
	if got.SessionID != "sess_0123456789" || got.Outcome != OutcomeQualified || got.RuleID != "ready-buyer" || got.UTMSource != "newsletter" {
		t.Fatalf("LeadAcquisition() = %+v", got)
	}

	if _, err := VerifyGateToken(signer, token, now.Add(time.Hour)); !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("VerifyGateToken(expired) err=%v", err)
	}

	session, err := auth.IssueSessionToken(signer, auth.SessionClaims{Subject: "s", UserID: "u", Role: "SDR"}, time.Hour, now)
	if err != nil {
		t.Fatalf("IssueSessionToken() err=%v", err)
	}
	if _, err := VerifyGateToken(signer, session, now); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("VerifyGateToken(session token) err=%v", err)
	}
}

func TestEventValidate(t *testing.T) {
	ok := Event{SessionID: "sess_0123456789", Name: "page.view", Properties: json.RawMessage(`{"section":"pricing"}`)}
	props, err := ok.Validate()
	if err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if props["section"] != "pricing" {
		t.Fatalf("props = %v", props)
	}
	ev := ok.AuditEvent(props, "req-1", nil, "ua", time.Now())
	if ev.Actor != "visitor:sess_0123456789" || ev.Action != "funnel.page.view" || ev.ResourceType != EventResourceType {
		t.Fatalf("AuditEvent() = %+v", ev)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("AuditEvent().Validate() err=%v", err)
	}

	bad := []Event{
		{SessionID: "sess_0123456789", Name: "Page View"},
		{SessionID: "short", Name: "page.view"},
		{SessionID: "sess_0123456789", Name: "page..view"},
		{SessionID: "sess_0123456789", Name: "page."},
		{SessionID: "sess_0123456789", Name: "p" + strings.Repeat("a", 64)},
		{SessionID: "sess_0123456789", Name: "page.view", Properties: json.RawMessage(`[1,2]`)},
		{SessionID: "sess_0123456789", Name: "page.view", Properties: json.RawMessage(`{"x":"` + strings.Repeat("a", MaxEventProps) + `"}`)},
	}
	for i, e := range bad {
		if _, err := e.Validate(); !errors.Is(err, service.ErrInvalidInput) {
			t.Fatalf("case %d: Validate() err=%v, want ErrInvalidInput", i, err)
		}
	}
}

func TestLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(1, 2)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("burst requests were rejected")
	}
	if l.Allow("a") {
		t.Fatalf("request over burst was allowed")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatalf("refilled token was rejected")
	}

	now = now.Add(defaultLimiterIdle + time.Minute)
	l.Allow("b")
	if got := l.Len(); got != 1 {
		t.Fatalf("Len() after idle sweep = %d, want 1", got)
	}
}

func TestLimiterMiddleware(t *testing.T) {
	l := NewLimiter(0.001, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/public/events", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d, want 429", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body err=%v", err)
	}
	if body["error"] != "rate_limited" {
		t.Fatalf("error = %v", body["error"])
	}
}
