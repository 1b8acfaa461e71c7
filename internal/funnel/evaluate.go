package funnel

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/service"
)

const maxAnswerLength = 500

var fieldKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Submission is one visitor's answers to the gate.
type Submission struct {
	Answers     map[string]string  `json:"answers"`
	Acquisition domain.Acquisition `json:"acquisition"`
}

type Decision struct {
	Outcome     string `json:"outcome"`
	RuleID      string `json:"rule_id,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason"`
}

// Evaluate checks the answers against the gate questions and classifies the
// submission. The first matching rule wins.
func Evaluate(def Definition, sub Submission) (Decision, Submission, error) {
	if err := def.Validate(); err != nil {
		return Decision{}, Submission{}, err
	}
	normalized, err := normalizeSubmission(def, sub)
	if err != nil {
		return Decision{}, Submission{}, err
	}

	for _, rule := range def.Rules {
		if ruleMatches(rule, normalized) {
			return Decision{
				Outcome:     normalizeString(rule.Outcome),
				RuleID:      strings.TrimSpace(rule.ID),
				Description: strings.TrimSpace(rule.Description),
				Reason:      "rule_match",
			}, normalized, nil
		}
	}
	return Decision{
		Outcome: normalizeString(def.DefaultOutcome),
		Reason:  "default",
	}, normalized, nil
}

func normalizeSubmission(def Definition, sub Submission) (Submission, error) {
	var verr service.ValidationError
	keys := make([]string, 0, len(sub.Answers))
	for key := range sub.Answers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	answers := make(map[string]string, len(sub.Answers))
	for _, raw := range keys {
		key := strings.TrimSpace(raw)
		value := strings.TrimSpace(sub.Answers[raw])
		if _, ok := def.Question(key); !ok {
			verr.Add(fmt.Sprintf("answers.%s is not a gate question", key))
			continue
		}
		if len(value) > maxAnswerLength {
			verr.Add(fmt.Sprintf("answers.%s exceeds %d characters", key, maxAnswerLength))
			continue
		}
		if value != "" {
			answers[key] = value
		}
	}

	for _, q := range def.Questions {
		id := strings.TrimSpace(q.ID)
		value, ok := answers[id]
		if !ok {
			if q.Required {
				verr.Add(fmt.Sprintf("answers.%s is required", id))
			}
			continue
		}
		if len(q.Options) == 0 {
			continue
		}
		option, ok := matchOption(q.Options, value)
		if !ok {
			verr.Add(fmt.Sprintf("answers.%s must be one of %s", id, strings.Join(q.Options, ", ")))
			continue
		}
		answers[id] = option
	}
	if err := verr.OrNil(); err != nil {
		return Submission{}, err
	}
	return Submission{Answers: answers, Acquisition: NormalizeAcquisition(sub.Acquisition)}, nil
}

func matchOption(options []string, value string) (string, bool) {
	want := normalizeString(value)
	for _, opt := range options {
		if normalizeString(opt) == want {
			return strings.TrimSpace(opt), true
		}
	}
	return "", false
}

func ruleMatches(rule Rule, sub Submission) bool {
	for _, cond := range rule.When.All {
		if !conditionMatches(cond, sub) {
			return false
		}
	}
	if len(rule.When.Any) > 0 {
		found := false
		for _, cond := range rule.When.Any {
			if conditionMatches(cond, sub) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func conditionMatches(cond Condition, sub Submission) bool {
	value, ok := sub.Field(cond.Field)
	op := strings.ToLower(strings.TrimSpace(cond.Op))
	if op == "exists" {
		return ok
	}
	if !ok {
		// Absent fields only satisfy negative conditions.
		return op == "neq" || op == "not_in"
	}
	switch op {
	case "eq":
		return normalizeString(value) == normalizeString(cond.Value)
	case "neq":
		return normalizeString(value) != normalizeString(cond.Value)
	case "in":
		return compareIn(value, cond.Values)
	case "not_in":
		return !compareIn(value, cond.Values)
	case "gte", "lte":
		return compareNumber(value, cond.Value, op)
	default:
		return false
	}
}

// Field resolves a rule field against the submission.
func (s Submission) Field(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(key, "answers.") {
		value, ok := s.Answers[strings.TrimPrefix(key, "answers.")]
		return value, ok && value != ""
	}
	var value string
	switch key {
	case "utm.source":
		value = s.Acquisition.UTMSource
	case "utm.medium":
		value = s.Acquisition.UTMMedium
	case "utm.campaign":
		value = s.Acquisition.UTMCampaign
	case "utm.term":
		value = s.Acquisition.UTMTerm
	case "utm.content":
		value = s.Acquisition.UTMContent
	case "referrer":
		value = s.Acquisition.Referrer
	case "landing_path":
		value = s.Acquisition.LandingPath
	default:
		return "", false
	}
	return value, strings.TrimSpace(value) != ""
}

func compareIn(value string, targets []string) bool {
	want := normalizeString(value)
	for _, t := range targets {
		if normalizeString(t) == want && want != "" {
			return true
		}
	}
	return false
}

func compareNumber(value string, target string, op string) bool {
	left, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return false
	}
	right, err := strconv.ParseFloat(strings.TrimSpace(target), 64)
	if err != nil {
		return false
	}
	switch op {
	case "gte":
		return left >= right
	case "lte":
		return left <= right
	default:
		return false
	}
}
