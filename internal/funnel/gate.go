// Package funnel implements the public pre-qualification gate, acquisition
// tracking and visitor events.
package funnel

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const GateSchemaV1 = "crm.gate.v1"

const (
	OutcomeQualified    = "qualified"
	OutcomeNurture      = "nurture"
	OutcomeDisqualified = "disqualified"
)

//go:embed gate.yaml
var defaultGateYAML []byte

type Definition struct {
	Schema         string     `json:"schema" yaml:"schema"`
	Questions      []Question `json:"questions" yaml:"questions"`
	Rules          []Rule     `json:"rules" yaml:"rules"`
	DefaultOutcome string     `json:"default_outcome" yaml:"default_outcome"`
}

type Question struct {
	ID       string   `json:"id" yaml:"id"`
	Label    string   `json:"label,omitempty" yaml:"label,omitempty"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Options  []string `json:"options,omitempty" yaml:"options,omitempty"`
}

type Rule struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Outcome     string         `json:"outcome" yaml:"outcome"`
	When        ConditionGroup `json:"when" yaml:"when"`
}

type ConditionGroup struct {
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

type Condition struct {
	Field  string   `json:"field" yaml:"field"`
	Op     string   `json:"op" yaml:"op"`
	Value  string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// DefaultDefinition returns the gate compiled into the binary.
func DefaultDefinition() (Definition, error) {
	return ParseDefinition(defaultGateYAML)
}

// LoadDefinition reads a gate from path, or the embedded default when path
// is empty.
func LoadDefinition(path string) (Definition, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultDefinition()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read gate definition: %w", err)
	}
	return ParseDefinition(raw)
}

func ParseDefinition(input []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(input, &def); err != nil {
		return Definition{}, fmt.Errorf("decode gate definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func (d Definition) MarshalJSON() ([]byte, error) {
	type alias Definition
	return json.Marshal(alias(d))
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Schema) != GateSchemaV1 {
		return fmt.Errorf("gate.schema must be %q", GateSchemaV1)
	}
	if len(d.Questions) == 0 {
		return errors.New("gate.questions must be non-empty")
	}
	if !isOutcomeAllowed(d.DefaultOutcome) {
		return fmt.Errorf("gate.default_outcome unsupported: %q", d.DefaultOutcome)
	}

	questions := make(map[string]struct{}, len(d.Questions))
	for i, q := range d.Questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return fmt.Errorf("gate.questions[%d].id is required", i)
		}
		if !fieldKeyPattern.MatchString(id) {
			return fmt.Errorf("gate.questions[%d].id must match %s", i, fieldKeyPattern)
		}
		if _, ok := questions[id]; ok {
			return fmt.Errorf("gate.questions[%d].id must be unique (duplicate %q)", i, id)
		}
		questions[id] = struct{}{}
		for j, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				return fmt.Errorf("gate.questions[%d].options[%d] must be non-empty", i, j)
			}
		}
	}

	seen := make(map[string]struct{}, len(d.Rules))
	for i, rule := range d.Rules {
		ruleID := strings.TrimSpace(rule.ID)
		if ruleID == "" {
			return fmt.Errorf("gate.rules[%d].id is required", i)
		}
		if _, ok := seen[ruleID]; ok {
			return fmt.Errorf("gate.rules[%d].id must be unique (duplicate %q)", i, ruleID)
		}
		seen[ruleID] = struct{}{}

		if strings.TrimSpace(rule.Outcome) == "" {
			return fmt.Errorf("gate.rules[%d].outcome is required", i)
		}
		if !isOutcomeAllowed(rule.Outcome) {
			return fmt.Errorf("gate.rules[%d].outcome unsupported: %q", i, rule.Outcome)
		}

		if len(rule.When.All) == 0 && len(rule.When.Any) == 0 {
			return fmt.Errorf("gate.rules[%d].when must include all or any", i)
		}
		if err := validateConditions(rule.When.All, questions, fmt.Sprintf("gate.rules[%d].when.all", i)); err != nil {
			return err
		}
		if err := validateConditions(rule.When.Any, questions, fmt.Sprintf("gate.rules[%d].when.any", i)); err != nil {
			return err
		}
	}
	return nil
}

// Question returns the question with the given id.
func (d Definition) Question(id string) (Question, bool) {
	for _, q := range d.Questions {
		if strings.TrimSpace(q.ID) == id {
			return q, true
		}
	}
	return Question{}, false
}

func validateConditions(conds []Condition, questions map[string]struct{}, prefix string) error {
	for i, cond := range conds {
		field := strings.ToLower(strings.TrimSpace(cond.Field))
		if field == "" {
			return fmt.Errorf("%s[%d].field is required", prefix, i)
		}
		if !isFieldKnown(field, questions) {
			return fmt.Errorf("%s[%d].field unsupported: %q", prefix, i, cond.Field)
		}
		op := strings.ToLower(strings.TrimSpace(cond.Op))
		if op == "" {
			return fmt.Errorf("%s[%d].op is required", prefix, i)
		}
		if !isOpAllowed(op) {
			return fmt.Errorf("%s[%d].op unsupported: %q", prefix, i, cond.Op)
		}

		switch op {
		case "exists":
			continue
		case "in", "not_in":
			if len(trimNonEmpty(cond.Values)) == 0 {
				return fmt.Errorf("%s[%d].values must be non-empty for %s", prefix, i, op)
			}
		case "gte", "lte":
			if _, err := strconv.ParseFloat(strings.TrimSpace(cond.Value), 64); err != nil {
				return fmt.Errorf("%s[%d].value must be numeric for %s", prefix, i, op)
			}
		default:
			if strings.TrimSpace(cond.Value) == "" {
				return fmt.Errorf("%s[%d].value is required for %s", prefix, i, op)
			}
		}
	}
	return nil
}

func isFieldKnown(field string, questions map[string]struct{}) bool {
	if strings.HasPrefix(field, "answers.") {
		_, ok := questions[strings.TrimPrefix(field, "answers.")]
		return ok
	}
	switch field {
	case "utm.source", "utm.medium", "utm.campaign", "utm.term", "utm.content", "referrer", "landing_path":
		return true
	default:
		return false
	}
}

func isOutcomeAllowed(outcome string) bool {
	switch normalizeString(outcome) {
	case OutcomeQualified, OutcomeNurture, OutcomeDisqualified:
		return true
	default:
		return false
	}
}

func isOpAllowed(op string) bool {
	switch op {
	case "eq", "neq", "in", "not_in", "exists", "gte", "lte":
		return true
	default:
		return false
	}
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizeString(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
