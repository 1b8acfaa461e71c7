// Package service holds the errors shared by the CRM use-case packages.
package service

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotBookable       = errors.New("interval is not bookable")
)

// ValidationError aggregates input issues. It matches ErrInvalidInput.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid input"
	}
	return "invalid input: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// Invalid returns a ValidationError holding a single issue.
func Invalid(issue string) error {
	return &ValidationError{Issues: []string{issue}}
}

// Issues extracts validation issues from err, if any.
func Issues(err error) []string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Issues
	}
	return nil
}
