package domain

import (
	"errors"
	"strings"
	"time"
)

// Stage is one ordered step of the sales pipeline.
type Stage struct {
	ID        string
	Name      string
	Position  int
	IsWon     bool
	IsLost    bool
	CreatedAt time.Time
}

func (s Stage) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("stage id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("stage name is required")
	}
	if s.Position < 0 {
		return errors.New("stage position must be non-negative")
	}
	if s.IsWon && s.IsLost {
		return errors.New("stage cannot be both won and lost")
	}
	return nil
}

func (s Stage) Terminal() bool { return s.IsWon || s.IsLost }
