package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleDirector   Role = "DIRECTOR"
	RoleManager    Role = "MANAGER"
	RoleSDR        Role = "SDR"
	RoleConsultant Role = "CONSULTANT"
)

// Roles lists every role from most to least privileged.
var Roles = []Role{RoleAdmin, RoleDirector, RoleManager, RoleSDR, RoleConsultant}

// ParseRole is case-insensitive and rejects unknown roles.
func ParseRole(raw string) (Role, error) {
	candidate := Role(strings.ToUpper(strings.TrimSpace(raw)))
	for _, role := range Roles {
		if role == candidate {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

type User struct {
	ID          string
	Subject     string
	Email       string
	DisplayName string
	Role        Role
	TeamID      string
	Timezone    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id is required")
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if strings.TrimSpace(u.DisplayName) == "" {
		return errors.New("display name is required")
	}
	if _, err := ParseRole(string(u.Role)); err != nil {
		return err
	}
	if _, err := u.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the user's timezone, defaulting to UTC.
func (u User) Location() (*time.Location, error) {
	tz := strings.TrimSpace(u.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q", tz)
	}
	return loc, nil
}

type Team struct {
	ID        string
	Name      string
	ManagerID string
	CreatedAt time.Time
}

func (t Team) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("team id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("team name is required")
	}
	return nil
}

// ValidateEmail accepts a bare address only, without a display name.
func ValidateEmail(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return fmt.Errorf("invalid email %q", raw)
	}
	return nil
}
