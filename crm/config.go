package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/platform/env"
)

type config struct {
	Addr            string
	ShutdownTimeout time.Duration

	SessionSecret string
	SessionTTL    time.Duration

	GateConfigPath string
	GateTokenTTL   time.Duration

	PublicRateLimit float64
	PublicRateBurst int

	MeetingMaxDuration time.Duration
	OverrideCacheTTL   time.Duration

	// IntakeOwnerEmail owns leads captured through the public funnel.
	IntakeOwnerEmail string
	// BootstrapAdminEmail is ensured to exist as an active ADMIN at startup.
	BootstrapAdminEmail string
}

func configFromEnv() (config, error) {
	shutdownTimeout, err := env.Duration("CRM_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return config{}, err
	}
	sessionTTL, err := env.Duration("CRM_SESSION_TTL", 12*time.Hour)
	if err != nil {
		return config{}, err
	}
	gateTTL, err := env.Duration("CRM_GATE_TOKEN_TTL", 30*time.Minute)
	if err != nil {
		return config{}, err
	}
	rateLimit, err := env.Float("CRM_PUBLIC_RATE_LIMIT", 2)
	if err != nil {
		return config{}, err
	}
	rateBurst, err := env.Int("CRM_PUBLIC_RATE_BURST", 10)
	if err != nil {
		return config{}, err
	}
	maxDuration, err := env.Duration("CRM_MEETING_MAX_DURATION", 4*time.Hour)
	if err != nil {
		return config{}, err
	}
	overrideTTL, err := env.Duration("CRM_PERMISSION_CACHE_TTL", 30*time.Second)
	if err != nil {
		return config{}, err
	}

	cfg := config{
		Addr:                env.String("CRM_HTTP_ADDR", ":8080"),
		ShutdownTimeout:     shutdownTimeout,
		SessionSecret:       env.String("CRM_SESSION_SECRET", ""),
		SessionTTL:          sessionTTL,
		GateConfigPath:      strings.TrimSpace(env.String("CRM_GATE_CONFIG", "")),
		GateTokenTTL:        gateTTL,
		PublicRateLimit:     rateLimit,
		PublicRateBurst:     rateBurst,
		MeetingMaxDuration:  maxDuration,
		OverrideCacheTTL:    overrideTTL,
		IntakeOwnerEmail:    strings.ToLower(strings.TrimSpace(env.String("CRM_INTAKE_OWNER_EMAIL", ""))),
		BootstrapAdminEmail: strings.ToLower(strings.TrimSpace(env.String("CRM_BOOTSTRAP_ADMIN_EMAIL", ""))),
	}
	if err := cfg.Validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("CRM_HTTP_ADDR is required")
	}
	if len(strings.TrimSpace(c.SessionSecret)) < 32 {
		return errors.New("CRM_SESSION_SECRET must be at least 32 characters")
	}
	if c.SessionTTL <= 0 || c.SessionTTL > 7*24*time.Hour {
		return fmt.Errorf("CRM_SESSION_TTL must be within (0, 168h] (got %s)", c.SessionTTL)
	}
	if c.GateTokenTTL <= 0 || c.GateTokenTTL > 24*time.Hour {
		return fmt.Errorf("CRM_GATE_TOKEN_TTL must be within (0, 24h] (got %s)", c.GateTokenTTL)
	}
	if c.PublicRateLimit <= 0 {
		return errors.New("CRM_PUBLIC_RATE_LIMIT must be positive")
	}
	if c.PublicRateBurst < 1 {
		return errors.New("CRM_PUBLIC_RATE_BURST must be >= 1")
	}
	if c.MeetingMaxDuration <= 0 || c.MeetingMaxDuration > 24*time.Hour {
		return fmt.Errorf("CRM_MEETING_MAX_DURATION must be within (0, 24h] (got %s)", c.MeetingMaxDuration)
	}
	if c.OverrideCacheTTL < 0 {
		return errors.New("CRM_PERMISSION_CACHE_TTL must be >= 0")
	}
	return nil
}
