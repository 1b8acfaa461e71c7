package auditexport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/platform/env"
)

// Config controls audit export format and limits.
type Config struct {
	Format     string
	PresignTTL time.Duration
	MaxEvents  int
}

func ConfigFromEnv() (Config, error) {
	presignTTL, err := env.Duration("CRM_EXPORT_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	maxEvents, err := env.Int("CRM_EXPORT_MAX_EVENTS", 100000)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Format:     env.String("CRM_EXPORT_FORMAT", "ndjson"),
		PresignTTL: presignTTL,
		MaxEvents:  maxEvents,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	format := strings.ToLower(strings.TrimSpace(c.Format))
	if format == "" {
		format = "ndjson"
	}
	if format != "ndjson" {
		return fmt.Errorf("unsupported audit export format: %s", format)
	}
	if c.PresignTTL <= 0 || c.PresignTTL > 7*24*time.Hour {
		return errors.New("CRM_EXPORT_PRESIGN_TTL must be between 1s and 168h")
	}
	if c.MaxEvents <= 0 {
		return errors.New("CRM_EXPORT_MAX_EVENTS must be positive")
	}
	return nil
}
