package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leadline-labs/leadline/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketExports string
	// ExportRetentionDays expires export objects through a bucket lifecycle
	// rule. Zero leaves the bucket lifecycle alone.
	ExportRetentionDays int
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("CRM_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	retention, err := env.Int("CRM_MINIO_EXPORT_RETENTION_DAYS", 30)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:            env.String("CRM_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:           env.String("CRM_MINIO_ACCESS_KEY", "leadline"),
		SecretKey:           env.String("CRM_MINIO_SECRET_KEY", "leadlineminio"),
		Region:              env.String("CRM_MINIO_REGION", "us-east-1"),
		UseSSL:              useSSL,
		BucketExports:       env.String("CRM_MINIO_BUCKET_EXPORTS", "crm-exports"),
		ExportRetentionDays: retention,
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	required := []struct{ key, value string }{
		{"CRM_MINIO_ENDPOINT", c.Endpoint},
		{"CRM_MINIO_ACCESS_KEY", c.AccessKey},
		{"CRM_MINIO_SECRET_KEY", c.SecretKey},
		{"CRM_MINIO_REGION", c.Region},
		{"CRM_MINIO_BUCKET_EXPORTS", c.BucketExports},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s is required", r.key)
		}
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("CRM_MINIO_ENDPOINT must not include scheme: %q", c.Endpoint)
	}
	if c.ExportRetentionDays < 0 {
		return errors.New("CRM_MINIO_EXPORT_RETENTION_DAYS must be >= 0")
	}
	return nil
}
