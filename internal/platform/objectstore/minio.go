package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// ExportPrefix is where audit exports are written inside the bucket.
const ExportPrefix = "audit/"

const exportRuleID = "expire-audit-exports"

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// EnsureBucket creates the exports bucket when missing and installs the
// retention rule for exports.
func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketExports)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", cfg.BucketExports, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketExports, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", cfg.BucketExports, err)
		}
	}
	if cfg.ExportRetentionDays == 0 {
		return nil
	}
	if err := client.SetBucketLifecycle(ctx, cfg.BucketExports, exportLifecycle(cfg.ExportRetentionDays)); err != nil {
		return fmt.Errorf("bucket %s lifecycle: %w", cfg.BucketExports, err)
	}
	return nil
}

func exportLifecycle(days int) *lifecycle.Configuration {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{{
		ID:         exportRuleID,
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: ExportPrefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return lc
}

// CheckBucket backs the readiness probe.
func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketExports)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", cfg.BucketExports, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s missing", cfg.BucketExports)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
