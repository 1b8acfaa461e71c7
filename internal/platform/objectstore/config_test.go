package objectstore

import "testing"

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.BucketExports != "crm-exports" {
		t.Fatalf("BucketExports=%q, want crm-exports", cfg.BucketExports)
	}
}

func TestConfigValidate_RejectsScheme(t *testing.T) {
	t.Setenv("CRM_MINIO_ENDPOINT", "http://localhost:9000")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for endpoint with scheme")
	}
}

func TestNewMinioStore_RequiresClient(t *testing.T) {
	if _, err := NewMinioStore(nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestConfigValidate_Retention(t *testing.T) {
	t.Setenv("CRM_MINIO_EXPORT_RETENTION_DAYS", "-1")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for negative retention")
	}
}

func TestExportLifecycle(t *testing.T) {
	lc := exportLifecycle(14)
	if len(lc.Rules) != 1 {
		t.Fatalf("rules=%d", len(lc.Rules))
	}
	rule := lc.Rules[0]
	if rule.ID != exportRuleID || rule.Status != "Enabled" || rule.RuleFilter.Prefix != ExportPrefix || int(rule.Expiration.Days) != 14 {
		t.Fatalf("rule=%+v", rule)
	}
}

func TestAttachment(t *testing.T) {
	if got := attachment("audit/2030/10/14/abc.ndjson"); got != `attachment; filename="abc.ndjson"` {
		t.Fatalf("attachment()=%q", got)
	}
}
