package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nghyane/odata-batch/internal/transport"
)

func TestParseAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("ODATA_TEST_SECRET", "s3cret")
	t.Setenv("ODATA_TEST_ORG", "contoso")

	cfg, err := Parse([]byte(`
base-url: https://${ODATA_TEST_ORG}.crm.example.com/api/data/v9.2
headers:
  OData-MaxVersion: "4.0"
  " ": ignored
retry-delay: 250ms
auth:
  type: client-credentials
  tenant-id: tenant
  client-id: app
  client-secret: ${ODATA_TEST_SECRET}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.BaseURL != "https://contoso.crm.example.com/api/data/v9.2" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Auth.ClientSecret != "s3cret" {
		t.Errorf("ClientSecret not expanded: %q", cfg.Auth.ClientSecret)
	}
	if cfg.Retries != transport.DefaultRetries || cfg.RetryDelay != 250*time.Millisecond || cfg.ChunkSize != 999 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if diff := cmp.Diff(map[string]string{"OData-MaxVersion": "4.0"}, cfg.Headers); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(transport.DefaultRetryStatusCodes, cfg.RetryStatusCodes); diff != "" {
		t.Errorf("retry codes (-want +got):\n%s", diff)
	}

	tc, err := cfg.TransportConfig(nil)
	if err != nil {
		t.Fatalf("TransportConfig failed: %v", err)
	}
	if tc.AuthHeader == nil || tc.BaseURL != cfg.BaseURL {
		t.Errorf("unexpected transport config %+v", tc)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing base url", `retries: 3`},
		{"relative base url", `base-url: /api`},
		{"chunk too large", "base-url: https://x\nchunk-size: 1000"},
		{"bad status", "base-url: https://x\nretry-status-codes: [42]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTransportConfigRejectsBadAuth(t *testing.T) {
	cfg, err := Parse([]byte("base-url: https://x\nauth:\n  type: static\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := cfg.TransportConfig(nil); err == nil {
		t.Error("static auth without header should fail")
	}
}

func TestLoadConfigOptional(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfigOptional(filepath.Join(dir, "missing.yaml"), true)
	if err != nil || cfg.Retries != transport.DefaultRetries {
		t.Fatalf("optional missing file should give defaults, got %+v, %v", cfg, err)
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("required missing file should fail")
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, GenerateDefaultConfigYAML(), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("generated config should load: %v", err)
	}
	if cfg.Auth.Type != "client-credentials" || cfg.Validate() != nil {
		t.Errorf("unexpected generated config %+v", cfg)
	}
}
