// ABOUTME: Unit tests for configuration loading, env expansion, and validation
// ABOUTME: Uses temp files to exercise the full Load path

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keygate.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/registry.db
tokens:
  namespace: keygate
  ttl: 10m
  clock_skew: 45s
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.Server.HTTPAddr)
	}
	if cfg.Tokens.TTL != 10*time.Minute {
		t.Errorf("TTL = %v, want 10m", cfg.Tokens.TTL)
	}
	if cfg.Tokens.ClockSkew != 45*time.Second {
		t.Errorf("ClockSkew = %v, want 45s", cfg.Tokens.ClockSkew)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/registry.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tokens.TTL != DefaultTokenTTL {
		t.Errorf("TTL = %v, want default %v", cfg.Tokens.TTL, DefaultTokenTTL)
	}
	if cfg.Tokens.ClockSkew != DefaultClockSkew {
		t.Errorf("ClockSkew = %v, want default %v", cfg.Tokens.ClockSkew, DefaultClockSkew)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("KEYGATE_TEST_DB", "/tmp/expanded.db")
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: ${KEYGATE_TEST_DB}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q, want /tmp/expanded.db", cfg.Database.Path)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http addr",
			content: `
database:
  path: /tmp/registry.db
`,
			wantErr: "http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8080"
`,
			wantErr: "database.path",
		},
		{
			name: "tailscale without hostname",
			content: `
tailscale:
  enabled: true
database:
  path: /tmp/registry.db
`,
			wantErr: "hostname",
		},
		{
			name: "bad duration",
			content: `
server:
  http_addr: ":8080"
database:
  path: /tmp/registry.db
tokens:
  ttl: fifteen-minutes
`,
			wantErr: "tokens.ttl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/keygate.yaml"); err == nil {
		t.Error("Load() succeeded for missing file")
	}
}
