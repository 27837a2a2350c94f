package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"depverify/internal/errors"
	"depverify/internal/gateway"
	"depverify/internal/verify"
)

func writeConfig(t *testing.T, root, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create %s: %v", DirName, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func problems(t *testing.T, err error) []string {
	t.Helper()
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Code != errors.ConfigurationError {
		t.Fatalf("error = %v, want %s", err, errors.ConfigurationError)
	}
	return e.Details.(map[string]interface{})["problems"].([]string)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if diff := cmp.Diff([]string{AdapterSearch}, cfg.EnabledAdapters()); diff != "" {
		t.Errorf("EnabledAdapters() mismatch (-want +got):\n%s", diff)
	}
	if cfg.Gateway.DefaultTimeoutMs != 5000 {
		t.Errorf("DefaultTimeoutMs = %d, want 5000", cfg.Gateway.DefaultTimeoutMs)
	}
}

func TestLoad_Default(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RepoRoot != root {
		t.Errorf("RepoRoot = %q, want %q", cfg.RepoRoot, root)
	}
	if cfg.Verification.Threshold != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", cfg.Verification.Threshold)
	}
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "config.yaml",
			content: `version: 1
adapters:
  sqlite:
    enabled: true
    path: db/app.db
gateway:
  timeoutMs:
    sqlite: 250
verification:
  threshold: 0.8
  sources: [sqlite, fs-search]
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{"version": 1,
"adapters": {"sqlite": {"enabled": true, "path": "db/app.db"}},
"gateway": {"timeoutMs": {"sqlite": 250}},
"verification": {"threshold": 0.8, "sources": ["sqlite", "fs-search"]}}`,
		},
		{
			name: "toml",
			file: "config.toml",
			content: `version = 1
[adapters.sqlite]
enabled = true
path = "db/app.db"
[gateway.timeoutMs]
sqlite = 250
[verification]
threshold = 0.8
sources = ["sqlite", "fs-search"]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, tt.file, tt.content)

			cfg, err := Load(root)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !cfg.Adapters.Search.Enabled {
				t.Error("search adapter should keep its default")
			}
			if cfg.Resolve(cfg.Adapters.Sqlite.Path) != filepath.Join(root, "db/app.db") {
				t.Errorf("sqlite path = %q", cfg.Resolve(cfg.Adapters.Sqlite.Path))
			}
			if cfg.Verification.MaxAttempts != verify.DefaultMaxAttempts {
				t.Errorf("MaxAttempts = %d, want default", cfg.Verification.MaxAttempts)
			}

			s := cfg.Settings()
			want := gateway.Policy{
				Allowlist:      []string{AdapterSearch, AdapterSqlite},
				DefaultTimeout: 5 * time.Second,
				Timeouts:       map[string]time.Duration{AdapterSqlite: 250 * time.Millisecond},
			}
			if diff := cmp.Diff(want, s.Policy); diff != "" {
				t.Errorf("Policy mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{AdapterSqlite, AdapterSearch}, s.Verify.Sources); diff != "" {
				t.Errorf("Sources mismatch (-want +got):\n%s", diff)
			}
			if s.Verify.Threshold != 0.8 {
				t.Errorf("Threshold = %v, want 0.8", s.Verify.Threshold)
			}
		})
	}
}

func TestLoad_ListsReplaceDefaults(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", "adapters:\n  search:\n    skipDirs: [build]\n")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff([]string{"build"}, cfg.Adapters.Search.SkipDirs); diff != "" {
		t.Errorf("SkipDirs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", "verification:\n  threshold: 0.8\n")
	t.Setenv("DEPVERIFY_VERIFICATION_THRESHOLD", "0.9")
	t.Setenv("DEPVERIFY_ADAPTERS_TRACE_ENABLED", "true")
	t.Setenv("DEPVERIFY_ADAPTERS_TRACE_PATH", "traces")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Verification.Threshold != 0.8 {
		t.Errorf("without WithEnv threshold = %v, want 0.8", cfg.Verification.Threshold)
	}

	cfg, err = Load(root, WithEnv())
	if err != nil {
		t.Fatalf("Load(WithEnv) error = %v", err)
	}
	if cfg.Verification.Threshold != 0.9 {
		t.Errorf("threshold = %v, want 0.9", cfg.Verification.Threshold)
	}
	if !cfg.Adapters.Trace.Enabled || cfg.Adapters.Trace.Path != "traces" {
		t.Errorf("trace = %+v", cfg.Adapters.Trace)
	}
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()

	if _, err := Load(root, WithFile(filepath.Join(root, "absent.yaml"))); !errors.HasCode(err, errors.NotFound) {
		t.Errorf("Load(missing file) error = %v, want %s", err, errors.NotFound)
	}

	bad := writeConfig(t, root, "broken.json", `{"version": `)
	if _, err := Load(root, WithFile(bad)); !errors.HasCode(err, errors.ConfigurationError) {
		t.Errorf("Load(broken) error = %v, want %s", err, errors.ConfigurationError)
	}

	wrongType := writeConfig(t, root, "wrong.yaml", "verification:\n  workers: many\n")
	if _, err := Load(root, WithFile(wrongType)); !errors.HasCode(err, errors.ConfigurationError) {
		t.Errorf("Load(wrong type) error = %v, want %s", err, errors.ConfigurationError)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   []string
	}{
		{
			name:   "unsupported version",
			modify: func(c *Config) { c.Version = 7 },
			want:   []string{`Version: failed "eq" (value 7)`},
		},
		{
			name:   "threshold out of range",
			modify: func(c *Config) { c.Verification.Threshold = 1.5 },
			want:   []string{`Verification.Threshold: failed "lte" (value 1.5)`},
		},
		{
			name: "enabled adapter without path",
			modify: func(c *Config) {
				c.Adapters.Sqlite.Enabled = true
			},
			want: []string{`Adapters.Sqlite.Path: failed "required_if" (value )`},
		},
		{
			name: "nothing enabled",
			modify: func(c *Config) {
				c.Adapters.Search.Enabled = false
			},
			want: []string{"no adapter is enabled"},
		},
		{
			name: "unknown sources and allowlist",
			modify: func(c *Config) {
				c.Gateway.Allowlist = []string{AdapterSearch, AdapterTrace}
				c.Verification.Sources = []string{"grep"}
			},
			want: []string{
				`allowlist names "otlp-trace", which is not enabled`,
				`sources names "grep", which is not enabled`,
			},
		},
		{
			name:   "bad log level",
			modify: func(c *Config) { c.Logging.Level = "loud" },
			want:   []string{`Logging.Level: failed "oneof" (value loud)`},
		},
		{
			name:   "non-positive timeout",
			modify: func(c *Config) { c.Gateway.TimeoutMs = map[string]int{AdapterSearch: 0} },
			want:   []string{`Gateway.TimeoutMs[fs-search]: failed "gt" (value 0)`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			got := problems(t, cfg.Validate())
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("problems mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Adapters.Trace = TraceConfig{Enabled: true, Path: "traces", MaxHits: 5}
	cfg.Gateway.MaxInFlightPerAdapter = map[string]int{AdapterTrace: 2}
	cfg.Verification.StopWhenConfirmed = true

	path, err := cfg.Save(root)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("Save() path = %q", path)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load() after save error = %v", err)
	}
	cfg.RepoRoot = root
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestSettings_IsACopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.TimeoutMs = map[string]int{AdapterSearch: 100}
	cfg.Verification.Sources = []string{AdapterSearch}

	s := cfg.Settings()
	cfg.Gateway.TimeoutMs[AdapterSearch] = 900
	cfg.Verification.Sources[0] = "changed"

	if s.Policy.Timeouts[AdapterSearch] != 100*time.Millisecond {
		t.Errorf("timeout changed to %s", s.Policy.Timeouts[AdapterSearch])
	}
	if s.Verify.Sources[0] != AdapterSearch {
		t.Errorf("sources changed to %v", s.Verify.Sources)
	}
}

func TestSupportedEnvVars(t *testing.T) {
	vars := SupportedEnvVars()
	if len(vars) != len(envKeys) {
		t.Fatalf("len = %d, want %d", len(vars), len(envKeys))
	}
	if EnvVar("adapters.scip.indexPath") != "DEPVERIFY_ADAPTERS_SCIP_INDEXPATH" {
		t.Errorf("EnvVar() = %q", EnvVar("adapters.scip.indexPath"))
	}
}
