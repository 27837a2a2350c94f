// Package config loads the depverify configuration and turns it into the
// immutable settings consumed by the gateway and the verifier.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"depverify/internal/errors"
	"depverify/internal/gateway"
	"depverify/internal/verify"
)

const (
	// CurrentVersion is the config schema version this build writes.
	CurrentVersion = 1

	// DirName is the per-repository directory holding config.* and runs.db.
	DirName = ".depverify"

	// EnvPrefix prefixes environment overrides, e.g. DEPVERIFY_VERIFICATION_THRESHOLD.
	EnvPrefix = "DEPVERIFY"
)

// Adapter ids, in default collection order.
const (
	AdapterSearch   = "fs-search"
	AdapterScip     = "scip-index"
	AdapterSqlite   = "sqlite"
	AdapterSpecDiff = "spec-diff"
	AdapterTrace    = "otlp-trace"
)

// Config represents the complete depverify configuration.
type Config struct {
	Version  int    `json:"version" mapstructure:"version" toml:"version" validate:"eq=1"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot" toml:"repoRoot"`

	Adapters     AdaptersConfig     `json:"adapters" mapstructure:"adapters" toml:"adapters"`
	Gateway      GatewayConfig      `json:"gateway" mapstructure:"gateway" toml:"gateway"`
	Verification VerificationConfig `json:"verification" mapstructure:"verification" toml:"verification"`
	Storage      StorageConfig      `json:"storage" mapstructure:"storage" toml:"storage"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging" toml:"logging"`
}

// AdaptersConfig configures each evidence adapter.
type AdaptersConfig struct {
	Search   SearchConfig   `json:"search" mapstructure:"search" toml:"search"`
	Scip     ScipConfig     `json:"scip" mapstructure:"scip" toml:"scip"`
	Sqlite   SqliteConfig   `json:"sqlite" mapstructure:"sqlite" toml:"sqlite"`
	SpecDiff SpecDiffConfig `json:"specDiff" mapstructure:"specDiff" toml:"specDiff"`
	Trace    TraceConfig    `json:"trace" mapstructure:"trace" toml:"trace"`
}

// SearchConfig configures the built-in repository search.
type SearchConfig struct {
	Enabled          bool     `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	Root             string   `json:"root" mapstructure:"root" toml:"root"`
	MaxFileSizeBytes int64    `json:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes" toml:"maxFileSizeBytes" validate:"gte=0"`
	MaxHits          int      `json:"maxHits" mapstructure:"maxHits" toml:"maxHits" validate:"gte=0"`
	SkipDirs         []string `json:"skipDirs,omitempty" mapstructure:"skipDirs" toml:"skipDirs,omitempty"`
}

// ScipConfig configures the SCIP index adapter.
type ScipConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	IndexPath string `json:"indexPath" mapstructure:"indexPath" toml:"indexPath" validate:"required_if=Enabled true"`
	MaxHits   int    `json:"maxHits" mapstructure:"maxHits" toml:"maxHits" validate:"gte=0"`
}

// SqliteConfig configures database introspection. Attach maps schema
// aliases to database files.
type SqliteConfig struct {
	Enabled bool              `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	Path    string            `json:"path" mapstructure:"path" toml:"path" validate:"required_if=Enabled true"`
	Attach  map[string]string `json:"attach,omitempty" mapstructure:"attach" toml:"attach,omitempty"`
}

// SpecDiffConfig configures the unified-diff adapter.
type SpecDiffConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	Path    string `json:"path" mapstructure:"path" toml:"path" validate:"required_if=Enabled true"`
}

// TraceConfig configures the OTLP/JSON trace adapter.
type TraceConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	Path    string `json:"path" mapstructure:"path" toml:"path" validate:"required_if=Enabled true"`
	MaxHits int    `json:"maxHits" mapstructure:"maxHits" toml:"maxHits" validate:"gte=0"`
}

// GatewayConfig contains the adapter execution policy.
type GatewayConfig struct {
	// Allowlist names adapters allowed to run. Empty means every enabled adapter.
	Allowlist             []string       `json:"allowlist,omitempty" mapstructure:"allowlist" toml:"allowlist,omitempty"`
	DefaultTimeoutMs      int            `json:"defaultTimeoutMs" mapstructure:"defaultTimeoutMs" toml:"defaultTimeoutMs" validate:"gte=0"`
	TimeoutMs             map[string]int `json:"timeoutMs,omitempty" mapstructure:"timeoutMs" toml:"timeoutMs,omitempty" validate:"dive,gt=0"`
	MaxInFlightPerAdapter map[string]int `json:"maxInFlightPerAdapter,omitempty" mapstructure:"maxInFlightPerAdapter" toml:"maxInFlightPerAdapter,omitempty" validate:"dive,gt=0"`
}

// VerificationConfig contains orchestrator settings.
type VerificationConfig struct {
	// Sources is the collection order. Empty means the allowlist order.
	Sources           []string `json:"sources,omitempty" mapstructure:"sources" toml:"sources,omitempty"`
	Threshold         float64  `json:"threshold" mapstructure:"threshold" toml:"threshold" validate:"gte=0,lte=1"`
	MaxAttempts       int      `json:"maxAttempts" mapstructure:"maxAttempts" toml:"maxAttempts" validate:"gte=0"`
	RetryBackoffMs    int      `json:"retryBackoffMs" mapstructure:"retryBackoffMs" toml:"retryBackoffMs" validate:"gte=0"`
	StopWhenConfirmed bool     `json:"stopWhenConfirmed" mapstructure:"stopWhenConfirmed" toml:"stopWhenConfirmed"`
	Workers           int      `json:"workers" mapstructure:"workers" toml:"workers" validate:"gte=0"`
}

// StorageConfig locates the run database. Empty means <repoRoot>/.depverify/runs.db.
type StorageConfig struct {
	Path string `json:"path" mapstructure:"path" toml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level" toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// DefaultConfig returns the default configuration: only the built-in
// search adapter enabled.
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		RepoRoot: ".",
		Adapters: AdaptersConfig{
			Search: SearchConfig{
				Enabled:          true,
				Root:             ".",
				MaxFileSizeBytes: 1 << 20,
				MaxHits:          20,
			},
			Scip: ScipConfig{
				IndexPath: "index.scip",
				MaxHits:   20,
			},
			Trace: TraceConfig{
				MaxHits: 20,
			},
		},
		Gateway: GatewayConfig{
			DefaultTimeoutMs: int(gateway.DefaultTimeout / time.Millisecond),
		},
		Verification: VerificationConfig{
			Threshold:   0.7,
			MaxAttempts: verify.DefaultMaxAttempts,
			Workers:     verify.DefaultWorkers,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// envKeys are the settings that can be overridden from the environment.
var envKeys = []string{
	"repoRoot",
	"adapters.search.enabled",
	"adapters.search.root",
	"adapters.scip.enabled",
	"adapters.scip.indexPath",
	"adapters.sqlite.enabled",
	"adapters.sqlite.path",
	"adapters.specDiff.enabled",
	"adapters.specDiff.path",
	"adapters.trace.enabled",
	"adapters.trace.path",
	"gateway.defaultTimeoutMs",
	"verification.threshold",
	"verification.maxAttempts",
	"verification.retryBackoffMs",
	"verification.stopWhenConfirmed",
	"verification.workers",
	"storage.path",
	"logging.level",
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// SupportedEnvVars lists every environment override, sorted.
func SupportedEnvVars() []string {
	out := make([]string, len(envKeys))
	for i, k := range envKeys {
		out[i] = EnvVar(k)
	}
	sort.Strings(out)
	return out
}

type loadOptions struct {
	env  bool
	path string
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithEnv applies DEPVERIFY_* environment overrides.
func WithEnv() LoadOption {
	return func(o *loadOptions) { o.env = true }
}

// WithFile reads path instead of searching <repoRoot>/.depverify.
func WithFile(path string) LoadOption {
	return func(o *loadOptions) { o.path = path }
}

// Load reads <repoRoot>/.depverify/config.{json,toml,yaml} over the
// defaults. A missing file yields the defaults. The result is validated.
func Load(repoRoot string, opts ...LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	if o.path != "" {
		v.SetConfigFile(o.path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(repoRoot, DirName))
	}
	if o.env {
		for _, key := range envKeys {
			_ = v.BindEnv(key, EnvVar(key))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case stderrors.As(err, &notFound) && o.path == "":
		case o.path != "" && stderrors.Is(err, os.ErrNotExist):
			return nil, errors.New(errors.NotFound, fmt.Sprintf("config file %s not found", o.path), err)
		default:
			return nil, errors.New(errors.ConfigurationError, "config file could not be parsed", err)
		}
	}

	cfg := DefaultConfig()
	err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		// Lists and maps from the file replace the defaults.
		dc.ZeroFields = true
	})
	if err != nil {
		return nil, errors.New(errors.ConfigurationError, "config has values of the wrong type", err)
	}
	if cfg.RepoRoot == "" || cfg.RepoRoot == "." {
		cfg.RepoRoot = repoRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as TOML to <repoRoot>/.depverify/config.toml
// and returns the path written.
func (c *Config) Save(repoRoot string) (string, error) {
	path := filepath.Join(repoRoot, DirName, "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.New(errors.InternalError, "failed to create config directory", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return "", errors.New(errors.InternalError, "failed to encode config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.New(errors.InternalError, fmt.Sprintf("failed to write %s", path), err)
	}
	return path, nil
}

var validate = validator.New()

// Validate checks field rules and adapter references. All problems are
// reported together as one ConfigurationError.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !stderrors.As(err, &verrs) {
			return errors.New(errors.ConfigurationError, "config validation failed", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q (value %v)",
				strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fe.Value()))
		}
	}

	enabled := make(map[string]bool)
	for _, id := range c.EnabledAdapters() {
		enabled[id] = true
	}
	if len(enabled) == 0 {
		problems = append(problems, "no adapter is enabled")
	}
	for _, id := range c.Gateway.Allowlist {
		if !enabled[id] {
			problems = append(problems, fmt.Sprintf("allowlist names %q, which is not enabled", id))
		}
	}
	for _, id := range c.Verification.Sources {
		if !enabled[id] {
			problems = append(problems, fmt.Sprintf("sources names %q, which is not enabled", id))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New(errors.ConfigurationError, fmt.Sprintf("%d configuration problem(s)", len(problems)), nil).
		WithDetails(map[string]interface{}{"problems": problems})
}

// EnabledAdapters returns the ids of enabled adapters in default order.
func (c *Config) EnabledAdapters() []string {
	var ids []string
	a := c.Adapters
	for _, e := range []struct {
		id string
		on bool
	}{
		{AdapterSearch, a.Search.Enabled},
		{AdapterScip, a.Scip.Enabled},
		{AdapterSqlite, a.Sqlite.Enabled},
		{AdapterSpecDiff, a.SpecDiff.Enabled},
		{AdapterTrace, a.Trace.Enabled},
	} {
		if e.on {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// Settings is the immutable value handed to the core.
type Settings struct {
	Policy gateway.Policy
	Verify verify.Settings
}

// Settings converts the configuration. Later changes to c do not affect
// the returned value.
func (c *Config) Settings() Settings {
	allow := append([]string(nil), c.Gateway.Allowlist...)
	if len(allow) == 0 {
		allow = c.EnabledAdapters()
	}

	policy := gateway.Policy{
		Allowlist:      allow,
		DefaultTimeout: time.Duration(c.Gateway.DefaultTimeoutMs) * time.Millisecond,
	}
	if len(c.Gateway.TimeoutMs) > 0 {
		policy.Timeouts = make(map[string]time.Duration, len(c.Gateway.TimeoutMs))
		for id, ms := range c.Gateway.TimeoutMs {
			policy.Timeouts[id] = time.Duration(ms) * time.Millisecond
		}
	}
	if len(c.Gateway.MaxInFlightPerAdapter) > 0 {
		policy.MaxInFlight = make(map[string]int, len(c.Gateway.MaxInFlightPerAdapter))
		for id, n := range c.Gateway.MaxInFlightPerAdapter {
			policy.MaxInFlight[id] = n
		}
	}

	return Settings{
		Policy: policy,
		Verify: verify.Settings{
			Sources:           append([]string(nil), c.Verification.Sources...),
			Threshold:         c.Verification.Threshold,
			MaxAttempts:       c.Verification.MaxAttempts,
			RetryBackoff:      time.Duration(c.Verification.RetryBackoffMs) * time.Millisecond,
			StopWhenConfirmed: c.Verification.StopWhenConfirmed,
			Workers:           c.Verification.Workers,
		},
	}
}

// Resolve returns path relative to the repository root unless it is absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.RepoRoot, path)
}

// StoragePath returns the run database location.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Resolve(c.Storage.Path)
	}
	return filepath.Join(c.RepoRoot, DirName, "runs.db")
}
