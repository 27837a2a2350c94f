package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"depverify/internal/config"
	"depverify/internal/errors"
	"depverify/internal/slogutil"
	"depverify/internal/version"
)

var (
	repoFlag    string
	configFlag  string
	verboseFlag int
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "depverify",
	Short: "depverify - evidence-backed dependency graphs",
	Long: `depverify verifies candidate dependency claims ("BillingService writes
billing_ledger") against independent evidence sources: repository search,
SCIP indexes, database introspection, spec diffs and runtime traces.

Only claims whose evidence scores at or above the confirmation threshold
become edges of the dependency graph.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.SetVersionTemplate("depverify version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", ".", "Repository root")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Config file (default: <repo>/.depverify/config.{yaml,json,toml})")
	rootCmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress logs")
}

func repoRoot() (string, error) {
	root, err := filepath.Abs(repoFlag)
	if err != nil {
		return "", errors.New(errors.ConfigurationError, "invalid --repo", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", errors.New(errors.NotFound, "repository root "+root+" is not a directory", err)
	}
	return root, nil
}

// loadConfig reads the configuration with DEPVERIFY_* overrides applied.
func loadConfig() (*config.Config, error) {
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}
	opts := []config.LoadOption{config.WithEnv()}
	if configFlag != "" {
		opts = append(opts, config.WithFile(configFlag))
	}
	return config.Load(root, opts...)
}

// newLogger writes to stderr. -v/-q take precedence over logging.level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slogutil.LevelFromString(cfg.Logging.Level)
	if verboseFlag > 0 || quietFlag {
		level = slogutil.LevelFromVerbosity(verboseFlag, quietFlag)
	}
	return slogutil.NewLogger(os.Stderr, level)
}
