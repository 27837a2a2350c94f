package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"depverify/internal/claimio"
	"depverify/internal/config"
	"depverify/internal/errors"
	"depverify/internal/export"
	"depverify/internal/storage"
	"depverify/internal/verify"
)

var (
	verifyClaims     string
	verifyOut        string
	verifySave       bool
	verifyTimeout    time.Duration
	verifyMetricsOut string
	verifyFormat     string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify candidate claims and build the dependency graph",
	Long: `Verify every claim in a claim file against the configured adapters.

Confirmed claims become edges of the graph; rejected claims are reported
with the reason. On timeout or interrupt the claims finished so far are
reported and the command exits non-zero.

Examples:
  depverify verify --claims claims.yaml
  depverify verify --claims claims.json --out graph.json.zst --save
  depverify verify --claims claims.toml --timeout 2m --metrics-out depverify.prom`,
	RunE: runVerifyCmd,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyClaims, "claims", "", "Claim file (.json, .yaml or .toml)")
	verifyCmd.Flags().StringVar(&verifyOut, "out", "", "Write the graph to this file (.json or .json.zst)")
	verifyCmd.Flags().BoolVar(&verifySave, "save", false, "Store the run in the run database")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	verifyCmd.Flags().StringVar(&verifyMetricsOut, "metrics-out", "", "Write Prometheus metrics to this file")
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "human", "Output format (json, human)")
	_ = verifyCmd.MarkFlagRequired("claims")
	rootCmd.AddCommand(verifyCmd)
}

type verifyOptions struct {
	Claims     string
	Out        string
	Save       bool
	MetricsOut string
}

func runVerifyCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, verifyTimeout)
		defer cancel()
	}

	opts := verifyOptions{Claims: verifyClaims, Out: verifyOut, Save: verifySave, MetricsOut: verifyMetricsOut}
	report, runErr := runVerify(ctx, cfg, logger, opts)
	if report == nil {
		return runErr
	}

	resp := newVerifyResponse(report)
	resp.GraphPath = opts.Out
	resp.Saved = opts.Save
	out, err := FormatResponse(resp, OutputFormat(verifyFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return runErr
}

// runVerify loads the claims, verifies them and writes the requested
// outputs. A partial report is returned together with a CANCELLED error,
// and a run with failed claims returns its report with the aggregated error.
func runVerify(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts verifyOptions) (*verify.Report, error) {
	claims, err := claimio.FileNormalizer{Path: opts.Claims}.Normalize(ctx)
	if err != nil {
		return nil, err
	}

	eng, err := newEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	report, runErr := eng.orchestrator.Run(ctx, claims)
	if report == nil {
		return nil, runErr
	}

	if opts.Out != "" {
		if err := export.WriteFile(opts.Out, report.Graph); err != nil {
			return report, err
		}
	}
	if opts.Save {
		if err := saveRun(cfg, logger, report); err != nil {
			return report, err
		}
	}
	if opts.MetricsOut != "" {
		if err := eng.metrics.WriteTextfile(opts.MetricsOut); err != nil {
			return report, err
		}
	}

	summary := report.Summary()
	logger.Info("Verification finished",
		"run", report.RunID,
		"confirmed", summary.Confirmed,
		"rejected", summary.Rejected,
		"cancelled", summary.Cancelled,
		"failed", summary.Failed,
		"edges", summary.Edges,
		"partial", report.Partial,
	)
	return report, runErr
}

func saveRun(cfg *config.Config, logger *slog.Logger, report *verify.Report) error {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Saved even when the run was interrupted.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return store.SaveRun(ctx, report)
}

func openStore(cfg *config.Config, logger *slog.Logger) (*storage.Store, func(), error) {
	db, err := storage.OpenPath(cfg.StoragePath(), logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		db.Close()
	}, nil
}

func requireArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return errors.Newf(errors.ConfigurationError, "%s requires %s", cmd.CommandPath(), what)
		}
		return nil
	}
}
