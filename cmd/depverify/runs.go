package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"depverify/internal/config"
	"depverify/internal/export"
	"depverify/internal/storage"
)

var (
	runsLimit  int
	runsFormat string
	runsOut    string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored verification runs",
	Long:  "List, show, export and delete runs saved with depverify verify --save.",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a run and its claim results",
	Args:  requireArgs(1, "a run id"),
	RunE:  runRunsShow,
}

var runsExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Export the graph of a run",
	Long: `Export the graph stored with a run.

Examples:
  depverify runs export 3f2c... --out graph.json
  depverify runs export 3f2c... --out graph.json.zst`,
	Args: requireArgs(1, "a run id"),
	RunE: runRunsExport,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a stored run",
	Args:  requireArgs(1, "a run id"),
	RunE:  runRunsDelete,
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsFormat, "format", "human", "Output format (json, human)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list (0 = all)")
	runsExportCmd.Flags().StringVar(&runsOut, "out", "", "Output graph file (.json or .json.zst)")
	_ = runsExportCmd.MarkFlagRequired("out")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsExportCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

// RunsResponseCLI is the output of depverify runs list.
type RunsResponseCLI struct {
	Database string        `json:"database"`
	Runs     []storage.Run `json:"runs"`
}

// withStore opens the run database for the duration of fn.
func withStore(fn func(ctx context.Context, cfg *config.Config, s *storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(context.Background(), cfg, store)
}

func printResponse(cmd *cobra.Command, resp interface{}) error {
	out, err := FormatResponse(resp, OutputFormat(runsFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, s *storage.Store) error {
		runs, err := s.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		return printResponse(cmd, &RunsResponseCLI{Database: cfg.StoragePath(), Runs: runs})
	})
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, _ *config.Config, s *storage.Store) error {
		detail, err := s.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printResponse(cmd, detail)
	})
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, _ *config.Config, s *storage.Store) error {
		g, err := s.LoadGraph(ctx, args[0])
		if err != nil {
			return err
		}
		if err := export.WriteFile(runsOut, g); err != nil {
			return err
		}
		return printResponse(cmd, map[string]interface{}{
			"runId": args[0],
			"out":   runsOut,
			"nodes": len(g.Nodes),
			"edges": len(g.Edges),
		})
	})
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, _ *config.Config, s *storage.Store) error {
		if err := s.DeleteRun(ctx, args[0]); err != nil {
			return err
		}
		return printResponse(cmd, map[string]interface{}{"deleted": args[0]})
	})
}
