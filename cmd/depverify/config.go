package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"depverify/internal/config"
	"depverify/internal/errors"
)

var (
	configFormat string
	configForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage depverify configuration",
	Long:  "View and manage the configuration stored in .depverify/config.{yaml,json,toml}",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults and DEPVERIFY_* overrides.

Examples:
  depverify config show                # TOML
  depverify config show --format json`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .depverify/config.toml",
	RunE:  runConfigInit,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	RunE:  runConfigEnv,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format (toml, json)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config.toml")

	configCmd.AddCommand(configShowCmd, configInitCmd, configEnvCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if configFormat == "json" {
		out, err := formatJSON(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.New(errors.InternalError, "failed to encode config", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	path, err := initConfig(root, configForce)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func initConfig(root string, force bool) (string, error) {
	cfg := config.DefaultConfig()
	target := filepath.Join(root, config.DirName, "config.toml")
	if _, err := os.Stat(target); err == nil && !force {
		return "", errors.New(errors.ConfigurationError, target+" already exists", nil).
			WithDetails(map[string]interface{}{"hint": "use --force to overwrite"})
	}
	return cfg.Save(root)
}

func runConfigEnv(cmd *cobra.Command, args []string) error {
	for _, v := range config.SupportedEnvVars() {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}
