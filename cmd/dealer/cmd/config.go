package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dealer/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage dealer configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  dealer config init -o dealer.yaml
  dealer config validate -f dealer.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings.

Example:
  dealer config init -o dealer.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check that a configuration file loads and validates, with DEALER_*
environment overrides applied.

Example:
  dealer config validate -f dealer.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "dealer.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	_ = configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  dealer run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	syms := make([]string, 0, len(cfg.Instruments))
	for sym := range cfg.Instruments {
		syms = append(syms, string(sym))
	}
	sort.Strings(syms)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Currency:    %s\n", cfg.Currency)
	fmt.Fprintf(out, "  Instruments: %v\n", syms)
	if th, ok := cfg.VolumeThreshold(); ok {
		fmt.Fprintf(out, "  A-Book above: %s lots\n", th)
	} else {
		fmt.Fprintln(out, "  A-Book above: (volume rule disabled)")
	}
	fmt.Fprintf(out, "  Accounts:    %d\n", len(cfg.Accounts))
	fmt.Fprintf(out, "  Journal:     %s\n", journalType(cfg.Journal))
	return nil
}

func journalType(c config.JournalConfig) string {
	if c.Type == "" {
		return "memory"
	}
	return c.Type
}
