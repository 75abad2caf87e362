package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	debug  bool
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "dealer",
	Short: "A-Book/B-Book order routing and exposure management for an FX broker",
	Long: `Dealer routes client FX orders to the liquidity provider (A-Book) or keeps
them in house (B-Book), tracks the broker's net exposure per symbol, hedges
exposure above the configured limits and refuses orders the client cannot
margin.

It provides tools for:
  - Running a scripted scenario against a simulated liquidity provider
  - Generating and validating configuration files
  - Querying the SQLite journal of postings, hedges and exposure`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(debug)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}
