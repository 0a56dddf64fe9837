package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diastream/diastream-cli/internal/config"
	"github.com/diastream/diastream-cli/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "diastream",
	Short: "Diastream CLI - normalizes insulin pump and CGM exports",
	Long: `Diastream CLI turns vendor device exports (Medtronic Carelink,
Diasend) into a single normalized NDJSON event stream.

Fragmented records are joined, basal timelines are reconstructed gap-free,
and every event gets a stable content-derived id, so downstream consumers
can ingest the stream idempotently.`,

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(globalOpts.ConfigPath)
		if err != nil {
			return err
		}
		runCfg = cfg

		logCfg := cfg.Logging
		if globalOpts.Verbose {
			logCfg.Debug = true
		}
		if globalOpts.Quiet {
			logCfg.Level = "error"
			logCfg.Debug = false
		}
		return logging.Init(logCfg)
	},
}

// runCfg is the loaded file config; flags override its values per command.
var runCfg = config.Default()

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalOpts.ConfigPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&globalOpts.Format, "format", "text", "output format for summaries (text|json)")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Quiet, "quiet", "q", false, "log errors only")

	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)
}
