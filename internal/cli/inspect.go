package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/recorder"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Summarize a normalized NDJSON event stream",
	Long: `Reads a normalized event file and prints per-type counts, the
device time range and the device ids it covers.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	events, err := recorder.ReadFile(args[0])
	if err != nil {
		return err
	}

	vendor := ""
	if len(events) > 0 {
		vendor = events[0].Source
	}
	receipt := models.NewReceipt("", vendor, events)

	if globalOpts.Format == "json" {
		data, err := json.MarshalIndent(receipt, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), renderReceipt(args[0], receipt))
	return nil
}
