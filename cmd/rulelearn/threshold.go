package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rulelearn/internal/threshold"
)

var thresholdJSON bool

func init() {
	rootCmd.AddCommand(thresholdCmd)
	thresholdCmd.Flags().BoolVar(&thresholdJSON, "json", false, "Output as JSON")
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Show the auto-approval threshold and its next recommendation",
	Long: `Show the auto-approval threshold in effect and what the adjuster would
recommend next. Reads threshold.state_file when configured. Nothing is
changed.`,
	Args: cobra.NoArgs,
	RunE: runThreshold,
}

type thresholdReport struct {
	Current        float64                  `json:"current"`
	StateFile      string                   `json:"stateFile,omitempty"`
	Samples        []threshold.Sample       `json:"samples"`
	Recommendation threshold.Recommendation `json:"recommendation"`
}

func runThreshold(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report := thresholdReport{
		Current:        a.adjuster.Current(),
		StateFile:      cfg.Threshold.StateFile,
		Samples:        a.adjuster.Samples(),
		Recommendation: a.adjuster.Recommend(a.adjuster.Current()),
	}

	if thresholdJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "current\t%.4f\n", report.Current)
	fmt.Fprintf(w, "samples\t%d\n", len(report.Samples))
	fmt.Fprintf(w, "recommended\t%.4f\n", report.Recommendation.NewThreshold)
	fmt.Fprintf(w, "reason\t%s\n", report.Recommendation.Reason)
	return w.Flush()
}
