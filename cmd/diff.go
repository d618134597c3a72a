package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/gosec-agg/pkg/engine"
	"github.com/user/gosec-agg/pkg/report"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare a stored scan against a baseline snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(mustString(cmd, "output"))
		if err != nil {
			return err
		}
		baselinePath := mustString(cmd, "baseline")
		savePath := mustString(cmd, "save")
		if baselinePath == "" && savePath == "" {
			return fmt.Errorf("one of --baseline or --save is required")
		}

		ctx := cmd.Context()
		st, err := openState(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		_, findings, err := st.loadScan(ctx, mustString(cmd, "scan-id"))
		if err != nil {
			return err
		}
		current := engine.NewUnifiedGraph()
		current.AddFindings(findings)

		if savePath != "" {
			if err := current.SaveSnapshot(savePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Snapshot saved to %s\n", savePath)
		}
		if baselinePath == "" {
			return nil
		}

		baseline := engine.NewUnifiedGraph()
		if err := baseline.LoadSnapshot(baselinePath); err != nil {
			return fmt.Errorf("load baseline: %w", err)
		}
		d := current.CompareSnapshot(baseline)
		if format == report.FormatText {
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.Text(report.Bundle{Diff: &d}))
			return err
		}
		return report.Write(cmd.OutOrStdout(), format, report.Bundle{Findings: d.New, Diff: &d})
	},
}

func init() {
	diffCmd.Flags().String("scan-id", "", "stored scan (default: latest)")
	diffCmd.Flags().String("baseline", "", "baseline snapshot to compare against")
	diffCmd.Flags().String("save", "", "write the scan as a snapshot")
	diffCmd.Flags().StringP("output", "o", "text", "output format: text, json or sarif")
	rootCmd.AddCommand(diffCmd)
}
