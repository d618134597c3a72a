package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/gosec-agg/pkg/report"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Compare a CI gate summary against a stored scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(mustString(cmd, "output"))
		if err != nil {
			return err
		}
		summary := mustString(cmd, "summary")
		if summary == "" {
			return fmt.Errorf("--summary is required")
		}
		gate, err := readGate(summary)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openState(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sc, findings, err := st.loadScan(ctx, mustString(cmd, "scan-id"))
		if err != nil {
			return err
		}
		p, err := newPipeline(st)
		if err != nil {
			return err
		}
		disc, err := p.CheckGate(ctx, sc, gate, findings)
		if err != nil {
			return err
		}

		b := report.Bundle{Findings: findings, Discrepancy: disc}
		if format == report.FormatText {
			_, err = fmt.Fprint(cmd.OutOrStdout(), disc.Render())
		} else {
			err = report.Write(cmd.OutOrStdout(), format, b)
		}
		if err != nil {
			return err
		}
		return verdict(b, false)
	},
}

func init() {
	gateCmd.Flags().String("scan-id", "", "stored scan to compare (default: latest)")
	gateCmd.Flags().String("summary", "", "gate summary JSON")
	gateCmd.Flags().StringP("output", "o", "text", "output format: text or json")
	rootCmd.AddCommand(gateCmd)
}
