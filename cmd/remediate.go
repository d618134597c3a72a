package cmd

import (
	"github.com/spf13/cobra"

	"github.com/user/gosec-agg/pkg/report"
)

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Apply verified fixes to the findings of a stored scan",
	Long: `Applies every matching fix strategy to the open findings of a scan. Each file is
backed up once before its first change; a fix whose pattern still matches afterwards
is rolled back. Exits with code 2 when CRITICAL findings remain unresolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(mustString(cmd, "output"))
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
		eng, err := newRemediationEngine(st)
		if err != nil {
			return err
		}
		res, err := eng.Remediate(ctx, sc, findings)
		if err != nil {
			return err
		}

		b := report.Bundle{Findings: res.Findings, Actions: res.Actions}
		if format == report.FormatText {
			_, err = cmd.OutOrStdout().Write([]byte(report.Actions(res.Actions)))
		} else {
			err = report.Write(cmd.OutOrStdout(), format, b)
		}
		if err != nil {
			return err
		}
		return verdict(b, true)
	},
}

func init() {
	remediateCmd.Flags().String("scan-id", "", "stored scan to remediate (default: latest)")
	remediateCmd.Flags().StringP("output", "o", "text", "output format: text, json or sarif")
	rootCmd.AddCommand(remediateCmd)
}
