package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/gosec-agg/pkg/engine"
	"github.com/user/gosec-agg/pkg/pipeline"
	"github.com/user/gosec-agg/pkg/remediation"
	"github.com/user/gosec-agg/pkg/report"
	"github.com/user/gosec-agg/pkg/wrappers"
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Run the configured scanners and aggregate their findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tools, _ := cmd.Flags().GetStringSlice("tools")
		specs, err := cfg.Scan.ToolSpecs(tools)
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			return fmt.Errorf("no tools enabled; pass --tools or enable them in the config")
		}
		return aggregate(cmd, args[0], func(ctx context.Context, p *pipeline.Pipeline, sc engine.ScanContext) (*pipeline.Outcome, error) {
			p.Scheduler = wrappers.NewScheduler(cfg.Scan.Workers, cfg.Scan.ToolTimeout, logger)
			return p.Scan(ctx, sc, specs)
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Aggregate pre-generated scanner reports for a source tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("report")
		if len(pairs) == 0 {
			return fmt.Errorf("at least one --report tool=file is required")
		}
		reports := make([]pipeline.ReportFile, 0, len(pairs))
		for _, pair := range pairs {
			tool, path, ok := strings.Cut(pair, "=")
			if !ok || tool == "" || path == "" {
				return fmt.Errorf("invalid --report %q, want tool=file", pair)
			}
			reports = append(reports, pipeline.ReportFile{Tool: strings.ToLower(tool), Path: path})
		}
		return aggregate(cmd, args[0], func(ctx context.Context, p *pipeline.Pipeline, sc engine.ScanContext) (*pipeline.Outcome, error) {
			return p.Ingest(ctx, sc, reports)
		})
	},
}

type runFunc func(ctx context.Context, p *pipeline.Pipeline, sc engine.ScanContext) (*pipeline.Outcome, error)

// aggregate is shared by scan and ingest: build the pipeline, run it, then
// optionally check a gate summary and remediate.
func aggregate(cmd *cobra.Command, target string, run runFunc) error {
	format, err := report.ParseFormat(mustString(cmd, "output"))
	if err != nil {
		return err
	}
	root, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("scan target %s is not a directory", target)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openState(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := newPipeline(st)
	if err != nil {
		return err
	}
	sc := engine.NewScanContext(root, Actor, logger)
	logger.Info("Starting scan.", zap.String("scan_id", sc.ScanID), zap.String("target", root))

	out, runErr := run(ctx, p, sc)
	if out == nil {
		return runErr
	}
	bundle := report.Bundle{Run: out.Run, Findings: out.Findings, Warnings: out.Warnings}

	if gatePath := mustString(cmd, "gate"); gatePath != "" {
		gate, err := readGate(gatePath)
		if err != nil {
			return err
		}
		if bundle.Discrepancy, err = p.CheckGate(ctx, sc, gate, out.Findings); err != nil {
			return err
		}
	}

	doFix, _ := cmd.Flags().GetBool("remediate")
	remediated := (doFix || cfg.Remediation.Enabled) && runErr == nil
	if remediated {
		eng, err := newRemediationEngine(st)
		if err != nil {
			return err
		}
		res, err := eng.Remediate(ctx, sc, out.Findings)
		if res != nil {
			bundle.Actions = res.Actions
			bundle.Findings = res.Findings
		}
		if err != nil {
			return err
		}
	}

	if snap := mustString(cmd, "save-snapshot"); snap != "" {
		g := engine.NewUnifiedGraph()
		g.AddFindings(bundle.Findings)
		if err := g.SaveSnapshot(snap); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	if err := report.Write(cmd.OutOrStdout(), format, bundle); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	return verdict(bundle, remediated)
}

// verdict maps a finished run to its exit code. Unresolved CRITICAL findings
// only fail the run when remediation was attempted.
func verdict(b report.Bundle, remediated bool) error {
	if b.Discrepancy != nil && b.Discrepancy.GateCorrectnessFailure {
		return &exitError{code: ExitGateFailure, msg: "gate correctness failure: CRITICAL/HIGH counts were under- or over-reported"}
	}
	if remediated {
		if n := len(engine.UnresolvedCritical(b.Findings)); n > 0 {
			return &exitError{code: ExitUnresolvedCritical, msg: fmt.Sprintf("%d CRITICAL finding(s) remain unresolved", n)}
		}
	}
	return nil
}

func newPipeline(st *state) (*pipeline.Pipeline, error) {
	p := pipeline.New(logger)
	p.Normalizer = engine.NewNormalizer(cfg.Normalize.BlockSize)
	p.ContextLines = cfg.Discrepancy.ContextLines
	p.Compliance = engine.NewComplianceMapper(logger)
	if dir := cfg.Compliance.ProfilesDir; dir != "" {
		if err := p.Compliance.LoadProfiles(dir); err != nil {
			return nil, fmt.Errorf("load compliance profiles: %w", err)
		}
	}
	p.Store = st.db
	p.Audit = st.audit
	return p, nil
}

func newRemediationEngine(st *state) (*remediation.Engine, error) {
	reg := remediation.DefaultRegistry()
	if dir := cfg.Remediation.TemplatesDir; dir != "" {
		if _, err := remediation.LoadTemplates(dir, reg, logger); err != nil {
			return nil, fmt.Errorf("load remediation templates: %w", err)
		}
	}
	eng := remediation.NewEngine(reg, st.audit, st.db, logger)
	eng.BackupDir = cfg.Remediation.BackupDir
	return eng, nil
}

func readGate(path string) (engine.GateSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.GateSummary{}, err
	}
	defer f.Close()
	return engine.DecodeGateSummary(f)
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func init() {
	for _, c := range []*cobra.Command{scanCmd, ingestCmd} {
		c.Flags().StringP("output", "o", "text", "output format: text, json or sarif")
		c.Flags().String("gate", "", "gate summary JSON to check against the findings")
		c.Flags().Bool("remediate", false, "apply automated fixes after aggregation")
		c.Flags().String("save-snapshot", "", "write the findings as a baseline snapshot")
		rootCmd.AddCommand(c)
	}
	scanCmd.Flags().StringSlice("tools", nil, "tools to run (default: enabled tools from the config)")
	ingestCmd.Flags().StringArray("report", nil, "report to ingest as tool=file (repeatable)")
}
