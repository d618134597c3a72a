package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/gosec-agg/pkg/audit"
	"github.com/user/gosec-agg/pkg/config"
	"github.com/user/gosec-agg/pkg/engine"
	"github.com/user/gosec-agg/pkg/logging"
	"github.com/user/gosec-agg/pkg/store"
)

// Exit codes.
const (
	ExitOK                 = 0
	ExitError              = 1
	ExitUnresolvedCritical = 2
	ExitGateFailure        = 3
)

var rootCmd = &cobra.Command{
	Use:   "gosec-agg",
	Short: "Security findings aggregation, gate verification and remediation",
	Long: `gosec-agg runs or ingests many security scanners, merges their reports into one
deduplicated finding set, checks CI gate summaries for under-reporting, applies
verified fixes with backups, and records every step in a hash-chained audit log.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var (
	ConfigPath string
	DebugMode  bool
	Actor      string

	cfg    *config.Config
	logger *zap.Logger
)

// exitError carries a non-default process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	logging.Sync()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return ExitError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ConfigPath, "config", "", "config file (default ~/.gosec-agg/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&Actor, "actor", "", "actor recorded in the audit log (default: current user)")
}

func setup(cmd *cobra.Command, _ []string) error {
	path := ConfigPath
	if cmd == configInitCmd {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	c, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	if DebugMode {
		c.Logger.Level = "debug"
	}
	cfg = c
	logging.InitializeLogger(cfg.Logger)
	logger = logging.Get()
	if Actor == "" {
		Actor = defaultActor()
	}
	return nil
}

func defaultActor() string {
	if v := os.Getenv("GOSEC_AGG_ACTOR"); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// state bundles the persistent stores a command needs.
type state struct {
	db    *store.DB
	audit *audit.Log
}

func openState(ctx context.Context) (*state, error) {
	db, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}
	a, err := audit.New(ctx, db.SQL(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &state{db: db, audit: a}, nil
}

func (s *state) Close() {
	if err := s.db.Close(); err != nil {
		logger.Warn("Failed to close state database.", zap.Error(err))
	}
}

// loadScan restores the context and findings of a stored scan. An empty id
// selects the most recent scan.
func (s *state) loadScan(ctx context.Context, scanID string) (engine.ScanContext, []engine.Finding, error) {
	if scanID == "" {
		id, err := s.db.LatestScanID(ctx)
		if err != nil {
			return engine.ScanContext{}, nil, fmt.Errorf("no stored scan: %w", err)
		}
		scanID = id
	}
	run, err := s.db.LoadScanRun(ctx, scanID)
	if err != nil {
		return engine.ScanContext{}, nil, fmt.Errorf("load scan %s: %w", scanID, err)
	}
	findings, err := s.db.LoadFindings(ctx, scanID)
	if err != nil {
		return engine.ScanContext{}, nil, err
	}
	sc := engine.NewScanContext(run.Target, Actor, logger)
	sc.ScanID = run.ID
	return sc, findings, nil
}
