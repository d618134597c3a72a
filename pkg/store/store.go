// Package store persists scan runs, findings and remediation actions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/user/gosec-agg/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQL database connection.
type DB struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")
	logger.Debug("Opening state database.", zap.String("db_path", path))

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open failed for %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection keeps hash-chain appends ordered.
	sqlDB.SetMaxOpenConns(1)

	d := &DB{db: sqlDB, logger: logger}
	if err := d.InitSchema(context.Background()); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// SQL exposes the underlying handle for components that own their own tables.
func (d *DB) SQL() *sql.DB { return d.db }

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	started_at TEXT NOT NULL,
	closed_at TEXT NOT NULL,
	invocations TEXT NOT NULL
);
CREATE TRIGGER IF NOT EXISTS scan_runs_immutable BEFORE UPDATE ON scan_runs
BEGIN SELECT RAISE(ABORT, 'closed scan runs are immutable'); END;

CREATE TABLE IF NOT EXISTS findings (
	scan_id TEXT NOT NULL REFERENCES scan_runs(id),
	id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	file_path TEXT NOT NULL,
	line INTEGER NOT NULL,
	doc TEXT NOT NULL,
	PRIMARY KEY (scan_id, id)
);
CREATE INDEX IF NOT EXISTS findings_fingerprint ON findings(fingerprint);

CREATE TABLE IF NOT EXISTS remediation_actions (
	id TEXT PRIMARY KEY,
	scan_id TEXT NOT NULL,
	finding_id TEXT NOT NULL,
	result TEXT NOT NULL,
	created_at TEXT NOT NULL,
	doc TEXT NOT NULL
);
CREATE TRIGGER IF NOT EXISTS remediation_actions_no_update BEFORE UPDATE ON remediation_actions
BEGIN SELECT RAISE(ABORT, 'remediation actions are immutable'); END;
CREATE TRIGGER IF NOT EXISTS remediation_actions_no_delete BEFORE DELETE ON remediation_actions
BEGIN SELECT RAISE(ABORT, 'remediation actions are immutable'); END;
`

// InitSchema creates the tables if they don't already exist.
func (d *DB) InitSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		d.logger.Error("Failed to initialize schema.", zap.Error(err))
		return err
	}
	return nil
}

// SaveScanRun persists a closed run together with its findings.
func (d *DB) SaveScanRun(ctx context.Context, run *engine.ScanRun, findings []engine.Finding) error {
	if !run.Closed() {
		return fmt.Errorf("scan run %s must be closed before it is stored", run.ID)
	}
	inv, err := json.Marshal(run.Snapshot())
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_runs (id, target, started_at, closed_at, invocations) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Target, formatTime(run.StartedAt), formatTime(run.ClosedAt), string(inv)); err != nil {
		return fmt.Errorf("failed to insert scan run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO findings (scan_id, id, fingerprint, severity, status, file_path, line, doc) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, f := range findings {
		f.ScanID = run.ID
		doc, err := json.Marshal(f)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, run.ID, f.ID, f.Fingerprint, string(f.Severity), string(f.Status), f.FilePath, f.Line, string(doc)); err != nil {
			return fmt.Errorf("failed to insert finding %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.logger.Info("Stored scan run.", zap.String("scan_id", run.ID), zap.Int("findings", len(findings)))
	return nil
}

// LoadScanRun returns a stored run; it comes back closed.
func (d *DB) LoadScanRun(ctx context.Context, id string) (*engine.ScanRun, error) {
	var target, started, closed, inv string
	err := d.db.QueryRowContext(ctx,
		`SELECT target, started_at, closed_at, invocations FROM scan_runs WHERE id = ?`, id).
		Scan(&target, &started, &closed, &inv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	run := &engine.ScanRun{ID: id, Target: target, StartedAt: parseTime(started), ClosedAt: parseTime(closed)}
	if err := json.Unmarshal([]byte(inv), &run.Invocations); err != nil {
		return nil, fmt.Errorf("decode invocations of %s: %w", id, err)
	}
	run.MarkClosed()
	return run, nil
}

// LatestScanID returns the most recently started run.
func (d *DB) LatestScanID(ctx context.Context) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx, `SELECT id FROM scan_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no scan runs: %w", ErrNotFound)
	}
	return id, err
}

// LoadFindings returns the findings of a run in canonical order.
func (d *DB) LoadFindings(ctx context.Context, scanID string) ([]engine.Finding, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, doc FROM findings WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Finding
	for rows.Next() {
		var status, doc string
		if err := rows.Scan(&status, &doc); err != nil {
			return nil, err
		}
		var f engine.Finding
		if err := json.Unmarshal([]byte(doc), &f); err != nil {
			return nil, fmt.Errorf("decode finding: %w", err)
		}
		f.Status = engine.Status(status)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	engine.SortFindings(out)
	return out, nil
}

// UpdateFindingStatus records the lifecycle state reached by remediation.
func (d *DB) UpdateFindingStatus(ctx context.Context, scanID, findingID string, status engine.Status) error {
	res, err := d.db.ExecContext(ctx, `UPDATE findings SET status = ? WHERE scan_id = ? AND id = ?`, string(status), scanID, findingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finding %s in scan %s: %w", findingID, scanID, ErrNotFound)
	}
	return nil
}

// SaveAction inserts a remediation action.
func (d *DB) SaveAction(ctx context.Context, a engine.RemediationAction) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO remediation_actions (id, scan_id, finding_id, result, created_at, doc) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ScanID, a.FindingID, string(a.Result), formatTime(a.Timestamp), string(doc))
	if err != nil {
		return fmt.Errorf("failed to insert remediation action %s: %w", a.ID, err)
	}
	return nil
}

// LoadActions returns the actions of a run in creation order.
func (d *DB) LoadActions(ctx context.Context, scanID string) ([]engine.RemediationAction, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT doc FROM remediation_actions WHERE scan_id = ? ORDER BY created_at, rowid`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.RemediationAction
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a engine.RemediationAction
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return nil, fmt.Errorf("decode remediation action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
