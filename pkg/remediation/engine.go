package remediation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/user/gosec-agg/pkg/audit"
	"github.com/user/gosec-agg/pkg/engine"
)

// AuditLog is the subset of *audit.Log the engine needs.
type AuditLog interface {
	Verify(ctx context.Context) error
	Append(ctx context.Context, actor, action string, payload any) (*audit.Entry, error)
}

// ActionStore persists actions and finding state.
type ActionStore interface {
	SaveAction(ctx context.Context, a engine.RemediationAction) error
	UpdateFindingStatus(ctx context.Context, scanID, findingID string, status engine.Status) error
}

// Engine applies fixes with backup, verification and rollback.
type Engine struct {
	Registry *Registry
	Audit    AuditLog
	Store    ActionStore
	Logger   *zap.Logger
	// BackupDir overrides where backups are written; empty means next to the file.
	BackupDir string
}

// Result is the outcome of one Remediate call.
type Result struct {
	Actions  []engine.RemediationAction `json:"actions"`
	Findings []engine.Finding           `json:"findings"`
}

// Counts tallies actions by result.
func (r *Result) Counts() map[engine.ActionResult]int {
	out := map[engine.ActionResult]int{}
	for _, a := range r.Actions {
		out[a.Result]++
	}
	return out
}

// NewEngine returns an engine using the built-in strategies.
func NewEngine(reg *Registry, auditLog AuditLog, store ActionStore, logger *zap.Logger) *Engine {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Registry: reg, Audit: auditLog, Store: store, Logger: logger.Named("remediation")}
}

type plannedFix struct {
	index    int
	finding  engine.Finding
	strategy FixStrategy
}

// Remediate fixes every open finding that has an applicable strategy.
//
// The audit chain is verified first and a broken chain refuses the run. Files
// are processed one at a time under the repository lock; within a file,
// findings go by severity (highest first) then rule id. A file gets exactly
// one backup per run, taken before its first mutation. Each fix is verified
// by re-checking the triggering pattern and rolled back when it still matches.
func (e *Engine) Remediate(ctx context.Context, sc engine.ScanContext, findings []engine.Finding) (*Result, error) {
	log := e.Logger.With(zap.String("scan_id", sc.ScanID))
	res := &Result{Findings: append([]engine.Finding(nil), findings...)}

	if e.Audit != nil {
		if err := e.Audit.Verify(ctx); err != nil {
			log.Error("Refusing to remediate: audit chain verification failed.", zap.Error(err))
			return res, err
		}
	}

	unlock, err := lockRepo(sc.Root)
	if err != nil {
		return res, err
	}
	defer unlock()

	plan, err := e.plan(sc, res.Findings)
	if err != nil {
		return res, err
	}
	files := make([]string, 0, len(plan))
	for path := range plan {
		files = append(files, path)
	}
	sort.Strings(files)

	stamp := sc.Clock().UTC().Format("20060102T150405.000000000Z")
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.fixFile(ctx, sc, rel, stamp, plan[rel], res); err != nil {
			return res, err
		}
	}

	log.Info("Remediation finished.",
		zap.Int("success", res.Counts()[engine.ResultSuccess]),
		zap.Int("failed", res.Counts()[engine.ResultFailed]),
		zap.Int("skipped_conflict", res.Counts()[engine.ResultSkippedConflict]))
	return res, nil
}

// plan picks a strategy per finding against each file's content at the start
// of the run. Findings without an applicable strategy produce no action.
func (e *Engine) plan(sc engine.ScanContext, findings []engine.Finding) (map[string][]plannedFix, error) {
	original := make(map[string][]byte)
	plan := make(map[string][]plannedFix)
	for i, f := range findings {
		if (f.Status != engine.StatusOpen && f.Status != "") || f.FilePath == "" || filepath.IsAbs(f.FilePath) {
			continue
		}
		content, ok := original[f.FilePath]
		if !ok {
			data, err := os.ReadFile(e.absPath(sc, f.FilePath))
			if err != nil {
				// resources such as hosts or images have no file to fix
				original[f.FilePath] = nil
				continue
			}
			original[f.FilePath] = data
			content = data
		}
		if content == nil {
			continue
		}
		s, ok := e.Registry.Resolve(f, content)
		if !ok {
			continue
		}
		plan[f.FilePath] = append(plan[f.FilePath], plannedFix{index: i, finding: f, strategy: s})
	}
	for _, fixes := range plan {
		sort.SliceStable(fixes, func(i, j int) bool {
			a, b := fixes[i].finding, fixes[j].finding
			if a.Severity.Rank() != b.Severity.Rank() {
				return a.Severity.Rank() > b.Severity.Rank()
			}
			if a.RuleID != b.RuleID {
				return a.RuleID < b.RuleID
			}
			return a.Line < b.Line
		})
	}
	return plan, nil
}

func (e *Engine) absPath(sc engine.ScanContext, rel string) string {
	return filepath.Join(sc.Root, filepath.FromSlash(rel))
}

func (e *Engine) fixFile(ctx context.Context, sc engine.ScanContext, rel, stamp string, fixes []plannedFix, res *Result) error {
	path := e.absPath(sc, rel)
	log := e.Logger.With(zap.String("scan_id", sc.ScanID), zap.String("file", rel))

	release, err := lockTarget(path)
	if err != nil {
		return e.failFile(ctx, sc, rel, fixes, fmt.Errorf("lock: %w", err), res)
	}
	defer release()

	info, err := os.Stat(path)
	if err != nil {
		return e.failFile(ctx, sc, rel, fixes, err, res)
	}
	pre, err := os.ReadFile(path)
	if err != nil {
		return e.failFile(ctx, sc, rel, fixes, err, res)
	}
	backupPath, err := e.writeBackup(path, rel, stamp, pre, info.Mode().Perm())
	if err != nil {
		log.Error("Backup unavailable, refusing to modify file.", zap.Error(err))
		if e.Audit != nil {
			if _, aerr := e.Audit.Append(ctx, sc.Actor, "remediation.refused", map[string]string{
				"scan_id": sc.ScanID, "file_path": rel, "reason": err.Error(),
			}); aerr != nil {
				log.Error("Failed to audit refused remediation.", zap.Error(aerr))
			}
		}
		return fmt.Errorf("%s: %w", rel, err)
	}
	log.Debug("Backup written.", zap.String("backup", backupPath))

	for _, fix := range fixes {
		action := e.applyOne(sc, path, rel, backupPath, info.Mode().Perm(), fix)
		if err := e.record(ctx, sc, action, fix, res); err != nil {
			return err
		}
	}
	return nil
}

// failFile records a FAILED action for every fix planned on a file that could
// not be locked or read, so the remaining files still get processed.
func (e *Engine) failFile(ctx context.Context, sc engine.ScanContext, rel string, fixes []plannedFix, cause error, res *Result) error {
	e.Logger.Warn("Cannot remediate file.", zap.String("scan_id", sc.ScanID), zap.String("file", rel), zap.Error(cause))
	for _, fix := range fixes {
		action := e.newAction(sc, rel, "", fix)
		action.Result = engine.ResultFailed
		action.Error = (&engine.FixApplicationError{FilePath: rel, Pattern: action.Pattern, Err: cause}).Error()
		if err := e.record(ctx, sc, action, fix, res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) newAction(sc engine.ScanContext, rel, backupPath string, fix plannedFix) engine.RemediationAction {
	return engine.RemediationAction{
		ID:             uuid.New().String(),
		ScanID:         sc.ScanID,
		FindingID:      fix.finding.ID,
		Pattern:        fix.strategy.Name(),
		FilePath:       rel,
		BackupPath:     backupPath,
		ComplianceTags: append([]string{}, fix.finding.ComplianceTags...),
		Timestamp:      sc.Clock().UTC(),
	}
}

func (e *Engine) applyOne(sc engine.ScanContext, path, rel, backupPath string, mode os.FileMode, fix plannedFix) engine.RemediationAction {
	f := fix.finding
	action := e.newAction(sc, rel, backupPath, fix)

	current, err := os.ReadFile(path)
	if err != nil {
		action.Result = engine.ResultFailed
		action.Error = (&engine.FixApplicationError{FilePath: rel, Pattern: action.Pattern, Err: err}).Error()
		return action
	}
	action.BeforeHash = hashBytes(current)

	if !fix.strategy.Applicable(f, current) {
		action.Result = engine.ResultSkippedConflict
		action.Description = "Pattern no longer present; file changed since the scan or an earlier fix resolved it"
		action.AfterHash = action.BeforeHash
		return action
	}

	fixed, desc, err := fix.strategy.Apply(f, current)
	action.Description = desc
	if err != nil {
		action.Result = engine.ResultFailed
		action.Error = (&engine.FixApplicationError{FilePath: rel, Pattern: action.Pattern, Err: err}).Error()
		return action
	}

	// a failed writeAtomic never renames, so the file is untouched
	if err := writeAtomic(path, fixed, mode); err != nil {
		action.Result = engine.ResultFailed
		action.Error = (&engine.FixApplicationError{FilePath: rel, Pattern: action.Pattern, Err: err}).Error()
		action.AfterHash = action.BeforeHash
		return action
	}

	written, err := os.ReadFile(path)
	if err != nil || fix.strategy.Applicable(f, written) {
		if rerr := writeAtomic(path, current, mode); rerr != nil {
			e.Logger.Error("Rollback failed.", zap.String("file", rel), zap.String("backup", backupPath), zap.Error(rerr))
		}
		action.Result = engine.ResultFailed
		action.Error = (&engine.VerificationError{FilePath: rel, Pattern: action.Pattern}).Error()
		if err != nil {
			action.Error = (&engine.FixApplicationError{FilePath: rel, Pattern: action.Pattern, Err: err}).Error()
		}
		action.AfterHash = action.BeforeHash
		return action
	}

	action.Result = engine.ResultSuccess
	action.AfterHash = hashBytes(written)
	action.Diff = unifiedPatch(rel, current, written)
	return action
}

func (e *Engine) record(ctx context.Context, sc engine.ScanContext, action engine.RemediationAction, fix plannedFix, res *Result) error {
	switch action.Result {
	case engine.ResultSuccess:
		res.Findings[fix.index].Status = engine.StatusFixed
	case engine.ResultSkippedConflict:
		res.Findings[fix.index].Status = engine.StatusSkippedConflict
	}
	res.Actions = append(res.Actions, action)

	e.Logger.Info("Remediation action.",
		zap.String("finding_id", action.FindingID),
		zap.String("pattern", action.Pattern),
		zap.String("file", action.FilePath),
		zap.String("result", string(action.Result)),
		zap.String("error", action.Error))

	if e.Store != nil {
		if err := e.Store.SaveAction(ctx, action); err != nil {
			return fmt.Errorf("persist action %s: %w", action.ID, err)
		}
		if status := res.Findings[fix.index].Status; status != engine.StatusOpen && status != "" {
			if err := e.Store.UpdateFindingStatus(ctx, sc.ScanID, action.FindingID, status); err != nil {
				e.Logger.Warn("Failed to update finding status.", zap.String("finding_id", action.FindingID), zap.Error(err))
			}
		}
	}
	if e.Audit != nil {
		if _, err := e.Audit.Append(ctx, sc.Actor, "remediation."+strings.ToLower(string(action.Result)), action); err != nil {
			return fmt.Errorf("audit action %s: %w", action.ID, err)
		}
	}
	return nil
}

// writeBackup stores content as <file>.<stamp>.bak and reads it back. With a
// BackupDir the repository layout is mirrored beneath it, so files sharing a
// base name never share a backup.
func (e *Engine) writeBackup(path, rel, stamp string, content []byte, mode os.FileMode) (string, error) {
	backup := path + "." + stamp + ".bak"
	if e.BackupDir != "" {
		info, err := os.Stat(e.BackupDir)
		if err != nil {
			return "", fmt.Errorf("%w: %v", engine.ErrBackupUnavailable, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%w: %s is not a directory", engine.ErrBackupUnavailable, e.BackupDir)
		}
		backup = filepath.Join(e.BackupDir, filepath.FromSlash(rel)) + "." + stamp + ".bak"
		if err := os.MkdirAll(filepath.Dir(backup), 0750); err != nil {
			return "", fmt.Errorf("%w: %v", engine.ErrBackupUnavailable, err)
		}
	}
	if existing, err := os.ReadFile(backup); err == nil {
		if !bytes.Equal(existing, content) {
			return "", fmt.Errorf("%w: %s already exists with different content", engine.ErrBackupUnavailable, backup)
		}
		return backup, nil
	}
	if err := writeAtomic(backup, content, mode); err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrBackupUnavailable, err)
	}
	check, err := os.ReadFile(backup)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrBackupUnavailable, err)
	}
	if !bytes.Equal(check, content) {
		return "", fmt.Errorf("%w: backup %s does not match the original", engine.ErrBackupUnavailable, backup)
	}
	return backup, nil
}

// writeAtomic replaces path via a temp file in the same directory.
func writeAtomic(path string, data []byte, mode os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func unifiedPatch(name string, before, after []byte) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	patches := dmp.PatchMake(string(before), diffs)
	return fmt.Sprintf("--- %s\n+++ %s\n%s", name, name, dmp.PatchToText(patches))
}

// IsBackupUnavailable reports whether err refused a mutation for lack of a backup.
func IsBackupUnavailable(err error) bool {
	return errors.Is(err, engine.ErrBackupUnavailable)
}
