// Package audit is a tamper-evident, append-only log of state-changing events.
//
// Every entry links to its predecessor: Hash = sha256(sealed || PrevHash), where
// sealed covers the id, timestamp, actor, action and payload. Rows are protected
// by triggers that abort UPDATE and DELETE, and Verify re-walks the chain from
// the genesis hash.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/gosec-agg/pkg/engine"
)

// GenesisHash is the PrevHash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one audit record.
type Entry struct {
	ID          int64           `json:"id"`
	PrevHash    string          `json:"prev_hash"`
	PayloadHash string          `json:"payload_hash"`
	Hash        string          `json:"hash"`
	Actor       string          `json:"actor"`
	Action      string          `json:"action"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// Log appends to and verifies the audit chain.
type Log struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	verified bool
	halted   *engine.AuditIntegrityError
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id INTEGER PRIMARY KEY,
	prev_hash TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	ts TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE TRIGGER IF NOT EXISTS audit_entries_no_update BEFORE UPDATE ON audit_entries
BEGIN SELECT RAISE(ABORT, 'audit log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete BEFORE DELETE ON audit_entries
BEGIN SELECT RAISE(ABORT, 'audit log is append-only'); END;
`

// New prepares the audit table on db.
func New(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &Log{
		db:     db,
		logger: logger.Named("audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the timestamp source.
func (l *Log) SetClock(now func() time.Time) { l.now = now }

// Halted reports the integrity failure that stopped the log, if any.
func (l *Log) Halted() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted == nil {
		return nil
	}
	return l.halted
}

// Append records one event. payload is marshalled to JSON. The first append
// on a Log walks the existing chain, so a break found by an earlier process
// halts this one too.
func (l *Log) Append(ctx context.Context, actor, action string, payload any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.verified && l.halted == nil {
		if err := l.verify(ctx); err != nil && l.halted == nil {
			return nil, err
		}
	}
	if l.halted != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrAuditHalted, l.halted)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var lastID int64
	prev := GenesisHash
	err = tx.QueryRowContext(ctx, `SELECT id, hash FROM audit_entries ORDER BY id DESC LIMIT 1`).Scan(&lastID, &prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	e := &Entry{
		ID:        lastID + 1,
		PrevHash:  prev,
		Actor:     actor,
		Action:    action,
		Timestamp: l.now().UTC(),
		Payload:   data,
	}
	e.PayloadHash, e.Hash = seal(e)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_entries (id, prev_hash, payload_hash, hash, actor, action, ts, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PrevHash, e.PayloadHash, e.Hash, e.Actor, e.Action, e.Timestamp.Format(time.RFC3339Nano), string(e.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	l.logger.Debug("Audit entry appended.", zap.Int64("id", e.ID), zap.String("action", action))
	return e, nil
}

// Verify walks the chain from genesis. The first broken link is returned as
// *engine.AuditIntegrityError and halts further appends.
func (l *Log) Verify(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted != nil {
		return l.halted
	}
	return l.verify(ctx)
}

func (l *Log) verify(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `SELECT id, prev_hash, payload_hash, hash, actor, action, ts, payload FROM audit_entries ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	prev := GenesisHash
	var expectID int64 = 1
	var checked int
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return l.halt(&engine.AuditIntegrityError{EntryID: expectID, Reason: "unreadable entry: " + err.Error()})
		}
		if e.ID != expectID {
			return l.halt(&engine.AuditIntegrityError{EntryID: expectID, Reason: fmt.Sprintf("missing entry, next id is %d", e.ID)})
		}
		if e.PrevHash != prev {
			return l.halt(&engine.AuditIntegrityError{EntryID: e.ID, Reason: "prev_hash does not match predecessor"})
		}
		payloadHash, hash := seal(e)
		if payloadHash != e.PayloadHash {
			return l.halt(&engine.AuditIntegrityError{EntryID: e.ID, Reason: "payload hash mismatch"})
		}
		if hash != e.Hash {
			return l.halt(&engine.AuditIntegrityError{EntryID: e.ID, Reason: "hash mismatch"})
		}
		prev = e.Hash
		expectID++
		checked++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	l.verified = true
	l.logger.Info("Audit chain verified.", zap.Int("entries", checked))
	return nil
}

func (l *Log) halt(err *engine.AuditIntegrityError) error {
	l.halted = err
	l.logger.Error("Audit chain integrity failure, log halted.", zap.Int64("entry_id", err.EntryID), zap.String("reason", err.Reason))
	return err
}

// Entries lists up to limit entries starting at fromID. limit <= 0 means all.
func (l *Log) Entries(ctx context.Context, fromID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, prev_hash, payload_hash, hash, actor, action, ts, payload FROM audit_entries WHERE id >= ? ORDER BY id LIMIT ?`,
		fromID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var ts, payload string
	if err := rows.Scan(&e.ID, &e.PrevHash, &e.PayloadHash, &e.Hash, &e.Actor, &e.Action, &ts, &payload); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("entry %d timestamp: %w", e.ID, err)
	}
	e.Timestamp = t
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// seal returns the payload hash and chained hash of e.
func seal(e *Entry) (payloadHash, hash string) {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(e.ID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(e.Actor))
	h.Write([]byte{0})
	h.Write([]byte(e.Action))
	h.Write([]byte{0})
	h.Write(e.Payload)
	sealed := h.Sum(nil)

	chain := sha256.New()
	chain.Write(sealed)
	chain.Write([]byte(e.PrevHash))
	return hex.EncodeToString(sealed), hex.EncodeToString(chain.Sum(nil))
}
