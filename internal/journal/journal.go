// Package journal keeps a local append-only audit trail of capture activity:
// every scan, optimistic apply, persistence outcome, and not-found toggle,
// keyed by session. The REST backend remains the only canonical store; the
// journal exists so a capture session can be reviewed after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Kind classifies journal entries
type Kind string

const (
	// KindScan records a decoded scan event
	KindScan Kind = "scan"
	// KindApply records an optimistic local update
	KindApply Kind = "apply"
	// KindPersistOK records a confirmed save
	KindPersistOK Kind = "persist_ok"
	// KindPersistConflict records a conflict lock
	KindPersistConflict Kind = "persist_conflict"
	// KindPersistError records a transient persistence failure
	KindPersistError Kind = "persist_error"
	// KindNotFound records a not-found toggle
	KindNotFound Kind = "not_found"
)

// Entry is one journal row
type Entry struct {
	ID       string
	Session  string
	LineID   string
	Kind     Kind
	Detail   string
	Quantity *decimal.Decimal
	At       time.Time
}

// Filter selects entries; zero fields match everything
type Filter struct {
	Session string
	LineID  string
	Kind    Kind
	Limit   int
}

const schema = `
CREATE TABLE IF NOT EXISTS capture_events (
	id        TEXT PRIMARY KEY,
	session   TEXT NOT NULL,
	line_id   TEXT NOT NULL DEFAULT '',
	kind      TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT '',
	quantity  TEXT,
	at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_capture_events_session ON capture_events(session, at);
CREATE INDEX IF NOT EXISTS idx_capture_events_line ON capture_events(line_id, at);
`

// Journal is a sqlite-backed event log. Safe for concurrent use through the
// underlying database handle.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path, initializing the
// schema. WAL mode keeps concurrent readers cheap.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close releases the database handle
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one entry. Missing id and timestamp are filled in.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Kind == "" {
		return fmt.Errorf("entry kind is required")
	}
	if e.Session == "" {
		return fmt.Errorf("entry session is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	var qty sql.NullString
	if e.Quantity != nil {
		qty = sql.NullString{String: e.Quantity.String(), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO capture_events (id, session, line_id, kind, detail, quantity, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Session, e.LineID, string(e.Kind), e.Detail, qty, e.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", e.Kind, err)
	}
	return nil
}

// Entries returns entries matching the filter, oldest first
func (j *Journal) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
		SELECT id, session, line_id, kind, detail, quantity, at
		FROM capture_events
		WHERE 1=1`
	args := []any{}

	if f.Session != "" {
		query += " AND session = ?"
		args = append(args, f.Session)
	}
	if f.LineID != "" {
		query += " AND line_id = ?"
		args = append(args, f.LineID)
	}
	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(f.Kind))
	}
	query += " ORDER BY at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var qty sql.NullString
		if err := rows.Scan(&e.ID, &e.Session, &e.LineID, &kind, &e.Detail, &qty, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Kind = Kind(kind)
		if qty.Valid {
			d, err := decimal.NewFromString(qty.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt quantity %q in entry %s: %w", qty.String, e.ID, err)
			}
			e.Quantity = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
