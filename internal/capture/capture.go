// Package capture owns the per-line count-capture state machine: optimistic
// quantity updates, strictly serialized per-line persistence, debounced
// free-text entry, conflict-lock handling, and the managed/unmanaged
// bookkeeping that gates count finalization.
//
// The package is deliberately presentation-free: every operation returns a
// structured Outcome and the shell decides how to surface it.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Status is the visible persistence state of one line
type Status string

const (
	// StatusIdle means no persistence activity for the line
	StatusIdle Status = "idle"
	// StatusSaving means a persistence call is in flight or queued
	StatusSaving Status = "saving"
	// StatusSaved is a display-only state shown briefly after a successful
	// save before reverting to idle
	StatusSaved Status = "saved"
	// StatusError means the last persistence attempt failed; Record.Locked
	// tells whether the failure was a conflict lock
	StatusError Status = "error"
)

var (
	// ErrConflict is the persistence collaborator's signal that a concurrent
	// edit won; implementations wrap it around 409-class responses.
	ErrConflict = errors.New("quantity update conflicts with a concurrent edit")

	// ErrLineLocked rejects local edits to a line already pinned by a
	// conflict. Terminal for the session; no network call is made.
	ErrLineLocked = errors.New("line is read-only after a conflicting edit")

	// ErrUnknownLine rejects operations on lines outside the loaded snapshot
	ErrUnknownLine = errors.New("line is not part of this capture session")

	// ErrSessionClosed rejects operations after Close
	ErrSessionClosed = errors.New("capture session is closed")
)

// Persister is the REST write surface the session persists through.
// SetQuantity must return an error wrapping ErrConflict when the backend
// reports a conflicting concurrent edit.
type Persister interface {
	SetQuantity(ctx context.Context, lineID string, qty *decimal.Decimal) error
	SetNotFound(ctx context.Context, countID, itemCode string, value bool) error
}

// Event is one capture-activity observation handed to the Recorder
type Event struct {
	LineID   string
	Kind     EventKind
	Detail   string
	Quantity *decimal.Decimal
}

// EventKind classifies capture events for the audit journal
type EventKind string

const (
	// EventApply records an optimistic local update
	EventApply EventKind = "apply"
	// EventPersistOK records a confirmed save
	EventPersistOK EventKind = "persist_ok"
	// EventPersistConflict records a conflict lock
	EventPersistConflict EventKind = "persist_conflict"
	// EventPersistError records a transient persistence failure
	EventPersistError EventKind = "persist_error"
	// EventNotFound records a not-found toggle
	EventNotFound EventKind = "not_found"
)

// Recorder receives capture events. Recording failures are logged and never
// affect capture correctness.
type Recorder interface {
	RecordCapture(ctx context.Context, e Event) error
}

// Outcome is the structured result of a capture operation. The core never
// shows anything to the operator; the shell maps Outcomes to presentation.
type Outcome struct {
	// Applied is true when an optimistic update was made (persistence may
	// still fail asynchronously; watch the line's Record)
	Applied bool
	// ScannerSourced marks updates that came from a scan, so the shell skips
	// focus-stealing behavior
	ScannerSourced bool
	Info           string
	Warn           string
	Err            error
}

// RetryPolicy is a bounded retry with fixed backoff, parameterized per call
// site.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// Backoff is the fixed delay between attempts
	Backoff time.Duration
}

// Do runs fn until it succeeds or attempts are exhausted, honoring ctx
// between attempts. Returns the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 && p.Backoff > 0 {
			select {
			case <-time.After(p.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// Config holds session tuning. Zero values take the defaults.
type Config struct {
	// DebounceInterval collapses free-text keystroke bursts into one write
	DebounceInterval time.Duration
	// SavedDisplayTime is how long StatusSaved lingers before StatusIdle
	SavedDisplayTime time.Duration
	// CallTimeout bounds each persistence call
	CallTimeout time.Duration
	// MaxInFlight caps concurrently in-flight persistence calls across
	// different lines (per-line calls are always strictly serial)
	MaxInFlight int64
	// NotFoundRetry is the bounded retry applied to the not-found toggle
	NotFoundRetry RetryPolicy
	// Recorder receives the audit trail; optional
	Recorder Recorder
	// Logger defaults to a fresh logrus logger
	Logger *logrus.Logger
}

// DefaultConfig returns the standard session tuning
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 200 * time.Millisecond,
		SavedDisplayTime: 1500 * time.Millisecond,
		CallTimeout:      10 * time.Second,
		MaxInFlight:      4,
		NotFoundRetry:    RetryPolicy{MaxRetries: 1, Backoff: 300 * time.Millisecond},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = def.DebounceInterval
	}
	if c.SavedDisplayTime <= 0 {
		c.SavedDisplayTime = def.SavedDisplayTime
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = def.MaxInFlight
	}
	if c.NotFoundRetry.MaxRetries == 0 && c.NotFoundRetry.Backoff == 0 {
		c.NotFoundRetry = def.NotFoundRetry
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}
