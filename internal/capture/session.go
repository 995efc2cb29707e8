package capture

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/mvidal/conteo/internal/types"
)

// Session owns the line arena for one open count: every loaded line's runtime
// record, its serialized persistence queue, and its debounce timer. Lines are
// mutated only through Session operations; callers never see the raw maps.
type Session struct {
	id        string
	cfg       Config
	persister Persister
	log       *logrus.Logger
	sem       *semaphore.Weighted

	mu     sync.Mutex
	lines  map[string]*lineState
	order  []string
	closed bool

	inflight sync.WaitGroup
}

// lineState is the owned per-line record. All fields are guarded by
// Session.mu; queue sends happen outside the lock.
type lineState struct {
	line *types.InventoryLine

	lastConfirmed *decimal.Decimal
	pending       *decimal.Decimal
	hasPending    bool
	managed       bool
	locked        bool
	dirty         bool
	status        Status
	statusMsg     string

	// statusGen invalidates stale saved-display timers
	statusGen int
	// debounceGen invalidates superseded debounce timers; a scan-applied
	// update bumps it so a stale manual edit can never overwrite the scan
	debounceGen   int
	debounceTimer *time.Timer

	queue chan func()
}

// Record is the read-only view of one line's capture state
type Record struct {
	LineID        string
	LastConfirmed *decimal.Decimal
	Pending       *decimal.Decimal
	Managed       bool
	Locked        bool
	Dirty         bool
	Status        Status
	Message       string
}

// Visible is the quantity the operator currently sees: the pending edit when
// one exists, else the last confirmed value.
func (r Record) Visible() *decimal.Decimal {
	if r.Pending != nil {
		return r.Pending
	}
	return r.LastConfirmed
}

const queueDepth = 64

// NewSession creates a capture session over the given persistence
// collaborator. Load must be called before any capture operation.
func NewSession(persister Persister, cfg Config) (*Session, error) {
	if persister == nil {
		return nil, fmt.Errorf("persister is required")
	}
	cfg.applyDefaults()

	return &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		persister: persister,
		log:       cfg.Logger,
		sem:       semaphore.NewWeighted(cfg.MaxInFlight),
		lines:     make(map[string]*lineState),
	}, nil
}

// ID identifies this session in the audit journal
func (s *Session) ID() string {
	return s.id
}

// SetRecorder installs the audit recorder. The recorder usually needs the
// session's ID, which exists only after construction, hence the setter.
// Call it before the first capture operation.
func (s *Session) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Recorder = r
}

// Load installs the snapshot of open lines. A line arriving with a counted
// quantity of exactly 0 is treated as backend-initialized and stays unmanaged
// until the operator touches it; a non-zero counted quantity or a not-found
// flag means the line was already resolved in an earlier session.
func (s *Session) Load(lines []*types.InventoryLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	for _, line := range lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("invalid inventory line: %w", err)
		}
		if _, exists := s.lines[line.LineID]; exists {
			continue
		}

		ls := &lineState{
			line:          line,
			lastConfirmed: line.CountedQty,
			managed:       line.NotFound || (line.CountedQty != nil && !line.CountedQty.IsZero()),
			status:        StatusIdle,
			queue:         make(chan func(), queueDepth),
		}
		s.lines[line.LineID] = ls
		s.order = append(s.order, line.LineID)

		go func(q chan func()) {
			for task := range q {
				task()
			}
		}(ls.queue)
	}
	return nil
}

// Line returns the loaded line by id
func (s *Session) Line(lineID string) (*types.InventoryLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.lines[lineID]
	if !ok {
		return nil, false
	}
	return ls.line, true
}

// Lines returns the loaded lines in load order
func (s *Session) Lines() []*types.InventoryLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.InventoryLine, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.lines[id].line)
	}
	return out
}

// Record returns the read-only capture state of one line
func (s *Session) Record(lineID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.lines[lineID]
	if !ok {
		return Record{}, false
	}
	return s.recordLocked(ls), true
}

func (s *Session) recordLocked(ls *lineState) Record {
	rec := Record{
		LineID:        ls.line.LineID,
		LastConfirmed: ls.lastConfirmed,
		Managed:       ls.managed,
		Locked:        ls.locked,
		Dirty:         ls.dirty,
		Status:        ls.status,
		Message:       ls.statusMsg,
	}
	if ls.hasPending {
		rec.Pending = ls.pending
	}
	return rec
}

// Unmanaged lists the lines the operator has not explicitly resolved yet,
// in load order. Finalization is blocked while any remain.
func (s *Session) Unmanaged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		if !s.lines[id].managed {
			out = append(out, id)
		}
	}
	return out
}

// Finalizable reports whether every loaded line is managed
func (s *Session) Finalizable() bool {
	return len(s.Unmanaged()) == 0
}

// LockedLines lists lines pinned read-only by a persistence conflict
func (s *Session) LockedLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		if s.lines[id].locked {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Wait blocks until every queued persistence task has finished. Intended for
// shutdown and tests.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Close stops timers and shuts the per-line queues down after draining
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, id := range s.order {
		ls := s.lines[id]
		ls.debounceGen++
		if ls.debounceTimer != nil {
			ls.debounceTimer.Stop()
			ls.debounceTimer = nil
		}
	}
	queues := make([]chan func(), 0, len(s.order))
	for _, id := range s.order {
		queues = append(queues, s.lines[id].queue)
	}
	s.mu.Unlock()

	s.inflight.Wait()
	for _, q := range queues {
		close(q)
	}
}

// enqueue schedules a task on the line's serialized queue. The inflight slot
// is reserved under the session lock, so a concurrent Close either sees the
// reservation and waits for the task before closing the queue, or wins the
// lock first and the task is dropped. The send itself stays outside the lock;
// a full queue must not stall the workers draining it.
func (s *Session) enqueue(ls *lineState, task func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	ls.queue <- func() {
		defer s.inflight.Done()
		task()
	}
}

// record hands an event to the configured Recorder, if any
func (s *Session) record(e Event) {
	s.mu.Lock()
	rec := s.cfg.Recorder
	s.mu.Unlock()
	if rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()
	if err := rec.RecordCapture(ctx, e); err != nil {
		s.log.WithFields(logrus.Fields{
			"line_id": e.LineID,
			"kind":    e.Kind,
		}).WithError(err).Warn("capture journal write failed")
	}
}
