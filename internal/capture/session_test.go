package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvidal/conteo/internal/types"
)

type quantityCall struct {
	lineID string
	qty    string // "nil" for a cleared quantity
}

// fakePersister scripts persistence results and records every call
type fakePersister struct {
	mu            sync.Mutex
	quantityCalls []quantityCall
	notFoundCalls int
	quantityErrs  []error // popped per SetQuantity call; empty means success
	notFoundErrs  []error
	delay         time.Duration

	activePerLine map[string]int
	maxActive     int
}

func newFakePersister() *fakePersister {
	return &fakePersister{activePerLine: make(map[string]int)}
}

func (f *fakePersister) SetQuantity(ctx context.Context, lineID string, qty *decimal.Decimal) error {
	f.mu.Lock()
	f.activePerLine[lineID]++
	if f.activePerLine[lineID] > f.maxActive {
		f.maxActive = f.activePerLine[lineID]
	}
	s := "nil"
	if qty != nil {
		s = qty.String()
	}
	f.quantityCalls = append(f.quantityCalls, quantityCall{lineID: lineID, qty: s})
	var err error
	if len(f.quantityErrs) > 0 {
		err = f.quantityErrs[0]
		f.quantityErrs = f.quantityErrs[1:]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.activePerLine[lineID]--
	f.mu.Unlock()
	return err
}

func (f *fakePersister) SetNotFound(ctx context.Context, countID, itemCode string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notFoundCalls++
	if len(f.notFoundErrs) > 0 {
		err := f.notFoundErrs[0]
		f.notFoundErrs = f.notFoundErrs[1:]
		return err
	}
	return nil
}

func (f *fakePersister) calls() []quantityCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]quantityCall, len(f.quantityCalls))
	copy(out, f.quantityCalls)
	return out
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testConfig() Config {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return Config{
		DebounceInterval: 40 * time.Millisecond,
		SavedDisplayTime: 5 * time.Second, // keep Saved visible during assertions
		CallTimeout:      2 * time.Second,
		MaxInFlight:      4,
		NotFoundRetry:    RetryPolicy{MaxRetries: 1, Backoff: 5 * time.Millisecond},
		Logger:           log,
	}
}

func newTestSession(t *testing.T, p Persister, lines ...*types.InventoryLine) *Session {
	t.Helper()
	s, err := NewSession(p, testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Load(lines))
	t.Cleanup(s.Close)
	return s
}

func testLine(id string, counted *decimal.Decimal) *types.InventoryLine {
	return &types.InventoryLine{
		LineID:     id,
		CountID:    "count-1",
		ItemCode:   "123456",
		Location:   "A-01",
		CountedQty: counted,
	}
}

func TestApplyAbsolutePersistsAndConfirms(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	out := s.ApplyAbsolute("l1", dec("5"), false)
	require.True(t, out.Applied)
	s.Wait()

	rec, ok := s.Record("l1")
	require.True(t, ok)
	assert.Equal(t, StatusSaved, rec.Status)
	assert.True(t, rec.Managed)
	assert.False(t, rec.Locked)
	require.NotNil(t, rec.LastConfirmed)
	assert.True(t, rec.LastConfirmed.Equal(dec("5")))

	calls := p.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, quantityCall{lineID: "l1", qty: "5"}, calls[0])
}

func TestApplyAbsoluteIdempotent(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	require.True(t, s.ApplyAbsolute("l1", dec("5"), false).Applied)
	out := s.ApplyAbsolute("l1", dec("5"), false)
	assert.False(t, out.Applied)
	s.Wait()

	assert.Len(t, p.calls(), 1, "repeated identical value must persist once")
}

func TestApplyAbsoluteForceReapplies(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	s.ApplyAbsolute("l1", dec("5"), false)
	s.Wait()
	require.True(t, s.ApplyAbsolute("l1", dec("5"), true).Applied)
	s.Wait()

	assert.Len(t, p.calls(), 2)
}

func TestApplyAbsoluteClampsNegative(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	require.True(t, s.ApplyAbsolute("l1", dec("-3"), false).Applied)
	s.Wait()

	calls := p.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "0", calls[0].qty)
}

func TestZeroManagedAsymmetry(t *testing.T) {
	// Backend-initialized zero is unmanaged; operator-entered zero is managed.
	zero := decimal.Zero
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", &zero))

	rec, _ := s.Record("l1")
	assert.False(t, rec.Managed, "auto-initialized zero must not count as managed")
	assert.Equal(t, []string{"l1"}, s.Unmanaged())
	assert.False(t, s.Finalizable())

	out := s.ApplyAbsolute("l1", decimal.Zero, false)
	require.True(t, out.Applied, "explicitly entering the same zero must persist")
	s.Wait()

	rec, _ = s.Record("l1")
	assert.True(t, rec.Managed)
	assert.True(t, s.Finalizable())
	require.Len(t, p.calls(), 1)

	// Now that the zero is explicit, re-entering it is a no-op
	assert.False(t, s.ApplyAbsolute("l1", decimal.Zero, false).Applied)
	s.Wait()
	assert.Len(t, p.calls(), 1)
}

func TestNonZeroSnapshotLineIsManaged(t *testing.T) {
	seven := dec("7")
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", &seven))

	rec, _ := s.Record("l1")
	assert.True(t, rec.Managed)
	assert.True(t, s.Finalizable())
}

func TestApplyDeltaAccumulates(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	out := s.ApplyDelta("l1", dec("2"))
	require.True(t, out.Applied)
	assert.True(t, out.ScannerSourced)
	s.Wait()
	s.ApplyDelta("l1", dec("3"))
	s.Wait()

	calls := p.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "2", calls[0].qty)
	assert.Equal(t, "5", calls[1].qty)
}

func TestApplyDeltaRejectsNonPositive(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	assert.False(t, s.ApplyDelta("l1", decimal.Zero).Applied)
	assert.False(t, s.ApplyDelta("l1", dec("-1")).Applied)
	s.Wait()
	assert.Empty(t, p.calls())
}

func TestPerLineSerialization(t *testing.T) {
	p := newFakePersister()
	p.delay = 20 * time.Millisecond
	s := newTestSession(t, p, testLine("l1", nil))

	s.ApplyAbsolute("l1", dec("5"), false)
	s.ApplyAbsolute("l1", dec("7"), true)
	s.ApplyAbsolute("l1", dec("9"), true)
	s.Wait()

	calls := p.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []quantityCall{
		{lineID: "l1", qty: "5"},
		{lineID: "l1", qty: "7"},
		{lineID: "l1", qty: "9"},
	}, calls, "per-line calls must run in submission order")
	assert.Equal(t, 1, p.maxActive, "same line must never have concurrent calls in flight")

	rec, _ := s.Record("l1")
	require.NotNil(t, rec.LastConfirmed)
	assert.True(t, rec.LastConfirmed.Equal(dec("9")))
	assert.Equal(t, StatusSaved, rec.Status)
}

func TestTransientFailureRetainsDirtyEdit(t *testing.T) {
	p := newFakePersister()
	p.quantityErrs = []error{errors.New("network timeout")}
	s := newTestSession(t, p, testLine("l1", nil))

	s.ApplyAbsolute("l1", dec("5"), false)
	s.Wait()

	rec, _ := s.Record("l1")
	assert.Equal(t, StatusError, rec.Status)
	assert.False(t, rec.Locked)
	assert.True(t, rec.Dirty)
	require.NotNil(t, rec.Pending, "typed work must survive a transient failure")
	assert.True(t, rec.Pending.Equal(dec("5")))
	assert.Nil(t, rec.LastConfirmed)

	// Operator re-submits; this time it sticks
	s.ApplyAbsolute("l1", dec("5"), true)
	s.Wait()
	rec, _ = s.Record("l1")
	assert.Equal(t, StatusSaved, rec.Status)
	assert.False(t, rec.Dirty)
}

func TestRetryingSameValueAfterTransientFailurePersists(t *testing.T) {
	p := newFakePersister()
	p.quantityErrs = []error{errors.New("network timeout")}
	s := newTestSession(t, p, testLine("l1", nil))

	s.ApplyAbsolute("l1", dec("5"), false)
	s.Wait()

	rec, _ := s.Record("l1")
	require.True(t, rec.Dirty)
	require.Nil(t, rec.LastConfirmed)

	// The retained value never reached the server, so re-entering it without
	// force must not deduplicate against the dirty pending edit.
	out := s.ApplyAbsolute("l1", dec("5"), false)
	require.True(t, out.Applied)
	s.Wait()

	require.Len(t, p.calls(), 2)
	rec, _ = s.Record("l1")
	assert.Equal(t, StatusSaved, rec.Status)
	assert.False(t, rec.Dirty)
	require.NotNil(t, rec.LastConfirmed)
	assert.True(t, rec.LastConfirmed.Equal(dec("5")))
}

func TestOperationsAfterCloseAreRejected(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))
	s.Close()

	assert.ErrorIs(t, s.ApplyAbsolute("l1", dec("5"), false).Err, ErrSessionClosed)
	assert.ErrorIs(t, s.ApplyDelta("l1", dec("1")).Err, ErrSessionClosed)
	assert.ErrorIs(t, s.ToggleNotFound("l1", true).Err, ErrSessionClosed)
	u := dec("2")
	assert.ErrorIs(t, s.EditEntry("l1", &u, nil, nil).Err, ErrSessionClosed)
	assert.Empty(t, p.calls())
}

func TestConflictLocksLine(t *testing.T) {
	three := dec("3")
	p := newFakePersister()
	p.quantityErrs = []error{ErrConflict}
	s := newTestSession(t, p, testLine("l1", &three))

	s.ApplyAbsolute("l1", dec("5"), false)
	s.Wait()

	rec, _ := s.Record("l1")
	assert.Equal(t, StatusError, rec.Status)
	assert.True(t, rec.Locked)
	assert.True(t, rec.Managed, "a locked line no longer blocks finalization")
	require.NotNil(t, rec.Visible())
	assert.True(t, rec.Visible().Equal(three), "visible value pins to last confirmed")
	assert.Equal(t, []string{"l1"}, s.LockedLines())

	// Further edits are rejected locally, without a network call
	out := s.ApplyAbsolute("l1", dec("7"), false)
	assert.ErrorIs(t, out.Err, ErrLineLocked)
	assert.ErrorIs(t, s.ApplyDelta("l1", dec("1")).Err, ErrLineLocked)
	assert.ErrorIs(t, s.ToggleNotFound("l1", true).Err, ErrLineLocked)
	u := dec("2")
	assert.ErrorIs(t, s.EditEntry("l1", &u, nil, nil).Err, ErrLineLocked)
	s.Wait()
	assert.Len(t, p.calls(), 1)
}

func TestDebounceCollapsesBurst(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	u1, u2, u3 := dec("1"), dec("12"), dec("123")
	s.EditEntry("l1", &u1, nil, nil)
	s.EditEntry("l1", &u2, nil, nil)
	s.EditEntry("l1", &u3, nil, nil)

	time.Sleep(120 * time.Millisecond)
	s.Wait()

	calls := p.calls()
	require.Len(t, calls, 1, "a keystroke burst must persist exactly once")
	assert.Equal(t, "123", calls[0].qty)
}

func TestEditEntryCompositeTotal(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	units, packages, balance := dec("3"), dec("4"), dec("2")
	s.EditEntry("l1", &units, &packages, &balance)

	time.Sleep(120 * time.Millisecond)
	s.Wait()

	calls := p.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "14", calls[0].qty, "total = units x packages + balance")
}

func TestEditEntryClearPersistsNull(t *testing.T) {
	five := dec("5")
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", &five))

	s.EditEntry("l1", nil, nil, nil)

	time.Sleep(120 * time.Millisecond)
	s.Wait()

	calls := p.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nil", calls[0].qty, "clearing all fields must persist an explicit null")
}

func TestScanCancelsPendingDebounce(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	stale := dec("9")
	s.EditEntry("l1", &stale, nil, nil)
	s.ApplyDelta("l1", dec("1"))

	time.Sleep(120 * time.Millisecond)
	s.Wait()

	calls := p.calls()
	require.Len(t, calls, 1, "the superseded manual edit must never fire")
	assert.Equal(t, "1", calls[0].qty)
}

func TestToggleNotFoundRetriesOnceThenSucceeds(t *testing.T) {
	p := newFakePersister()
	p.notFoundErrs = []error{errors.New("flaky")}
	s := newTestSession(t, p, testLine("l1", nil))

	require.True(t, s.ToggleNotFound("l1", true).Applied)
	s.Wait()

	assert.Equal(t, 2, p.notFoundCalls)
	rec, _ := s.Record("l1")
	assert.Equal(t, StatusSaved, rec.Status)
	assert.True(t, rec.Managed)
	line, _ := s.Line("l1")
	assert.True(t, line.NotFound)
}

func TestToggleNotFoundRevertsAfterRetryExhaustion(t *testing.T) {
	p := newFakePersister()
	p.notFoundErrs = []error{errors.New("down"), errors.New("still down")}
	s := newTestSession(t, p, testLine("l1", nil))

	s.ToggleNotFound("l1", true)
	s.Wait()

	assert.Equal(t, 2, p.notFoundCalls, "exactly one automatic retry")
	rec, _ := s.Record("l1")
	assert.Equal(t, StatusError, rec.Status)
	assert.False(t, rec.Managed, "managed reverts with the flag")
	line, _ := s.Line("l1")
	assert.False(t, line.NotFound)
}

func TestUnknownLine(t *testing.T) {
	p := newFakePersister()
	s := newTestSession(t, p, testLine("l1", nil))

	assert.ErrorIs(t, s.ApplyAbsolute("nope", dec("1"), false).Err, ErrUnknownLine)
	assert.ErrorIs(t, s.ApplyDelta("nope", dec("1")).Err, ErrUnknownLine)
	assert.ErrorIs(t, s.ToggleNotFound("nope", true).Err, ErrUnknownLine)
}

func TestSavedRevertsToIdle(t *testing.T) {
	p := newFakePersister()
	cfg := testConfig()
	cfg.SavedDisplayTime = 30 * time.Millisecond
	s, err := NewSession(p, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Load([]*types.InventoryLine{testLine("l1", nil)}))
	t.Cleanup(s.Close)

	s.ApplyAbsolute("l1", dec("5"), false)
	s.Wait()

	rec, _ := s.Record("l1")
	require.Equal(t, StatusSaved, rec.Status)

	time.Sleep(80 * time.Millisecond)
	rec, _ = s.Record("l1")
	assert.Equal(t, StatusIdle, rec.Status)
}

func TestRetryPolicyStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxRetries: 3, Backoff: 10 * time.Millisecond}
	calls := 0
	err := policy.Do(ctx, func() error {
		calls++
		return errors.New("always fails")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "backoff must honor cancellation")
}

func TestRecorderReceivesEvents(t *testing.T) {
	p := newFakePersister()
	rec := &captureRecorder{}
	cfg := testConfig()
	cfg.Recorder = rec
	s, err := NewSession(p, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Load([]*types.InventoryLine{testLine("l1", nil)}))
	t.Cleanup(s.Close)

	s.ApplyAbsolute("l1", dec("5"), false)
	s.Wait()
	time.Sleep(20 * time.Millisecond) // persist events are recorded asynchronously

	kinds := rec.kinds()
	assert.Contains(t, kinds, EventApply)
	assert.Contains(t, kinds, EventPersistOK)
}

type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *captureRecorder) RecordCapture(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *captureRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}
