package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mvidal/conteo/internal/types"
)

// ApplyAbsolute sets a line's counted quantity. Negative values clamp to
// zero silently. Setting the value the line already holds is a no-op unless
// forced, except on an unmanaged line, where even re-entering the
// auto-initialized zero marks the line as explicitly counted.
//
// The update is optimistic: the Outcome reports the local application and the
// persistence result lands asynchronously on the line's Record.
func (s *Session) ApplyAbsolute(lineID string, qty decimal.Decimal, force bool) Outcome {
	if qty.IsNegative() {
		qty = decimal.Zero
	}
	return s.applyValue(lineID, &qty, force, false)
}

// ApplyDelta adds a scan increment to the line's current quantity. Deltas of
// zero or less are rejected. The resulting update is tagged scanner-sourced
// and cancels any pending debounce for the line, so a stale manual edit can
// never overwrite the scan result.
func (s *Session) ApplyDelta(lineID string, delta decimal.Decimal) Outcome {
	if delta.Sign() <= 0 {
		return Outcome{Warn: fmt.Sprintf("ignoring non-positive increment %s", delta)}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{Err: ErrSessionClosed}
	}
	ls, ok := s.lines[lineID]
	if !ok {
		s.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrUnknownLine, lineID)}
	}
	if ls.locked {
		s.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrLineLocked, lineID)}
	}

	current := decimal.Zero
	if ls.hasPending && ls.pending != nil {
		current = *ls.pending
	} else if !ls.hasPending && ls.lastConfirmed != nil {
		current = *ls.lastConfirmed
	}
	next := current.Add(delta)
	if next.IsNegative() {
		next = decimal.Zero
	}

	s.cancelDebounceLocked(ls)
	s.startSaveLocked(ls, &next)
	s.mu.Unlock()

	s.record(Event{LineID: lineID, Kind: EventApply, Quantity: &next, Detail: "scan delta"})
	s.enqueue(ls, s.persistTask(ls, &next))
	return Outcome{Applied: true, ScannerSourced: true}
}

// applyValue is the shared optimistic-update path; qty nil clears the
// quantity back to null.
func (s *Session) applyValue(lineID string, qty *decimal.Decimal, force, scannerSourced bool) Outcome {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{Err: ErrSessionClosed}
	}
	ls, ok := s.lines[lineID]
	if !ok {
		s.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrUnknownLine, lineID)}
	}
	if ls.locked {
		s.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrLineLocked, lineID)}
	}

	target := ls.lastConfirmed
	if ls.hasPending {
		target = ls.pending
	}
	// A dirty pending value never deduplicates: it failed to persist, so
	// re-entering it must reach the server.
	if !force && ls.managed && !ls.dirty && types.DecimalEqual(target, qty) {
		s.mu.Unlock()
		return Outcome{Info: "quantity unchanged"}
	}

	s.cancelDebounceLocked(ls)
	s.startSaveLocked(ls, qty)
	s.mu.Unlock()

	s.record(Event{LineID: lineID, Kind: EventApply, Quantity: qty})
	s.enqueue(ls, s.persistTask(ls, qty))
	return Outcome{Applied: true, ScannerSourced: scannerSourced}
}

// startSaveLocked installs the optimistic value and moves the line to Saving
func (s *Session) startSaveLocked(ls *lineState, qty *decimal.Decimal) {
	ls.pending = qty
	ls.hasPending = true
	ls.managed = true
	ls.dirty = false
	ls.status = StatusSaving
	ls.statusMsg = ""
	ls.statusGen++
}

func (s *Session) cancelDebounceLocked(ls *lineState) {
	ls.debounceGen++
	if ls.debounceTimer != nil {
		ls.debounceTimer.Stop()
		ls.debounceTimer = nil
	}
}

// persistTask runs on the line's serialized queue. A lock raised by an
// earlier task in the queue short-circuits later ones without touching the
// network.
func (s *Session) persistTask(ls *lineState, qty *decimal.Decimal) func() {
	return func() {
		s.mu.Lock()
		if ls.locked {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
		defer cancel()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.finishSave(ls, qty, err)
			return
		}
		err := s.persister.SetQuantity(ctx, ls.line.LineID, qty)
		s.sem.Release(1)
		s.finishSave(ls, qty, err)
	}
}

// finishSave lands the persistence result. Every failure leaves the line in a
// well-defined Error state; Saving is never terminal.
func (s *Session) finishSave(ls *lineState, qty *decimal.Decimal, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err == nil:
		ls.lastConfirmed = qty
		ls.line.CountedQty = qty
		// A newer edit may already be queued behind this one; only settle
		// the visible state when this save is the latest.
		if ls.hasPending && types.DecimalEqual(ls.pending, qty) {
			ls.pending = nil
			ls.hasPending = false
			ls.dirty = false
			ls.status = StatusSaved
			ls.statusMsg = ""
			s.armSavedTimerLocked(ls)
		}
		s.recordAsync(Event{LineID: ls.line.LineID, Kind: EventPersistOK, Quantity: qty})

	case errors.Is(err, ErrConflict):
		ls.locked = true
		ls.pending = nil
		ls.hasPending = false
		ls.dirty = false
		ls.line.CountedQty = ls.lastConfirmed
		ls.status = StatusError
		ls.statusMsg = "modified by a concurrent edit; line is now read-only"
		s.log.WithFields(logrus.Fields{
			"line_id": ls.line.LineID,
			"item":    ls.line.ItemCode,
		}).Warn("persistence conflict, line locked")
		s.recordAsync(Event{LineID: ls.line.LineID, Kind: EventPersistConflict, Quantity: ls.lastConfirmed})

	default:
		// Transient: keep the edit dirty so the operator's input survives
		ls.dirty = true
		ls.status = StatusError
		ls.statusMsg = err.Error()
		s.log.WithFields(logrus.Fields{
			"line_id": ls.line.LineID,
		}).WithError(err).Warn("persistence failed, edit retained")
		s.recordAsync(Event{LineID: ls.line.LineID, Kind: EventPersistError, Quantity: qty, Detail: err.Error()})
	}
}

// recordAsync journals without holding up the queue worker under s.mu
func (s *Session) recordAsync(e Event) {
	if s.cfg.Recorder == nil {
		return
	}
	go s.record(e)
}

func (s *Session) armSavedTimerLocked(ls *lineState) {
	gen := ls.statusGen
	time.AfterFunc(s.cfg.SavedDisplayTime, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ls.statusGen == gen && ls.status == StatusSaved {
			ls.status = StatusIdle
		}
	})
}

// ToggleNotFound optimistically flips the line's not-found flag and persists
// it keyed by count id and item code. A true flag makes the line managed by
// definition. The persistence call gets one automatic retry; when both
// attempts fail the flag reverts and the failure is reported.
func (s *Session) ToggleNotFound(lineID string, value bool) Outcome {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{Err: ErrSessionClosed}
	}
	ls, ok := s.lines[lineID]
	if !ok {
		s.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrUnknownLine, lineID)}
	}
	if ls.locked {
		s.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrLineLocked, lineID)}
	}

	prevValue := ls.line.NotFound
	prevManaged := ls.managed
	ls.line.NotFound = value
	if value {
		ls.managed = true
	}
	ls.status = StatusSaving
	ls.statusMsg = ""
	ls.statusGen++
	countID := ls.line.CountID
	itemCode := ls.line.ItemCode
	s.mu.Unlock()

	s.enqueue(ls, func() {
		err := s.cfg.NotFoundRetry.Do(context.Background(), func() error {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
			defer cancel()
			return s.persister.SetNotFound(ctx, countID, itemCode, value)
		})

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			ls.line.NotFound = prevValue
			ls.managed = prevManaged
			ls.status = StatusError
			ls.statusMsg = err.Error()
			s.log.WithFields(logrus.Fields{
				"line_id": lineID,
				"item":    itemCode,
			}).WithError(err).Warn("not-found toggle failed, reverted")
			return
		}
		ls.status = StatusSaved
		ls.statusMsg = ""
		s.armSavedTimerLocked(ls)
		s.recordAsync(Event{LineID: lineID, Kind: EventNotFound, Detail: fmt.Sprintf("not_found=%t", value)})
	})

	return Outcome{Applied: true}
}

// EditEntry feeds one keystroke's worth of the free-text decomposition fields
// (units, packages, balance). The combined total is units x packages +
// balance when package or balance are present, else units alone. Every call
// reschedules the line's single debounce timer; only the final fire persists,
// collapsing a keystroke burst into one write. Clearing all three fields
// schedules an explicit set-to-null instead of dropping the edit.
func (s *Session) EditEntry(lineID string, units, packages, balance *decimal.Decimal) Outcome {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{Err: ErrSessionClosed}
	}
	ls, ok := s.lines[lineID]
	if !ok {
		s.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrUnknownLine, lineID)}
	}
	if ls.locked {
		s.mu.Unlock()
		return Outcome{Err: fmt.Errorf("%w: %s", ErrLineLocked, lineID)}
	}

	var total *decimal.Decimal
	if units != nil || packages != nil || balance != nil {
		t := decimal.Zero
		if units != nil {
			t = *units
		}
		if packages != nil {
			t = t.Mul(*packages)
		}
		if balance != nil {
			t = t.Add(*balance)
		}
		if t.IsNegative() {
			t = decimal.Zero
		}
		total = &t
	}

	if ls.debounceTimer != nil {
		ls.debounceTimer.Stop()
	}
	ls.debounceGen++
	gen := ls.debounceGen
	ls.debounceTimer = time.AfterFunc(s.cfg.DebounceInterval, func() {
		s.debounceFire(lineID, gen, total)
	})
	s.mu.Unlock()

	return Outcome{Applied: true, Info: "entry scheduled"}
}

// debounceFire commits the last edit of a debounce window, unless a newer
// edit or a scan superseded it.
func (s *Session) debounceFire(lineID string, gen int, total *decimal.Decimal) {
	s.mu.Lock()
	ls, ok := s.lines[lineID]
	if !ok || ls.debounceGen != gen || ls.locked || s.closed {
		s.mu.Unlock()
		return
	}
	ls.debounceTimer = nil
	s.startSaveLocked(ls, total)
	s.mu.Unlock()

	s.record(Event{LineID: lineID, Kind: EventApply, Quantity: total, Detail: "debounced entry"})
	s.enqueue(ls, s.persistTask(ls, total))
}
