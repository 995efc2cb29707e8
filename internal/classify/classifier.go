// Package classify decides whether the scan-entry field is being driven by a
// hardware scanner burst or by a human typing. The engine has no access to the
// originating device, only to the sequence of value changes and their timing,
// so the decision is a timing heuristic with hysteresis.
//
// The classification gates two behaviors downstream: whether an auto-submit
// debounce is armed after a keystroke burst, and whether completing a scan may
// move focus into the results table. Scanner-confirmed operations must never
// hand focus to a quantity cell, because that would itself start a conflicting
// edit.
package classify

import "time"

// Source is the classified origin of scan-field input
type Source string

const (
	// SourceScanner indicates keystrokes injected by a hardware scanner
	SourceScanner Source = "scanner"
	// SourceManual indicates a human typing
	SourceManual Source = "manual"
)

// Config holds the timing thresholds. The defaults match common
// keyboard-wedge scanners; hardware varies, so both are overridable.
type Config struct {
	// ScannerMaxInterval is the largest inter-keystroke gap still attributed
	// to a scanner burst
	ScannerMaxInterval time.Duration
	// ManualMinInterval is the smallest gap attributed to human typing.
	// Gaps between the two thresholds leave the mode unchanged.
	ManualMinInterval time.Duration
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		ScannerMaxInterval: 45 * time.Millisecond,
		ManualMinInterval:  140 * time.Millisecond,
	}
}

// Classifier is a pure state machine over (timestamp, length delta) pairs.
// It is not safe for concurrent use; the scan field is a single input surface.
type Classifier struct {
	cfg      Config
	source   Source
	lastSeen time.Time
	seeded   bool
}

// New creates a classifier starting in manual mode
func New(cfg Config) *Classifier {
	if cfg.ScannerMaxInterval <= 0 {
		cfg.ScannerMaxInterval = DefaultConfig().ScannerMaxInterval
	}
	if cfg.ManualMinInterval <= 0 {
		cfg.ManualMinInterval = DefaultConfig().ManualMinInterval
	}
	return &Classifier{cfg: cfg, source: SourceManual}
}

// Observe feeds one value change of the scan field: when it happened and how
// many characters were added. It returns the mode after the transition.
//
// A multi-character delta is a burst pasted in one tick and always means
// scanner. Otherwise the inter-change gap decides: at or under the scanner
// ceiling means scanner, at or over the manual floor means manual, and gaps in
// between keep the current mode (hysteresis).
func (c *Classifier) Observe(at time.Time, lengthDelta int) Source {
	defer func() {
		c.lastSeen = at
		c.seeded = true
	}()

	if lengthDelta > 1 {
		c.source = SourceScanner
		return c.source
	}
	if !c.seeded {
		return c.source
	}

	gap := at.Sub(c.lastSeen)
	switch {
	case gap <= c.cfg.ScannerMaxInterval:
		c.source = SourceScanner
	case gap >= c.cfg.ManualMinInterval:
		c.source = SourceManual
	}
	return c.source
}

// ForceManual pins the mode to manual. Called when focus or pointer activity
// lands on any other editable control.
func (c *Classifier) ForceManual() {
	c.source = SourceManual
}

// ForceScanner pins the mode to scanner. Called on a confirmed Enter-submit
// of the scan field.
func (c *Classifier) ForceScanner() {
	c.source = SourceScanner
}

// Source returns the current mode
func (c *Classifier) Source() Source {
	return c.source
}

// AutoSubmitArmed reports whether an auto-submit debounce timer should be
// armed after the current burst
func (c *Classifier) AutoSubmitArmed() bool {
	return c.source == SourceScanner
}

// AllowFocusSteal reports whether completing a scan may move focus into the
// results table. Scanner-confirmed input must not.
func (c *Classifier) AllowFocusSteal() bool {
	return c.source == SourceManual
}
