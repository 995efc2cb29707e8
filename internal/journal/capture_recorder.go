package journal

import (
	"context"

	"github.com/mvidal/conteo/internal/capture"
)

// CaptureRecorder adapts the journal to the capture session's Recorder port,
// stamping every event with the owning session id.
type CaptureRecorder struct {
	journal *Journal
	session string
}

// NewCaptureRecorder wraps a journal for one capture session
func NewCaptureRecorder(j *Journal, sessionID string) *CaptureRecorder {
	return &CaptureRecorder{journal: j, session: sessionID}
}

var kindByEvent = map[capture.EventKind]Kind{
	capture.EventApply:           KindApply,
	capture.EventPersistOK:       KindPersistOK,
	capture.EventPersistConflict: KindPersistConflict,
	capture.EventPersistError:    KindPersistError,
	capture.EventNotFound:        KindNotFound,
}

// RecordCapture implements capture.Recorder
func (r *CaptureRecorder) RecordCapture(ctx context.Context, e capture.Event) error {
	kind, ok := kindByEvent[e.Kind]
	if !ok {
		kind = Kind(e.Kind)
	}
	return r.journal.Record(ctx, Entry{
		Session:  r.session,
		LineID:   e.LineID,
		Kind:     kind,
		Detail:   e.Detail,
		Quantity: e.Quantity,
	})
}
