package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvidal/conteo/internal/capture"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "conteo", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndQueryRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	qty := decimal.NewFromInt(5)
	require.NoError(t, j.Record(ctx, Entry{
		Session:  "s1",
		LineID:   "l1",
		Kind:     KindApply,
		Quantity: &qty,
	}))
	require.NoError(t, j.Record(ctx, Entry{
		Session: "s1",
		LineID:  "l1",
		Kind:    KindPersistOK,
		At:      time.Now().UTC().Add(time.Second),
	}))
	require.NoError(t, j.Record(ctx, Entry{
		Session: "s2",
		Kind:    KindScan,
		Detail:  "12345665432111223307",
	}))

	entries, err := j.Entries(ctx, Filter{Session: "s1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindApply, entries[0].Kind)
	require.NotNil(t, entries[0].Quantity)
	assert.True(t, entries[0].Quantity.Equal(qty))
	assert.Equal(t, KindPersistOK, entries[1].Kind)
	assert.Nil(t, entries[1].Quantity)

	byKind, err := j.Entries(ctx, Filter{Kind: KindScan})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "12345665432111223307", byKind[0].Detail)

	limited, err := j.Entries(ctx, Filter{Session: "s1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordValidation(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	assert.Error(t, j.Record(ctx, Entry{Session: "s1"}), "kind is required")
	assert.Error(t, j.Record(ctx, Entry{Kind: KindScan}), "session is required")
}

func TestCaptureRecorderMapsKinds(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	rec := NewCaptureRecorder(j, "sess-9")

	qty := decimal.NewFromInt(3)
	require.NoError(t, rec.RecordCapture(ctx, capture.Event{
		LineID:   "l1",
		Kind:     capture.EventPersistConflict,
		Quantity: &qty,
	}))

	entries, err := j.Entries(ctx, Filter{Session: "sess-9"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindPersistConflict, entries[0].Kind)
	assert.Equal(t, "l1", entries[0].LineID)
}
