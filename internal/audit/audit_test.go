package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	entries   []Entry
	appendErr error
}

func (m *memoryStore) Append(_ context.Context, e Entry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryStore) List(_ context.Context, kind string, _ int) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRecordAppendsEntry(t *testing.T) {
	store := &memoryStore{}
	rec := NewRecorder(store)

	studentID := int64(7)
	sessionID := "sess-1"
	rec.Record(context.Background(), KindOutOfZone, "scan 250m from center", &studentID, &sessionID)

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.Equal(t, KindOutOfZone, e.Kind)
	require.NotNil(t, e.StudentID)
	assert.Equal(t, int64(7), *e.StudentID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestRecordSwallowsAppendFailure(t *testing.T) {
	store := &memoryStore{appendErr: errors.New("db down")}
	rec := NewRecorder(store)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), KindScanRecorded, "student checked in", nil, nil)
	})
	assert.Empty(t, store.entries)
}
