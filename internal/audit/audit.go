package audit

import (
	"context"
	"log"
	"time"
)

// Event kinds written by the scan pipeline and auth layer.
const (
	KindTokenExpired   = "token_expired"
	KindTokenInvalid   = "token_invalid"
	KindTokenDuplicate = "token_duplicate"
	KindOutOfZone      = "geofence_violation"
	KindScanRecorded   = "scan_recorded"
	KindLoginFailed    = "login_failed"
)

// Entry is one append-only audit record. Entries are never mutated or
// deleted.
type Entry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	StudentID *int64    `json:"student_id,omitempty"`
	SessionID *string   `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store appends and reads audit entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, kind string, limit int) ([]Entry, error)
}

// Recorder is the write side handed to the scan pipeline. A failed append is
// logged and swallowed: the audit side channel must always be attempted but
// never aborts the primary operation.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends an entry.
func (r *Recorder) Record(ctx context.Context, kind, message string, studentID *int64, sessionID *string) {
	e := Entry{
		Kind:      kind,
		Message:   message,
		StudentID: studentID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Append(ctx, e); err != nil {
		log.Printf("audit append failed (kind=%s): %v", kind, err)
	}
}
