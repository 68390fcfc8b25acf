package attendance

import (
	"context"
	"errors"
	"time"
)

// Log status values. Rejected is reserved for failed verification; lateness
// never rejects on its own.
const (
	StatusPresent  = "present"
	StatusLate     = "late"
	StatusRejected = "rejected"
)

// ErrDuplicate means a log already exists for this (session, student) pair.
var ErrDuplicate = errors.New("attendance already recorded")

// Log is one recorded check-in. At most one exists per (session, student),
// enforced by the storage layer.
type Log struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	StudentID  int64     `json:"student_id"`
	TokenID    *string   `json:"token_id,omitempty"`
	ScannedAt  time.Time `json:"scanned_at"`
	Status     string    `json:"status"`
	DistanceM  float64   `json:"distance_meters"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	SelfieURL  string    `json:"selfie_url,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	DeviceMeta string    `json:"device_meta,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists attendance logs. Insert must enforce the (session, student)
// uniqueness at the storage layer; a check-then-insert race cannot be closed
// otherwise.
type Store interface {
	Insert(ctx context.Context, l Log) error
	Get(ctx context.Context, id string) (*Log, error)
	Find(ctx context.Context, sessionID string, studentID int64) (*Log, error)
	SetStatus(ctx context.Context, id, status string) error
	ListBySession(ctx context.Context, sessionID string) ([]Log, error)
}
