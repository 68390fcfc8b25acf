package selfie

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"checkin/internal/attendance"
	"checkin/internal/auth"
)

// Review states. Approved and rejected are terminal; a resolved item cannot
// be re-reviewed.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var (
	// ErrNotFound means no such verification.
	ErrNotFound = errors.New("selfie verification not found")
	// ErrAlreadyReviewed means the verification left pending already.
	ErrAlreadyReviewed = errors.New("selfie verification already reviewed")
)

// Verification is the human review attached to one attendance log.
type Verification struct {
	ID         string     `json:"id"`
	LogID      string     `json:"log_id"`
	Status     string     `json:"status"`
	Reviewer   auth.Actor `json:"reviewer,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store persists verifications. Resolve must transition pending to the
// target status atomically so two reviewers cannot both win.
type Store interface {
	Create(ctx context.Context, v Verification) error
	Get(ctx context.Context, id string) (*Verification, error)
	Resolve(ctx context.Context, id, status string, reviewer auth.Actor, reason, note string, at time.Time) (*Verification, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]Verification, error)
}

// BulkResult reports per-item outcomes of a bulk review; one failure never
// blocks the rest.
type BulkResult struct {
	Applied []string          `json:"applied"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Service runs the review workflow and writes decisions back into the
// linked attendance log.
type Service struct {
	store Store
	logs  attendance.Store
}

// NewService creates the workflow.
func NewService(store Store, logs attendance.Store) *Service {
	return &Service{store: store, logs: logs}
}

// CreatePending opens a pending review for a freshly written log.
func (s *Service) CreatePending(ctx context.Context, logID string) error {
	return s.store.Create(ctx, Verification{
		ID:        uuid.NewString(),
		LogID:     logID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	})
}

// Review resolves one pending verification. Approval finalizes the log as
// present, rejection as rejected.
func (s *Service) Review(ctx context.Context, id string, approve bool, reviewer auth.Actor, reason, note string) (*Verification, error) {
	status := StatusRejected
	logStatus := attendance.StatusRejected
	if approve {
		status = StatusApproved
		logStatus = attendance.StatusPresent
	}

	v, err := s.store.Resolve(ctx, id, status, reviewer, reason, note, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.logs.SetStatus(ctx, v.LogID, logStatus); err != nil {
		return nil, err
	}
	return v, nil
}

// BulkReview applies the same decision to each id independently.
func (s *Service) BulkReview(ctx context.Context, ids []string, approve bool, reviewer auth.Actor, reason, note string) BulkResult {
	res := BulkResult{Failed: map[string]string{}}
	for _, id := range ids {
		if _, err := s.Review(ctx, id, approve, reviewer, reason, note); err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Applied = append(res.Applied, id)
	}
	if len(res.Failed) == 0 {
		res.Failed = nil
	}
	return res
}

// Queue lists verifications newest first, optionally filtered by status.
func (s *Service) Queue(ctx context.Context, status string, limit int) ([]Verification, error) {
	return s.store.ListByStatus(ctx, status, limit)
}
