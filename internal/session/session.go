package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Schedule status derived from the clock; is_active is a separate
// admin-controlled overlay.
const (
	StatusScheduled = "scheduled"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
)

var (
	// ErrInvalidMeeting means the meeting number is out of range for the
	// course or already taken.
	ErrInvalidMeeting = errors.New("invalid meeting number")
	// ErrInvalidWindow means the session ends before it starts.
	ErrInvalidWindow = errors.New("session end must be after start")
	// ErrHasHistory means attendance logs reference the session.
	ErrHasHistory = errors.New("session has attendance history")
	// ErrNotFound means no such session.
	ErrNotFound = errors.New("session not found")
)

// Course is the slice of course data the session manager needs.
type Course struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Title   string `json:"title"`
	Credits int    `json:"credits"`
}

// MaxMeetings is the meeting-number ceiling for a course: 21 meetings for a
// 3-credit course, 14 otherwise.
func MaxMeetings(credits int) int {
	if credits == 3 {
		return 21
	}
	return 14
}

// Session is one scheduled course meeting.
type Session struct {
	ID            string    `json:"id"`
	CourseID      int64     `json:"course_id"`
	MeetingNumber int       `json:"meeting_number"`
	Title         string    `json:"title"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	IsActive      bool      `json:"is_active"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// ScheduleStatus derives the time-based status at the given instant.
func (s Session) ScheduleStatus(now time.Time) string {
	if s.StartsAt.After(now) {
		return StatusScheduled
	}
	if s.EndsAt.Before(now) {
		return StatusCompleted
	}
	return StatusOngoing
}

// Store persists sessions. Activate must be atomic: performed as two
// independent writes it can transiently leave zero or two active sessions.
type Store interface {
	GetCourse(ctx context.Context, id int64) (*Course, error)
	MeetingTaken(ctx context.Context, courseID int64, meetingNumber int) (bool, error)
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Active(ctx context.Context) (*Session, error)
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	HasLogs(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	ListByCourse(ctx context.Context, courseID int64) ([]Session, error)
}

// Service owns session scheduling and the single-active-session invariant.
type Service struct {
	store Store
}

// NewService creates a service backed by a store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create schedules a new meeting for a course.
func (s *Service) Create(ctx context.Context, courseID int64, meetingNumber int, title string, start, end time.Time, createdBy int64) (Session, error) {
	if !end.After(start) {
		return Session{}, ErrInvalidWindow
	}
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return Session{}, err
	}
	if course == nil {
		return Session{}, ErrNotFound
	}
	if meetingNumber < 1 || meetingNumber > MaxMeetings(course.Credits) {
		return Session{}, ErrInvalidMeeting
	}
	taken, err := s.store.MeetingTaken(ctx, courseID, meetingNumber)
	if err != nil {
		return Session{}, err
	}
	if taken {
		return Session{}, ErrInvalidMeeting
	}

	sess := Session{
		ID:            uuid.NewString(),
		CourseID:      courseID,
		MeetingNumber: meetingNumber,
		Title:         title,
		StartsAt:      start.UTC(),
		EndsAt:        end.UTC(),
		CreatedBy:     createdBy,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Activate makes this the single active session, deactivating all others in
// one transition.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.store.Activate(ctx, id)
}

// Deactivate clears is_active unconditionally.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.store.Deactivate(ctx, id)
}

// Destroy deletes a session that has no attendance history.
func (s *Service) Destroy(ctx context.Context, id string) error {
	has, err := s.store.HasLogs(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return ErrHasHistory
	}
	return s.store.Delete(ctx, id)
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// Active returns the currently active session, nil when none.
func (s *Service) Active(ctx context.Context) (*Session, error) {
	return s.store.Active(ctx)
}

// ListByCourse returns the meetings of a course ordered by number.
func (s *Service) ListByCourse(ctx context.Context, courseID int64) ([]Session, error) {
	return s.store.ListByCourse(ctx, courseID)
}
