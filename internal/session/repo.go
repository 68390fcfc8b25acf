package session

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists sessions in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionCols = `id, course_id, meeting_number, title, starts_at, ends_at, is_active, created_by, created_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.CourseID, &s.MeetingNumber, &s.Title, &s.StartsAt, &s.EndsAt, &s.IsActive, &s.CreatedBy, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetCourse returns a course row, nil when missing.
func (p *PostgresStore) GetCourse(ctx context.Context, id int64) (*Course, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, code, title, credits FROM courses WHERE id = $1`, id)
	var c Course
	if err := row.Scan(&c.ID, &c.Code, &c.Title, &c.Credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// MeetingTaken reports whether the meeting number is already used.
func (p *PostgresStore) MeetingTaken(ctx context.Context, courseID int64, meetingNumber int) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sessions WHERE course_id = $1 AND meeting_number = $2)
	`, courseID, meetingNumber).Scan(&exists)
	return exists, err
}

// Insert writes a new session.
func (p *PostgresStore) Insert(ctx context.Context, s Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, course_id, meeting_number, title, starts_at, ends_at, is_active, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.CourseID, s.MeetingNumber, s.Title, s.StartsAt, s.EndsAt, s.IsActive, s.CreatedBy, s.CreatedAt)
	return err
}

// Get returns a session by id, nil when missing.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	return scanSession(p.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
}

// Active returns the active session, nil when none.
func (p *PostgresStore) Active(ctx context.Context) (*Session, error) {
	return scanSession(p.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE is_active LIMIT 1`))
}

// Activate deactivates every session and activates the given one inside a
// single transaction, so concurrent calls serialize on the partial unique
// index instead of racing.
func (p *PostgresStore) Activate(ctx context.Context, id string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_active = FALSE WHERE is_active`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET is_active = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Deactivate clears the active flag.
func (p *PostgresStore) Deactivate(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasLogs reports whether attendance logs reference the session.
func (p *PostgresStore) HasLogs(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance_logs WHERE session_id = $1)
	`, id).Scan(&exists)
	return exists, err
}

// Delete removes a session row.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByCourse returns the meetings of a course ordered by meeting number.
func (p *PostgresStore) ListByCourse(ctx context.Context, courseID int64) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionCols+` FROM sessions WHERE course_id = $1 ORDER BY meeting_number
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CourseID, &s.MeetingNumber, &s.Title, &s.StartsAt, &s.EndsAt, &s.IsActive, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
