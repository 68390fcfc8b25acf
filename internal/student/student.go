package student

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Student is the minimal roster row the scan pipeline resolves against.
// Full student management is owned by an external collaborator.
type Student struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository reads students from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetByCode returns a student by roster code, nil when unknown.
func (r *Repository) GetByCode(ctx context.Context, code string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, email, created_at FROM students WHERE code = $1
	`, code)
	var s Student
	if err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Email, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListRecent returns the newest roster rows, for the ops view.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Student, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, name, email, created_at FROM students
		ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Email, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert ensures a roster row exists; used by seeding and imports.
func (r *Repository) Upsert(ctx context.Context, code, name string) error {
	if code == "" {
		return errors.New("student code required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (code, name)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
	`, code, name)
	return err
}
