package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists audit entries in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append writes one entry.
func (p *PostgresStore) Append(ctx context.Context, e Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_entries (kind, message, student_id, session_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, e.Kind, e.Message, e.StudentID, e.SessionID, e.CreatedAt)
	return err
}

// List returns entries newest first, optionally filtered by kind.
func (p *PostgresStore) List(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, message, student_id, session_id, created_at FROM audit_entries`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + itoa(limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Message, &e.StudentID, &e.SessionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
