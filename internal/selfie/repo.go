package selfie

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkin/internal/auth"
)

// PostgresStore persists selfie verifications in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const verifCols = `id, log_id, status, reviewer_kind, reviewer_id, reviewed_at, reason, note, created_at`

func scanVerification(row interface{ Scan(...any) error }) (*Verification, error) {
	var v Verification
	var kind string
	err := row.Scan(&v.ID, &v.LogID, &v.Status, &kind, &v.Reviewer.ID, &v.ReviewedAt, &v.Reason, &v.Note, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v.Reviewer.Kind = auth.ActorKind(kind)
	return &v, nil
}

// Create opens a verification.
func (p *PostgresStore) Create(ctx context.Context, v Verification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO selfie_verifications (id, log_id, status, created_at)
		VALUES ($1,$2,$3,$4)
	`, v.ID, v.LogID, v.Status, v.CreatedAt)
	return err
}

// Get returns a verification by id, nil when missing.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Verification, error) {
	return scanVerification(p.db.QueryRowContext(ctx,
		`SELECT `+verifCols+` FROM selfie_verifications WHERE id = $1`, id))
}

// Resolve transitions pending to a terminal status in one guarded update.
func (p *PostgresStore) Resolve(ctx context.Context, id, status string, reviewer auth.Actor, reason, note string, at time.Time) (*Verification, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE selfie_verifications
		SET status = $2, reviewer_kind = $3, reviewer_id = $4, reviewed_at = $5, reason = $6, note = $7
		WHERE id = $1 AND status = 'pending'
		RETURNING `+verifCols+`
	`, id, status, string(reviewer.Kind), reviewer.ID, at, reason, note)

	v, err := scanVerification(row)
	if err != nil {
		return nil, err
	}
	if v == nil {
		existing, err := p.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyReviewed
	}
	return v, nil
}

// ListByStatus returns verifications newest first.
func (p *PostgresStore) ListByStatus(ctx context.Context, status string, limit int) ([]Verification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + verifCols + ` FROM selfie_verifications`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + itoa(limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		var kind string
		if err := rows.Scan(&v.ID, &v.LogID, &v.Status, &kind, &v.Reviewer.ID, &v.ReviewedAt, &v.Reason, &v.Note, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Reviewer.Kind = auth.ActorKind(kind)
		out = append(out, v)
	}
	return out, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
