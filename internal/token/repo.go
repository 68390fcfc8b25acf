package token

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists tokens in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Issue implements the issue/rotate transaction. The session row is locked
// FOR UPDATE so concurrent issuers serialize instead of double-minting.
func (p *PostgresStore) Issue(ctx context.Context, sessionID string, force bool, candidate Token) (Token, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Token{}, err
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_active FROM sessions WHERE id = $1 FOR UPDATE
	`, sessionID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrSessionInactive
		}
		return Token{}, err
	}
	if !active {
		return Token{}, ErrSessionInactive
	}

	now := time.Now().UTC()
	if force {
		if _, err := tx.ExecContext(ctx, `
			UPDATE session_tokens SET expires_at = $2
			WHERE session_id = $1 AND expires_at > $2
		`, sessionID, now); err != nil {
			return Token{}, err
		}
	} else {
		var current Token
		err := tx.QueryRowContext(ctx, `
			SELECT id, session_id, code, expires_at, created_at
			FROM session_tokens
			WHERE session_id = $1 AND expires_at > $2
			ORDER BY created_at DESC
			LIMIT 1
		`, sessionID, now).Scan(&current.ID, &current.SessionID, &current.Code, &current.ExpiresAt, &current.CreatedAt)
		if err == nil {
			return current, tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Token{}, err
		}
	}

	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_tokens (id, session_id, code, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, candidate.ID, candidate.SessionID, candidate.Code, candidate.ExpiresAt, candidate.CreatedAt); err != nil {
		return Token{}, err
	}
	return candidate, tx.Commit()
}

// FindByCode returns the newest token carrying this code, nil when unknown.
func (p *PostgresStore) FindByCode(ctx context.Context, code string) (*Token, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, session_id, code, expires_at, created_at
		FROM session_tokens
		WHERE code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, code)
	var t Token
	if err := row.Scan(&t.ID, &t.SessionID, &t.Code, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
