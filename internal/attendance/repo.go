package attendance

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore persists attendance logs in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const logCols = `id, session_id, student_id, token_id, scanned_at, status, distance_m, lat, lng, selfie_url, device_id, device_meta, note, created_at`

func scanLog(row interface{ Scan(...any) error }) (*Log, error) {
	var l Log
	err := row.Scan(&l.ID, &l.SessionID, &l.StudentID, &l.TokenID, &l.ScannedAt, &l.Status, &l.DistanceM,
		&l.Lat, &l.Lng, &l.SelfieURL, &l.DeviceID, &l.DeviceMeta, &l.Note, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// Insert writes a new log, mapping the unique-constraint conflict to
// ErrDuplicate.
func (p *PostgresStore) Insert(ctx context.Context, l Log) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_logs
			(id, session_id, student_id, token_id, scanned_at, status, distance_m, lat, lng, selfie_url, device_id, device_meta, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, l.ID, l.SessionID, l.StudentID, l.TokenID, l.ScannedAt, l.Status, l.DistanceM,
		l.Lat, l.Lng, l.SelfieURL, l.DeviceID, l.DeviceMeta, l.Note, l.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// Get returns a log by id, nil when missing.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Log, error) {
	return scanLog(p.db.QueryRowContext(ctx, `SELECT `+logCols+` FROM attendance_logs WHERE id = $1`, id))
}

// Find returns the log for (session, student), nil when none.
func (p *PostgresStore) Find(ctx context.Context, sessionID string, studentID int64) (*Log, error) {
	return scanLog(p.db.QueryRowContext(ctx, `
		SELECT `+logCols+` FROM attendance_logs WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID))
}

// SetStatus updates the log status after selfie review.
func (p *PostgresStore) SetStatus(ctx context.Context, id, status string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE attendance_logs SET status = $2 WHERE id = $1`, id, status)
	return err
}

// CountByStatus returns how many logs sit in each status, for the ops view.
func (p *PostgresStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM attendance_logs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListBySession returns the logs of one session newest first.
func (p *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Log, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+logCols+` FROM attendance_logs WHERE session_id = $1 ORDER BY scanned_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.SessionID, &l.StudentID, &l.TokenID, &l.ScannedAt, &l.Status, &l.DistanceM,
			&l.Lat, &l.Lng, &l.SelfieURL, &l.DeviceID, &l.DeviceMeta, &l.Note, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
