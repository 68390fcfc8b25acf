package fraud

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"checkin/internal/attendance"
	"checkin/internal/audit"
	"checkin/internal/auth"
)

// PostgresStore persists alerts and reads scan history from Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) History(ctx context.Context) (History, error) {
	var h History
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, scanned_at, status, distance_m,
		       lat, lng, device_id
		FROM attendance_logs ORDER BY scanned_at ASC`)
	if err != nil {
		return h, err
	}
	defer rows.Close()
	for rows.Next() {
		var l attendance.Log
		if err := rows.Scan(&l.ID, &l.SessionID, &l.StudentID, &l.ScannedAt,
			&l.Status, &l.DistanceM, &l.Lat, &l.Lng, &l.DeviceID); err != nil {
			return h, err
		}
		h.Logs = append(h.Logs, l)
	}
	if err := rows.Err(); err != nil {
		return h, err
	}

	arows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, message, student_id, session_id, created_at
		FROM audit_entries WHERE kind = $1 ORDER BY created_at ASC`, audit.KindOutOfZone)
	if err != nil {
		return h, err
	}
	defer arows.Close()
	for arows.Next() {
		var e audit.Entry
		if err := arows.Scan(&e.ID, &e.Kind, &e.Message, &e.StudentID, &e.SessionID, &e.CreatedAt); err != nil {
			return h, err
		}
		h.Audits = append(h.Audits, e)
	}
	return h, arows.Err()
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, a Alert) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_alerts
			(id, evidence_key, alert_type, severity, status, student_id, session_id, log_id, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (evidence_key) DO NOTHING`,
		uuid.NewString(), a.EvidenceKey, a.Type, a.Severity, a.Status,
		a.StudentID, a.SessionID, a.LogID, a.Details, a.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, evidence_key, alert_type, severity, status, student_id, session_id, log_id,
		       details, reviewer_kind, reviewer_id, reviewed_at, notes, created_at
		FROM fraud_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Transition is a guarded update: the status change only lands when the
// alert is still in one of the allowed source states. Concurrent reviewers
// cannot both win.
func (s *PostgresStore) Transition(ctx context.Context, id, to string, allowedFrom []string, reviewer auth.Actor, notes string, at time.Time) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE fraud_alerts
		SET status = $2, reviewer_kind = $3, reviewer_id = $4, reviewed_at = $5, notes = $6
		WHERE id = $1 AND status = ANY($7)
		RETURNING id, evidence_key, alert_type, severity, status, student_id, session_id, log_id,
		          details, reviewer_kind, reviewer_id, reviewed_at, notes, created_at`,
		id, to, string(reviewer.Kind), reviewer.ID, at, notes, allowedFrom)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrBadTransition
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, evidence_key, alert_type, severity, status, student_id, session_id, log_id,
		       details, reviewer_kind, reviewer_id, reviewed_at, notes, created_at
		FROM fraud_alerts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountPendingBySeverity(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM fraud_alerts
		WHERE status = 'pending' GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		counts[sev] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var reviewerKind string
	if err := row.Scan(&a.ID, &a.EvidenceKey, &a.Type, &a.Severity, &a.Status,
		&a.StudentID, &a.SessionID, &a.LogID, &a.Details,
		&reviewerKind, &a.Reviewer.ID, &a.ReviewedAt, &a.Notes, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Reviewer.Kind = auth.ActorKind(reviewerKind)
	return &a, nil
}
