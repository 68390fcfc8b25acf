package store

import "database/sql"

// Migrate applies the schema. Uniqueness that the services rely on is
// enforced here, not in application code: one active session system-wide,
// one attendance log per (session, student), one fraud alert per evidence
// key, one meeting number per course.
func Migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS courses (
		id          BIGSERIAL PRIMARY KEY,
		code        TEXT UNIQUE NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		credits     INT NOT NULL DEFAULT 2,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS students (
		id          BIGSERIAL PRIMARY KEY,
		code        TEXT UNIQUE NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id              UUID PRIMARY KEY,
		course_id       BIGINT NOT NULL REFERENCES courses(id),
		meeting_number  INT NOT NULL,
		title           TEXT NOT NULL DEFAULT '',
		starts_at       TIMESTAMPTZ NOT NULL,
		ends_at         TIMESTAMPTZ NOT NULL,
		is_active       BOOLEAN NOT NULL DEFAULT FALSE,
		created_by      BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (course_id, meeting_number)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS one_active_session
		ON sessions ((TRUE)) WHERE is_active;

	CREATE TABLE IF NOT EXISTS session_tokens (
		id          UUID PRIMARY KEY,
		session_id  UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		code        TEXT NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_session ON session_tokens(session_id, expires_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tokens_code    ON session_tokens(code);

	CREATE TABLE IF NOT EXISTS attendance_logs (
		id           UUID PRIMARY KEY,
		session_id   UUID NOT NULL REFERENCES sessions(id),
		student_id   BIGINT NOT NULL REFERENCES students(id),
		token_id     UUID REFERENCES session_tokens(id),
		scanned_at   TIMESTAMPTZ NOT NULL,
		status       TEXT NOT NULL,
		distance_m   DOUBLE PRECISION NOT NULL DEFAULT 0,
		lat          DOUBLE PRECISION,
		lng          DOUBLE PRECISION,
		selfie_url   TEXT NOT NULL DEFAULT '',
		device_id    TEXT NOT NULL DEFAULT '',
		device_meta  TEXT NOT NULL DEFAULT '',
		note         TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, student_id)
	);
	CREATE INDEX IF NOT EXISTS idx_logs_student ON attendance_logs(student_id);
	CREATE INDEX IF NOT EXISTS idx_logs_device  ON attendance_logs(device_id);

	CREATE TABLE IF NOT EXISTS selfie_verifications (
		id            UUID PRIMARY KEY,
		log_id        UUID UNIQUE NOT NULL REFERENCES attendance_logs(id) ON DELETE CASCADE,
		status        TEXT NOT NULL DEFAULT 'pending',
		reviewer_kind TEXT NOT NULL DEFAULT '',
		reviewer_id   BIGINT NOT NULL DEFAULT 0,
		reviewed_at   TIMESTAMPTZ,
		reason        TEXT NOT NULL DEFAULT '',
		note          TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_selfies_status ON selfie_verifications(status, created_at DESC);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id          BIGSERIAL PRIMARY KEY,
		kind        TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		student_id  BIGINT,
		session_id  UUID,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_entries(kind, created_at DESC);

	CREATE TABLE IF NOT EXISTS fraud_alerts (
		id            UUID PRIMARY KEY,
		evidence_key  TEXT UNIQUE NOT NULL,
		alert_type    TEXT NOT NULL,
		severity      TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		student_id    BIGINT,
		session_id    UUID,
		log_id        UUID,
		details       TEXT NOT NULL DEFAULT '',
		reviewer_kind TEXT NOT NULL DEFAULT '',
		reviewer_id   BIGINT NOT NULL DEFAULT 0,
		reviewed_at   TIMESTAMPTZ,
		notes         TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON fraud_alerts(status, severity);

	CREATE TABLE IF NOT EXISTS settings (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	INSERT INTO settings (key, value) VALUES
		('token_ttl_seconds', '180'),
		('late_minutes', '10'),
		('selfie_required', 'false'),
		('geofence_lat', '0'),
		('geofence_lng', '0'),
		('geofence_radius_m', '100')
	ON CONFLICT (key) DO NOTHING;
	`
	_, err := db.Exec(schema)
	return err
}
