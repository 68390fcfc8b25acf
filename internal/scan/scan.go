package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"checkin/internal/attendance"
	"checkin/internal/audit"
	"checkin/internal/detector"
	"checkin/internal/geo"
	"checkin/internal/imagestore"
	"checkin/internal/session"
	"checkin/internal/settings"
	"checkin/internal/student"
	"checkin/internal/token"
)

// Outcome discriminates the result of a scan submission. Every expected
// business condition is an outcome, not an error.
type Outcome string

const (
	OutcomeNoSession     Outcome = "no_session"
	OutcomeSessionClosed Outcome = "session_closed"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeTokenInvalid  Outcome = "token_invalid"
	OutcomeNoDetection   Outcome = "no_detection"
	OutcomeServiceError  Outcome = "service_error"
	OutcomeMaintenance   Outcome = "maintenance"
	OutcomeRecorded      Outcome = "recorded"
)

// Result is the discriminated response of a check-in attempt. Log is set
// only on OutcomeRecorded.
type Result struct {
	Outcome       Outcome         `json:"outcome"`
	Message       string          `json:"message"`
	Log           *attendance.Log `json:"log,omitempty"`
	SelfiePending bool            `json:"selfie_pending,omitempty"`
}

// Geolocation is the coordinate pair reported by the scanning device.
type Geolocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TokenScan is a QR-token check-in submission.
type TokenScan struct {
	StudentCode string
	Token       string
	Location    *Geolocation
	DeviceID    string
	DeviceMeta  string
	SelfieData  string // optional base64 data URL
}

// ImageScan is a camera-frame check-in operated by staff.
type ImageScan struct {
	StudentCode string
	Image       []byte
	Filename    string
	Location    *Geolocation
	DeviceID    string
	DeviceMeta  string
}

// Sessions resolves the active session.
type Sessions interface {
	Active(ctx context.Context) (*session.Session, error)
}

// Tokens resolves presented token codes.
type Tokens interface {
	Lookup(ctx context.Context, code string) (*token.Token, error)
}

// Students resolves roster codes.
type Students interface {
	GetByCode(ctx context.Context, code string) (*student.Student, error)
}

// Verifications opens pending selfie reviews for new logs.
type Verifications interface {
	CreatePending(ctx context.Context, logID string) error
}

// Detector classifies camera frames.
type Detector interface {
	Detect(ctx context.Context, image []byte, filename string, confidence float64) (*detector.Result, error)
}

// Config supplies the settings snapshot; satisfied by settings.Store.
type Config interface {
	Load(ctx context.Context) (settings.Snapshot, error)
}

// Uploader stores selfie images; satisfied by imagestore.Client.
type Uploader interface {
	UploadSelfie(data string) (*imagestore.UploadResult, error)
}

// DetectorOptions are the server-side knobs of the camera path.
type DetectorOptions struct {
	MinConfidence float64
	Label         string
	Maintenance   bool
}

// Service runs the check-in validation pipeline for both ingress paths.
type Service struct {
	sessions      Sessions
	students      Students
	tokens        Tokens
	logs          attendance.Store
	verifications Verifications
	auditor       *audit.Recorder
	cfg           Config
	det           Detector
	detOpts       DetectorOptions
	uploader      Uploader // nil when image storage is not configured

	now func() time.Time
}

// NewService wires the validator.
func NewService(sessions Sessions, students Students, tokens Tokens, logs attendance.Store,
	verifications Verifications, auditor *audit.Recorder, cfg Config,
	det Detector, detOpts DetectorOptions, uploader Uploader) *Service {
	return &Service{
		sessions:      sessions,
		students:      students,
		tokens:        tokens,
		logs:          logs,
		verifications: verifications,
		auditor:       auditor,
		cfg:           cfg,
		det:           det,
		detOpts:       detOpts,
		uploader:      uploader,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CheckInToken validates a QR-token scan.
func (s *Service) CheckInToken(ctx context.Context, req TokenScan) (Result, error) {
	res, err := s.checkIn(ctx, req.StudentCode, req.Location, req.DeviceID, req.DeviceMeta, req.SelfieData,
		func(ctx context.Context, sess *session.Session) (*string, string, *Result) {
			return s.resolveToken(ctx, sess, req.Token)
		})
	scansTotal.WithLabelValues("token", string(res.Outcome)).Inc()
	return res, err
}

// CheckInImage validates a camera-frame scan through the external detector.
func (s *Service) CheckInImage(ctx context.Context, req ImageScan) (Result, error) {
	if s.detOpts.Maintenance {
		res := Result{Outcome: OutcomeMaintenance, Message: "camera check-in is temporarily disabled"}
		scansTotal.WithLabelValues("image", string(res.Outcome)).Inc()
		return res, nil
	}
	res, err := s.checkIn(ctx, req.StudentCode, req.Location, req.DeviceID, req.DeviceMeta, "",
		func(ctx context.Context, sess *session.Session) (*string, string, *Result) {
			return s.resolveDetection(ctx, req.Image, req.Filename)
		})
	scansTotal.WithLabelValues("image", string(res.Outcome)).Inc()
	return res, err
}

// resolve is the path-specific half of the pipeline. It returns the token id
// to record (nil for camera scans), a note for the log, or a short-circuit
// result.
type resolveFunc func(ctx context.Context, sess *session.Session) (tokenID *string, note string, early *Result)

func (s *Service) checkIn(ctx context.Context, studentCode string, loc *Geolocation,
	deviceID, deviceMeta, selfieData string, resolve resolveFunc) (Result, error) {

	snap, err := s.cfg.Load(ctx)
	if err != nil {
		return Result{Outcome: OutcomeServiceError, Message: "settings unavailable"}, err
	}

	sess, err := s.sessions.Active(ctx)
	if err != nil {
		return Result{Outcome: OutcomeServiceError, Message: "session lookup failed"}, err
	}
	if sess == nil {
		return Result{Outcome: OutcomeNoSession, Message: "no active session"}, nil
	}

	now := s.now()
	if sess.EndsAt.Before(now) {
		return Result{Outcome: OutcomeSessionClosed, Message: "session already ended"}, nil
	}

	stu, err := s.students.GetByCode(ctx, studentCode)
	if err != nil {
		return Result{Outcome: OutcomeServiceError, Message: "student lookup failed"}, err
	}
	if stu == nil {
		return Result{Outcome: OutcomeNotFound, Message: "student not found"}, nil
	}

	existing, err := s.logs.Find(ctx, sess.ID, stu.ID)
	if err != nil {
		return Result{Outcome: OutcomeServiceError, Message: "attendance lookup failed"}, err
	}
	if existing != nil {
		return Result{Outcome: OutcomeDuplicate, Message: "attendance already recorded", Log: existing}, nil
	}

	tokenID, note, early := resolve(ctx, sess)
	if early != nil {
		return *early, nil
	}

	var distance float64
	var lat, lng *float64
	if loc != nil {
		distance = geo.DistanceMeters(loc.Lat, loc.Lng, snap.Geofence.Lat, snap.Geofence.Lng)
		lat, lng = &loc.Lat, &loc.Lng
		if distance > snap.Geofence.RadiusM {
			// Flag only. The time-based status stands; follow-up is manual.
			s.auditor.Record(ctx, audit.KindOutOfZone,
				fmt.Sprintf("scan %.0fm from center (radius %.0fm)", distance, snap.Geofence.RadiusM),
				&stu.ID, &sess.ID)
		}
	}

	status := attendance.StatusPresent
	if now.After(sess.StartsAt.Add(snap.LateGrace)) {
		status = attendance.StatusLate
	}

	selfieURL := ""
	if selfieData != "" && s.uploader != nil {
		if up, err := s.uploader.UploadSelfie(selfieData); err != nil {
			log.Printf("selfie upload failed for student %d: %v", stu.ID, err)
		} else {
			selfieURL = up.SecureURL
		}
	}

	entry := attendance.Log{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		StudentID:  stu.ID,
		TokenID:    tokenID,
		ScannedAt:  now,
		Status:     status,
		DistanceM:  distance,
		Lat:        lat,
		Lng:        lng,
		SelfieURL:  selfieURL,
		DeviceID:   deviceID,
		DeviceMeta: deviceMeta,
		Note:       note,
		CreatedAt:  now,
	}
	if err := s.logs.Insert(ctx, entry); err != nil {
		if errors.Is(err, attendance.ErrDuplicate) {
			// Lost the race against an identical submission; same answer.
			return Result{Outcome: OutcomeDuplicate, Message: "attendance already recorded"}, nil
		}
		return Result{Outcome: OutcomeServiceError, Message: "attendance write failed"}, err
	}

	selfiePending := false
	if snap.SelfieRequired {
		if err := s.verifications.CreatePending(ctx, entry.ID); err != nil {
			log.Printf("selfie verification open failed for log %s: %v", entry.ID, err)
		} else {
			selfiePending = true
		}
	}

	s.auditor.Record(ctx, audit.KindScanRecorded,
		fmt.Sprintf("student %s checked in as %s", stu.Code, status), &stu.ID, &sess.ID)

	return Result{
		Outcome:       OutcomeRecorded,
		Message:       "attendance recorded",
		Log:           &entry,
		SelfiePending: selfiePending,
	}, nil
}

func (s *Service) resolveToken(ctx context.Context, sess *session.Session, code string) (*string, string, *Result) {
	tok, err := s.tokens.Lookup(ctx, code)
	if err != nil {
		return nil, "", &Result{Outcome: OutcomeServiceError, Message: "token lookup failed"}
	}
	now := s.now()
	switch {
	case tok == nil:
		s.auditor.Record(ctx, audit.KindTokenInvalid, "unknown token presented", nil, &sess.ID)
		return nil, "", &Result{Outcome: OutcomeTokenInvalid, Message: "token not recognized"}
	case tok.SessionID != sess.ID:
		s.auditor.Record(ctx, audit.KindTokenDuplicate, "token from another session presented", nil, &sess.ID)
		return nil, "", &Result{Outcome: OutcomeTokenInvalid, Message: "token not valid for this session"}
	case !tok.Valid(now):
		s.auditor.Record(ctx, audit.KindTokenExpired, "expired token presented", nil, &sess.ID)
		return nil, "", &Result{Outcome: OutcomeTokenInvalid, Message: "token expired"}
	}
	return &tok.ID, "", nil
}

func (s *Service) resolveDetection(ctx context.Context, image []byte, filename string) (*string, string, *Result) {
	res, err := s.det.Detect(ctx, image, filename, s.detOpts.MinConfidence)
	if err != nil {
		// Timeout or non-2xx fails closed; it is never "no detection".
		return nil, "", &Result{Outcome: OutcomeServiceError, Message: fmt.Sprintf("detector unavailable: %v", err)}
	}
	best := res.Best(s.detOpts.Label)
	if best == nil || best.Confidence < s.detOpts.MinConfidence {
		return nil, "", &Result{Outcome: OutcomeNoDetection, Message: "no qualifying detection, retry"}
	}
	note := fmt.Sprintf("detector=%s class=%s confidence=%.2f", res.Model, best.ClassName, best.Confidence)
	return nil, note, nil
}
