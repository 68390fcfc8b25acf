package fraud

import (
	"context"
	"errors"
	"time"

	"checkin/internal/attendance"
	"checkin/internal/audit"
	"checkin/internal/auth"
)

// Severity levels, used only for prioritization; no transition depends on
// them.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert statuses. Confirmed and dismissed are terminal; investigating is an
// optional intermediate step.
const (
	StatusPending       = "pending"
	StatusInvestigating = "investigating"
	StatusConfirmed     = "confirmed"
	StatusDismissed     = "dismissed"
)

var (
	// ErrNotFound means no such alert.
	ErrNotFound = errors.New("fraud alert not found")
	// ErrBadTransition means the decision is not legal from the alert's
	// current status.
	ErrBadTransition = errors.New("illegal alert transition")
	// ErrInvalidDecision means the decision string is not a review status.
	ErrInvalidDecision = errors.New("invalid review decision")
)

// Alert is one flagged suspicious pattern awaiting administrative
// disposition. EvidenceKey identifies the underlying evidence so rescans
// over unchanged data create nothing new.
type Alert struct {
	ID          string     `json:"id"`
	EvidenceKey string     `json:"evidence_key"`
	Type        string     `json:"alert_type"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	StudentID   *int64     `json:"student_id,omitempty"`
	SessionID   *string    `json:"session_id,omitempty"`
	LogID       *string    `json:"log_id,omitempty"`
	Details     string     `json:"details"`
	Reviewer    auth.Actor `json:"reviewer,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// History is the read-only slice of attendance and audit data a scan
// evaluates. The batch scan only reads logs and audits and only appends
// alerts, so it is safe alongside live scan traffic.
type History struct {
	Logs   []attendance.Log
	Audits []audit.Entry
}

// Rule evaluates history into candidate alerts. New heuristics plug in
// without touching the scan/review pipeline.
type Rule interface {
	Name() string
	Evaluate(h History) []Alert
}

// HistoryReader loads the scan input.
type HistoryReader interface {
	History(ctx context.Context) (History, error)
}

// AlertStore persists alerts. InsertIfAbsent must dedupe on evidence key at
// the storage layer.
type AlertStore interface {
	InsertIfAbsent(ctx context.Context, a Alert) (bool, error)
	Get(ctx context.Context, id string) (*Alert, error)
	Transition(ctx context.Context, id, to string, allowedFrom []string, reviewer auth.Actor, notes string, at time.Time) (*Alert, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]Alert, error)
	CountPendingBySeverity(ctx context.Context) (map[string]int, error)
}

// ScanReport summarizes one batch run.
type ScanReport struct {
	Scanned       int `json:"scanned"`
	AlertsCreated int `json:"alerts_created"`
}

// BulkResult reports per-alert outcomes of a bulk review.
type BulkResult struct {
	Applied []string          `json:"applied"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Summary surfaces pending-alert counts for the operational dashboard.
type Summary struct {
	PendingBySeverity map[string]int `json:"pending_by_severity"`
	CriticalPending   int            `json:"critical_pending"`
}

// Detector runs the rule set over history and owns the review transitions.
type Detector struct {
	history HistoryReader
	alerts  AlertStore
	rules   []Rule
}

// NewDetector wires the batch detector. With no rules given the default set
// is installed.
func NewDetector(history HistoryReader, alerts AlertStore, rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Detector{history: history, alerts: alerts, rules: rules}
}

// RunFullScan evaluates every rule over the full history. Candidates whose
// evidence already has an alert are skipped.
func (d *Detector) RunFullScan(ctx context.Context) (ScanReport, error) {
	h, err := d.history.History(ctx)
	if err != nil {
		return ScanReport{}, err
	}
	report := ScanReport{Scanned: len(h.Logs)}
	for _, rule := range d.rules {
		for _, candidate := range rule.Evaluate(h) {
			candidate.Status = StatusPending
			candidate.CreatedAt = time.Now().UTC()
			created, err := d.alerts.InsertIfAbsent(ctx, candidate)
			if err != nil {
				return report, err
			}
			if created {
				report.AlertsCreated++
				alertsCreated.WithLabelValues(candidate.Type, candidate.Severity).Inc()
			}
		}
	}
	return report, nil
}

// Review applies an admin decision to one alert. Both pending→terminal and
// pending→investigating→terminal are legal.
func (d *Detector) Review(ctx context.Context, id, decision string, reviewer auth.Actor, notes string) (*Alert, error) {
	var allowedFrom []string
	switch decision {
	case StatusInvestigating:
		allowedFrom = []string{StatusPending}
	case StatusConfirmed, StatusDismissed:
		allowedFrom = []string{StatusPending, StatusInvestigating}
	default:
		return nil, ErrInvalidDecision
	}
	return d.alerts.Transition(ctx, id, decision, allowedFrom, reviewer, notes, time.Now().UTC())
}

// BulkReview applies one decision to a set of alert ids independently.
func (d *Detector) BulkReview(ctx context.Context, ids []string, decision string, reviewer auth.Actor, notes string) BulkResult {
	res := BulkResult{Failed: map[string]string{}}
	for _, id := range ids {
		if _, err := d.Review(ctx, id, decision, reviewer, notes); err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Applied = append(res.Applied, id)
	}
	if len(res.Failed) == 0 {
		res.Failed = nil
	}
	return res
}

// List returns alerts newest first, optionally filtered by status.
func (d *Detector) List(ctx context.Context, status string, limit int) ([]Alert, error) {
	return d.alerts.ListByStatus(ctx, status, limit)
}

// Summary returns pending counts by severity.
func (d *Detector) Summary(ctx context.Context) (Summary, error) {
	counts, err := d.alerts.CountPendingBySeverity(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{PendingBySeverity: counts, CriticalPending: counts[SeverityCritical]}, nil
}
