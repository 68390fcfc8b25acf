package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/attendance"
	"checkin/internal/audit"
	"checkin/internal/auth"
)

type memoryAlerts struct {
	byKey map[string]*Alert
}

func newMemoryAlerts() *memoryAlerts {
	return &memoryAlerts{byKey: map[string]*Alert{}}
}

func (m *memoryAlerts) InsertIfAbsent(_ context.Context, a Alert) (bool, error) {
	if _, ok := m.byKey[a.EvidenceKey]; ok {
		return false, nil
	}
	a.ID = uuid.NewString()
	copied := a
	m.byKey[a.EvidenceKey] = &copied
	return true, nil
}

func (m *memoryAlerts) Get(_ context.Context, id string) (*Alert, error) {
	for _, a := range m.byKey {
		if a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryAlerts) Transition(_ context.Context, id, to string, allowedFrom []string, reviewer auth.Actor, notes string, at time.Time) (*Alert, error) {
	for _, a := range m.byKey {
		if a.ID != id {
			continue
		}
		legal := false
		for _, from := range allowedFrom {
			if a.Status == from {
				legal = true
			}
		}
		if !legal {
			return nil, ErrBadTransition
		}
		a.Status = to
		a.Reviewer = reviewer
		a.ReviewedAt = &at
		a.Notes = notes
		copied := *a
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (m *memoryAlerts) ListByStatus(_ context.Context, status string, _ int) ([]Alert, error) {
	var out []Alert
	for _, a := range m.byKey {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memoryAlerts) CountPendingBySeverity(_ context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for _, a := range m.byKey {
		if a.Status == StatusPending {
			counts[a.Severity]++
		}
	}
	return counts, nil
}

type fixedHistory struct {
	h History
}

func (f fixedHistory) History(context.Context) (History, error) { return f.h, nil }

func ptr[T any](v T) *T { return &v }

func logAt(id string, student int64, device string, at time.Time, lat, lng float64) attendance.Log {
	return attendance.Log{
		ID:        id,
		SessionID: "sess-1",
		StudentID: student,
		DeviceID:  device,
		ScannedAt: at,
		Lat:       ptr(lat),
		Lng:       ptr(lng),
	}
}

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// ---------- rules ----------

func TestDuplicateDeviceRule(t *testing.T) {
	rule := DuplicateDeviceRule{MinStudents: 3}
	h := History{Logs: []attendance.Log{
		{ID: "a", StudentID: 1, DeviceID: "phone-1"},
		{ID: "b", StudentID: 2, DeviceID: "phone-1"},
		{ID: "c", StudentID: 3, DeviceID: "phone-1"},
		{ID: "d", StudentID: 4, DeviceID: "phone-2"},
		{ID: "e", StudentID: 5, DeviceID: ""},
		{ID: "f", StudentID: 6, DeviceID: ""},
		{ID: "g", StudentID: 7, DeviceID: ""},
	}}
	alerts := rule.Evaluate(h)
	require.Len(t, alerts, 1)
	assert.Equal(t, "duplicate_device:phone-1", alerts[0].EvidenceKey)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "duplicate_device_across_students", alerts[0].Type)
}

func TestDuplicateDeviceRuleSameStudentRepeats(t *testing.T) {
	rule := DuplicateDeviceRule{MinStudents: 3}
	h := History{Logs: []attendance.Log{
		{ID: "a", StudentID: 1, DeviceID: "phone-1"},
		{ID: "b", StudentID: 1, DeviceID: "phone-1"},
		{ID: "c", StudentID: 1, DeviceID: "phone-1"},
	}}
	assert.Empty(t, rule.Evaluate(h))
}

func TestRepeatedGeofenceRule(t *testing.T) {
	rule := RepeatedGeofenceRule{MinViolations: 3}
	entry := func(student int64) audit.Entry {
		return audit.Entry{Kind: audit.KindOutOfZone, StudentID: ptr(student)}
	}
	h := History{Audits: []audit.Entry{
		entry(1), entry(1), entry(1),
		entry(2), entry(2),
		{Kind: audit.KindScanRecorded, StudentID: ptr(int64(1))},
	}}
	alerts := rule.Evaluate(h)
	require.Len(t, alerts, 1)
	assert.Equal(t, "repeated_geofence:1", alerts[0].EvidenceKey)
	require.NotNil(t, alerts[0].StudentID)
	assert.Equal(t, int64(1), *alerts[0].StudentID)
}

func TestImpossibleVelocityRule(t *testing.T) {
	rule := ImpossibleVelocityRule{MaxSpeedMS: 40}
	// ~111km in 10 minutes is about 185 m/s.
	h := History{Logs: []attendance.Log{
		logAt("a", 1, "", base, 0, 0),
		logAt("b", 1, "", base.Add(10*time.Minute), 1, 0),
		logAt("c", 2, "", base, 0, 0),
		logAt("d", 2, "", base.Add(10*time.Minute), 0.001, 0),
	}}
	alerts := rule.Evaluate(h)
	require.Len(t, alerts, 1)
	assert.Equal(t, "impossible_velocity:1:a:b", alerts[0].EvidenceKey)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, ptr("b"), alerts[0].LogID)
}

func TestImpossibleVelocityIgnoresMissingCoordinates(t *testing.T) {
	rule := ImpossibleVelocityRule{MaxSpeedMS: 40}
	h := History{Logs: []attendance.Log{
		{ID: "a", StudentID: 1, ScannedAt: base},
		{ID: "b", StudentID: 1, ScannedAt: base.Add(time.Minute)},
	}}
	assert.Empty(t, rule.Evaluate(h))
}

// ---------- detector ----------

func velocityHistory() History {
	return History{Logs: []attendance.Log{
		logAt("a", 1, "", base, 0, 0),
		logAt("b", 1, "", base.Add(10*time.Minute), 1, 0),
	}}
}

func TestRunFullScanIdempotent(t *testing.T) {
	alerts := newMemoryAlerts()
	det := NewDetector(fixedHistory{h: velocityHistory()}, alerts)

	first, err := det.RunFullScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Scanned)
	assert.Equal(t, 1, first.AlertsCreated)

	second, err := det.RunFullScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.AlertsCreated)
	assert.Len(t, alerts.byKey, 1)
}

func reviewFixture(t *testing.T) (*Detector, string) {
	t.Helper()
	alerts := newMemoryAlerts()
	det := NewDetector(fixedHistory{h: velocityHistory()}, alerts)
	_, err := det.RunFullScan(context.Background())
	require.NoError(t, err)
	pending, err := det.List(context.Background(), StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	return det, pending[0].ID
}

var admin = auth.Actor{Kind: auth.ActorAdmin, ID: 1}

func TestReviewTransitions(t *testing.T) {
	det, id := reviewFixture(t)

	a, err := det.Review(context.Background(), id, StatusInvestigating, admin, "checking")
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, a.Status)

	a, err = det.Review(context.Background(), id, StatusConfirmed, admin, "confirmed proxy scan")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Equal(t, admin, a.Reviewer)

	// Terminal states stay put.
	_, err = det.Review(context.Background(), id, StatusDismissed, admin, "")
	assert.ErrorIs(t, err, ErrBadTransition)
	_, err = det.Review(context.Background(), id, StatusInvestigating, admin, "")
	assert.ErrorIs(t, err, ErrBadTransition)
}

func TestReviewDirectDismiss(t *testing.T) {
	det, id := reviewFixture(t)
	a, err := det.Review(context.Background(), id, StatusDismissed, admin, "two devices, same household")
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, a.Status)
}

func TestReviewInvalidDecision(t *testing.T) {
	det, id := reviewFixture(t)
	_, err := det.Review(context.Background(), id, "escalated", admin, "")
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = det.Review(context.Background(), id, StatusPending, admin, "")
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestBulkReviewPartial(t *testing.T) {
	det, id := reviewFixture(t)
	res := det.BulkReview(context.Background(), []string{id, "ghost"}, StatusConfirmed, admin, "")
	assert.Equal(t, []string{id}, res.Applied)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed["ghost"], "not found")
}

func TestSummaryCountsPending(t *testing.T) {
	alerts := newMemoryAlerts()
	h := History{
		Logs: velocityHistory().Logs,
		Audits: []audit.Entry{
			{Kind: audit.KindOutOfZone, StudentID: ptr(int64(2))},
			{Kind: audit.KindOutOfZone, StudentID: ptr(int64(2))},
			{Kind: audit.KindOutOfZone, StudentID: ptr(int64(2))},
		},
	}
	det := NewDetector(fixedHistory{h: h}, alerts)
	_, err := det.RunFullScan(context.Background())
	require.NoError(t, err)

	summary, err := det.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PendingBySeverity[SeverityCritical])
	assert.Equal(t, 1, summary.PendingBySeverity[SeverityMedium])
	assert.Equal(t, 1, summary.CriticalPending)
}
