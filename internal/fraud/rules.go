package fraud

import (
	"fmt"
	"sort"
	"strconv"

	"checkin/internal/audit"
	"checkin/internal/geo"
)

// Rule thresholds. Evidence keys are deterministic functions of the
// underlying data so repeated scans regenerate the same keys.
const (
	duplicateDeviceMinStudents = 3
	geofenceViolationMin       = 3
	maxPlausibleSpeedMS        = 40.0
)

// DefaultRules is the standard heuristic set.
func DefaultRules() []Rule {
	return []Rule{
		DuplicateDeviceRule{MinStudents: duplicateDeviceMinStudents},
		RepeatedGeofenceRule{MinViolations: geofenceViolationMin},
		ImpossibleVelocityRule{MaxSpeedMS: maxPlausibleSpeedMS},
	}
}

// DuplicateDeviceRule flags a device identifier used by several distinct
// students, the signature of one phone checking in a group.
type DuplicateDeviceRule struct {
	MinStudents int
}

func (DuplicateDeviceRule) Name() string { return "duplicate_device_across_students" }

func (r DuplicateDeviceRule) Evaluate(h History) []Alert {
	students := map[string]map[int64]bool{}
	for _, l := range h.Logs {
		if l.DeviceID == "" {
			continue
		}
		if students[l.DeviceID] == nil {
			students[l.DeviceID] = map[int64]bool{}
		}
		students[l.DeviceID][l.StudentID] = true
	}
	devices := make([]string, 0, len(students))
	for d := range students {
		devices = append(devices, d)
	}
	sort.Strings(devices)

	var alerts []Alert
	for _, d := range devices {
		if len(students[d]) < r.MinStudents {
			continue
		}
		alerts = append(alerts, Alert{
			EvidenceKey: "duplicate_device:" + d,
			Type:        r.Name(),
			Severity:    SeverityHigh,
			Details:     fmt.Sprintf("device %q used by %d distinct students", d, len(students[d])),
		})
	}
	return alerts
}

// RepeatedGeofenceRule flags a student repeatedly scanning from outside the
// configured zone.
type RepeatedGeofenceRule struct {
	MinViolations int
}

func (RepeatedGeofenceRule) Name() string { return "repeated_geofence_violation" }

func (r RepeatedGeofenceRule) Evaluate(h History) []Alert {
	counts := map[int64]int{}
	for _, e := range h.Audits {
		if e.Kind != audit.KindOutOfZone || e.StudentID == nil {
			continue
		}
		counts[*e.StudentID]++
	}
	ids := make([]int64, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var alerts []Alert
	for _, id := range ids {
		if counts[id] < r.MinViolations {
			continue
		}
		sid := id
		alerts = append(alerts, Alert{
			EvidenceKey: "repeated_geofence:" + strconv.FormatInt(id, 10),
			Type:        r.Name(),
			Severity:    SeverityMedium,
			StudentID:   &sid,
			Details:     fmt.Sprintf("%d scans outside the geofence", counts[id]),
		})
	}
	return alerts
}

// ImpossibleVelocityRule flags a student whose consecutive check-ins imply
// movement faster than any plausible travel.
type ImpossibleVelocityRule struct {
	MaxSpeedMS float64
}

func (ImpossibleVelocityRule) Name() string { return "impossible_attendance_velocity" }

func (r ImpossibleVelocityRule) Evaluate(h History) []Alert {
	perStudent := map[int64][]int{}
	for i, l := range h.Logs {
		if l.Lat == nil || l.Lng == nil {
			continue
		}
		perStudent[l.StudentID] = append(perStudent[l.StudentID], i)
	}
	ids := make([]int64, 0, len(perStudent))
	for id := range perStudent {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var alerts []Alert
	for _, id := range ids {
		idx := perStudent[id]
		sort.Slice(idx, func(a, b int) bool {
			return h.Logs[idx[a]].ScannedAt.Before(h.Logs[idx[b]].ScannedAt)
		})
		for i := 1; i < len(idx); i++ {
			prev, cur := h.Logs[idx[i-1]], h.Logs[idx[i]]
			dt := cur.ScannedAt.Sub(prev.ScannedAt).Seconds()
			if dt <= 0 {
				continue
			}
			dist := geo.DistanceMeters(*prev.Lat, *prev.Lng, *cur.Lat, *cur.Lng)
			speed := dist / dt
			if speed <= r.MaxSpeedMS {
				continue
			}
			sid := id
			logID := cur.ID
			sessID := cur.SessionID
			alerts = append(alerts, Alert{
				EvidenceKey: fmt.Sprintf("impossible_velocity:%d:%s:%s", id, prev.ID, cur.ID),
				Type:        r.Name(),
				Severity:    SeverityCritical,
				StudentID:   &sid,
				SessionID:   &sessID,
				LogID:       &logID,
				Details:     fmt.Sprintf("%.0fm in %.0fs (%.1f m/s) between check-ins", dist, dt, speed),
			})
		}
	}
	return alerts
}
