package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Geofence is a circular boundary around the check-in location.
type Geofence struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	RadiusM float64 `json:"radius_meters"`
}

// Snapshot is a consistent view of the runtime tunables. Every operation in
// the scan pipeline works from one Snapshot so TTL and late-grace values can
// never be torn between reads.
type Snapshot struct {
	TokenTTL       time.Duration `json:"-"`
	LateGrace      time.Duration `json:"-"`
	SelfieRequired bool          `json:"selfie_required"`
	Geofence       Geofence      `json:"geofence"`
}

// Repo persists settings as key/value rows.
type Repo interface {
	Values(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
}

const (
	keyTokenTTL       = "token_ttl_seconds"
	keyLateMinutes    = "late_minutes"
	keySelfieRequired = "selfie_required"
	keyGeoLat         = "geofence_lat"
	keyGeoLng         = "geofence_lng"
	keyGeoRadius      = "geofence_radius_m"
)

// Store caches the settings snapshot and invalidates it on write. External
// settings collaborators that write the table directly should call
// Invalidate through the admin endpoint.
type Store struct {
	repo Repo

	mu     sync.RWMutex
	cached *Snapshot
}

// NewStore creates a store over a repo. Nothing is loaded until first use.
func NewStore(repo Repo) *Store {
	return &Store{repo: repo}
}

// Load returns the cached snapshot, reading through the repo on a cold cache.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	if s.cached != nil {
		snap := *s.cached
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()

	values, err := s.repo.Values(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	snap := fromValues(values)

	s.mu.Lock()
	s.cached = &snap
	s.mu.Unlock()
	return snap, nil
}

// Save validates every field, rejects the whole mutation on any violation,
// then writes and invalidates the cache.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, toValues(snap)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.Invalidate()
	return nil
}

// Invalidate drops the cached snapshot so the next Load rereads the repo.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func validate(snap Snapshot) error {
	var problems []string
	if snap.TokenTTL <= 0 {
		problems = append(problems, "token_ttl_seconds must be positive")
	}
	if snap.LateGrace < 0 {
		problems = append(problems, "late_minutes must not be negative")
	}
	if snap.Geofence.RadiusM <= 0 {
		problems = append(problems, "geofence radius must be positive")
	}
	if snap.Geofence.Lat < -90 || snap.Geofence.Lat > 90 {
		problems = append(problems, "geofence lat out of range")
	}
	if snap.Geofence.Lng < -180 || snap.Geofence.Lng > 180 {
		problems = append(problems, "geofence lng out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

func fromValues(values map[string]string) Snapshot {
	snap := Snapshot{
		TokenTTL:  180 * time.Second,
		LateGrace: 10 * time.Minute,
		Geofence:  Geofence{RadiusM: 100},
	}
	if v, err := strconv.Atoi(values[keyTokenTTL]); err == nil && v > 0 {
		snap.TokenTTL = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(values[keyLateMinutes]); err == nil && v >= 0 {
		snap.LateGrace = time.Duration(v) * time.Minute
	}
	snap.SelfieRequired = values[keySelfieRequired] == "true"
	if v, err := strconv.ParseFloat(values[keyGeoLat], 64); err == nil {
		snap.Geofence.Lat = v
	}
	if v, err := strconv.ParseFloat(values[keyGeoLng], 64); err == nil {
		snap.Geofence.Lng = v
	}
	if v, err := strconv.ParseFloat(values[keyGeoRadius], 64); err == nil && v > 0 {
		snap.Geofence.RadiusM = v
	}
	return snap
}

func toValues(snap Snapshot) map[string]string {
	return map[string]string{
		keyTokenTTL:       strconv.Itoa(int(snap.TokenTTL / time.Second)),
		keyLateMinutes:    strconv.Itoa(int(snap.LateGrace / time.Minute)),
		keySelfieRequired: strconv.FormatBool(snap.SelfieRequired),
		keyGeoLat:         strconv.FormatFloat(snap.Geofence.Lat, 'f', -1, 64),
		keyGeoLng:         strconv.FormatFloat(snap.Geofence.Lng, 'f', -1, 64),
		keyGeoRadius:      strconv.FormatFloat(snap.Geofence.RadiusM, 'f', -1, 64),
	}
}
