package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	values map[string]string
	reads  int
	saves  int
}

func (m *memoryRepo) Values(context.Context) (map[string]string, error) {
	m.reads++
	out := map[string]string{}
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *memoryRepo) Save(_ context.Context, values map[string]string) error {
	m.saves++
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func seededRepo() *memoryRepo {
	return &memoryRepo{values: map[string]string{
		keyTokenTTL:       "180",
		keyLateMinutes:    "10",
		keySelfieRequired: "false",
		keyGeoLat:         "0",
		keyGeoLng:         "0",
		keyGeoRadius:      "100",
	}}
}

func validSnapshot() Snapshot {
	return Snapshot{
		TokenTTL:  2 * time.Minute,
		LateGrace: 15 * time.Minute,
		Geofence:  Geofence{Lat: -6.9, Lng: 107.6, RadiusM: 75},
	}
}

func TestLoadCachesSnapshot(t *testing.T) {
	repo := seededRepo()
	store := NewStore(repo)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 180*time.Second, snap.TokenTTL)
	assert.Equal(t, 10*time.Minute, snap.LateGrace)
	assert.False(t, snap.SelfieRequired)
	assert.Equal(t, 100.0, snap.Geofence.RadiusM)

	_, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.reads)
}

func TestSaveRoundTripsAndInvalidates(t *testing.T) {
	repo := seededRepo()
	store := NewStore(repo)
	_, err := store.Load(context.Background())
	require.NoError(t, err)

	want := validSnapshot()
	want.SelfieRequired = true
	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, repo.reads)
}

func TestSaveRejectsWholeMutation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"zero ttl", func(s *Snapshot) { s.TokenTTL = 0 }},
		{"negative grace", func(s *Snapshot) { s.LateGrace = -time.Minute }},
		{"zero radius", func(s *Snapshot) { s.Geofence.RadiusM = 0 }},
		{"lat out of range", func(s *Snapshot) { s.Geofence.Lat = 91 }},
		{"lng out of range", func(s *Snapshot) { s.Geofence.Lng = -181 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := seededRepo()
			store := NewStore(repo)
			snap := validSnapshot()
			tc.mutate(&snap)

			err := store.Save(context.Background(), snap)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid settings")
			// Nothing reached the repo.
			assert.Zero(t, repo.saves)
		})
	}
}

func TestInvalidateForcesReread(t *testing.T) {
	repo := seededRepo()
	store := NewStore(repo)
	_, err := store.Load(context.Background())
	require.NoError(t, err)

	// An external writer changed the table underneath the cache.
	repo.values[keyLateMinutes] = "20"
	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, snap.LateGrace)

	store.Invalidate()
	snap, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, snap.LateGrace)
}

func TestFromValuesFallsBackOnGarbage(t *testing.T) {
	snap := fromValues(map[string]string{
		keyTokenTTL:    "not-a-number",
		keyLateMinutes: "-3",
		keyGeoRadius:   "0",
	})
	assert.Equal(t, 180*time.Second, snap.TokenTTL)
	assert.Equal(t, 10*time.Minute, snap.LateGrace)
	assert.Equal(t, 100.0, snap.Geofence.RadiusM)
}
