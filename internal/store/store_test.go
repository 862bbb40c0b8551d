package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cycle_tracker/internal/calibration"
	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

func sampleFit(radius float64) calibration.Fit {
	return calibration.Fit{
		Circle: geometry.Circle{
			Center: geometry.NewPoint(0.1, 1.0, -0.2),
			Normal: geometry.NewPoint(0, 0, 1),
			Radius: radius,
		},
		Reference: calibration.ReferenceLine{
			Origin:         geometry.NewPoint(0.1, 1.0, -0.2),
			ReferencePoint: geometry.NewPoint(0.1, 1.0+radius, -0.2),
		},
		Samples:      100,
		RadiusStdDev: 0.0012,
		PlaneRMS:     0.0004,
		CalibratedAt: time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC),
	}
}

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibrations.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s, path := openTemp(t)

	saved, err := s.Save("vertical", sampleFit(0.17))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, saved.ID)
	require.NoError(t, s.Close())

	// Survives a reopen.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load("vertical")
	require.NoError(t, err)
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveReplaces(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	defer s.Close()

	first, err := s.Save("horizontal", sampleFit(0.2))
	require.NoError(t, err)
	second, err := s.Save("horizontal", sampleFit(0.3))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := s.Load("horizontal")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 0.3, got.Fit.Circle.Radius)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	defer s.Close()

	_, err := s.Load("nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	defer s.Close()

	_, err := s.Save("vertical", sampleFit(0.17))
	require.NoError(t, err)
	_, err = s.Save("horizontal", sampleFit(0.25))
	require.NoError(t, err)

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "horizontal", recs[0].Tracker)
	assert.Equal(t, "vertical", recs[1].Tracker)

	require.NoError(t, s.Delete("horizontal"))
	require.NoError(t, s.Delete("horizontal"))

	recs, err = s.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "vertical", recs[0].Tracker)
}
