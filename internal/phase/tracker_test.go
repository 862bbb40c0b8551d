package phase

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cycle_tracker/internal/calibration"
	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

const tol = 1e-6

func at(deg float64) geometry.Point3D {
	rad := deg * math.Pi / 180
	return geometry.NewPoint(math.Cos(rad), math.Sin(rad), 0)
}

func unitFit() calibration.Fit {
	return calibration.Fit{
		Circle: geometry.Circle{
			Center: geometry.NewPoint(0, 0, 0),
			Normal: geometry.NewPoint(0, 0, 1),
			Radius: 1,
		},
		Reference: calibration.ReferenceLine{
			Origin:         geometry.NewPoint(0, 0, 0),
			ReferencePoint: geometry.NewPoint(1, 0, 0),
		},
	}
}

func bound(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	tr := New(cfg)
	require.NoError(t, tr.Bind(unitFit()))
	return tr
}

func TestEndToEndAngleAfterCalibration(t *testing.T) {
	t.Parallel()

	cal := calibration.New("vertical", calibration.Config{Threshold: 100, ReferenceAxis: calibration.AxisX})
	calibrated := false
	for i := 0; i < 100; i++ {
		done, err := cal.Ingest(at(3.6 * float64(i)))
		require.NoError(t, err)
		calibrated = calibrated || done
	}
	require.True(t, calibrated)

	fit, ok := cal.Fit()
	require.True(t, ok)

	tr := New(Config{})
	require.NoError(t, tr.Bind(fit))

	angle, err := tr.ComputeAngleDeg(at(45))
	require.NoError(t, err)
	assert.InDelta(t, 45.0, angle, tol)
}

func TestComputeAngleDegRange(t *testing.T) {
	t.Parallel()

	tr := bound(t, Config{})
	for _, deg := range []float64{0, 1, 89.5, 180, 270, 359.9} {
		got, err := tr.ComputeAngleDeg(at(deg))
		require.NoError(t, err)
		assert.InDelta(t, deg, got, tol, "angle %v", deg)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, 360.0)
	}

	// Out-of-plane offsets are projected away.
	p := at(30)
	p.Z = 4
	got, err := tr.ComputeAngleDeg(p)
	require.NoError(t, err)
	assert.InDelta(t, 30, got, tol)
}

func TestComputeAngleDegConvention(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		want float64
	}{
		{"default", Config{}, 45},
		{"reverse", Config{Reverse: true}, 315},
		{"offset", Config{OffsetDeg: 90}, 135},
		{"negative offset wraps", Config{OffsetDeg: -90}, 315},
		{"reverse and offset", Config{Reverse: true, OffsetDeg: 90}, 45},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := bound(t, tc.cfg).ComputeAngleDeg(at(45))
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, tol)
		})
	}
}

func TestUpdateFirstCallSeeds(t *testing.T) {
	t.Parallel()

	tr := bound(t, Config{})
	_, ok := tr.Last()
	assert.False(t, ok)

	r := tr.Update(at(120), 5.0)
	assert.InDelta(t, 120, r.AngleDeg, tol)
	assert.Equal(t, 0.0, r.DeltaDeg)
	assert.Equal(t, 0.0, r.AngularVelocity)
	assert.Equal(t, 0.0, r.AccumulatedDeg)
	assert.Equal(t, 5.0, r.Timestamp)
}

func TestUpdateRefeedIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := bound(t, Config{})
	tr.Update(at(10), 1.0)
	first := tr.Update(at(40), 2.0)
	second := tr.Update(at(40), 2.0)

	assert.Equal(t, 0.0, second.DeltaDeg)
	assert.Equal(t, 0.0, second.AngularVelocity)
	assert.InDelta(t, first.AccumulatedDeg, second.AccumulatedDeg, tol)
}

func TestUpdateUnwrapsAcrossSeam(t *testing.T) {
	t.Parallel()

	tr := bound(t, Config{})
	tr.Update(at(350), 0.0)
	r := tr.Update(at(10), 0.5)
	assert.InDelta(t, 20, r.DeltaDeg, tol)
	assert.InDelta(t, 40, r.AngularVelocity, tol)
	assert.InDelta(t, 20, r.AccumulatedDeg, tol)

	r = tr.Update(at(350), 1.0)
	assert.InDelta(t, -20, r.DeltaDeg, tol)
	assert.InDelta(t, 0, r.AccumulatedDeg, tol)
}

func TestUpdateAccumulatesRevolutions(t *testing.T) {
	t.Parallel()

	tr := bound(t, Config{})
	var r Reading
	for i := 0; i <= 108; i++ {
		r = tr.Update(at(10*float64(i)), float64(i)*0.1)
	}
	assert.InDelta(t, 1080, r.AccumulatedDeg, 1e-4)
	assert.InDelta(t, 100, r.AngularVelocity, 1e-4)
}

func TestUpdateNonPositiveDt(t *testing.T) {
	t.Parallel()

	tr := bound(t, Config{})
	tr.Update(at(0), 2.0)
	r := tr.Update(at(30), 1.0)
	assert.InDelta(t, 30, r.DeltaDeg, tol)
	assert.Equal(t, 0.0, r.AngularVelocity)
}

func TestUpdateUnboundReturnsPrevious(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	assert.False(t, tr.Calibrated())

	_, err := tr.Step(at(10), 1.0)
	require.ErrorIs(t, err, ErrNotCalibrated)
	assert.Equal(t, Reading{}, tr.Update(at(10), 1.0))

	require.NoError(t, tr.Bind(unitFit()))
	tr.Update(at(10), 1.0)
	tr.Unbind()
	assert.Equal(t, Reading{}, tr.Update(at(20), 2.0), "unbind clears state")
}

func TestUpdateAtPivotKeepsState(t *testing.T) {
	t.Parallel()

	tr := bound(t, Config{})
	prev := tr.Update(at(10), 1.0)

	r, err := tr.Step(geometry.NewPoint(0, 0, 3), 2.0)
	require.ErrorIs(t, err, ErrAtPivot)
	assert.Equal(t, prev, r)

	next := tr.Update(at(20), 3.0)
	assert.InDelta(t, 10, next.DeltaDeg, tol)
	assert.InDelta(t, 5, next.AngularVelocity, tol)
}

func TestBindRejectsReferenceAlongNormal(t *testing.T) {
	t.Parallel()

	fit := unitFit()
	fit.Reference.ReferencePoint = geometry.NewPoint(0, 0, 2)
	err := New(Config{}).Bind(fit)
	require.ErrorIs(t, err, ErrAtPivot)
}

func TestResetReseeds(t *testing.T) {
	t.Parallel()

	tr := bound(t, Config{})
	tr.Update(at(0), 0)
	tr.Update(at(90), 1)
	tr.Reset()

	r := tr.Update(at(180), 2)
	assert.Equal(t, 0.0, r.DeltaDeg)
	assert.Equal(t, 0.0, r.AccumulatedDeg)
}

func TestShortestDelta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to, want float64
	}{
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{180, 0, 180},
		{90, 90, 0},
		{0, 179, 179},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ShortestDelta(tt.from, tt.to), tol, "%v -> %v", tt.from, tt.to)
	}
}
