package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cycle_tracker/internal/calibration"
	"github.com/relabs-tech/cycle_tracker/internal/geometry"
	"github.com/relabs-tech/cycle_tracker/internal/phase"
	"github.com/relabs-tech/cycle_tracker/internal/source"
	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

const tol = 1e-6

type recordingPublisher struct {
	mu      sync.Mutex
	packets []wire.Packet
	err     error
}

func (p *recordingPublisher) Publish(pkt wire.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.packets = append(p.packets, pkt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int)
	for _, pkt := range p.packets {
		out[pkt.Kind()]++
	}
	return out
}

func (p *recordingPublisher) phases() []wire.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wire.Phase
	for _, pkt := range p.packets {
		if ph, ok := pkt.(wire.Phase); ok {
			out = append(out, ph)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.packets = nil
	p.mu.Unlock()
}

// scriptedSource replays a fixed list of results, then reports exhaustion.
type scriptedSource struct {
	samples []source.Sample
	errs    []error
	i       int
}

func (s *scriptedSource) Next() (source.Sample, error) {
	if s.i >= len(s.samples) {
		return source.Sample{}, source.ErrExhausted
	}
	i := s.i
	s.i++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.samples[i], err
}

func (s *scriptedSource) Close() error { return nil }

type poseSource struct {
	source.Source
	pose source.Pose
}

func (p *poseSource) Pose() (source.Pose, bool) { return p.pose, true }

func orbitOptions() source.MockOptions {
	opts := source.DefaultMockOptions()
	opts.NoiseStdDev = 0
	return opts
}

// fakeClock advances 100 ms per reading.
func fakeClock() func() time.Time {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(100 * time.Millisecond)
		return now
	}
}

func newTestRunner(pub *recordingPublisher, trackers ...*Tracker) *Runner {
	r := NewRunner(pub, time.Millisecond, trackers...)
	r.now = fakeClock()
	return r
}

func orbitTracker(name string, src source.Source) *Tracker {
	return NewTracker(name, src,
		calibration.Config{Threshold: 60, ReferenceAxis: calibration.AxisY},
		phase.Config{})
}

func TestCollectCalibratesAndPublishesFit(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	tr := orbitTracker("vertical", source.NewMockSource(orbitOptions()))
	r := newTestRunner(pub, tr)

	fit, err := r.Collect(context.Background(), "vertical")
	require.NoError(t, err)

	assert.InDelta(t, 0.17, fit.Circle.Radius, tol)
	assert.InDelta(t, 1.0, fit.Circle.Center.Y, tol)
	assert.InDelta(t, 1.0, fit.Circle.Normal.Z, tol)
	assert.InDelta(t, 1.17, fit.Reference.ReferencePoint.Y, tol)
	assert.True(t, tr.Phase.Calibrated())

	kinds := pub.kinds()
	assert.Equal(t, 60, kinds[wire.KindPosition])
	assert.Equal(t, 1, kinds[wire.KindCircle])
	assert.Equal(t, 1, kinds[wire.KindRefLine])
	assert.Zero(t, kinds[wire.KindPhase])

	// Collecting again is a no-op.
	again, err := r.Collect(context.Background(), "vertical")
	require.NoError(t, err)
	assert.Equal(t, fit, again)
}

func TestStepAfterCalibrationPublishesPhase(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	tr := orbitTracker("vertical", source.NewMockSource(orbitOptions()))
	r := newTestRunner(pub, tr)

	_, err := r.Collect(context.Background(), "vertical")
	require.NoError(t, err)
	pub.reset()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Step(tr))
	}

	phases := pub.phases()
	require.Len(t, phases, 3)
	// The orbit restarts at 0 degrees, a quarter turn before the reference
	// at the top.
	assert.InDelta(t, 270, phases[0].AngleDeg, tol)
	assert.Equal(t, 0.0, phases[0].AngularVelocity)
	assert.InDelta(t, 276, phases[1].AngleDeg, tol)
	assert.InDelta(t, 60, phases[1].AngularVelocity, 1e-3)
	assert.InDelta(t, 282, phases[2].AngleDeg, tol)

	last, ok := tr.Phase.Last()
	require.True(t, ok)
	assert.InDelta(t, 12, last.AccumulatedDeg, tol)
}

func TestStepToleratesMissingAndStaleSamples(t *testing.T) {
	t.Parallel()

	p := geometry.NewPoint(1, 0, 0)
	src := &scriptedSource{
		samples: []source.Sample{{}, {Point: p}, {Point: p, Stale: true}},
		errs:    []error{source.ErrNoSample, nil, nil},
	}
	pub := &recordingPublisher{}
	tr := NewTracker("vertical", src, calibration.Config{Threshold: 10}, phase.Config{})
	r := newTestRunner(pub, tr)

	require.NoError(t, r.Step(tr)) // nothing available
	assert.Empty(t, pub.kinds())

	require.NoError(t, r.Step(tr))
	require.NoError(t, r.Step(tr)) // stale: re-sent, not buffered
	assert.Equal(t, 2, pub.kinds()[wire.KindPosition])
	assert.Equal(t, 1, tr.Cal.Buffered())

	err := r.Step(tr)
	require.ErrorIs(t, err, source.ErrExhausted)
}

func TestStepStaleRepeatsLastPhase(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	src := &scriptedSource{}
	tr := orbitTracker("vertical", src)
	r := newTestRunner(pub, tr)

	for i := 0; i < 60; i++ {
		src.samples = append(src.samples, source.Sample{Point: source.OrbitPoint(orbitOptions(), float64(i)*6)})
	}
	p := source.OrbitPoint(orbitOptions(), 30)
	src.samples = append(src.samples, source.Sample{Point: p}, source.Sample{Point: p, Stale: true})

	for i := 0; i < 62; i++ {
		require.NoError(t, r.Step(tr))
	}
	phases := pub.phases()
	require.Len(t, phases, 2)
	assert.Equal(t, phases[0], phases[1])
}

func TestStepSkipsSamplesOnPivot(t *testing.T) {
	t.Parallel()

	pivot := geometry.NewPoint(0, 0, 0)
	src := &scriptedSource{samples: []source.Sample{
		{Point: pivot},
		{Point: geometry.NewPoint(0, 1, 0)},
		{Point: pivot},
	}}
	pub := &recordingPublisher{}
	tr := orbitTracker("vertical", src)
	r := newTestRunner(pub, tr)

	require.NoError(t, tr.Restore(calibration.Fit{
		Circle: geometry.Circle{Center: pivot, Normal: geometry.NewPoint(0, 0, 1), Radius: 1},
		Reference: calibration.ReferenceLine{
			Origin:         pivot,
			ReferencePoint: geometry.NewPoint(0, 1, 0),
		},
		Samples: 60,
	}))

	// Nothing measured yet, so nothing is sent.
	require.NoError(t, r.Step(tr))
	assert.Empty(t, pub.phases())
	_, ok := tr.Phase.Last()
	assert.False(t, ok)

	require.NoError(t, r.Step(tr))
	require.Len(t, pub.phases(), 1)

	// Back on the pivot: the last measured phase is repeated.
	require.NoError(t, r.Step(tr))
	phases := pub.phases()
	require.Len(t, phases, 2)
	assert.Equal(t, phases[0], phases[1])
	assert.InDelta(t, 0, phases[1].AngleDeg, tol)
	assert.NotZero(t, phases[1].TS)
}

func TestDegenerateBatchKeepsCollecting(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{}
	for i := 0; i < 4; i++ {
		src.samples = append(src.samples, source.Sample{Point: geometry.NewPoint(float64(i), 0, 0)})
	}
	src.samples = append(src.samples, source.Sample{Point: geometry.NewPoint(1, 1, 0)})

	pub := &recordingPublisher{}
	tr := NewTracker("horizontal", src, calibration.Config{Threshold: 4}, phase.Config{})
	r := newTestRunner(pub, tr)

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Step(tr))
	}
	assert.False(t, tr.Cal.Calibrated())

	require.NoError(t, r.Step(tr))
	assert.True(t, tr.Cal.Calibrated())
	assert.True(t, tr.Phase.Calibrated())
}

func TestPublishFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{err: errors.New("network is unreachable")}
	tr := orbitTracker("vertical", source.NewMockSource(orbitOptions()))
	r := newTestRunner(pub, tr)

	_, err := r.Collect(context.Background(), "vertical")
	require.NoError(t, err)
	assert.True(t, tr.Cal.Calibrated())
}

func TestStepPublishesPose(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	src := &poseSource{
		Source: source.NewMockSource(orbitOptions()),
		pose:   source.Pose{Tracker: "LHR-1", Rotation: geometry.RotationMatrixToQuaternion(geometry.Identity())},
	}
	tr := orbitTracker("vertical", src)
	r := newTestRunner(pub, tr)

	_, err := r.Collect(context.Background(), "vertical")
	require.NoError(t, err)
	require.NoError(t, r.Step(tr))

	assert.Equal(t, 1, pub.kinds()[wire.KindPose])
	pub.mu.Lock()
	pose := pub.packets[len(pub.packets)-1].(wire.Pose)
	pub.mu.Unlock()
	assert.Equal(t, "LHR-1", pose.Tracker)
	assert.Equal(t, [4]float64{1, 0, 0, 0}, pose.Rotation)
}

func TestSendCircles(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	v := orbitTracker("vertical", source.NewMockSource(orbitOptions()))
	h := orbitTracker("horizontal", source.NewMockSource(orbitOptions()))
	r := newTestRunner(pub, v, h)

	assert.Equal(t, 0, r.SendCircles())

	_, err := r.Collect(context.Background(), "vertical")
	require.NoError(t, err)
	pub.reset()

	assert.Equal(t, 1, r.SendCircles())
	assert.Equal(t, map[string]int{wire.KindCircle: 1, wire.KindRefLine: 1}, pub.kinds())
}

func TestCollectStopsOnCancel(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{}
	for i := 0; i < 10000; i++ {
		src.samples = append(src.samples, source.Sample{})
		src.errs = append(src.errs, source.ErrNoSample)
	}
	r := newTestRunner(&recordingPublisher{}, NewTracker("vertical", src, calibration.Config{}, phase.Config{}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Collect(ctx, "vertical")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamUntilExhausted(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{samples: []source.Sample{{Point: geometry.NewPoint(0, 1, 0)}}}
	pub := &recordingPublisher{}
	r := newTestRunner(pub, NewTracker("vertical", src, calibration.Config{}, phase.Config{}))

	err := r.Stream(context.Background())
	require.ErrorIs(t, err, source.ErrExhausted)
	assert.Equal(t, 1, pub.kinds()[wire.KindPosition])
}

func TestUnknownTracker(t *testing.T) {
	t.Parallel()

	r := newTestRunner(&recordingPublisher{})
	_, err := r.Collect(context.Background(), "diagonal")
	require.ErrorIs(t, err, ErrUnknownTracker)
	require.ErrorIs(t, r.Stream(context.Background(), "diagonal"), ErrUnknownTracker)
}
