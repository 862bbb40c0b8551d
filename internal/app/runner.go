package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/cycle_tracker/internal/calibration"
	"github.com/relabs-tech/cycle_tracker/internal/geometry"
	"github.com/relabs-tech/cycle_tracker/internal/phase"
	"github.com/relabs-tech/cycle_tracker/internal/source"
	"github.com/relabs-tech/cycle_tracker/internal/transport"
	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

// ErrUnknownTracker is returned for a tracker name the runner does not own.
var ErrUnknownTracker = errors.New("unknown tracker")

// Tracker bundles one logical tracker: where its samples come from, its
// calibration and its phase state.
type Tracker struct {
	Name   string
	Source source.Source
	Cal    *calibration.Calibrator
	Phase  *phase.Tracker
}

// NewTracker wires a source to a fresh calibrator and phase tracker.
func NewTracker(name string, src source.Source, calCfg calibration.Config, phaseCfg phase.Config) *Tracker {
	return &Tracker{
		Name:   name,
		Source: src,
		Cal:    calibration.New(name, calCfg),
		Phase:  phase.New(phaseCfg),
	}
}

// Reset drops the calibration and phase state so the tracker collects again.
func (t *Tracker) Reset() {
	t.Cal.Reset()
	t.Phase.Unbind()
}

// Restore installs a stored fit and binds the phase tracker to it.
func (t *Tracker) Restore(fit calibration.Fit) error {
	if err := t.Phase.Bind(fit); err != nil {
		return fmt.Errorf("tracker %s: %w", t.Name, err)
	}
	if err := t.Cal.Restore(fit); err != nil {
		t.Phase.Unbind()
		return err
	}
	return nil
}

// Runner is the sampling loop. Every tick it pulls one sample per active
// tracker and feeds it to calibration or phase tracking, then publishes the
// result. Calibration and phase state are only touched from the goroutine
// running the loop.
type Runner struct {
	trackers []*Tracker
	pub      transport.Publisher
	interval time.Duration
	now      func() time.Time
}

// NewRunner creates a runner ticking every interval.
func NewRunner(pub transport.Publisher, interval time.Duration, trackers ...*Tracker) *Runner {
	return &Runner{
		trackers: trackers,
		pub:      pub,
		interval: interval,
		now:      time.Now,
	}
}

// Trackers returns the trackers in configuration order.
func (r *Runner) Trackers() []*Tracker { return r.trackers }

// Tracker looks up a tracker by name.
func (r *Runner) Tracker(name string) (*Tracker, error) {
	for _, t := range r.trackers {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTracker, name)
}

// publish sends p and logs a transport failure; the iteration goes on.
func (r *Runner) publish(p wire.Packet) {
	if err := r.pub.Publish(p); err != nil {
		log.Printf("runner: %v", err)
	}
}

// Step runs one iteration for t. Only source exhaustion is returned; no
// sample, stale data, samples on the pivot, degenerate batches and send
// failures are handled here and the loop carries on.
func (r *Runner) Step(t *Tracker) error {
	s, err := t.Source.Next()
	switch {
	case errors.Is(err, source.ErrNoSample):
		return nil
	case errors.Is(err, source.ErrExhausted):
		return fmt.Errorf("tracker %s: %w", t.Name, err)
	case err != nil:
		log.Printf("runner: tracker %s: %v", t.Name, err)
		return nil
	}
	ts := wire.Timestamp(r.now())

	if !t.Cal.Calibrated() {
		r.collect(t, s, ts)
		return nil
	}

	if s.Stale {
		// Nothing new: repeat the previous output.
		r.republishPhase(t)
		return nil
	}
	reading, err := t.Phase.Step(s.Point, ts)
	if err != nil {
		log.Printf("runner: tracker %s: %v", t.Name, err)
		r.republishPhase(t)
		return nil
	}
	r.publish(wire.NewPhase(reading.AngleDeg, reading.AngularVelocity, reading.Timestamp))
	if ps, ok := t.Source.(source.PoseSource); ok {
		if pose, ok := ps.Pose(); ok {
			r.publish(posePacket(pose, ts))
		}
	}
	return nil
}

// republishPhase repeats the last measured phase. Before the first
// measurable sample there is nothing to repeat and nothing is sent.
func (r *Runner) republishPhase(t *Tracker) {
	if last, ok := t.Phase.Last(); ok {
		r.publish(wire.NewPhase(last.AngleDeg, last.AngularVelocity, last.Timestamp))
	}
}

func (r *Runner) collect(t *Tracker, s source.Sample, ts float64) {
	r.publish(wire.NewPosition(s.Point, ts))
	if s.Stale {
		return
	}

	done, err := t.Cal.Ingest(s.Point)
	if err != nil {
		log.Printf("runner: %v; still collecting", err)
		return
	}
	if !done {
		return
	}

	fit, _ := t.Cal.Fit()
	if err := t.Phase.Bind(fit); err != nil {
		log.Printf("runner: tracker %s: %v; collecting again", t.Name, err)
		t.Reset()
		return
	}
	log.Printf("runner: tracker %s calibrated from %s samples: radius %.4f m (sd %.4f), plane rms %.4f m",
		t.Name, humanize.Comma(int64(fit.Samples)), fit.Circle.Radius, fit.RadiusStdDev, fit.PlaneRMS)
	r.publishFit(fit, ts)
}

func (r *Runner) publishFit(fit calibration.Fit, ts float64) {
	r.publish(wire.NewCircle(fit.Circle, ts))
	r.publish(wire.NewRefLine(fit.Reference.Origin, fit.Reference.ReferencePoint, ts))
}

func posePacket(p source.Pose, ts float64) wire.Pose {
	return wire.Pose{
		Tracker:  p.Tracker,
		Position: geometry.Array(p.Position),
		Rotation: geometry.QuaternionArray(p.Rotation),
		Euler:    p.Euler.Array(),
		TS:       ts,
	}
}

// loop calls step for every tick until step reports done, step fails or ctx
// is cancelled.
func (r *Runner) loop(ctx context.Context, step func() (done bool, err error)) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		done, err := step()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Collect feeds the named tracker until it is calibrated. An already
// calibrated tracker returns at once.
func (r *Runner) Collect(ctx context.Context, name string) (calibration.Fit, error) {
	t, err := r.Tracker(name)
	if err != nil {
		return calibration.Fit{}, err
	}
	log.Printf("runner: collecting %d samples for %s", t.Cal.Threshold(), name)

	err = r.loop(ctx, func() (bool, error) {
		if t.Cal.Calibrated() {
			return true, nil
		}
		return false, r.Step(t)
	})
	if err != nil {
		return calibration.Fit{}, err
	}
	fit, _ := t.Cal.Fit()
	return fit, nil
}

// SendCircles publishes the circle and reference line of every calibrated
// tracker and returns how many were sent.
func (r *Runner) SendCircles() int {
	ts := wire.Timestamp(r.now())
	var sent int
	for _, t := range r.trackers {
		fit, ok := t.Cal.Fit()
		if !ok {
			continue
		}
		r.publishFit(fit, ts)
		sent++
	}
	return sent
}

// Stream runs the named trackers, or all of them when names is empty,
// until ctx is cancelled or a source is exhausted.
func (r *Runner) Stream(ctx context.Context, names ...string) error {
	active := r.trackers
	if len(names) > 0 {
		active = nil
		for _, name := range names {
			t, err := r.Tracker(name)
			if err != nil {
				return err
			}
			active = append(active, t)
		}
	}

	start := r.now()
	var ticks uint64
	err := r.loop(ctx, func() (bool, error) {
		ticks++
		for _, t := range active {
			if err := r.Step(t); err != nil {
				return false, err
			}
		}
		return false, nil
	})
	log.Printf("runner: streamed %s ticks since %s", humanize.Comma(int64(ticks)), humanize.Time(start))
	return err
}

// Close releases the publisher. Sources are owned by whoever opened them.
func (r *Runner) Close() error {
	return r.pub.Close()
}
