// Package phase converts samples into an angle about a fitted circle and
// keeps the unwrapped phase and angular velocity between samples.
package phase

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/cycle_tracker/internal/calibration"
	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

// pivotTolerance is the shortest in-plane vector that still has a direction.
const pivotTolerance = 1e-9

var (
	// ErrNotCalibrated is returned when no fit has been bound.
	ErrNotCalibrated = errors.New("phase tracker not calibrated")

	// ErrAtPivot is returned when a sample projects onto the circle center
	// and has no measurable angle.
	ErrAtPivot = errors.New("sample projects onto pivot")
)

// Config sets the angle convention. Reverse mirrors the direction of
// positive rotation; OffsetDeg is then added to every angle.
type Config struct {
	Reverse   bool
	OffsetDeg float64
}

// Reading is the tracker output for one sample.
type Reading struct {
	// AngleDeg is the instantaneous angle in [0,360).
	AngleDeg float64
	// DeltaDeg is the shortest-path change since the previous sample, in
	// (-180,180].
	DeltaDeg float64
	// AngularVelocity is DeltaDeg per second, 0 when no time elapsed.
	AngularVelocity float64
	// AccumulatedDeg is the unbounded rotation since tracking started.
	AccumulatedDeg float64
	// Timestamp is the sample time in seconds.
	Timestamp float64
}

// Tracker holds the phase state of one tracker. It reads the bound fit but
// never changes it. It is not safe for concurrent use.
type Tracker struct {
	cfg Config

	bound  bool
	origin geometry.Point3D
	normal geometry.Point3D
	refDir geometry.Point3D

	seeded bool
	last   Reading
}

// New returns an unbound tracker.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Config returns the angle convention in use.
func (t *Tracker) Config() Config { return t.cfg }

// Bind attaches the circle and reference line of fit and clears any phase
// state. It fails when the reference point has no in-plane direction.
func (t *Tracker) Bind(fit calibration.Fit) error {
	n := fit.Circle.Normal
	ref := geometry.ProjectOntoPlane(r3.Sub(fit.Reference.ReferencePoint, fit.Reference.Origin), n)
	if r3.Norm(ref) < pivotTolerance {
		return fmt.Errorf("bind: reference point has no in-plane direction: %w", ErrAtPivot)
	}
	t.bound = true
	t.origin = fit.Reference.Origin
	t.normal = n
	t.refDir = r3.Unit(ref)
	t.Reset()
	return nil
}

// Unbind detaches the fit and clears phase state.
func (t *Tracker) Unbind() {
	t.bound = false
	t.Reset()
}

// Calibrated reports whether a fit is bound.
func (t *Tracker) Calibrated() bool { return t.bound }

// Reset clears the phase state; the next Update seeds it again.
func (t *Tracker) Reset() {
	t.seeded = false
	t.last = Reading{}
}

// Last returns the most recent reading. ok is false before the first
// measurable sample.
func (t *Tracker) Last() (Reading, bool) {
	return t.last, t.seeded
}

// ComputeAngleDeg returns the angle of p about the circle normal, measured
// from the reference line, in [0,360). The configured direction and offset
// are applied.
func (t *Tracker) ComputeAngleDeg(p geometry.Point3D) (float64, error) {
	if !t.bound {
		return 0, ErrNotCalibrated
	}
	s := geometry.ProjectOntoPlane(r3.Sub(p, t.origin), t.normal)
	if r3.Norm(s) < pivotTolerance {
		return 0, ErrAtPivot
	}

	sin := r3.Dot(t.normal, r3.Cross(t.refDir, s))
	cos := r3.Dot(t.refDir, s)
	angle := wrap360(math.Atan2(sin, cos) * 180 / math.Pi)

	if t.cfg.Reverse {
		angle = 360 - angle
	}
	return wrap360(angle + t.cfg.OffsetDeg), nil
}

// Step advances the phase state with p taken at ts seconds. The first
// measurable sample seeds the state and reports no motion. On error the
// previous reading is returned and the state is left untouched.
func (t *Tracker) Step(p geometry.Point3D, ts float64) (Reading, error) {
	angle, err := t.ComputeAngleDeg(p)
	if err != nil {
		return t.last, err
	}
	if !t.seeded {
		t.seeded = true
		t.last = Reading{AngleDeg: angle, Timestamp: ts}
		return t.last, nil
	}

	delta := unwrap(angle - t.last.AngleDeg)
	var velocity float64
	if dt := ts - t.last.Timestamp; dt > 0 {
		velocity = delta / dt
	}

	t.last = Reading{
		AngleDeg:        angle,
		DeltaDeg:        delta,
		AngularVelocity: velocity,
		AccumulatedDeg:  t.last.AccumulatedDeg + delta,
		Timestamp:       ts,
	}
	return t.last, nil
}

// Update is Step without the error: an unbound tracker or a sample with no
// measurable angle yields the previous reading unchanged.
func (t *Tracker) Update(p geometry.Point3D, ts float64) Reading {
	r, _ := t.Step(p, ts)
	return r
}

// wrap360 maps a into [0,360).
func wrap360(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a -= 360
	}
	return a
}

// unwrap maps a difference of two angles onto the shortest path, (-180,180].
func unwrap(d float64) float64 {
	switch {
	case d > 180:
		return d - 360
	case d <= -180:
		return d + 360
	}
	return d
}

// ShortestDelta returns the signed change from one angle in [0,360) to
// another along the shorter arc.
func ShortestDelta(from, to float64) float64 {
	return unwrap(to - from)
}
