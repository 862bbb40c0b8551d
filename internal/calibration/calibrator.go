// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration turns the first batch of samples from a tracker into a
// fitted circle and a zero-angle reference line. Calibration is one-shot:
// once a fit is produced the calibrator ignores further samples until Reset.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

// DefaultThreshold is the number of samples collected before fitting.
const DefaultThreshold = 100

// MinThreshold is the smallest batch a plane can be fitted to.
const MinThreshold = 3

// ErrNonFinite is returned by Ingest for a sample with a NaN or infinite
// coordinate. Such samples are not buffered.
var ErrNonFinite = errors.New("non-finite sample")

// Axis selects the coordinate whose maximum picks the reference sample.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// ParseAxis parses "x", "y" or "z" (case-insensitive).
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("invalid reference axis %q (expected x, y or z)", s)
}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// Component returns the coordinate of p on axis a.
func (a Axis) Component(p geometry.Point3D) float64 {
	switch a {
	case AxisX:
		return p.X
	case AxisZ:
		return p.Z
	default:
		return p.Y
	}
}

// State is the calibrator lifecycle.
type State int

const (
	StateCollecting State = iota
	StateCalibrated
)

func (s State) String() string {
	if s == StateCalibrated {
		return "CALIBRATED"
	}
	return "COLLECTING"
}

// ReferenceLine defines the zero-angle direction: the projection of
// ReferencePoint-Origin onto the circle plane.
type ReferenceLine struct {
	Origin         geometry.Point3D `json:"origin"`
	ReferencePoint geometry.Point3D `json:"reference_point"`
}

// Fit is the outcome of a calibration.
type Fit struct {
	Circle    geometry.Circle `json:"circle"`
	Reference ReferenceLine   `json:"reference"`

	// Samples is the number of points the circle was fitted to.
	Samples int `json:"samples"`
	// RadiusStdDev is the standard deviation of the in-plane radius error.
	RadiusStdDev float64 `json:"radius_stddev"`
	// PlaneRMS is the root mean square out-of-plane distance.
	PlaneRMS float64 `json:"plane_rms"`

	CalibratedAt time.Time `json:"calibrated_at"`
}

// Config controls when and how a calibrator fits.
type Config struct {
	Threshold     int
	ReferenceAxis Axis
}

// DefaultConfig returns a 100-sample threshold with the Y (up) reference axis.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, ReferenceAxis: AxisY}
}

// Calibrator collects samples for one tracker and fits a circle once the
// threshold is reached. It is not safe for concurrent use; it is owned by
// the sampling loop.
type Calibrator struct {
	name  string
	cfg   Config
	state State
	buf   []geometry.Point3D
	fit   Fit
	now   func() time.Time
}

// New creates a calibrator in the COLLECTING state. A threshold below
// MinThreshold is raised to it; zero selects DefaultThreshold.
func New(name string, cfg Config) *Calibrator {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < MinThreshold {
		cfg.Threshold = MinThreshold
	}
	return &Calibrator{
		name: name,
		cfg:  cfg,
		buf:  make([]geometry.Point3D, 0, cfg.Threshold),
		now:  time.Now,
	}
}

func (c *Calibrator) Name() string { return c.name }
func (c *Calibrator) State() State { return c.state }
func (c *Calibrator) Threshold() int { return c.cfg.Threshold }
func (c *Calibrator) Buffered() int { return len(c.buf) }
func (c *Calibrator) Calibrated() bool { return c.state == StateCalibrated }
func (c *Calibrator) Config() Config { return c.cfg }

// Fit returns the stored fit. ok is false while collecting.
func (c *Calibrator) Fit() (Fit, bool) {
	if c.state != StateCalibrated {
		return Fit{}, false
	}
	return c.fit, true
}

// Ingest buffers p and fits once the threshold is reached. It returns true
// exactly once, on the transition to CALIBRATED. Once calibrated it does
// nothing and returns false.
//
// A degenerate batch is not fatal: the oldest sample is dropped, the
// calibrator keeps collecting and the fit error is returned for logging.
func (c *Calibrator) Ingest(p geometry.Point3D) (bool, error) {
	if c.state == StateCalibrated {
		return false, nil
	}
	if !finite(p) {
		return false, fmt.Errorf("calibration %s: %w %v", c.name, ErrNonFinite, p)
	}
	c.buf = append(c.buf, p)
	if len(c.buf) < c.cfg.Threshold {
		return false, nil
	}

	circle, err := geometry.FitCircle(c.buf)
	if err != nil {
		c.buf = append(c.buf[:0], c.buf[1:]...)
		return false, fmt.Errorf("calibration %s: %w", c.name, err)
	}
	circle = geometry.OrientNormal(circle, c.buf)

	c.fit = Fit{
		Circle: circle,
		Reference: ReferenceLine{
			Origin:         circle.Center,
			ReferencePoint: c.extremeSample(),
		},
		Samples:      len(c.buf),
		RadiusStdDev: radiusStdDev(circle, c.buf),
		PlaneRMS:     planeRMS(circle, c.buf),
		CalibratedAt: c.now(),
	}
	c.buf = c.buf[:0]
	c.state = StateCalibrated
	return true, nil
}

func finite(p geometry.Point3D) bool {
	for _, v := range [...]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Reset discards the fit and any buffered samples and returns to COLLECTING.
func (c *Calibrator) Reset() {
	c.buf = c.buf[:0]
	c.fit = Fit{}
	c.state = StateCollecting
}

// Restore installs a previously computed fit, for example one loaded from
// the store, and moves to CALIBRATED.
func (c *Calibrator) Restore(f Fit) error {
	if n := r3.Norm(f.Circle.Normal); math.Abs(n-1) > 1e-6 {
		return fmt.Errorf("calibration %s: restore: normal is not unit length (|n|=%g)", c.name, n)
	}
	if f.Circle.Radius < 0 {
		return fmt.Errorf("calibration %s: restore: negative radius %g", c.name, f.Circle.Radius)
	}
	c.buf = c.buf[:0]
	c.fit = f
	c.state = StateCalibrated
	return nil
}

// extremeSample returns the buffered sample with the largest coordinate on
// the reference axis. Ties keep the earliest sample.
func (c *Calibrator) extremeSample() geometry.Point3D {
	best := c.buf[0]
	for _, p := range c.buf[1:] {
		if c.cfg.ReferenceAxis.Component(p) > c.cfg.ReferenceAxis.Component(best) {
			best = p
		}
	}
	return best
}

func radiusStdDev(circle geometry.Circle, points []geometry.Point3D) float64 {
	sd, err := stats.Float64Data(geometry.RadialResiduals(circle, points)).StandardDeviation()
	if err != nil {
		return 0
	}
	return sd
}

func planeRMS(circle geometry.Circle, points []geometry.Point3D) float64 {
	residuals := geometry.PlaneResiduals(circle, points)
	squares := make(stats.Float64Data, len(residuals))
	for i, r := range residuals {
		squares[i] = r * r
	}
	mean, err := squares.Mean()
	if err != nil {
		return 0
	}
	return math.Sqrt(mean)
}
