// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

// MockOptions describes a simulated crank orbit. The orbit is a vertical
// circle in the XY plane around Pivot, turned TiltDeg about the vertical
// axis.
type MockOptions struct {
	Pivot       geometry.Point3D
	Radius      float64
	TiltDeg     float64
	StepDeg     float64
	NoiseStdDev float64
	Seed        uint64
}

// DefaultMockOptions returns a 0.17 m crank one metre up, 6 degrees per
// sample with 2 mm of noise.
func DefaultMockOptions() MockOptions {
	return MockOptions{
		Pivot:       geometry.NewPoint(0, 1, 0),
		Radius:      0.17,
		TiltDeg:     0,
		StepDeg:     6,
		NoiseStdDev: 0.002,
		Seed:        1,
	}
}

type mockSource struct {
	opts  MockOptions
	step  int
	noise *rand.Rand
}

// NewMockSource creates a source that walks around the orbit one step per
// Next call. Two sources with the same options yield the same samples.
func NewMockSource(opts MockOptions) Source {
	if opts.Radius <= 0 {
		opts.Radius = DefaultMockOptions().Radius
	}
	return &mockSource{
		opts:  opts,
		noise: rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

func (m *mockSource) Next() (Sample, error) {
	p := OrbitPoint(m.opts, float64(m.step)*m.opts.StepDeg)
	m.step++

	if sd := m.opts.NoiseStdDev; sd > 0 {
		p = r3.Add(p, geometry.NewPoint(
			m.noise.NormFloat64()*sd,
			m.noise.NormFloat64()*sd,
			m.noise.NormFloat64()*sd,
		))
	}
	return Sample{Point: p}, nil
}

func (m *mockSource) Close() error { return nil }

// OrbitPoint returns the noiseless orbit position at angleDeg.
func OrbitPoint(opts MockOptions, angleDeg float64) geometry.Point3D {
	rad := angleDeg * math.Pi / 180
	p := r3.Add(opts.Pivot, geometry.NewPoint(opts.Radius*math.Cos(rad), opts.Radius*math.Sin(rad), 0))
	if opts.TiltDeg == 0 {
		return p
	}
	return geometry.RotateAboutY(p, opts.Pivot, opts.TiltDeg)
}
