// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"math"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

// DefaultEncoderRadius is the virtual circle radius for encoder sources.
const DefaultEncoderRadius = 1.0

// AngleReader is a shaft encoder reporting an absolute angle in degrees.
type AngleReader interface {
	ReadAngleDeg() (float64, error)
	Close() error
}

// EncoderSource maps encoder angles onto a circle of the given radius in
// the XY plane, so encoder rigs calibrate and track like position rigs.
type EncoderSource struct {
	reader AngleReader
	radius float64
}

// NewEncoderSource wraps r. A non-positive radius selects
// DefaultEncoderRadius.
func NewEncoderSource(r AngleReader, radius float64) *EncoderSource {
	if radius <= 0 {
		radius = DefaultEncoderRadius
	}
	return &EncoderSource{reader: r, radius: radius}
}

func (e *EncoderSource) Next() (Sample, error) {
	deg, err := e.reader.ReadAngleDeg()
	if err != nil {
		return Sample{}, err
	}
	s, c := math.Sincos(deg * math.Pi / 180)
	return Sample{Point: geometry.NewPoint(e.radius*c, e.radius*s, 0)}, nil
}

func (e *EncoderSource) Close() error {
	return e.reader.Close()
}
