// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package source provides the places tracker positions come from: a
// simulated orbit, a recorded JSON file, a UDP relay, the SteamVR bridge
// broadcast and angle encoders mapped onto a virtual circle.
package source

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

var (
	// ErrNoSample means the source has nothing for this tracker right now:
	// nothing received yet, or the tracker was not seen in the last frame.
	ErrNoSample = errors.New("no sample available")

	// ErrExhausted is returned by a non-looping replay after its last sample.
	ErrExhausted = errors.New("source exhausted")
)

// Sample is one position reading. Stale is set when the source had nothing
// new and repeated its cached value.
type Sample struct {
	Point geometry.Point3D
	Stale bool
}

// Source is anything that yields positions of one logical tracker.
type Source interface {
	Next() (Sample, error)
	Close() error
}

// Pose is the full tracker pose reported by sources that know rotation.
type Pose struct {
	Tracker  string
	Position geometry.Point3D
	Rotation quat.Number
	Euler    geometry.EulerDeg
}

// PoseSource is implemented by sources that also report orientation.
type PoseSource interface {
	Source
	// Pose returns the pose of the last sample returned by Next.
	Pose() (Pose, bool)
}

// Kind names a source variant.
type Kind string

const (
	KindMock          Kind = "mock"
	KindReplay        Kind = "replay"
	KindUDP           Kind = "udp"
	KindSteamVR       Kind = "steamvr"
	KindAS5600        Kind = "as5600"
	KindSerialEncoder Kind = "serial_encoder"
)

// ParseKind validates a source kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindMock, KindReplay, KindUDP, KindSteamVR, KindAS5600, KindSerialEncoder:
		return k, nil
	}
	return "", fmt.Errorf("unknown source kind %q (expected mock, replay, udp, steamvr, as5600 or serial_encoder)", s)
}

// Options selects and configures a source. Only the fields of the chosen
// Kind are read.
type Options struct {
	Kind Kind

	// mock
	Mock MockOptions

	// replay
	ReplayFile string
	ReplayLoop bool

	// udp, steamvr
	ListenAddr  string
	ReadTimeout time.Duration

	// steamvr: the serial wins over the index when both are set. With
	// SteamVRHub set the source is a view of that hub and ListenAddr is
	// ignored.
	TrackerSerial string
	TrackerIndex  int
	SteamVRHub    *SteamVRHub

	// as5600
	I2CBus  string
	I2CAddr uint16

	// serial_encoder
	SerialPort string
	BaudRate   uint

	// as5600, serial_encoder
	EncoderRadius float64
}

// Open builds the source described by opts. Failures here are setup
// failures (missing file, port in use, bus not found).
func Open(opts Options) (Source, error) {
	switch opts.Kind {
	case KindMock:
		return NewMockSource(opts.Mock), nil
	case KindReplay:
		return NewReplaySource(opts.ReplayFile, opts.ReplayLoop)
	case KindUDP:
		return NewUDPSource(opts.ListenAddr, opts.ReadTimeout)
	case KindSteamVR:
		sel := Selector{Serial: opts.TrackerSerial, Index: opts.TrackerIndex}
		if opts.SteamVRHub != nil {
			return opts.SteamVRHub.Source(sel), nil
		}
		return NewSteamVRSource(opts.ListenAddr, opts.ReadTimeout, sel)
	case KindAS5600:
		enc, err := OpenAS5600(opts.I2CBus, opts.I2CAddr)
		if err != nil {
			return nil, err
		}
		return NewEncoderSource(enc, opts.EncoderRadius), nil
	case KindSerialEncoder:
		enc, err := OpenSerialEncoder(opts.SerialPort, opts.BaudRate)
		if err != nil {
			return nil, err
		}
		return NewEncoderSource(enc, opts.EncoderRadius), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", opts.Kind)
}
