// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/relabs-tech/cycle_tracker/internal/calibration"
	"github.com/relabs-tech/cycle_tracker/internal/config"
	"github.com/relabs-tech/cycle_tracker/internal/geometry"
	"github.com/relabs-tech/cycle_tracker/internal/phase"
	"github.com/relabs-tech/cycle_tracker/internal/source"
	"github.com/relabs-tech/cycle_tracker/internal/transport"
)

// MockOptions maps the MOCK_* keys onto a simulated orbit. Seed is offset
// per tracker so two mock trackers do not share noise.
func MockOptions(cfg *config.Config, seedOffset uint64) source.MockOptions {
	opts := source.DefaultMockOptions()
	opts.Radius = cfg.MockRadius
	opts.TiltDeg = cfg.MockTiltDeg
	opts.StepDeg = cfg.MockStepDeg
	opts.NoiseStdDev = cfg.MockNoise
	opts.Seed = cfg.MockSeed + seedOffset
	return opts
}

// SourceOptions builds the source settings of one named tracker.
func SourceOptions(cfg *config.Config, name string) (source.Options, error) {
	tc, ok := cfg.Tracker(name)
	if !ok {
		return source.Options{}, fmt.Errorf("unknown tracker %q", name)
	}
	kind, err := source.ParseKind(tc.Source)
	if err != nil {
		return source.Options{}, fmt.Errorf("tracker %s: %w", name, err)
	}

	opts := source.Options{
		Kind:          kind,
		ReplayFile:    tc.ReplayFile,
		ReplayLoop:    cfg.ReplayLoop,
		ListenAddr:    tc.ListenAddr,
		ReadTimeout:   cfg.ReadTimeout(),
		TrackerSerial: tc.Serial,
		TrackerIndex:  tc.Index,
		I2CBus:        cfg.EncoderI2CBus,
		I2CAddr:       cfg.EncoderI2CAddr,
		SerialPort:    cfg.EncoderSerialPort,
		BaudRate:      uint(cfg.EncoderBaudRate),
		EncoderRadius: cfg.EncoderRadius,
	}
	switch name {
	case config.TrackerVertical:
		opts.Mock = MockOptions(cfg, 0)
	case config.TrackerHorizontal:
		// Second orbit, offset from the first and turned a quarter turn.
		opts.Mock = MockOptions(cfg, 1)
		opts.Mock.TiltDeg += 90
		opts.Mock.Pivot = geometry.NewPoint(0.5, 0.3, 0)
	}
	if kind == source.KindSteamVR {
		opts.ListenAddr = cfg.SteamVRListenAddr
	}
	return opts, nil
}

// calibrationConfig and phaseConfig map the streaming keys onto the core.
func calibrationConfig(cfg *config.Config) (calibration.Config, error) {
	axis, err := calibration.ParseAxis(cfg.ReferenceAxis)
	if err != nil {
		return calibration.Config{}, err
	}
	return calibration.Config{Threshold: cfg.CalibrationSamples, ReferenceAxis: axis}, nil
}

func phaseConfig(cfg *config.Config) phase.Config {
	return phase.Config{Reverse: cfg.PhaseReverse, OffsetDeg: cfg.PhaseOffsetDeg}
}

// closers releases resources in reverse order of acquisition.
type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenTrackers opens the sources of the named trackers and wraps each in a
// Tracker. Two steamvr trackers share one receiver on the bridge port. On
// failure everything opened so far is closed again.
func OpenTrackers(cfg *config.Config, names ...string) ([]*Tracker, io.Closer, error) {
	calCfg, err := calibrationConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		opened   closers
		trackers []*Tracker
		hub      *source.SteamVRHub
	)
	fail := func(err error) ([]*Tracker, io.Closer, error) {
		if cerr := opened.Close(); cerr != nil {
			log.Printf("setup: cleanup: %v", cerr)
		}
		return nil, nil, err
	}

	for _, name := range names {
		opts, err := SourceOptions(cfg, name)
		if err != nil {
			return fail(err)
		}
		if opts.Kind == source.KindSteamVR {
			if hub == nil {
				hub, err = source.NewSteamVRHub(opts.ListenAddr, opts.ReadTimeout)
				if err != nil {
					return fail(fmt.Errorf("tracker %s: %w", name, err))
				}
				opened = append(opened, hub)
				log.Printf("setup: steamvr receiver on %s", hub.LocalAddr())
			}
			opts.SteamVRHub = hub
		}

		src, err := source.Open(opts)
		if err != nil {
			return fail(fmt.Errorf("tracker %s: %w", name, err))
		}
		opened = append(opened, src)
		log.Printf("setup: tracker %s reads from %s source", name, opts.Kind)

		trackers = append(trackers, NewTracker(name, src, calCfg, phaseConfig(cfg)))
	}
	return trackers, opened, nil
}

// OpenPublisher dials the UDP viewer address and, when MQTT_BROKER is set,
// the broker as a second destination.
func OpenPublisher(cfg *config.Config) (transport.Publisher, error) {
	udp, err := transport.DialUDP(cfg.UDPSendAddr)
	if err != nil {
		return nil, err
	}
	log.Printf("setup: sending packets to udp %s", udp.Addr())
	if cfg.MQTTBroker == "" {
		return udp, nil
	}

	mq, err := transport.DialMQTT(cfg.MQTTBroker, transport.ClientID(cfg.MQTTClientID), cfg.MQTTTopicPrefix)
	if err != nil {
		udp.Close()
		return nil, err
	}
	log.Printf("setup: mirroring packets to mqtt %s under %s/", cfg.MQTTBroker, cfg.MQTTTopicPrefix)
	return transport.Fanout{udp, mq}, nil
}
