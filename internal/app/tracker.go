// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/cycle_tracker/internal/config"
	"github.com/relabs-tech/cycle_tracker/internal/store"
)

// openStore opens the calibration store. The store is optional: without
// STORE_PATH, or when it cannot be opened, save and load are disabled.
func openStore(cfg *config.Config) *store.Store {
	if cfg.StorePath == "" {
		return nil
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Printf("tracker: calibration store disabled: %v", err)
		return nil
	}
	return st
}

// RunTracker opens both trackers and the publisher, then hands control to
// the interactive console reading from in.
func RunTracker(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg := config.Get()

	trackers, sources, err := OpenTrackers(cfg, config.TrackerVertical, config.TrackerHorizontal)
	if err != nil {
		return err
	}
	defer sources.Close()

	pub, err := OpenPublisher(cfg)
	if err != nil {
		return err
	}
	runner := NewRunner(pub, cfg.SendInterval(), trackers...)
	defer runner.Close()

	st := openStore(cfg)
	if st != nil {
		defer st.Close()
	}

	log.Printf("tracker: %d Hz, %d calibration samples, reference axis %s", cfg.SendHz, cfg.CalibrationSamples, cfg.ReferenceAxis)
	return NewConsole(runner, st, out).Run(ctx, in)
}

// RunCalibrate calibrates one tracker without the console, prints the fit
// quality and optionally stores the result.
func RunCalibrate(ctx context.Context, name string, save bool, out io.Writer) error {
	cfg := config.Get()

	trackers, sources, err := OpenTrackers(cfg, name)
	if err != nil {
		return err
	}
	defer sources.Close()

	pub, err := OpenPublisher(cfg)
	if err != nil {
		return err
	}
	runner := NewRunner(pub, cfg.SendInterval(), trackers...)
	defer runner.Close()

	fit, err := runner.Collect(ctx, name)
	if err != nil {
		return fmt.Errorf("calibrate %s: %w", name, err)
	}

	c := fit.Circle
	fmt.Fprintf(out, "tracker:        %s\n", name)
	fmt.Fprintf(out, "samples:        %s\n", humanize.Comma(int64(fit.Samples)))
	fmt.Fprintf(out, "center:         (%.5f, %.5f, %.5f)\n", c.Center.X, c.Center.Y, c.Center.Z)
	fmt.Fprintf(out, "normal:         (%.5f, %.5f, %.5f)\n", c.Normal.X, c.Normal.Y, c.Normal.Z)
	fmt.Fprintf(out, "radius:         %.5f m\n", c.Radius)
	fmt.Fprintf(out, "radius std dev: %.5f m\n", fit.RadiusStdDev)
	fmt.Fprintf(out, "plane rms:      %.5f m\n", fit.PlaneRMS)
	ref := fit.Reference.ReferencePoint
	fmt.Fprintf(out, "reference:      (%.5f, %.5f, %.5f)\n", ref.X, ref.Y, ref.Z)

	if !save {
		return nil
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()
	rec, err := st.Save(name, fit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "saved as %s in %s\n", rec.ID, cfg.StorePath)
	return nil
}
