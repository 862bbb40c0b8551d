// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/cycle_tracker/internal/config"
	"github.com/relabs-tech/cycle_tracker/internal/store"
)

const consoleUsage = `commands:
  v             calibrate the vertical tracker
  h             calibrate the horizontal tracker
  sc            send fitted circles and reference lines
  stream [v|h]  stream phase until Ctrl-C (all trackers when omitted)
  reset [v|h]   drop calibration (all trackers when omitted)
  status        show calibration and phase state
  save          store calibrated fits
  load          restore stored fits
  quit          exit`

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// Console is the interactive command prompt driving a Runner.
type Console struct {
	runner *Runner
	store  *store.Store // nil disables save and load
	out    io.Writer

	// interrupt returns the context a command runs under. Run cancels it on
	// Ctrl-C so a long command returns to the prompt.
	interrupt func(context.Context) (context.Context, context.CancelFunc)
}

// NewConsole creates a console writing to out. st may be nil.
func NewConsole(r *Runner, st *store.Store, out io.Writer) *Console {
	return &Console{
		runner: r,
		store:  st,
		out:    out,
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Run reads commands from in until quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(c.out, consoleUsage)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}

		cmdCtx, stop := c.interrupt(ctx)
		err := c.Execute(cmdCtx, scanner.Text())
		stop()

		switch {
		case errors.Is(err, errQuit):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(c.out, "interrupted")
		case err != nil:
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// trackerArg maps a console abbreviation onto a tracker name. An empty
// argument selects every tracker.
func trackerArg(arg string) ([]string, error) {
	switch arg {
	case "":
		return nil, nil
	case "v", config.TrackerVertical:
		return []string{config.TrackerVertical}, nil
	case "h", config.TrackerHorizontal:
		return []string{config.TrackerHorizontal}, nil
	}
	return nil, fmt.Errorf("%w %q (expected v or h)", ErrUnknownTracker, arg)
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return nil
	}
	cmd, arg := fields[0], ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "v":
		return c.calibrate(ctx, config.TrackerVertical)
	case "h":
		return c.calibrate(ctx, config.TrackerHorizontal)
	case "sc":
		n := c.runner.SendCircles()
		if n == 0 {
			fmt.Fprintln(c.out, "no calibrated trackers yet")
			return nil
		}
		fmt.Fprintf(c.out, "sent %d circle(s)\n", n)
		return nil
	case "stream":
		names, err := trackerArg(arg)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, "streaming, Ctrl-C to stop")
		return c.runner.Stream(ctx, names...)
	case "reset":
		return c.reset(arg)
	case "status":
		c.status()
		return nil
	case "save":
		return c.save()
	case "load":
		return c.load()
	case "quit", "q", "exit":
		return errQuit
	}
	fmt.Fprintf(c.out, "unknown command %q\n%s\n", cmd, consoleUsage)
	return nil
}

func (c *Console) calibrate(ctx context.Context, name string) error {
	t, err := c.runner.Tracker(name)
	if err != nil {
		return err
	}
	if t.Cal.Calibrated() {
		fmt.Fprintf(c.out, "%s already calibrated; reset %s to recalibrate\n", name, name[:1])
		return nil
	}
	fit, err := c.runner.Collect(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s calibrated: center (%.4f, %.4f, %.4f) radius %.4f m, radius sd %.4f m, plane rms %.4f m\n",
		name, fit.Circle.Center.X, fit.Circle.Center.Y, fit.Circle.Center.Z,
		fit.Circle.Radius, fit.RadiusStdDev, fit.PlaneRMS)
	return nil
}

func (c *Console) reset(arg string) error {
	names, err := trackerArg(arg)
	if err != nil {
		return err
	}
	for _, t := range c.runner.Trackers() {
		if names != nil && t.Name != names[0] {
			continue
		}
		t.Reset()
		fmt.Fprintf(c.out, "%s reset\n", t.Name)
	}
	return nil
}

func (c *Console) status() {
	for _, t := range c.runner.Trackers() {
		fit, ok := t.Cal.Fit()
		if !ok {
			fmt.Fprintf(c.out, "%-10s %s %d/%d samples\n", t.Name, t.Cal.State(), t.Cal.Buffered(), t.Cal.Threshold())
			continue
		}
		fmt.Fprintf(c.out, "%-10s %s %s, radius %.4f m", t.Name, t.Cal.State(), humanize.Time(fit.CalibratedAt), fit.Circle.Radius)
		if r, ok := t.Phase.Last(); ok {
			fmt.Fprintf(c.out, ", angle %.1f°, %s° turned", r.AngleDeg, humanize.Comma(int64(math.Round(r.AccumulatedDeg))))
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) save() error {
	if c.store == nil {
		return errors.New("no calibration store configured")
	}
	var saved int
	for _, t := range c.runner.Trackers() {
		fit, ok := t.Cal.Fit()
		if !ok {
			continue
		}
		rec, err := c.store.Save(t.Name, fit)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "saved %s as %s\n", t.Name, rec.ID)
		saved++
	}
	if saved == 0 {
		fmt.Fprintln(c.out, "no calibrated trackers to save")
	}
	return nil
}

func (c *Console) load() error {
	if c.store == nil {
		return errors.New("no calibration store configured")
	}
	for _, t := range c.runner.Trackers() {
		rec, err := c.store.Load(t.Name)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(c.out, "%s: nothing saved\n", t.Name)
			continue
		}
		if err != nil {
			return err
		}
		if err := t.Restore(rec.Fit); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s restored from %s (saved %s)\n", t.Name, rec.ID, humanize.Time(rec.SavedAt))
	}
	return nil
}
