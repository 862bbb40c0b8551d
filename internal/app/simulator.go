package app

import (
	"context"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/cycle_tracker/internal/config"
	"github.com/relabs-tech/cycle_tracker/internal/source"
	"github.com/relabs-tech/cycle_tracker/internal/transport"
	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

// simulate publishes count samples of src at interval, or runs until ctx is
// done when count is zero. Send failures are logged and skipped.
func simulate(ctx context.Context, src source.Source, pub transport.Publisher, interval time.Duration, count int) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent int
	for count == 0 || sent < count {
		s, err := src.Next()
		if err != nil {
			return sent, err
		}
		if err := pub.Publish(wire.NewPosition(s.Point, wire.Timestamp(time.Now()))); err != nil {
			log.Printf("simulator: %v", err)
		} else {
			sent++
		}

		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
	return sent, nil
}

// RunSimulator sends a simulated crank orbit as position packets to
// SIMULATOR_SEND_ADDR, where a tracker configured with a udp source picks
// them up.
func RunSimulator(ctx context.Context, count int) error {
	cfg := config.Get()

	pub, err := transport.DialUDP(cfg.SimulatorSendAddr)
	if err != nil {
		return err
	}
	defer pub.Close()

	opts := MockOptions(cfg, 0)
	log.Printf("simulator: orbit r=%.3f m, tilt %.1f°, %.1f° per sample at %d Hz to %s",
		opts.Radius, opts.TiltDeg, opts.StepDeg, cfg.SendHz, pub.Addr())

	start := time.Now()
	sent, err := simulate(ctx, source.NewMockSource(opts), pub, cfg.SendInterval(), count)
	log.Printf("simulator: sent %s samples in %s", humanize.Comma(int64(sent)), time.Since(start).Round(time.Millisecond))
	return err
}
