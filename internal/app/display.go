package app

import (
	"context"
	"fmt"
	"image"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/cycle_tracker/internal/config"
	"github.com/relabs-tech/cycle_tracker/internal/phase"
	"github.com/relabs-tech/cycle_tracker/internal/transport"
	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

// DisplayData holds the latest data for display
type DisplayData struct {
	mu sync.RWMutex

	phase     wire.Phase
	havePhase bool
	// accumulated is summed from consecutive phase packets, so it starts
	// at zero when the display starts.
	accumulated float64

	radius     float64
	haveCircle bool
}

// displaySnapshot is a lock-free copy of DisplayData for one frame.
type displaySnapshot struct {
	phase       wire.Phase
	havePhase   bool
	accumulated float64
	radius      float64
	haveCircle  bool
}

func (d *DisplayData) handlePacket(payload []byte) {
	p, err := wire.Decode(payload)
	if err != nil {
		log.Printf("display: %v", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch v := p.(type) {
	case wire.Phase:
		if d.havePhase {
			d.accumulated += phase.ShortestDelta(d.phase.AngleDeg, v.AngleDeg)
		}
		d.phase = v
		d.havePhase = true
	case wire.Circle:
		d.radius = v.Radius
		d.haveCircle = true
	}
}

func (d *DisplayData) snapshot() displaySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return displaySnapshot{
		phase:       d.phase,
		havePhase:   d.havePhase,
		accumulated: d.accumulated,
		radius:      d.radius,
		haveCircle:  d.haveCircle,
	}
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(drawer *font.Drawer, x, y int, text string) {
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
}

// renderPhase draws angle, velocity, revolutions and radius on a 128x64
// frame.
func renderPhase(s displaySnapshot) *image1bit.VerticalLSB {
	img, drawer := newFrame()

	if !s.havePhase {
		drawLine(drawer, 0, 26, "Cycle tracker")
		drawLine(drawer, 0, 39, "Waiting...")
		return img
	}

	drawLine(drawer, 0, 13, fmt.Sprintf("Ang: %6.1f deg", s.phase.AngleDeg))
	drawLine(drawer, 0, 26, fmt.Sprintf("Vel: %6.0f d/s", s.phase.AngularVelocity))
	drawLine(drawer, 0, 39, fmt.Sprintf("Rev: %8.2f", s.accumulated/360))
	if s.haveCircle {
		drawLine(drawer, 0, 52, fmt.Sprintf("R:   %6.3f m", s.radius))
	}
	return img
}

func showSplash(dev *ssd1306.Dev) error {
	img, drawer := newFrame()
	drawLine(drawer, 10, 26, "Cycle Tracker")
	drawLine(drawer, 5, 43, "Waiting for")
	drawLine(drawer, 25, 56, "phase")
	return dev.Draw(dev.Bounds(), img, image.Point{})
}

// RunDisplay shows the phase stream received on VIEWER_LISTEN_ADDR on an
// SSD1306 OLED.
func RunDisplay(ctx context.Context) error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Printf("display: initialized on bus %q", cfg.DisplayI2CBus)

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	l, err := transport.Listen(cfg.ViewerListenAddr, cfg.ReadTimeout())
	if err != nil {
		return err
	}
	defer l.Close()
	log.Printf("display: receiving packets on %s", l.LocalAddr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := l.Run(ctx, func(payload []byte, _ *net.UDPAddr) { data.handlePacket(payload) }); err != nil && ctx.Err() == nil {
			log.Printf("display: packet listener stopped: %v", err)
			cancel()
		}
	}()

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for {
		select {
		case <-ctx.Done():
			log.Println("display: shutting down")
			return nil
		case <-ticker.C:
		}
		if err := dev.Draw(dev.Bounds(), renderPhase(data.snapshot()), image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}
}
