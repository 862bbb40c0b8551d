// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// AS5600 register map (subset).
const (
	AS5600DefaultAddr = 0x36
	as5600RegAngleHi  = 0x0E // ANGLE[11:8], ANGLE[7:0] follows at 0x0F
	as5600Resolution  = 4096
)

// AS5600 is a 12-bit magnetic rotary encoder on I2C.
type AS5600 struct {
	dev *i2c.Dev
	bus i2c.BusCloser
}

// OpenAS5600 initializes the periph host, opens busName ("" for the first
// bus) and talks to the encoder at addr (0 selects 0x36).
func OpenAS5600(busName string, addr uint16) (*AS5600, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("as5600: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("as5600: open i2c bus %q: %w", busName, err)
	}
	enc := NewAS5600(bus, addr)
	enc.bus = bus
	return enc, nil
}

// NewAS5600 uses an already open bus. The caller keeps ownership of bus.
func NewAS5600(bus i2c.Bus, addr uint16) *AS5600 {
	if addr == 0 {
		addr = AS5600DefaultAddr
	}
	return &AS5600{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// ReadAngleRaw returns the 12-bit ANGLE register.
func (a *AS5600) ReadAngleRaw() (uint16, error) {
	r := make([]byte, 2)
	if err := a.dev.Tx([]byte{as5600RegAngleHi}, r); err != nil {
		return 0, fmt.Errorf("as5600: read angle: %w", err)
	}
	return uint16(r[0]&0x0F)<<8 | uint16(r[1]), nil
}

// ReadAngleDeg returns the shaft angle in [0,360).
func (a *AS5600) ReadAngleDeg() (float64, error) {
	raw, err := a.ReadAngleRaw()
	if err != nil {
		return 0, err
	}
	return float64(raw) * 360 / as5600Resolution, nil
}

// Close releases the bus when it was opened by OpenAS5600.
func (a *AS5600) Close() error {
	if a.bus == nil {
		return nil
	}
	return a.bus.Close()
}
