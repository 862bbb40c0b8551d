// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/tidwall/gjson"
)

// DefaultSerialBaudRate matches the encoder firmware.
const DefaultSerialBaudRate = 115200

// SerialEncoder reads one angle per line from a microcontroller: either a
// bare number ("123.4") or {"angle_deg":123.4}. A reader goroutine keeps the
// latest angle so the sampling loop never blocks on a silent port.
type SerialEncoder struct {
	port io.ReadCloser
	done chan struct{}

	mu     sync.Mutex
	latest float64
	seq    uint64
	err    error

	// lastSeq is only touched by the consumer.
	lastSeq uint64
}

// OpenSerialEncoder opens portName at baud (0 selects 115200).
func OpenSerialEncoder(portName string, baud uint) (*SerialEncoder, error) {
	if baud == 0 {
		baud = DefaultSerialBaudRate
	}
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serial encoder: open %s: %w", portName, err)
	}
	return NewSerialEncoder(port), nil
}

// NewSerialEncoder starts reading from an already open stream and closes it
// on Close.
func NewSerialEncoder(port io.ReadCloser) *SerialEncoder {
	s := &SerialEncoder{port: port, done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *SerialEncoder) readLoop() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		deg, err := parseAngleLine(line)
		if err != nil {
			log.Printf("%v", err)
			continue
		}
		s.mu.Lock()
		s.latest = deg
		s.seq++
		s.mu.Unlock()
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.err = fmt.Errorf("serial encoder: read: %w: %w", err, ErrExhausted)
	s.mu.Unlock()
}

// ReadAngleDeg returns the newest angle received since the previous call
// without blocking. It returns ErrNoSample when no new line arrived. Once the
// stream has ended and every angle was consumed it returns the read error,
// which also matches ErrExhausted.
func (s *SerialEncoder) ReadAngleDeg() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq != s.lastSeq {
		s.lastSeq = s.seq
		return s.latest, nil
	}
	if s.err != nil {
		return 0, s.err
	}
	return 0, ErrNoSample
}

func parseAngleLine(line string) (float64, error) {
	if strings.HasPrefix(line, "{") {
		v := gjson.Get(line, "angle_deg")
		if v.Type != gjson.Number {
			return 0, fmt.Errorf("serial encoder: no angle_deg in %q", line)
		}
		return v.Num, nil
	}
	deg, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("serial encoder: parse %q: %w", line, err)
	}
	return deg, nil
}

func (s *SerialEncoder) Close() error {
	err := s.port.Close()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		log.Printf("serial encoder: reader still blocked after close")
	}
	return err
}
