// Package transport moves wire packets: UDP datagrams to the viewer, MQTT
// messages to the broker and a UDP listen loop for the consumers.
package transport

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

// Error reports a failed transport operation. Op is one of "dial", "send",
// "listen", "read", "connect", "subscribe" or "publish".
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Publisher sends packets somewhere.
type Publisher interface {
	Publish(p wire.Packet) error
	Close() error
}

// Fanout publishes every packet to all of its publishers.
type Fanout []Publisher

// Publish sends p to every publisher and joins their errors. A failing
// publisher does not stop the others.
func (f Fanout) Publish(p wire.Packet) error {
	var errs []error
	for _, pub := range f {
		if err := pub.Publish(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher and joins their errors.
func (f Fanout) Close() error {
	var errs []error
	for _, pub := range f {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
