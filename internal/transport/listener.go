package transport

import (
	"context"
	"errors"
	"log"
	"net"
	"time"
)

// DefaultReadTimeout bounds each read so the loop notices cancellation.
const DefaultReadTimeout = 100 * time.Millisecond

// maxDatagram is large enough for a SteamVR frame with a dozen trackers.
const maxDatagram = 64 * 1024

// Handler receives a private copy of each datagram.
type Handler func(payload []byte, from *net.UDPAddr)

// Listener reads datagrams from a bound UDP socket.
type Listener struct {
	addr        string
	conn        *net.UDPConn
	readTimeout time.Duration
}

// Listen binds addr. Use port 0 to pick a free port.
func Listen(addr string, readTimeout time.Duration) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &Error{Op: "listen", Addr: addr, Err: err}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, &Error{Op: "listen", Addr: addr, Err: err}
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Listener{addr: addr, conn: conn, readTimeout: readTimeout}, nil
}

// LocalAddr returns the bound address.
func (l *Listener) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Run reads until ctx is cancelled or the listener is closed, calling h for
// every datagram. Read errors other than timeouts are logged and skipped.
// It returns ctx.Err() on cancellation and nil after Close.
func (l *Listener) Run(ctx context.Context, h Handler) error {
	buf := make([]byte, maxDatagram)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil && !deadlineErrLogged {
			log.Printf("listener %s: set read deadline: %v", l.addr, err)
			deadlineErrLogged = true
		}

		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("listener %s: %v", l.addr, &Error{Op: "read", Addr: l.addr, Err: err})
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		h(payload, from)
	}
}

// Close releases the socket; a running Run returns nil.
func (l *Listener) Close() error {
	return l.conn.Close()
}
