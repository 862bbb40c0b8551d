package source

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
	"github.com/relabs-tech/cycle_tracker/internal/transport"
)

// relay runs a transport.Listener on its own goroutine until Close.
type relay struct {
	listener *transport.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

func startRelay(name, addr string, readTimeout time.Duration, h transport.Handler) (*relay, error) {
	l, err := transport.Listen(addr, readTimeout)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &relay{listener: l, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		if err := l.Run(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("%s source: receiver stopped: %v", name, err)
		}
	}()
	log.Printf("%s source: listening on %s", name, l.LocalAddr())
	return r, nil
}

func (r *relay) close() error {
	r.cancel()
	err := r.listener.Close()
	<-r.done
	return err
}

// udpSource holds the last {x,y,z} datagram. The receiver goroutine is the
// only writer; Next reads a copy under the lock.
type udpSource struct {
	relay *relay

	mu     sync.RWMutex
	latest geometry.Point3D
	seq    uint64

	// lastSeq is only touched by the consumer.
	lastSeq uint64
}

// NewUDPSource binds addr and starts receiving position datagrams. Next
// returns ErrNoSample until the first one arrives, then the latest value,
// marked Stale when nothing new came in since the previous call.
func NewUDPSource(addr string, readTimeout time.Duration) (Source, error) {
	s := &udpSource{}
	r, err := startRelay("udp", addr, readTimeout, s.handle)
	if err != nil {
		return nil, err
	}
	s.relay = r
	return s, nil
}

func (s *udpSource) handle(payload []byte, from *net.UDPAddr) {
	if !gjson.ValidBytes(payload) {
		log.Printf("udp source: ignoring invalid JSON from %s", from)
		return
	}
	p, ok := pointFromFields(gjson.ParseBytes(payload))
	if !ok {
		log.Printf("udp source: ignoring packet without x/y/z from %s", from)
		return
	}

	s.mu.Lock()
	s.latest = p
	s.seq++
	s.mu.Unlock()
}

func (s *udpSource) Next() (Sample, error) {
	s.mu.RLock()
	p, seq := s.latest, s.seq
	s.mu.RUnlock()

	if seq == 0 {
		return Sample{}, ErrNoSample
	}
	stale := seq == s.lastSeq
	s.lastSeq = seq
	return Sample{Point: p, Stale: stale}, nil
}

// LocalAddr returns the bound address.
func (s *udpSource) LocalAddr() *net.UDPAddr {
	return s.relay.listener.LocalAddr()
}

func (s *udpSource) Close() error {
	return s.relay.close()
}
