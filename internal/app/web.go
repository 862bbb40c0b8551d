package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/cycle_tracker/internal/config"
	"github.com/relabs-tech/cycle_tracker/internal/transport"
	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

// wsSendBuffer is how many packets a slow websocket client may lag behind
// before packets are dropped for it.
const wsSendBuffer = 64

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// webRelay keeps the latest packet of each kind and pushes every packet to
// websocket clients.
type webRelay struct {
	mu      sync.RWMutex
	latest  map[string]json.RawMessage
	clients map[*wsClient]struct{}
}

func newWebRelay() *webRelay {
	return &webRelay{
		latest:  make(map[string]json.RawMessage),
		clients: make(map[*wsClient]struct{}),
	}
}

// handlePacket records and broadcasts one datagram. Payloads that are not
// packets are dropped.
func (w *webRelay) handlePacket(payload []byte) {
	p, err := wire.Decode(payload)
	if err != nil {
		log.Printf("web: %v", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest[p.Kind()] = json.RawMessage(payload)
	for c := range w.clients {
		select {
		case c.send <- payload:
		default:
			// Client is not keeping up; drop this packet for it.
		}
	}
}

func (w *webRelay) handlePhase(rw http.ResponseWriter, _ *http.Request) {
	w.mu.RLock()
	last, ok := w.latest[wire.KindPhase]
	w.mu.RUnlock()

	if !ok {
		http.Error(rw, "no data yet", http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	if _, err := rw.Write(last); err != nil {
		log.Printf("web: write error: %v", err)
	}
}

func (w *webRelay) handleLatest(rw http.ResponseWriter, _ *http.Request) {
	w.mu.RLock()
	snapshot := make(map[string]json.RawMessage, len(w.latest))
	for k, v := range w.latest {
		snapshot[k] = v
	}
	w.mu.RUnlock()

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(snapshot); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (w *webRelay) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade failed: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	w.mu.Lock()
	w.clients[c] = struct{}{}
	w.mu.Unlock()
	log.Printf("web: websocket client %s connected", conn.RemoteAddr())

	go w.writePump(c)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	w.mu.Lock()
	delete(w.clients, c)
	close(c.send)
	w.mu.Unlock()
	log.Printf("web: websocket client %s disconnected", conn.RemoteAddr())
}

// writePump is the only writer of c.conn.
func (w *webRelay) writePump(c *wsClient) {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("web: websocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (w *webRelay) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/phase", w.handlePhase)
	mux.HandleFunc("/api/latest", w.handleLatest)
	mux.HandleFunc("/ws", w.handleWS)
	return mux
}

// RunWeb relays the packet stream received on VIEWER_LISTEN_ADDR to HTTP:
// /api/phase serves the latest phase update, /api/latest the latest packet
// of every kind and /ws pushes every packet as it arrives.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()
	relay := newWebRelay()

	l, err := transport.Listen(cfg.ViewerListenAddr, cfg.ReadTimeout())
	if err != nil {
		return err
	}
	defer l.Close()
	log.Printf("web: receiving packets on %s", l.LocalAddr())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: relay.routes(),
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Printf("web: server listening on %s", srv.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := l.Run(ctx, func(payload []byte, _ *net.UDPAddr) { relay.handlePacket(payload) }); err != nil && ctx.Err() == nil {
			log.Printf("web: packet listener stopped: %v", err)
			cancel()
		}
	}()

	select {
	case err := <-srvErr:
		return err
	case <-ctx.Done():
	}

	log.Println("web: shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
