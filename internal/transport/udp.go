package transport

import (
	"net"

	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

// UDPPublisher writes each packet as one datagram to a fixed address.
// Broadcast addresses are allowed.
type UDPPublisher struct {
	addr string
	conn *net.UDPConn
}

// DialUDP resolves addr and opens the socket. A failure here is a setup
// failure and should stop the tool.
func DialUDP(addr string) (*UDPPublisher, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &Error{Op: "dial", Addr: addr, Err: err}
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, &Error{Op: "dial", Addr: addr, Err: err}
	}
	return &UDPPublisher{addr: addr, conn: conn}, nil
}

// Addr returns the destination address.
func (u *UDPPublisher) Addr() string { return u.addr }

// Publish encodes p and sends it.
func (u *UDPPublisher) Publish(p wire.Packet) error {
	b, err := wire.Marshal(p)
	if err != nil {
		return &Error{Op: "send", Addr: u.addr, Err: err}
	}
	if _, err := u.conn.Write(b); err != nil {
		return &Error{Op: "send", Addr: u.addr, Err: err}
	}
	return nil
}

// Close releases the socket.
func (u *UDPPublisher) Close() error {
	return u.conn.Close()
}
