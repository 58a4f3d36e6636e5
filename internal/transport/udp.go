package transport

import (
	"net"
	"sync"
	"time"
)

// UDPServerConn is a bound UDP socket that answers whoever spoke last.
// Writes before the first datagram arrives fail with ErrNoPeer.
type UDPServerConn struct {
	pc   *net.UDPConn
	mu   sync.RWMutex
	peer *net.UDPAddr
}

// ListenUDP binds addr (host:port) and returns a server-style conn
func ListenUDP(addr string) (*UDPServerConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &UDPServerConn{pc: pc}, nil
}

// Read receives one datagram and remembers its sender as the current peer
func (c *UDPServerConn) Read(p []byte) (int, error) {
	n, addr, err := c.pc.ReadFromUDP(p)
	if addr != nil && n > 0 {
		c.mu.Lock()
		if c.peer == nil || !c.peer.IP.Equal(addr.IP) || c.peer.Port != addr.Port {
			c.peer = addr
		}
		c.mu.Unlock()
	}
	return n, err
}

// Write sends p to the current peer
func (c *UDPServerConn) Write(p []byte) (int, error) {
	c.mu.RLock()
	peer := c.peer
	c.mu.RUnlock()
	if peer == nil {
		return 0, ErrNoPeer
	}
	return c.pc.WriteToUDP(p, peer)
}

// Peer returns the current peer, or nil
func (c *UDPServerConn) Peer() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.peer == nil {
		return nil
	}
	return c.peer
}

// LocalAddr returns the bound address
func (c *UDPServerConn) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}

// Close closes the socket
func (c *UDPServerConn) Close() error {
	return c.pc.Close()
}

// SetReadDeadline sets the read deadline on the socket
func (c *UDPServerConn) SetReadDeadline(t time.Time) error {
	return c.pc.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline on the socket
func (c *UDPServerConn) SetWriteDeadline(t time.Time) error {
	return c.pc.SetWriteDeadline(t)
}

// UDPClientConn sends to a fixed destination from an ephemeral port and
// reads datagrams from any source. The socket is left unconnected so an
// absent receiver never turns into a read error.
type UDPClientConn struct {
	pc  *net.UDPConn
	dst *net.UDPAddr
}

// DialUDP prepares a client-style conn for addr (host:port)
func DialUDP(addr string) (*UDPClientConn, error) {
	dst, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	return &UDPClientConn{pc: pc, dst: dst}, nil
}

// Read receives one datagram from any source
func (c *UDPClientConn) Read(p []byte) (int, error) {
	n, _, err := c.pc.ReadFromUDP(p)
	return n, err
}

// Write sends p to the destination
func (c *UDPClientConn) Write(p []byte) (int, error) {
	return c.pc.WriteToUDP(p, c.dst)
}

// LocalAddr returns the ephemeral source address
func (c *UDPClientConn) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}

// Close closes the socket
func (c *UDPClientConn) Close() error {
	return c.pc.Close()
}

// SetReadDeadline sets the read deadline on the socket
func (c *UDPClientConn) SetReadDeadline(t time.Time) error {
	return c.pc.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline on the socket
func (c *UDPClientConn) SetWriteDeadline(t time.Time) error {
	return c.pc.SetWriteDeadline(t)
}

var (
	_ Conn = (*UDPServerConn)(nil)
	_ Conn = (*UDPClientConn)(nil)
)
