// Package netsock wraps a UDP socket with the send/receive-with-timeout
// contract the RDT engine and sessions need, and nothing more.
package netsock

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mlindqvist/rft/internal/wire"
)

// readBufferBytes/writeBufferBytes size the kernel socket buffers
// generously so bursts of DATA packets under a full Go-Back-N window
// don't get dropped before the protocol's own loss-tolerance kicks in.
const (
	readBufferBytes  = 4 << 20
	writeBufferBytes = 4 << 20
	recvBufSize      = wire.MaxPayload + 64
)

// ErrTimeout is returned by Receive when no datagram arrives within
// the requested deadline.
var ErrTimeout = errors.New("netsock: receive timed out")

// Socket owns exactly one UDP connection, always unconnected (bound
// via ListenUDP rather than DialUDP) so it can address an explicit
// peer on every send and observe the true source address of every
// receive. That's required on both sides of the handshake: the server
// replies to a client's SYN from a freshly allocated ephemeral port,
// and the client must learn that address from the SYN-ACK's source
// rather than assume it matches the well-known port it first wrote
// to. No two sessions ever share one Socket: a server session gets
// its own ephemeral socket, a client session its own locally bound
// one.
type Socket struct {
	conn *net.UDPConn
}

// Listen binds a new Socket to laddr. Used for the server's
// well-known listening socket, for per-session ephemeral sockets
// (bind to ":0" and let the kernel pick a port), and for client
// sockets (also ":0" — the client's local port is never advertised).
func Listen(laddr *net.UDPAddr) (*Socket, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("netsock: listen on %s: %w", laddr, err)
	}
	return wrap(conn), nil
}

func wrap(conn *net.UDPConn) *Socket {
	_ = conn.SetReadBuffer(readBufferBytes)
	_ = conn.SetWriteBuffer(writeBufferBytes)
	return &Socket{conn: conn}
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Send encodes and emits packet to peer. Failures to transmit are
// reported as NETWORK_ERROR by the caller (session/rdt layers); this
// layer just returns the wrapped error.
func (s *Socket) Send(packet *wire.Packet, peer *net.UDPAddr) error {
	raw, err := wire.Encode(packet)
	if err != nil {
		return fmt.Errorf("netsock: encode: %w", err)
	}
	if _, err := s.conn.WriteToUDP(raw, peer); err != nil {
		return fmt.Errorf("netsock: send to %v: %w", peer, err)
	}
	return nil
}

// Receive waits up to timeout for a datagram. On expiry it returns
// ErrTimeout; on malformed bytes it returns the decode error, leaving
// the caller free to retry the read. Both are part of the normal
// control flow, not fatal conditions.
func (s *Socket) Receive(timeout time.Duration) (*wire.Packet, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("netsock: set read deadline: %w", err)
	}

	buf := make([]byte, recvBufSize)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, ErrTimeout
		}
		return nil, nil, fmt.Errorf("netsock: read: %w", err)
	}

	packet, err := wire.Decode(buf[:n])
	if err != nil {
		return nil, addr, err
	}
	return packet, addr, nil
}

// Close releases the underlying UDP connection. Safe to call multiple
// times; only the first call's error is meaningful.
func (s *Socket) Close() error {
	return s.conn.Close()
}
