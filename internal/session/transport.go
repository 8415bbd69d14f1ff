package session

import (
	"errors"
	"net"
	"time"

	"github.com/mlindqvist/rft/internal/netsock"
	"github.com/mlindqvist/rft/internal/rdt"
	"github.com/mlindqvist/rft/internal/wire"
)

// boundTransport adapts a netsock.Socket fixed to one peer address
// into the narrow rdt.Transport contract. It is the one place that
// decides what happens when a datagram's source address doesn't match
// the session's known peer mid-transfer: it's treated as a protocol
// violation and silently dropped, never surfaced to the RDT engine.
type boundTransport struct {
	sock *netsock.Socket
	peer *net.UDPAddr
}

func newBoundTransport(sock *netsock.Socket, peer *net.UDPAddr) *boundTransport {
	return &boundTransport{sock: sock, peer: peer}
}

func (t *boundTransport) Send(pkt *wire.Packet) error {
	return t.sock.Send(pkt, t.peer)
}

// Receive loops internally, discarding malformed bytes and
// off-peer datagrams, until a well-formed packet from peer arrives or
// the deadline computed from timeout passes.
func (t *boundTransport) Receive(timeout time.Duration) (*wire.Packet, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, rdt.ErrTimeout
		}
		pkt, addr, err := t.sock.Receive(remaining)
		if err != nil {
			if errors.Is(err, netsock.ErrTimeout) {
				return nil, rdt.ErrTimeout
			}
			var malformed *wire.ErrMalformed
			if errors.As(err, &malformed) {
				continue // MALFORMED: drop and keep waiting within the same window.
			}
			return nil, err // fatal local socket error
		}
		if !sameAddr(addr, t.peer) {
			continue // PROTOCOL_VIOLATION: drop and keep waiting.
		}
		return pkt, nil
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
