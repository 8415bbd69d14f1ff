package session

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/mlindqvist/rft/internal/netsock"
	"github.com/mlindqvist/rft/internal/rdt"
	"github.com/mlindqvist/rft/internal/wire"
)

// EncodeFileSize packs a DOWNLOAD SYN-ACK's file_size payload.
func EncodeFileSize(size uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, size)
	return buf
}

// DecodeFileSize unpacks a DOWNLOAD SYN-ACK's file_size payload.
func DecodeFileSize(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, newError(KindMalformed, nil)
	}
	return binary.BigEndian.Uint64(payload), nil
}

// HandshakeResult is what a client learns from a successful three-way
// handshake: the server's ephemeral address all further traffic must
// go to, and (for DOWNLOAD) the remote file's size.
type HandshakeResult struct {
	ServerAddr *net.UDPAddr
	FileSize   uint64
}

// ClientHandshake runs the client side of the three-way handshake: send
// SYN to the well-known server address, learn the server's ephemeral address
// from the SYN-ACK's source, and send the closing ACK there. It
// retries the SYN on timeout up to rdt.MaxRetries, which is also what
// makes a lost SYN-ACK recoverable (the dispatcher answers a duplicate
// SYN idempotently).
func ClientHandshake(ctx context.Context, sock *netsock.Socket, server *net.UDPAddr, op wire.Operation, protocol wire.Protocol, filename string) (*HandshakeResult, error) {
	syn := &wire.Packet{Type: wire.SYN, Operation: op, Protocol: protocol, Payload: []byte(filename)}

	for attempt := 0; attempt < rdt.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := sock.Send(syn, server); err != nil {
			return nil, &rdt.NetworkError{Err: err}
		}

		deadline := time.Now().Add(rdt.RTO)
		pkt, from, err := receiveFrom(ctx, sock, deadline, func(p *wire.Packet) bool {
			return p.Type == wire.SYNACK || p.Type == wire.ERROR
		})
		if err == rdt.ErrTimeout {
			continue
		}
		if err != nil {
			return nil, err
		}

		if pkt.Type == wire.ERROR {
			return nil, newError(kindFromErrorPayload(pkt.Payload), nil)
		}

		result := &HandshakeResult{ServerAddr: from}
		if op == wire.Download {
			size, err := DecodeFileSize(pkt.Payload)
			if err != nil {
				return nil, err
			}
			result.FileSize = size
		}

		ack := &wire.Packet{Type: wire.ACK}
		if err := sock.Send(ack, from); err != nil {
			return nil, &rdt.NetworkError{Err: err}
		}
		return result, nil
	}
	return nil, rdt.ErrPeerUnresponsive
}

// ServerHandshake runs the responder side of a single session's
// handshake on its freshly allocated ephemeral socket: send the
// SYN-ACK (built by the caller, since its payload depends on whether
// the transfer is an UPLOAD or a DOWNLOAD), then wait for the client's
// closing ACK, retransmitting the SYN-ACK on each RTO up to
// rdt.MaxRetries.
func ServerHandshake(ctx context.Context, sock *netsock.Socket, client *net.UDPAddr, synAck *wire.Packet) error {
	for attempt := 0; attempt < rdt.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sock.Send(synAck, client); err != nil {
			return &rdt.NetworkError{Err: err}
		}

		deadline := time.Now().Add(rdt.RTO)
		_, _, err := receiveFromAddr(ctx, sock, client, deadline, func(p *wire.Packet) bool {
			return p.Type == wire.ACK
		})
		if err == rdt.ErrTimeout {
			continue
		}
		if err != nil {
			return err
		}
		return nil
	}
	return rdt.ErrPeerUnresponsive
}

// BuildSynAck constructs the SYN-ACK payload: empty for UPLOAD, the
// 8-byte file_size for DOWNLOAD.
func BuildSynAck(op wire.Operation, fileSize uint64) *wire.Packet {
	pkt := &wire.Packet{Type: wire.SYNACK}
	if op == wire.Download {
		pkt.Payload = EncodeFileSize(fileSize)
	}
	return pkt
}

// BuildError constructs an ERROR packet carrying a human-readable kind
// string, sent at handshake time.
func BuildError(kind Kind) *wire.Packet {
	return &wire.Packet{Type: wire.ERROR, Payload: []byte(kind.String())}
}

func kindFromErrorPayload(payload []byte) Kind {
	switch string(payload) {
	case KindFileNotFound.String():
		return KindFileNotFound
	case KindFileExists.String():
		return KindFileExists
	default:
		return KindProtocolViolation
	}
}

// receiveFrom waits on sock, unfiltered by peer address (the handshake
// doesn't yet know the server's ephemeral address), for a packet
// accept approves, up to deadline.
func receiveFrom(ctx context.Context, sock *netsock.Socket, deadline time.Time, accept func(*wire.Packet) bool) (*wire.Packet, *net.UDPAddr, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil, rdt.ErrTimeout
		}
		pkt, addr, err := sock.Receive(remaining)
		if err != nil {
			if err == netsock.ErrTimeout {
				return nil, nil, rdt.ErrTimeout
			}
			var malformed *wire.ErrMalformed
			if errors.As(err, &malformed) {
				continue // MALFORMED: drop and keep waiting within the same window.
			}
			return nil, nil, err // fatal local socket error
		}
		if accept(pkt) {
			return pkt, addr, nil
		}
	}
}

// receiveFromAddr is receiveFrom narrowed to one known peer, for the
// server side once the client's address is already fixed. Datagrams
// from any other source are dropped as PROTOCOL_VIOLATION, same as
// boundTransport does for the steady-state transfer.
func receiveFromAddr(ctx context.Context, sock *netsock.Socket, peer *net.UDPAddr, deadline time.Time, accept func(*wire.Packet) bool) (*wire.Packet, *net.UDPAddr, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil, rdt.ErrTimeout
		}
		pkt, addr, err := sock.Receive(remaining)
		if err != nil {
			if err == netsock.ErrTimeout {
				return nil, nil, rdt.ErrTimeout
			}
			var malformed *wire.ErrMalformed
			if errors.As(err, &malformed) {
				continue
			}
			return nil, nil, err
		}
		if !sameAddr(addr, peer) {
			continue
		}
		if accept(pkt) {
			return pkt, addr, nil
		}
	}
}
