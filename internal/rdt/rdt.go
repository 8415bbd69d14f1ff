// Package rdt implements the two selectable reliable-data-transfer
// protocols — Stop-and-Wait and Go-Back-N(5) — as a pair of
// sender/receiver state machines driving a byte stream over a
// Transport. The package never touches net.Addr or *net.UDPConn
// directly: it is handed a narrow Transport by internal/session, which
// owns the peer-address and handshake bookkeeping.
package rdt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mlindqvist/rft/internal/wire"
)

// RTO is the fixed retransmission timeout for both protocol variants.
const RTO = 500 * time.Millisecond

// MaxRetries is the number of consecutive timeouts without progress a
// session tolerates before declaring the peer unresponsive.
const MaxRetries = 10

// Linger is how long a receiver keeps answering duplicates of the
// final DATA/FIN after it has already completed the transfer.
const Linger = 2 * RTO

// WindowSize returns the fixed window for a protocol: 1 for
// Stop-and-Wait, 5 for Go-Back-N.
func WindowSize(p wire.Protocol) int {
	if p == wire.GoBackN {
		return 5
	}
	return 1
}

// timeNow is indirected for tests that want to control elapsed RTO
// windows deterministically.
var timeNow = time.Now

// ErrPeerUnresponsive is returned when MaxRetries consecutive
// timeouts elapse without the peer acknowledging any progress.
var ErrPeerUnresponsive = errors.New("rdt: peer unresponsive")

// Transport is the narrow send/receive contract the protocol engine
// needs. Implementations bind a specific peer address and are
// responsible for silently discarding datagrams from any other
// source (spec treats those as PROTOCOL_VIOLATION) — by the time a
// packet reaches Receive, it is already known to be from the right
// peer.
type Transport interface {
	Send(pkt *wire.Packet) error
	// Receive blocks up to timeout for the next packet from the bound
	// peer. It returns ErrTimeout on expiry. Any other error is fatal
	// to the session (e.g. the local socket closed).
	Receive(timeout time.Duration) (*wire.Packet, error)
}

// ErrTimeout is returned by a Transport when no packet arrives within
// the requested window. It is this package's own sentinel, separate
// from netsock's, so this package doesn't import netsock directly; the
// session package's Transport adapter maps netsock.ErrTimeout onto
// this value.
var ErrTimeout = errors.New("rdt: receive timed out")

// NetworkError wraps a failure to transmit a packet (spec's
// NETWORK_ERROR).
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return fmt.Sprintf("rdt: network error: %s", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// IOError wraps a failure to read the byte source or write the byte
// sink (spec's FILE_IO).
type IOError struct{ Err error }

func (e *IOError) Error() string { return fmt.Sprintf("rdt: local I/O error: %s", e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// chunk is one piece of the sender's byte source, already known to be
// the last one or not — this requires one chunk of read-ahead (see
// chunker.next below), which is how the exact-MaxPayload and
// MaxPayload+1 boundary cases are told apart.
type chunk struct {
	data   []byte
	isLast bool
}

// chunker splits an io.Reader into MaxPayload-sized pieces and tags
// the final one, including the degenerate empty-file case (exactly
// one zero-length, is_last chunk).
type chunker struct {
	br *bufio.Reader
}

func newChunker(r io.Reader) *chunker {
	return &chunker{br: bufio.NewReaderSize(r, wire.MaxPayload)}
}

func (c *chunker) next() (chunk, error) {
	buf := make([]byte, wire.MaxPayload)
	n, err := io.ReadFull(c.br, buf)
	switch {
	case err == nil:
		// Got a full chunk; peek to see whether the stream continues.
		if _, peekErr := c.br.Peek(1); peekErr != nil {
			return chunk{data: buf[:n], isLast: true}, nil
		}
		return chunk{data: buf[:n], isLast: false}, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return chunk{data: buf[:n], isLast: true}, nil
	default:
		return chunk{}, err
	}
}

// waitFor blocks on tr.Receive, recomputing the remaining time against
// deadline on each attempt, until accept returns true for some packet,
// the deadline passes (ErrTimeout), or ctx is cancelled.
func waitFor(ctx context.Context, tr Transport, deadline time.Time, accept func(*wire.Packet) bool) (*wire.Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		pkt, err := tr.Receive(remaining)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, ErrTimeout
			}
			return nil, &NetworkError{Err: err}
		}
		if accept(pkt) {
			return pkt, nil
		}
		// Not the packet we wanted; keep listening within the same window.
	}
}

func send(tr Transport, pkt *wire.Packet) error {
	if err := tr.Send(pkt); err != nil {
		return &NetworkError{Err: err}
	}
	return nil
}
