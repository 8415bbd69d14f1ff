package rdt

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/rft/internal/wire"
)

// gbnWindow is the fixed Go-Back-N window size.
const gbnWindow = 5

// inflightPacket is one outstanding, unacknowledged DATA packet.
type inflightPacket struct {
	seq    uint32
	isLast bool
	pkt    *wire.Packet
}

// RunGoBackNSender streams src as DATA packets, keeping up to
// gbnWindow unacknowledged packets outstanding at once. ACKs are
// cumulative: an ACK for value a retires every inflight packet with
// sequence < a and slides base forward. On RTO it retransmits every
// packet currently inflight, in order.
func RunGoBackNSender(ctx context.Context, tr Transport, src io.Reader, log *logrus.Entry) error {
	chunks := newChunker(src)

	var (
		base      uint32
		nextSeq   uint32
		inflight  []inflightPacket
		sourceEOF bool
		retries   int
	)

	fill := func() error {
		for !sourceEOF && len(inflight) < gbnWindow {
			c, err := chunks.next()
			if err != nil {
				return &IOError{Err: err}
			}
			pkt := &wire.Packet{Type: wire.DATA, SequenceNumber: nextSeq, IsLast: c.isLast, Payload: c.data}
			if err := send(tr, pkt); err != nil {
				return err
			}
			inflight = append(inflight, inflightPacket{seq: nextSeq, isLast: c.isLast, pkt: pkt})
			nextSeq++
			if c.isLast {
				sourceEOF = true
			}
		}
		return nil
	}

	retransmitWindow := func() error {
		for _, p := range inflight {
			if err := send(tr, p.pkt); err != nil {
				return err
			}
		}
		return nil
	}

	if err := fill(); err != nil {
		return err
	}

	for len(inflight) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		deadline := timeNow().Add(RTO)
		pkt, err := waitFor(ctx, tr, deadline, func(p *wire.Packet) bool { return p.Type == wire.ACK })
		if err == ErrTimeout {
			retries++
			if retries >= MaxRetries {
				return ErrPeerUnresponsive
			}
			log.WithField("base", base).WithField("attempt", retries).Debug("go-back-n: RTO, retransmitting window")
			if err := retransmitWindow(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		// Cumulative ACK: ignore anything that doesn't advance base
		// ("the sender treats the larger as authoritative").
		if pkt.SequenceNumber <= base {
			continue
		}
		base = pkt.SequenceNumber
		retries = 0

		kept := inflight[:0]
		for _, p := range inflight {
			if p.seq >= base {
				kept = append(kept, p)
			}
		}
		inflight = kept

		if err := fill(); err != nil {
			return err
		}
	}

	return nil
}

// RunGoBackNReceiver accepts DATA strictly in order: a packet whose
// sequence matches expected is delivered and advances the boundary; any
// other DATA gets a duplicate ACK of the unchanged boundary. It returns
// as soon as the final DATA is accepted and acknowledged; internal/session
// owns the post-transfer linger and the FIN/FIN-ACK exchange.
func RunGoBackNReceiver(ctx context.Context, tr Transport, sink io.Writer, log *logrus.Entry) (uint32, error) {
	var expected uint32
	retries := 0

	for {
		deadline := timeNow().Add(RTO)
		pkt, err := waitFor(ctx, tr, deadline, func(p *wire.Packet) bool { return p.Type == wire.DATA })
		if err == ErrTimeout {
			retries++
			if retries >= MaxRetries {
				return expected, ErrPeerUnresponsive
			}
			continue
		}
		if err != nil {
			return expected, err
		}
		retries = 0

		if pkt.SequenceNumber != expected {
			if err := send(tr, &wire.Packet{Type: wire.ACK, SequenceNumber: expected}); err != nil {
				return expected, err
			}
			continue
		}

		if len(pkt.Payload) > 0 {
			if _, err := sink.Write(pkt.Payload); err != nil {
				return expected, &IOError{Err: err}
			}
		}
		expected++
		if err := send(tr, &wire.Packet{Type: wire.ACK, SequenceNumber: expected}); err != nil {
			return expected, err
		}

		if pkt.IsLast {
			log.WithField("bytes_through", expected).Debug("go-back-n receiver: final DATA accepted")
			return expected, nil
		}
	}
}
