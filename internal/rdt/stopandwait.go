package rdt

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/rft/internal/wire"
)

// RunStopAndWaitSender reads src to completion, sending it as a series
// of DATA packets with window size 1: one outstanding packet at a
// time, each retransmitted on RTO until acknowledged before the next
// is sent. It returns once the last DATA has been acknowledged.
func RunStopAndWaitSender(ctx context.Context, tr Transport, src io.Reader, log *logrus.Entry) error {
	chunks := newChunker(src)
	var seq uint32

	for {
		c, err := chunks.next()
		if err != nil {
			return &IOError{Err: err}
		}

		pkt := &wire.Packet{Type: wire.DATA, SequenceNumber: seq, IsLast: c.isLast, Payload: c.data}
		acked := false
		for attempt := 0; attempt < MaxRetries; attempt++ {
			if err := send(tr, pkt); err != nil {
				return err
			}
			deadline := timeNow().Add(RTO)
			_, err := waitFor(ctx, tr, deadline, func(p *wire.Packet) bool {
				return p.Type == wire.ACK && p.SequenceNumber == seq+1
			})
			if err == nil {
				acked = true
				break
			}
			if err == ErrTimeout {
				log.WithField("seq", seq).WithField("attempt", attempt+1).Debug("stop-and-wait: RTO, retransmitting")
				continue
			}
			return err
		}
		if !acked {
			return ErrPeerUnresponsive
		}

		seq++
		if c.isLast {
			return nil
		}
	}
}

// RunStopAndWaitReceiver accepts DATA packets strictly in order,
// writing each to sink exactly once and discarding duplicates/futures
// with a re-ACK of the current boundary. It
// returns as soon as the final DATA has been accepted and
// acknowledged, along with the final cumulative ACK value; answering
// stray retransmits of that final DATA (and the FIN/FIN-ACK exchange)
// during the teardown linger is internal/session's job, not this
// engine's.
func RunStopAndWaitReceiver(ctx context.Context, tr Transport, sink io.Writer, log *logrus.Entry) (uint32, error) {
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
			// Duplicate or future: re-ACK the boundary without writing.
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
			log.WithField("bytes_through", expected).Debug("stop-and-wait receiver: final DATA accepted")
			return expected, nil
		}
	}
}
