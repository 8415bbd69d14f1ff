package rdt

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mlindqvist/rft/internal/wire"
)

// chanTransport is an in-memory Transport used to exercise the sender
// and receiver state machines without a real socket.
type chanTransport struct {
	outgoing chan *wire.Packet
	incoming chan *wire.Packet
}

func (c *chanTransport) Send(pkt *wire.Packet) error {
	c.outgoing <- pkt
	return nil
}

func (c *chanTransport) Receive(timeout time.Duration) (*wire.Packet, error) {
	select {
	case p := <-c.incoming:
		return p, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// newLossyLink wires two chanTransports together through a relay that
// randomly drops packets in each direction at lossRate, simulating the
// packet loss a completed session must tolerate for loss rates up to
// 50%.
func newLossyLink(lossRate float64, rng *rand.Rand) (Transport, Transport) {
	aSend := make(chan *wire.Packet, 256)
	bSend := make(chan *wire.Packet, 256)
	aRecv := make(chan *wire.Packet, 256)
	bRecv := make(chan *wire.Packet, 256)

	relay := func(in <-chan *wire.Packet, out chan<- *wire.Packet) {
		for pkt := range in {
			if rng.Float64() < lossRate {
				continue
			}
			out <- pkt
		}
	}
	go relay(aSend, bRecv)
	go relay(bSend, aRecv)

	a := &chanTransport{outgoing: aSend, incoming: aRecv}
	b := &chanTransport{outgoing: bSend, incoming: bRecv}
	return a, b
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func runTransfer(t *testing.T, protocol wire.Protocol, payload []byte, lossRate float64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	senderTr, receiverTr := newLossyLink(lossRate, rng)

	var received bytes.Buffer
	errs := make(chan error, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	senderDone := make(chan struct{})
	go func() {
		var err error
		if protocol == wire.GoBackN {
			err = RunGoBackNSender(ctx, senderTr, bytes.NewReader(payload), discardLog())
		} else {
			err = RunStopAndWaitSender(ctx, senderTr, bytes.NewReader(payload), discardLog())
		}
		close(senderDone)
		errs <- err
	}()
	go func() {
		var finalAck uint32
		var err error
		if protocol == wire.GoBackN {
			finalAck, err = RunGoBackNReceiver(ctx, receiverTr, &received, discardLog())
		} else {
			finalAck, err = RunStopAndWaitReceiver(ctx, receiverTr, &received, discardLog())
		}
		// The engine returns right after acknowledging the final DATA, and
		// internal/session's teardown answers retransmits of it if that ACK
		// was lost. Stand in for that teardown here until the sender is done.
		for err == nil {
			select {
			case <-senderDone:
				errs <- nil
				return
			default:
			}
			if pkt, rerr := receiverTr.Receive(10 * time.Millisecond); rerr == nil && pkt.Type == wire.DATA {
				_ = receiverTr.Send(&wire.Packet{Type: wire.ACK, SequenceNumber: finalAck})
			}
		}
		errs <- err
	}()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	return received.Bytes()
}

func TestStopAndWaitRoundTripNoLoss(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	got := runTransfer(t, wire.StopAndWait, payload, 0)
	require.Equal(t, payload, got)
}

func TestGoBackNRoundTripNoLoss(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 5200)
	got := runTransfer(t, wire.GoBackN, payload, 0)
	require.Equal(t, payload, got)
}

func TestGoBackNRoundTripWithLoss(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 600) // 6000 bytes, several windows
	got := runTransfer(t, wire.GoBackN, payload, 0.2)
	require.Equal(t, payload, got)
}

func TestStopAndWaitRoundTripWithLoss(t *testing.T) {
	payload := bytes.Repeat([]byte("abcd"), 500)
	got := runTransfer(t, wire.StopAndWait, payload, 0.2)
	require.Equal(t, payload, got)
}

func TestEmptyFileProducesSingleFinalChunk(t *testing.T) {
	got := runTransfer(t, wire.StopAndWait, []byte{}, 0)
	require.Empty(t, got)
}

func TestExactMaxPayloadBoundary(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, wire.MaxPayload)
	got := runTransfer(t, wire.GoBackN, payload, 0)
	require.Equal(t, payload, got)
}

func TestMaxPayloadPlusOneBoundary(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, wire.MaxPayload+1)
	got := runTransfer(t, wire.GoBackN, payload, 0)
	require.Equal(t, payload, got)
}

// TestGoBackNReceiverDiscardsDuplicates verifies that delivering the
// same DATA twice advances the receiver exactly once.
func TestGoBackNReceiverDiscardsDuplicates(t *testing.T) {
	aSend := make(chan *wire.Packet, 16)
	bSend := make(chan *wire.Packet, 16)
	a := &chanTransport{outgoing: aSend, incoming: bSend}
	b := &chanTransport{outgoing: bSend, incoming: aSend}

	var sink bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := RunGoBackNReceiver(ctx, b, &sink, discardLog())
		done <- err
	}()

	firstPkt := &wire.Packet{Type: wire.DATA, SequenceNumber: 0, Payload: []byte("hi")}
	require.NoError(t, a.Send(firstPkt))
	ack, err := a.Receive(time.Second)
	require.NoError(t, err)
	require.Equal(t, wire.ACK, ack.Type)
	require.EqualValues(t, 1, ack.SequenceNumber)

	// Duplicate of the already-accepted DATA: must not be written again,
	// and the boundary ACK it gets back must be unchanged.
	require.NoError(t, a.Send(firstPkt))
	dupAck, err := a.Receive(time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, dupAck.SequenceNumber)

	lastPkt := &wire.Packet{Type: wire.DATA, SequenceNumber: 1, IsLast: true, Payload: []byte("!")}
	require.NoError(t, a.Send(lastPkt))
	finalAck, err := a.Receive(time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 2, finalAck.SequenceNumber)

	require.NoError(t, <-done)
	require.Equal(t, "hi!", sink.String())
}
