// Package session binds a protocol engine, a peer address, a file
// stream, and a direction into one file transfer: it runs the
// handshake for its side (initiator or responder), delegates to the
// selected RDT engine until the transfer completes, then runs the
// FIN/FIN-ACK teardown. internal/rdt knows nothing about addresses or
// FIN; internal/netsock knows nothing about sessions. This package is
// where those two meet.
package session

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/rft/internal/netsock"
	"github.com/mlindqvist/rft/internal/rdt"
	"github.com/mlindqvist/rft/internal/wire"
)

// Role is derived from (isClient, operation): a client UPLOAD or
// server DOWNLOAD session sends; a server UPLOAD or client DOWNLOAD
// session receives.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// roleFor derives a Session's Role from which side it runs on and the
// transfer direction named by the SYN's operation field.
func roleFor(isClient bool, op wire.Operation) Role {
	switch {
	case isClient && op == wire.Upload:
		return RoleSender
	case isClient && op == wire.Download:
		return RoleReceiver
	case !isClient && op == wire.Upload:
		return RoleReceiver
	default: // !isClient && op == wire.Download
		return RoleSender
	}
}

// Session is one file transfer's lifetime, from the moment its peer
// address and protocol are known (post-handshake) through FIN-ACK or
// abort.
type Session struct {
	sock     *netsock.Socket
	peer     *net.UDPAddr
	protocol wire.Protocol
	role     Role
	log      *logrus.Entry
}

// New binds a socket already dedicated to one peer (the client's own
// socket, or a server's freshly allocated ephemeral socket) into a
// Session ready to run its transfer phase. Handshaking happens
// separately, via ClientHandshake or the dispatcher's responder-side
// helpers in handshake.go, because the handshake's addressing rules
// differ from the steady-state transfer's.
func New(sock *netsock.Socket, peer *net.UDPAddr, isClient bool, op wire.Operation, protocol wire.Protocol, log *logrus.Entry) *Session {
	return &Session{
		sock:     sock,
		peer:     peer,
		protocol: protocol,
		role:     roleFor(isClient, op),
		log:      log.WithFields(logrus.Fields{"peer": peer.String(), "role": roleFor(isClient, op).String()}),
	}
}

// Run drives the full transfer: engine phase, then teardown. src is
// consulted only for RoleSender, sink only for RoleReceiver; the
// unused one may be nil.
func (s *Session) Run(ctx context.Context, src io.Reader, sink io.Writer) error {
	tr := newBoundTransport(s.sock, s.peer)

	switch s.role {
	case RoleSender:
		if err := s.runSender(ctx, tr, src); err != nil {
			return err
		}
		return s.senderTeardown(ctx, tr)
	default:
		finalAck, err := s.runReceiver(ctx, tr, sink)
		if err != nil {
			return err
		}
		return s.receiverTeardown(ctx, tr, finalAck)
	}
}

func (s *Session) runSender(ctx context.Context, tr rdt.Transport, src io.Reader) error {
	if s.protocol == wire.GoBackN {
		return rdt.RunGoBackNSender(ctx, tr, src, s.log)
	}
	return rdt.RunStopAndWaitSender(ctx, tr, src, s.log)
}

func (s *Session) runReceiver(ctx context.Context, tr rdt.Transport, sink io.Writer) (uint32, error) {
	if s.protocol == wire.GoBackN {
		return rdt.RunGoBackNReceiver(ctx, tr, sink, s.log)
	}
	return rdt.RunStopAndWaitReceiver(ctx, tr, sink, s.log)
}

// waitForType blocks on tr.Receive until a packet of type want arrives
// from the bound peer, the deadline passes (rdt.ErrTimeout), or ctx is
// cancelled. It is the session package's own narrow replica of rdt's
// unexported waitFor, since FIN/FIN-ACK never travel through the RDT
// engine.
func waitForType(ctx context.Context, tr rdt.Transport, deadline time.Time, want wire.Type) (*wire.Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, rdt.ErrTimeout
		}
		pkt, err := tr.Receive(remaining)
		if err != nil {
			if err == rdt.ErrTimeout {
				return nil, rdt.ErrTimeout
			}
			return nil, &rdt.NetworkError{Err: err}
		}
		if pkt.Type == want {
			return pkt, nil
		}
		// Anything else arriving here is a stray from a prior phase
		// (e.g. a retransmitted ACK); keep waiting within the window.
	}
}

// senderTeardown sends FIN and waits for FIN-ACK, retrying on RTO up
// to rdt.MaxRetries. An unanswered FIN is not fatal: the data has
// already been delivered and acknowledged, so the sender closes
// best-effort either way.
func (s *Session) senderTeardown(ctx context.Context, tr rdt.Transport) error {
	fin := &wire.Packet{Type: wire.FIN}
	for attempt := 0; attempt < rdt.MaxRetries; attempt++ {
		if err := tr.Send(fin); err != nil {
			return &rdt.NetworkError{Err: err}
		}
		deadline := time.Now().Add(rdt.RTO)
		_, err := waitForType(ctx, tr, deadline, wire.FINACK)
		if err == nil {
			s.log.Debug("teardown: FIN-ACK received")
			return nil
		}
		if err != rdt.ErrTimeout {
			return err
		}
		s.log.WithField("attempt", attempt+1).Debug("teardown: FIN-ACK timed out, retransmitting FIN")
	}
	s.log.Warn("teardown: FIN-ACK never observed, closing best-effort")
	return nil
}

// receiverTeardown waits for the sender's FIN and replies FIN-ACK, then
// lingers rdt.Linger answering any further duplicate FIN (resend
// FIN-ACK). The terminal ACK the RDT engine already sent for the final
// DATA can itself be lost: the sender is still inside its own RTO-retry
// loop at that point and will simply retransmit the final DATA rather
// than send FIN, so a duplicate DATA can arrive before FIN ever does,
// not just during the post-FIN-ACK linger. This loop therefore answers
// wire.DATA with the cached finalAck for its entire lifetime — both
// while still waiting for FIN and during the trailing linger — so a
// lost terminal ACK never strands the sender retransmitting until it
// gives up on the peer.
func (s *Session) receiverTeardown(ctx context.Context, tr rdt.Transport, finalAck uint32) error {
	ack := &wire.Packet{Type: wire.ACK, SequenceNumber: finalAck}
	deadline := time.Now().Add(rdt.RTO * time.Duration(rdt.MaxRetries))
	finAcked := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if finAcked {
				return nil
			}
			return rdt.ErrPeerUnresponsive
		}
		pkt, err := tr.Receive(remaining)
		if err != nil {
			if err == rdt.ErrTimeout {
				if finAcked {
					return nil
				}
				return rdt.ErrPeerUnresponsive
			}
			return &rdt.NetworkError{Err: err}
		}
		switch pkt.Type {
		case wire.FIN:
			if err := tr.Send(&wire.Packet{Type: wire.FINACK}); err != nil {
				return &rdt.NetworkError{Err: err}
			}
			if !finAcked {
				finAcked = true
				deadline = time.Now().Add(rdt.Linger)
			}
		case wire.DATA:
			if err := tr.Send(ack); err != nil {
				return &rdt.NetworkError{Err: err}
			}
		}
	}
}
