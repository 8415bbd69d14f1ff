// Package server implements the RFT Server Dispatcher: the component
// that owns the well-known listening socket and the Session Table,
// demultiplexing incoming SYNs into one independent worker per client.
package server

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mlindqvist/rft/internal/netsock"
	"github.com/mlindqvist/rft/internal/session"
	"github.com/mlindqvist/rft/internal/wire"
)

// pollInterval bounds how long the dispatcher's Receive call blocks at
// a time, so it can notice context cancellation promptly without a
// dedicated timer goroutine — the same "deadline minus now" approach
// the session workers use, applied to the listening loop itself.
const pollInterval = 250 * time.Millisecond

// Config names the dispatcher's external dependencies: where uploaded
// files land and existing files are read from, and where to log.
type Config struct {
	StorageDir string
	Log        *logrus.Entry
}

// Dispatcher owns the well-known listening socket and demultiplexes
// incoming SYNs into one independent session per client.
type Dispatcher struct {
	sock  *netsock.Socket
	cfg   Config
	table sessionTable

	workers errgroup.Group
	errsMu  sync.Mutex
	errs    *multierror.Error
}

// NewDispatcher binds a Dispatcher to an already-listening socket.
func NewDispatcher(sock *netsock.Socket, cfg Config) *Dispatcher {
	return &Dispatcher{sock: sock, cfg: cfg}
}

// Run blocks, demultiplexing SYNs into sessions, until ctx is
// cancelled. On cancellation it stops accepting new SYNs and waits for
// already-running workers to reach terminal state. It returns the
// aggregated errors (if any)
// from every worker that exited abnormally.
func (d *Dispatcher) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		pkt, addr, err := d.sock.Receive(pollInterval)
		if err != nil {
			if err == netsock.ErrTimeout {
				continue
			}
			// MALFORMED at the listening socket: drop and keep listening.
			continue
		}
		d.handle(ctx, pkt, addr)
	}

	_ = d.workers.Wait()
	d.errsMu.Lock()
	defer d.errsMu.Unlock()
	return d.errs.ErrorOrNil()
}

func (d *Dispatcher) handle(ctx context.Context, pkt *wire.Packet, addr *net.UDPAddr) {
	if pkt.Type != wire.SYN {
		// Any non-SYN datagram on the listening socket belongs on a
		// session's ephemeral socket instead; a stale peer or reordered
		// packet landed here. Drop it.
		d.cfg.Log.WithFields(logrus.Fields{"peer": addr, "type": pkt.Type}).Debug("dispatcher: dropping non-SYN on listening socket")
		return
	}

	if entry, ok := d.table.load(addr); ok {
		// Duplicate SYN from a peer already in the table: idempotently
		// resend the stored SYN-ACK from the ephemeral socket that owns
		// this session, without creating a second one.
		if err := entry.ephemeral.Send(entry.synAck, addr); err != nil {
			d.cfg.Log.WithError(err).WithField("peer", addr).Warn("dispatcher: failed to resend SYN-ACK for duplicate SYN")
		}
		return
	}

	log := d.cfg.Log.WithFields(logrus.Fields{"peer": addr, "operation": pkt.Operation, "protocol": pkt.Protocol})

	file, fileSize, openErr := openForOperation(d.cfg.StorageDir, pkt.Operation, string(pkt.Payload))
	if openErr != nil {
		log.WithError(openErr).Debug("dispatcher: file open failed, replying ERROR")
		if err := d.sock.Send(session.BuildError(openErr.Kind), addr); err != nil {
			log.WithError(err).Warn("dispatcher: failed to send ERROR reply")
		}
		return
	}

	ephemeral, err := netsock.Listen(&net.UDPAddr{IP: d.sock.LocalAddr().IP, Port: 0})
	if err != nil {
		log.WithError(err).Error("dispatcher: failed to allocate ephemeral socket")
		file.Close()
		_ = d.sock.Send(session.BuildError(session.KindNetworkError), addr)
		return
	}

	synAck := session.BuildSynAck(pkt.Operation, fileSize)
	entry := &tableEntry{ephemeral: ephemeral, synAck: synAck}
	actual, loaded := d.table.loadOrStore(addr, entry)
	if loaded {
		// Lost the race with a concurrent duplicate SYN: discard what
		// we just allocated and defer to the winner.
		ephemeral.Close()
		file.Close()
		_ = actual.ephemeral.Send(actual.synAck, addr)
		return
	}

	log = log.WithField("ephemeral_addr", ephemeral.LocalAddr())
	d.workers.Go(func() error {
		defer d.table.delete(addr)
		defer ephemeral.Close()
		defer file.Close()

		if err := session.ServerHandshake(ctx, ephemeral, addr, synAck); err != nil {
			log.WithError(err).Warn("dispatcher: handshake failed")
			d.recordErr(err)
			return nil
		}

		sess := session.New(ephemeral, addr, false, pkt.Operation, pkt.Protocol, log)
		var src, sink = io.Reader(nil), io.Writer(nil)
		if pkt.Operation == wire.Upload {
			sink = file
		} else {
			src = file
		}
		if err := sess.Run(ctx, src, sink); err != nil {
			log.WithError(err).Warn("dispatcher: session failed")
			d.recordErr(err)
		} else {
			log.Info("dispatcher: session completed")
		}
		return nil
	})
}

func (d *Dispatcher) recordErr(err error) {
	d.errsMu.Lock()
	defer d.errsMu.Unlock()
	d.errs = multierror.Append(d.errs, err)
}

// ActiveSessions reports the current size of the session table, for
// callers (and tests) that want to observe how many sessions are live.
func (d *Dispatcher) ActiveSessions() int {
	return d.table.len()
}
