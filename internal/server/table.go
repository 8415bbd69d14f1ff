package server

import (
	"net"
	"sync"

	"github.com/mlindqvist/rft/internal/netsock"
	"github.com/mlindqvist/rft/internal/wire"
)

// tableEntry is what the dispatcher remembers about one in-flight or
// active session, enough to answer a duplicate SYN idempotently
// without touching the worker's own state.
type tableEntry struct {
	ephemeral *netsock.Socket
	synAck    *wire.Packet
}

// sessionTable maps a client's address to its tableEntry: at most one
// active session per peer address, inserted on a fresh SYN and removed
// when the worker reaches terminal state. Grounded on
// eenblam-protohackers/7's
// Listener.sessionStore, a sync.Map keyed the same way, generalized
// from LRCP's addr+numeric-session-id key to RFT's addr-only key
// (RFT never multiplexes more than one session per peer).
type sessionTable struct {
	m sync.Map // string(addr) -> *tableEntry
}

func addrKey(addr *net.UDPAddr) string {
	return addr.String()
}

// loadOrStore inserts entry for addr if absent. It returns the entry
// actually stored (the new one, or the existing one on a race) and
// whether it was already present.
func (t *sessionTable) loadOrStore(addr *net.UDPAddr, entry *tableEntry) (*tableEntry, bool) {
	actual, loaded := t.m.LoadOrStore(addrKey(addr), entry)
	return actual.(*tableEntry), loaded
}

func (t *sessionTable) load(addr *net.UDPAddr) (*tableEntry, bool) {
	v, ok := t.m.Load(addrKey(addr))
	if !ok {
		return nil, false
	}
	return v.(*tableEntry), true
}

func (t *sessionTable) delete(addr *net.UDPAddr) {
	t.m.Delete(addrKey(addr))
}

// len reports the number of active entries, used by tests exercising
// concurrent sessions (two concurrent sessions, zero once both finish).
func (t *sessionTable) len() int {
	n := 0
	t.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
