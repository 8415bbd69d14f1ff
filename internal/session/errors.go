package session

import "fmt"

// Kind enumerates the session-level error taxonomy.
type Kind int

const (
	KindMalformed Kind = iota
	KindTimeout
	KindPeerUnresponsive
	KindFileNotFound
	KindFileExists
	KindFileIO
	KindNetworkError
	KindProtocolViolation
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "MALFORMED"
	case KindTimeout:
		return "TIMEOUT"
	case KindPeerUnresponsive:
		return "PEER_UNRESPONSIVE"
	case KindFileNotFound:
		return "FILE_NOT_FOUND"
	case KindFileExists:
		return "FILE_EXISTS"
	case KindFileIO:
		return "FILE_IO"
	case KindNetworkError:
		return "NETWORK_ERROR"
	case KindProtocolViolation:
		return "PROTOCOL_VIOLATION"
	default:
		return "UNKNOWN"
	}
}

// Error is the session-level error type: a Kind plus the underlying
// cause. Only handshake-phase failures cross the wire as an ERROR
// packet (the dispatcher's file-open and ephemeral-socket failures);
// mid-session failures collapse the peer's session via the timeout path.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewError is the exported constructor, used by callers outside this
// package (the dispatcher) that need to produce a session.Error from
// a local failure, e.g. a storage-layer os.Open result.
func NewError(kind Kind, err error) *Error {
	return newError(kind, err)
}
