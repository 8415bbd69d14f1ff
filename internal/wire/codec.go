package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrMalformed wraps every decode failure so callers can match it with
// errors.As regardless of the specific reason.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("wire: malformed packet: %s", e.Reason)
}

func malformed(format string, args ...any) error {
	return &ErrMalformed{Reason: fmt.Sprintf(format, args...)}
}

// Encode produces the byte string for a packet: a fixed 10-byte header
// (type, operation, protocol, flags, sequence number, payload length)
// followed by the payload.
func Encode(p *Packet) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, headerSize+len(p.Payload))
	buf[0] = byte(p.Type)
	buf[1] = byte(p.Operation)
	buf[2] = byte(p.Protocol)
	if p.IsLast {
		buf[3] = flagIsLast
	}
	binary.BigEndian.PutUint32(buf[4:8], p.SequenceNumber)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(p.Payload)))
	copy(buf[headerSize:], p.Payload)
	return buf, nil
}

// Decode parses a single datagram's bytes into a Packet, failing with
// an *ErrMalformed when the length is short, payload_length disagrees
// with the trailing byte count, or an enumeration byte is out of
// range.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < headerSize {
		return nil, malformed("length %d below minimum header size %d", len(raw), headerSize)
	}

	p := &Packet{
		Type:           Type(raw[0]),
		Operation:      Operation(raw[1]),
		Protocol:       Protocol(raw[2]),
		IsLast:         raw[3]&flagIsLast != 0,
		SequenceNumber: binary.BigEndian.Uint32(raw[4:8]),
	}

	payloadLength := int(binary.BigEndian.Uint16(raw[8:10]))
	rest := raw[headerSize:]
	if payloadLength != len(rest) {
		return nil, malformed("payload_length %d does not match trailing byte count %d", payloadLength, len(rest))
	}
	if payloadLength > 0 {
		p.Payload = make([]byte, payloadLength)
		copy(p.Payload, rest)
	}

	if err := p.validate(); err != nil {
		return nil, malformed("%s", err)
	}
	return p, nil
}
