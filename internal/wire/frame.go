// Package wire implements the overlay's length-prefixed textual frame
// format: encoding, decoding, and the incremental per-peer scanner that
// turns a byte stream into whole frames.
package wire

import (
	"fmt"
	"strconv"
)

// Kind classifies a decoded frame.
type Kind byte

const (
	Approval Kind = 'a'
	Neighbors Kind = 'n'
	Ping     Kind = 'p'
	System   Kind = 's'
	User     Kind = 'u'
	Unknown  Kind = 0
)

func decodeKind(b byte) Kind {
	switch Kind(b) {
	case Approval, Neighbors, Ping, System, User:
		return Kind(b)
	default:
		return Unknown
	}
}

func (k Kind) byte() byte {
	if k == Unknown {
		return '?'
	}
	return byte(k)
}

func (k Kind) String() string {
	switch k {
	case Approval:
		return "Approval"
	case Neighbors:
		return "Neighbors"
	case Ping:
		return "Ping"
	case System:
		return "System"
	case User:
		return "User"
	default:
		return "Unknown"
	}
}

// Frame is a decoded wire message.
type Frame struct {
	Kind             Kind
	MessageID        uint64
	AwaitingResponse bool
	SenderPort       uint16
	Payload          []byte
}

// InResponseTo reports whether this frame is a reply to a prior request:
// it carries a non-zero id and is not itself awaiting a response.
func (f Frame) InResponseTo() bool {
	return f.MessageID != 0 && !f.AwaitingResponse
}

// Encode renders f as its on-wire byte sequence, computing the length
// prefix so that it is self-consistent: the encoder iterates until
// including <len>'s own digit count no longer changes the total length's
// digit count. This handles the boundary where adding the payload pushes
// the total length across a power of ten (e.g. 9 -> 10, 99 -> 100).
func Encode(f Frame) []byte {
	rf := byte('f')
	if f.AwaitingResponse {
		rf = 't'
	}
	idStr := strconv.FormatUint(f.MessageID, 10)
	portStr := strconv.FormatUint(uint64(f.SenderPort), 10)

	// body = <rf><id><kind><port>:<payload>
	bodyLen := 1 + len(idStr) + 1 + len(portStr) + 1 + len(f.Payload)

	digits := 1
	var lenStr string
	for {
		total := digits + bodyLen
		lenStr = strconv.Itoa(total)
		if len(lenStr) == digits {
			break
		}
		digits = len(lenStr)
	}

	out := make([]byte, 0, len(lenStr)+bodyLen)
	out = append(out, lenStr...)
	out = append(out, rf)
	out = append(out, idStr...)
	out = append(out, f.Kind.byte())
	out = append(out, portStr...)
	out = append(out, ':')
	out = append(out, f.Payload...)
	return out
}

// Decode parses one complete frame from b, which must contain exactly the
// bytes described by its own length prefix (as produced by a FrameBuffer
// or by Encode). Decode never returns an error for a malformed kind byte
// (it decodes to Unknown per the wire contract); it returns an error only
// when the frame is too short to contain its mandatory fields.
func Decode(b []byte) (Frame, error) {
	i := 0
	n := len(b)

	digitsStart := i
	for i < n && isDigit(b[i]) {
		i++
	}
	if i == digitsStart {
		return Frame{}, fmt.Errorf("wire: missing length prefix")
	}
	if i >= n {
		return Frame{}, fmt.Errorf("wire: frame truncated after length")
	}

	rf := b[i]
	i++
	awaiting := rf == 't'

	idStart := i
	for i < n && isDigit(b[i]) {
		i++
	}
	var id uint64
	if i > idStart {
		v, err := strconv.ParseUint(string(b[idStart:i]), 10, 64)
		if err != nil {
			return Frame{}, fmt.Errorf("wire: bad message id: %w", err)
		}
		id = v
	}
	if i >= n {
		return Frame{}, fmt.Errorf("wire: frame truncated before kind")
	}
	kind := decodeKind(b[i])
	i++

	portStart := i
	for i < n && isDigit(b[i]) {
		i++
	}
	var port uint64
	if i > portStart {
		v, err := strconv.ParseUint(string(b[portStart:i]), 10, 16)
		if err != nil {
			return Frame{}, fmt.Errorf("wire: bad sender port: %w", err)
		}
		port = v
	}
	if i >= n || b[i] != ':' {
		return Frame{}, fmt.Errorf("wire: missing payload separator")
	}
	i++ // consume ':'

	payload := b[i:]

	return Frame{
		Kind:             kind,
		MessageID:        id,
		AwaitingResponse: awaiting,
		SenderPort:       uint16(port),
		Payload:          payload,
	}, nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// ParseLength reads the leading decimal length prefix from b. It returns
// the parsed length, the number of bytes the length prefix itself
// occupies, and false if b does not begin with at least one digit.
func ParseLength(b []byte) (length int, prefixLen int, ok bool) {
	i := 0
	for i < len(b) && isDigit(b[i]) {
		i++
	}
	if i == 0 {
		return 0, 0, false
	}
	v, err := strconv.Atoi(string(b[:i]))
	if err != nil {
		return 0, 0, false
	}
	return v, i, true
}
