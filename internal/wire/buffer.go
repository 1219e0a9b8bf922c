package wire

// Buffer is the per-inbound-peer frame accumulator described by the
// framing contract: it holds raw bytes read off the stream so far and the
// decoded expected length of the frame currently being assembled (-1
// until the length prefix has been fully parsed).
type Buffer struct {
	data           []byte
	expectedLength int
}

// NewBuffer returns an empty Buffer with no frame in progress.
func NewBuffer() *Buffer {
	return &Buffer{expectedLength: -1}
}

// Append adds newly-read bytes to the tail of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Len reports the number of buffered, unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// ExpectedLength reports the length parsed for the frame currently being
// assembled, or -1 if the length prefix has not been parsed yet.
func (b *Buffer) ExpectedLength() int {
	return b.expectedLength
}

// ErrMalformedLength is returned by Drain when the buffer is non-empty
// but its leading bytes do not form a valid decimal length prefix. The
// framing contract requires the owning peer connection to be torn down
// when this occurs.
type ErrMalformedLength struct{}

func (ErrMalformedLength) Error() string { return "wire: malformed length prefix" }

// parseCompleteLength parses the leading decimal length prefix from data,
// but only reports ok=true once a non-digit terminator byte has actually
// arrived after the digit run -- otherwise a length like "12" could be a
// truncated prefix of "128" and must not be treated as final.
func parseCompleteLength(data []byte) (length int, prefixLen int, ok bool) {
	i := 0
	for i < len(data) && isDigit(data[i]) {
		i++
	}
	if i == 0 || i >= len(data) {
		return 0, 0, false
	}
	length, prefixLen, ok = ParseLength(data)
	return length, prefixLen, ok
}

// isMalformedLength reports whether data's leading bytes can never form a
// valid length prefix: the very first byte is not a digit.
func isMalformedLength(data []byte) bool {
	return len(data) > 0 && !isDigit(data[0])
}

// Drain extracts every whole frame currently available in the buffer,
// consuming their bytes and calling emit for each one in FIFO order. It
// implements the invariant: frame boundaries are determined solely by
// the length prefix, and the terminator following the length digits is
// left in the buffer as part of the frame body.
func (b *Buffer) Drain(emit func(frame []byte)) error {
	for {
		if b.expectedLength < 0 {
			if len(b.data) == 0 {
				return nil
			}
			length, prefixLen, ok := parseCompleteLength(b.data)
			if !ok {
				if isMalformedLength(b.data) {
					return ErrMalformedLength{}
				}
				// Still waiting for the terminator byte after the
				// digit run (or for more digits); not malformed yet.
				return nil
			}
			if length <= prefixLen {
				return ErrMalformedLength{}
			}
			b.expectedLength = length
		}
		if len(b.data) < b.expectedLength {
			return nil
		}
		frame := make([]byte, b.expectedLength)
		copy(frame, b.data[:b.expectedLength])
		b.data = append(b.data[:0], b.data[b.expectedLength:]...)
		b.expectedLength = -1
		emit(frame)
	}
}
