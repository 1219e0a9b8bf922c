package wire

import (
	"bytes"
	"testing"
)

func TestEncodeUserExample(t *testing.T) {
	f := Frame{
		Kind:             User,
		MessageID:        0,
		AwaitingResponse: false,
		SenderPort:       5000,
		Payload:          []byte("hi"),
	}
	got := Encode(f)
	want := "12f0u5000:hi"
	if string(got) != want {
		t.Fatalf("Encode = %q, want %q", got, want)
	}
	dec, err := Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Kind != User || dec.MessageID != 0 || dec.AwaitingResponse || dec.SenderPort != 5000 || string(dec.Payload) != "hi" {
		t.Fatalf("Decode mismatch: %+v", dec)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{Kind: Approval, MessageID: 7, AwaitingResponse: true, SenderPort: 1, Payload: []byte("mesh")},
		{Kind: Neighbors, MessageID: 0, AwaitingResponse: false, SenderPort: 65535, Payload: []byte(";")},
		{Kind: Ping, MessageID: 0, AwaitingResponse: false, SenderPort: 9999, Payload: []byte{}},
		{Kind: System, MessageID: 123456, AwaitingResponse: true, SenderPort: 42, Payload: []byte("findsuccessor|17")},
		{Kind: User, MessageID: 1, AwaitingResponse: false, SenderPort: 1, Payload: bytes.Repeat([]byte("x"), 300)},
	}
	for _, f := range cases {
		encoded := Encode(f)
		length, _, ok := ParseLength(encoded)
		if !ok || length != len(encoded) {
			t.Fatalf("length prefix mismatch for %+v: parsed=%d actual=%d", f, length, len(encoded))
		}
		dec, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if dec.Kind != f.Kind || dec.MessageID != f.MessageID || dec.AwaitingResponse != f.AwaitingResponse || dec.SenderPort != f.SenderPort || !bytes.Equal(dec.Payload, f.Payload) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", dec, f)
		}
	}
}

func TestUnknownKindDecodesButDoesNotError(t *testing.T) {
	// Encode never emits an invalid kind byte; simulate a peer sending
	// garbage in the kind position by hand-building a frame.
	raw := []byte("9f0z1:x")
	dec, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Kind != Unknown {
		t.Fatalf("expected Unknown kind, got %v", dec.Kind)
	}
}

func TestDigitCountBoundary(t *testing.T) {
	// Craft payloads whose total length's digit count is on the cusp:
	// 9 -> 10 and 99 -> 100.
	for _, payloadLen := range []int{0, 3, 4, 90, 91, 92, 93} {
		f := Frame{Kind: User, SenderPort: 1, Payload: bytes.Repeat([]byte("a"), payloadLen)}
		encoded := Encode(f)
		length, _, ok := ParseLength(encoded)
		if !ok || length != len(encoded) {
			t.Fatalf("payloadLen=%d: length prefix %d != actual %d", payloadLen, length, len(encoded))
		}
		dec, err := Decode(encoded)
		if err != nil {
			t.Fatalf("payloadLen=%d: Decode: %v", payloadLen, err)
		}
		if !bytes.Equal(dec.Payload, f.Payload) {
			t.Fatalf("payloadLen=%d: payload mismatch", payloadLen)
		}
	}
}

func TestInResponseTo(t *testing.T) {
	cases := []struct {
		id       uint64
		awaiting bool
		want     bool
	}{
		{0, false, false},
		{0, true, false},
		{5, true, false},
		{5, false, true},
	}
	for _, c := range cases {
		f := Frame{MessageID: c.id, AwaitingResponse: c.awaiting}
		if got := f.InResponseTo(); got != c.want {
			t.Fatalf("InResponseTo(id=%d,awaiting=%v) = %v, want %v", c.id, c.awaiting, got, c.want)
		}
	}
}
