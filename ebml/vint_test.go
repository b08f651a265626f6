package ebml

import (
	"bytes"
	"testing"
)

func TestReadVInt(t *testing.T) {
	cases := []struct {
		name   string
		in     []byte
		want   uint64
		length int
	}{
		{"one byte", []byte{0x82}, 2, 1},
		{"two byte", []byte{0x40, 0x7f}, 0x7f, 2},
		{"eight byte zero", []byte{0x01, 0, 0, 0, 0, 0, 0, 0x05}, 5, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, n, err := ReadVInt(bytes.NewReader(tc.in))
			if err != nil {
				t.Fatalf("ReadVInt: %v", err)
			}
			if v != tc.want || n != tc.length {
				t.Fatalf("got (%d, %d), want (%d, %d)", v, n, tc.want, tc.length)
			}
		})
	}
}

func TestReadVIntIDKeepsMarker(t *testing.T) {
	// Segment ID: 0x18538067, a 4-byte ID VINT.
	in := []byte{0x18, 0x53, 0x80, 0x67}
	v, n, err := ReadVIntID(bytes.NewReader(in))
	if err != nil {
		t.Fatalf("ReadVIntID: %v", err)
	}
	if n != 4 {
		t.Fatalf("length = %d, want 4", n)
	}
	if v != 0x18538067 {
		t.Fatalf("id = 0x%x, want 0x18538067", v)
	}
}

func TestSizeLengthRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0x7e, 0x7f, 0x3fff, 1 << 20, 1 << 40} {
		n := SizeLength(v)
		var buf bytes.Buffer
		if err := WriteSize(&buf, v, n); err != nil {
			t.Fatalf("WriteSize(%d): %v", v, err)
		}
		got, length, err := ReadVInt(&buf)
		if err != nil {
			t.Fatalf("ReadVInt: %v", err)
		}
		if got != v || length != n {
			t.Fatalf("round trip %d: got (%d, %d), want (%d, %d)", v, got, length, v, n)
		}
	}
}

func TestIsUnknownSize(t *testing.T) {
	if !IsUnknownSize(0x7f, 1) {
		t.Fatalf("0x7f (the 0xff size byte with its length marker stripped) at length 1 should be unknown size")
	}
	if IsUnknownSize(0x7e, 1) {
		t.Fatalf("0x7e at length 1 should not be unknown size")
	}
}

func TestVoidPayload(t *testing.T) {
	const idVoid = 0xEC
	payload, sizeLen, ok := VoidPayload(idVoid, 10)
	if !ok {
		t.Fatalf("VoidPayload(10) failed")
	}
	if sizeLen != 1 {
		t.Fatalf("sizeLen = %d, want 1", sizeLen)
	}
	if payload != 10-1-1 {
		t.Fatalf("payload = %d, want %d", payload, 10-1-1)
	}

	_, sizeLen, ok = VoidPayload(idVoid, 200)
	if !ok || sizeLen != 8 {
		t.Fatalf("VoidPayload(200): sizeLen=%d ok=%v, want sizeLen=8", sizeLen, ok)
	}
}
