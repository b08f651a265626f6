package ebml

import "io"

// WriteElementHeader writes id followed by size, using the canonical byte
// width for id and the minimum width for size. It returns the number of
// header bytes written.
func WriteElementHeader(w io.Writer, id, size uint64) (int, error) {
	idLen := IDLength(id)
	sizeLen := SizeLength(size)
	return WriteElementHeaderWidth(w, id, idLen, size, sizeLen)
}

// WriteElementHeaderWidth writes id and size using explicit byte widths,
// for callers that must pad a size denotation wider than necessary (e.g.
// to preserve a pre-reserved header size without reflowing the payload).
func WriteElementHeaderWidth(w io.Writer, id uint64, idLen int, size uint64, sizeLen int) (int, error) {
	if err := WriteID(w, id, idLen); err != nil {
		return 0, err
	}
	if err := WriteSize(w, size, sizeLen); err != nil {
		return 0, err
	}
	return idLen + sizeLen, nil
}

// HeaderSize returns the number of bytes WriteElementHeader would emit for
// id and size, without writing anything.
func HeaderSize(id, size uint64) int {
	return IDLength(id) + SizeLength(size)
}

// VoidPayload returns the number of Void payload bytes needed so that a
// Void element (header + payload) occupies exactly n bytes, and the size
// denotation width that achieves it, following the rule: a 1-byte size
// denotation is used whenever the payload fits (n-2 <= 0x7E), otherwise an
// 8-byte denotation is used. n must be at least 2 (a Void element can never
// be 1 byte: IDVoid is a single byte but the minimum size denotation is
// also a byte, and no size denotation encodes "0 bytes of padding beyond
// the smallest legal header" — the minimum encodable Void is 2 bytes).
func VoidPayload(voidID uint64, n int64) (payload int64, sizeLen int, ok bool) {
	idLen := int64(IDLength(voidID))
	if n < idLen+1 {
		return 0, 0, false
	}
	oneByteTotal := n - idLen - 1
	if oneByteTotal >= 0 && oneByteTotal <= 0x7E {
		return oneByteTotal, 1, true
	}
	eightByteTotal := n - idLen - 8
	if eightByteTotal < 0 {
		return 0, 0, false
	}
	return eightByteTotal, 8, true
}
