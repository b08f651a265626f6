// Package ogg implements an OGG page iterator: enough page-boundary
// navigation to let a caller read or skip pages by serial number, without
// any Vorbis/Opus/FLAC tag semantics of its own.
package ogg

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const pageMagic = "OggS"

// oggCRCTable is the custom CRC-32 polynomial OGG pages use (not the IEEE
// 802.3 polynomial Matroska's CRC-32 element uses) — same hash/crc32
// library, a different table, consistent with how the corpus reaches for
// hash/crc32 for every CRC-32 family it needs rather than a third-party
// implementation.
var oggCRCTable = crc32.MakeTable(0x04c11db7)

// PageHeader is a parsed OGG page header (RFC 3533 §6).
type PageHeader struct {
	Version        uint8
	HeaderType     uint8
	GranulePos     int64
	SerialNumber   uint32
	SequenceNumber uint32
	CRC            uint32
	SegmentTable   []uint8

	Offset     int64 // absolute offset of this page's "OggS" magic
	HeaderSize int64
	BodySize   int64
}

func (h *PageHeader) isContinued() bool { return h.HeaderType&0x01 != 0 }
func (h *PageHeader) isFirst() bool     { return h.HeaderType&0x02 != 0 }
func (h *PageHeader) isLast() bool      { return h.HeaderType&0x04 != 0 }

// EndOffset returns the absolute offset immediately after this page.
func (h *PageHeader) EndOffset() int64 { return h.Offset + h.HeaderSize + h.BodySize }

// Iterator walks the pages of an OGG stream in document order, optionally
// restricted to a single serial number (a single logical bitstream out of
// a multiplexed file).
type Iterator struct {
	r      io.ReadSeeker
	size   int64
	serial *uint32 // nil = no filter, every logical stream is visited

	current *PageHeader
}

// NewIterator returns an Iterator positioned before the first page.
func NewIterator(r io.ReadSeeker, size int64) *Iterator {
	return &Iterator{r: r, size: size}
}

// FilterSerial restricts subsequent Next/Previous calls to pages belonging
// to the given logical bitstream.
func (it *Iterator) FilterSerial(serial uint32) { it.serial = &serial }

// ClearFilter removes any serial-number restriction.
func (it *Iterator) ClearFilter() { it.serial = nil }

// Reset returns the iterator to its initial, before-the-first-page state.
func (it *Iterator) Reset() { it.current = nil }

// Current returns the page most recently returned by Next/Previous/Seek,
// or nil if the iterator hasn't moved yet.
func (it *Iterator) Current() *PageHeader { return it.current }

// Next advances to and returns the next page matching the current serial
// filter, or nil, nil at end of stream.
func (it *Iterator) Next() (*PageHeader, error) {
	offset := int64(0)
	if it.current != nil {
		offset = it.current.EndOffset()
	}
	for offset < it.size {
		page, err := readPageHeader(it.r, offset, it.size)
		if err != nil {
			return nil, err
		}
		if it.serial == nil || page.SerialNumber == *it.serial {
			it.current = page
			return page, nil
		}
		offset = page.EndOffset()
	}
	return nil, nil
}

// Previous scans from the start of the stream up to (but not including)
// the current page and returns the last one matching the serial filter —
// OGG pages carry no backward link, so "previous" means "re-walk from the
// front", matching the original's own linear re-scan for this operation.
func (it *Iterator) Previous() (*PageHeader, error) {
	if it.current == nil {
		return nil, nil
	}
	limit := it.current.Offset
	offset := int64(0)
	var last *PageHeader
	for offset < limit {
		page, err := readPageHeader(it.r, offset, it.size)
		if err != nil {
			return nil, err
		}
		if it.serial == nil || page.SerialNumber == *it.serial {
			last = page
		}
		offset = page.EndOffset()
	}
	it.current = last
	return last, nil
}

// SeekToOffset positions the iterator at the page whose "OggS" magic
// starts at exactly offset, validating it as a real page header.
func (it *Iterator) SeekToOffset(offset int64) (*PageHeader, error) {
	page, err := readPageHeader(it.r, offset, it.size)
	if err != nil {
		return nil, err
	}
	it.current = page
	return page, nil
}

// ReadBody reads the current page's body (the concatenation of its
// segments). It reads that one page only: a packet continued on following
// pages is not joined, and there is no way to ask for a byte count.
func (it *Iterator) ReadBody() ([]byte, error) {
	if it.current == nil {
		return nil, fmt.Errorf("ogg: ReadBody called before the iterator has a current page")
	}
	if _, err := it.r.Seek(it.current.Offset+it.current.HeaderSize, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, it.current.BodySize)
	if _, err := io.ReadFull(it.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readPageHeader(r io.ReadSeeker, offset, size int64) (*PageHeader, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	var fixed [27]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, fmt.Errorf("ogg: read page header at %d: %w", offset, err)
	}
	if string(fixed[0:4]) != pageMagic {
		return nil, fmt.Errorf("ogg: bad page magic at offset %d", offset)
	}
	segCount := int(fixed[26])
	segTable := make([]byte, segCount)
	if _, err := io.ReadFull(r, segTable); err != nil {
		return nil, fmt.Errorf("ogg: read segment table at %d: %w", offset, err)
	}
	var bodySize int64
	for _, s := range segTable {
		bodySize += int64(s)
	}
	h := &PageHeader{
		Version:        fixed[4],
		HeaderType:     fixed[5],
		GranulePos:     int64(binary.LittleEndian.Uint64(fixed[6:14])),
		SerialNumber:   binary.LittleEndian.Uint32(fixed[14:18]),
		SequenceNumber: binary.LittleEndian.Uint32(fixed[18:22]),
		CRC:            binary.LittleEndian.Uint32(fixed[22:26]),
		SegmentTable:   segTable,
		Offset:         offset,
		HeaderSize:     27 + int64(segCount),
		BodySize:       bodySize,
	}
	if h.EndOffset() > size {
		return nil, fmt.Errorf("ogg: page at %d claims a body past end of stream", offset)
	}
	return h, nil
}

// VerifyCRC recomputes a page's CRC-32 (OGG's own polynomial, with the
// page's own CRC field treated as zero during the computation, per RFC
// 3533) and reports whether it matches the stored value.
func VerifyCRC(r io.ReadSeeker, h *PageHeader) (bool, error) {
	if _, err := r.Seek(h.Offset, io.SeekStart); err != nil {
		return false, err
	}
	buf := make([]byte, h.HeaderSize+h.BodySize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false, err
	}
	buf[22], buf[23], buf[24], buf[25] = 0, 0, 0, 0
	sum := crc32.Checksum(buf, oggCRCTable)
	return sum == h.CRC, nil
}
