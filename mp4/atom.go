// Package mp4 implements the shared tree-walker interface (ebml.Node)
// against a second, non-EBML framing: ISO Base Media File Format "boxes"
// use a flat 4-byte size + 4-byte FourCC header instead of EBML's VINT
// id/size pair. Atom supports reading the box tree shape (including the
// 64-bit largesize extension) but carries no MP4/M4A tag semantics of its
// own.
package mp4

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ebmltag/mkvtag/ebml"
)

// FourCC is a 4-byte box type, e.g. "moov", "stco".
type FourCC [4]byte

func (f FourCC) String() string { return string(f[:]) }

// Atom is a lazily-parsed node in an MP4 box tree. It satisfies
// ebml.Node so the same tree-walker style used for Matroska can, in
// principle, traverse either format.
type Atom struct {
	rw io.ReadSeeker

	startOffset int64
	headerSize  int64
	dataSize    uint64
	fourCC      FourCC

	maxEnd int64

	parsed      bool
	firstChild  *Atom
	nextSibling *Atom
	isContainer func(FourCC) bool
}

// NewRootAtom returns a synthetic container spanning the whole file,
// whose children are the file's top-level boxes (ftyp, moov, mdat, ...).
func NewRootAtom(rw io.ReadSeeker, size int64, isContainer func(FourCC) bool) *Atom {
	return &Atom{rw: rw, maxEnd: size, dataSize: uint64(size), parsed: true, isContainer: isContainer}
}

// ID returns the box's FourCC reinterpreted as a big-endian uint32, so
// Atom satisfies ebml.Node's numeric ID contract.
func (a *Atom) ID() uint64 { return uint64(binary.BigEndian.Uint32(a.fourCC[:])) }

// DataSize returns the box's payload size, excluding its own header.
func (a *Atom) DataSize() uint64 { return a.dataSize }

// StartOffset returns the absolute offset of the box's size field.
func (a *Atom) StartOffset() int64 { return a.startOffset }

// FourCC returns the box's raw type.
func (a *Atom) FourCC() FourCC { return a.fourCC }

func (a *Atom) Parse() error {
	if a.parsed {
		return nil
	}
	if _, err := a.rw.Seek(a.startOffset, io.SeekStart); err != nil {
		return err
	}
	var header [8]byte
	if _, err := io.ReadFull(a.rw, header[:]); err != nil {
		return fmt.Errorf("mp4: read box header at %d: %w", a.startOffset, err)
	}
	size := binary.BigEndian.Uint32(header[:4])
	copy(a.fourCC[:], header[4:8])
	headerSize := int64(8)
	dataSize := uint64(size) - 8

	if size == 1 {
		var ext [8]byte
		if _, err := io.ReadFull(a.rw, ext[:]); err != nil {
			return fmt.Errorf("mp4: read box extended size at %d: %w", a.startOffset, err)
		}
		headerSize += 8
		dataSize = binary.BigEndian.Uint64(ext[:]) - uint64(headerSize)
	} else if size == 0 {
		// size 0 means "box extends to end of file", used for a
		// top-level mdat written by a streaming muxer.
		dataSize = uint64(a.maxEnd-a.startOffset) - uint64(headerSize)
	}

	a.headerSize = headerSize
	a.dataSize = dataSize
	a.parsed = true
	return nil
}

func (a *Atom) dataOffset() int64 { return a.startOffset + a.headerSize }
func (a *Atom) endOffset() int64  { return a.dataOffset() + int64(a.dataSize) }

func (a *Atom) FirstChild() (ebml.Node, error) {
	child, err := a.firstChildAtom()
	if err != nil || child == nil {
		return nil, err
	}
	return child, nil
}

func (a *Atom) firstChildAtom() (*Atom, error) {
	if err := a.Parse(); err != nil {
		return nil, err
	}
	if a.firstChild != nil {
		return a.firstChild, nil
	}
	if a.isContainer != nil && !a.isContainer(a.fourCC) && a.headerSize != 0 {
		return nil, nil
	}
	if a.dataOffset() >= a.endOffset() {
		return nil, nil
	}
	child := &Atom{rw: a.rw, startOffset: a.dataOffset(), maxEnd: a.endOffset(), isContainer: a.isContainer}
	if err := child.Parse(); err != nil {
		return nil, err
	}
	a.firstChild = child
	return child, nil
}

func (a *Atom) NextSibling() (ebml.Node, error) {
	sib, err := a.nextSiblingAtom()
	if err != nil || sib == nil {
		return nil, err
	}
	return sib, nil
}

func (a *Atom) nextSiblingAtom() (*Atom, error) {
	if err := a.Parse(); err != nil {
		return nil, err
	}
	if a.nextSibling != nil {
		return a.nextSibling, nil
	}
	if a.endOffset() >= a.maxEnd {
		return nil, nil
	}
	sib := &Atom{rw: a.rw, startOffset: a.endOffset(), maxEnd: a.maxEnd, isContainer: a.isContainer}
	if err := sib.Parse(); err != nil {
		return nil, err
	}
	a.nextSibling = sib
	return sib, nil
}

// DefaultContainerBoxes reports whether fourCC is one of the small set of
// MP4 box types that are conventionally containers of other boxes rather
// than leaf payload (moov, trak, mdia, minf, stbl, udta, ...).
func DefaultContainerBoxes(fourCC FourCC) bool {
	switch fourCC.String() {
	case "moov", "trak", "mdia", "minf", "stbl", "udta", "edts", "meta", "ilst":
		return true
	default:
		return false
	}
}
