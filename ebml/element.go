package ebml

import (
	"fmt"
	"io"
)

// Element is a lazily-parsed node in an EBML element tree. It owns a
// pointer to its first child and next sibling; the parent link is
// non-owning (a plain pointer, never traversed to allocate). Parsing a
// node reads only its own header — id, size denotation, data size — and
// discovers where its first child and next sibling begin without reading
// either of them; those are parsed on demand when navigated to, mirroring
// GenericFileElement's parse()/firstChild()/nextSibling() contract.
type Element struct {
	stream *Stream

	parent *Element

	id       uint64
	idLen    int
	dataSize uint64
	sizeLen  int
	unknown  bool // true if the element declared an unknown (streamed) size

	startOffset int64 // absolute offset of id VINT
	dataOffset  int64 // absolute offset immediately after the header

	parsed bool

	firstChild  *Element
	nextSibling *Element

	// maxEnd is where the run of siblings this element belongs to ends: the
	// parent's dataOffset+dataSize (or the parent's own maxEnd when the
	// parent has unknown size), or the stream's total size for the document
	// root.
	maxEnd int64
}

// NewRootElement creates the element tree's synthetic root: a container
// whose payload spans the entire stream starting at offset 0.
func NewRootElement(s *Stream, streamSize int64) *Element {
	e := &Element{stream: s, startOffset: 0, dataOffset: 0, dataSize: uint64(streamSize), maxEnd: streamSize, parsed: true}
	return e
}

// newChildAt constructs an unparsed element known to start at offset, owned
// by parent, bounded by maxEnd.
func newChildAt(s *Stream, parent *Element, offset, maxEnd int64) *Element {
	return &Element{stream: s, parent: parent, startOffset: offset, maxEnd: maxEnd}
}

// ID returns the element's identifier (ID-flavored VINT, length marker
// included), or 0 if it hasn't been parsed yet.
func (e *Element) ID() uint64 { return e.id }

// DataSize returns the size of the element's payload.
func (e *Element) DataSize() uint64 { return e.dataSize }

// StartOffset returns the absolute offset of the element's id VINT.
func (e *Element) StartOffset() int64 { return e.startOffset }

// DataOffset returns the absolute offset immediately following the
// element's header, i.e. where its payload begins.
func (e *Element) DataOffset() int64 { return e.dataOffset }

// Parent returns the element's enclosing element (the synthetic document
// root for a top-level element), or nil only if e is itself the root.
func (e *Element) Parent() (*Element, error) {
	if e.parent == nil {
		return nil, nil
	}
	if err := e.parent.Parse(); err != nil {
		return nil, err
	}
	return e.parent, nil
}

// HeaderSize returns the number of bytes occupied by the id and size
// denotations together.
func (e *Element) HeaderSize() int64 { return e.dataOffset - e.startOffset }

// TotalSize returns HeaderSize()+DataSize(), the element's full extent on
// disk. It is meaningless for an element with unknown size.
func (e *Element) TotalSize() uint64 { return uint64(e.HeaderSize()) + e.dataSize }

// EndOffset returns the absolute offset immediately after the element.
func (e *Element) EndOffset() int64 { return e.dataOffset + int64(e.dataSize) }

// IsUnknownSize reports whether the element declared the reserved
// "unknown size" marker (only legal for the last child of a container, per
// spec). Parse accepts the marker on any element, whatever its ID.
func (e *Element) IsUnknownSize() bool { return e.unknown }

// Parse reads this element's own header if it has not been read yet. It is
// safe to call multiple times; only the first call touches the stream.
func (e *Element) Parse() error {
	if e.parsed {
		return nil
	}
	if err := e.stream.SeekTo(e.startOffset); err != nil {
		return err
	}
	id, idLen, err := ReadVIntID(e.stream.RW)
	if err != nil {
		return fmt.Errorf("ebml: read id at %d: %w", e.startOffset, err)
	}
	size, sizeLen, err := ReadVInt(e.stream.RW)
	if err != nil {
		return fmt.Errorf("ebml: read size at %d: %w", e.startOffset, err)
	}
	e.id = id
	e.idLen = idLen
	e.sizeLen = sizeLen
	e.unknown = IsUnknownSize(size, sizeLen)
	e.dataSize = size
	e.dataOffset = e.startOffset + int64(idLen) + int64(sizeLen)
	e.parsed = true
	return nil
}

// Reparse forces the element to forget everything it has discovered — its
// own header, its first child, and its next sibling — and parse itself
// again. Used after a write pass has changed what's on disk at this
// position, matching GenericFileElement::reparse's clear()+parse() pair.
func (e *Element) Reparse() error {
	e.parsed = false
	e.id = 0
	e.idLen = 0
	e.dataSize = 0
	e.sizeLen = 0
	e.unknown = false
	e.dataOffset = 0
	e.firstChild = nil
	e.nextSibling = nil
	return e.Parse()
}

// FirstChild returns the element's first child, discovering and parsing it
// if necessary. Returns nil if the element has no room for a child.
// FirstChild never rejects based on ID (callers know which IDs are
// containers): on a leaf with a non-empty payload it parses the payload's
// leading bytes as a child header.
func (e *Element) FirstChild() (*Element, error) {
	if err := e.Parse(); err != nil {
		return nil, err
	}
	if e.firstChild != nil {
		return e.firstChild, nil
	}
	childEnd := e.EndOffset()
	if e.unknown {
		childEnd = e.maxEnd
	}
	if e.dataOffset >= childEnd {
		return nil, nil
	}
	child := newChildAt(e.stream, e, e.dataOffset, childEnd)
	if err := child.Parse(); err != nil {
		return nil, err
	}
	e.firstChild = child
	return child, nil
}

// NextSibling returns the element immediately following this one within
// the same parent, discovering and parsing it if necessary. Returns nil if
// this is the last child.
func (e *Element) NextSibling() (*Element, error) {
	if err := e.Parse(); err != nil {
		return nil, err
	}
	if e.nextSibling != nil {
		return e.nextSibling, nil
	}
	if e.unknown {
		// An element with unknown size must be the last child; its end is
		// only known once its own children have all been walked, which
		// the caller (cluster/segment walkers) does explicitly.
		return nil, nil
	}
	end := e.EndOffset()
	if end >= e.maxEnd {
		return nil, nil
	}
	sib := newChildAt(e.stream, e.parent, end, e.maxEnd)
	if err := sib.Parse(); err != nil {
		return nil, err
	}
	e.nextSibling = sib
	return sib, nil
}

// ChildByID walks this element's children (iteratively, not recursively)
// looking for the first one with the given id. It returns nil if none is
// found before the children run out.
func (e *Element) ChildByID(id uint64) (*Element, error) {
	child, err := e.FirstChild()
	if err != nil || child == nil {
		return nil, err
	}
	return child.SiblingByID(id)
}

// SiblingByID starting from this element (inclusive), walks forward
// looking for the first element with the given id.
func (e *Element) SiblingByID(id uint64) (*Element, error) {
	cur := e
	for cur != nil {
		if err := cur.Parse(); err != nil {
			return nil, err
		}
		if cur.id == id {
			return cur, nil
		}
		next, err := cur.NextSibling()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return nil, nil
}

// Children returns every direct child, in document order. It fully
// discovers (but does not recursively parse into) the child list.
func (e *Element) Children() ([]*Element, error) {
	var out []*Element
	child, err := e.FirstChild()
	if err != nil {
		return nil, err
	}
	for child != nil {
		if err := child.Parse(); err != nil {
			return nil, err
		}
		out = append(out, child)
		child, err = child.NextSibling()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SubelementByPath walks a sequence of IDs, descending one level per path
// element, and returns the element found at the end of the path, or nil if
// any step is missing.
func (e *Element) SubelementByPath(path ...uint64) (*Element, error) {
	cur := e
	for _, id := range path {
		next, err := cur.ChildByID(id)
		if err != nil || next == nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// ReadPayload reads this element's entire payload into memory. Callers
// should avoid this for Segment/Cluster-sized elements.
func (e *Element) ReadPayload() ([]byte, error) {
	if err := e.Parse(); err != nil {
		return nil, err
	}
	if err := e.stream.SeekTo(e.dataOffset); err != nil {
		return nil, err
	}
	return e.stream.ReadBytes(e.dataSize)
}

// CopyPayloadTo streams this element's payload to w without buffering it
// all in memory, checking abort between chunks.
func (e *Element) CopyPayloadTo(w io.Writer, aborted func() bool) error {
	if err := e.Parse(); err != nil {
		return err
	}
	if err := e.stream.SeekTo(e.dataOffset); err != nil {
		return err
	}
	const chunk = 1 << 20
	remaining := e.dataSize
	buf := make([]byte, chunk)
	for remaining > 0 {
		if aborted != nil && aborted() {
			return ErrAborted
		}
		n := uint64(chunk)
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(e.stream.RW, buf[:n]); err != nil {
			return err
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// ErrAborted is returned by long-running copy/write loops when the caller's
// abort predicate reports true.
var ErrAborted = fmt.Errorf("ebml: aborted")
