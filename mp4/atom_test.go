package mp4

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

type memReadSeeker struct {
	data []byte
	pos  int64
}

func (m *memReadSeeker) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = int64(len(m.data))
	}
	m.pos = base + offset
	return m.pos, nil
}

func box(fourCC string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(8+len(payload)))
	copy(buf[4:8], fourCC)
	copy(buf[8:], payload)
	return buf
}

func TestAtomWalksTopLevelBoxes(t *testing.T) {
	var doc bytes.Buffer
	doc.Write(box("ftyp", []byte("isom")))
	trak := box("mdat", []byte("payloadbytes"))
	doc.Write(trak)

	r := &memReadSeeker{data: doc.Bytes()}
	root := NewRootAtom(r, int64(doc.Len()), DefaultContainerBoxes)

	first, err := root.FirstChild()
	if err != nil {
		t.Fatalf("FirstChild: %v", err)
	}
	a := first.(*Atom)
	if a.FourCC().String() != "ftyp" {
		t.Fatalf("first box = %q, want ftyp", a.FourCC())
	}

	second, err := a.NextSibling()
	if err != nil {
		t.Fatalf("NextSibling: %v", err)
	}
	b := second.(*Atom)
	if b.FourCC().String() != "mdat" {
		t.Fatalf("second box = %q, want mdat", b.FourCC())
	}

	third, err := b.NextSibling()
	if err != nil {
		t.Fatalf("NextSibling (end): %v", err)
	}
	if third != nil {
		t.Fatalf("expected end of top-level boxes, got %v", third)
	}
}

func TestAtomContainerHasChildren(t *testing.T) {
	inner := box("mvhd", []byte("abc"))
	moov := box("moov", inner)

	r := &memReadSeeker{data: moov}
	root := NewRootAtom(r, int64(len(moov)), DefaultContainerBoxes)

	moovAtom, err := root.FirstChild()
	if err != nil || moovAtom == nil {
		t.Fatalf("FirstChild: %v", err)
	}
	if moovAtom.(*Atom).FourCC().String() != "moov" {
		t.Fatalf("unexpected box: %q", moovAtom.(*Atom).FourCC())
	}
	child, err := moovAtom.FirstChild()
	if err != nil || child == nil {
		t.Fatalf("moov.FirstChild: %v", err)
	}
	if child.(*Atom).FourCC().String() != "mvhd" {
		t.Fatalf("unexpected child box: %q", child.(*Atom).FourCC())
	}
}

func TestAtomLeafHasNoChildren(t *testing.T) {
	mdat := box("mdat", []byte("raw sample bytes"))
	r := &memReadSeeker{data: mdat}
	root := NewRootAtom(r, int64(len(mdat)), DefaultContainerBoxes)

	a, err := root.FirstChild()
	if err != nil || a == nil {
		t.Fatalf("FirstChild: %v", err)
	}
	child, err := a.FirstChild()
	if err != nil {
		t.Fatalf("FirstChild (leaf): %v", err)
	}
	if child != nil {
		t.Fatalf("a non-container box should report no children, got %v", child)
	}
}
