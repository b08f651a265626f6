package ebml

import (
	"bytes"
	"io"
	"testing"
)

// seekBuf adapts a bytes.Buffer's contents to io.ReadWriteSeeker for tests.
type seekBuf struct {
	data []byte
	pos  int64
}

func newSeekBuf(data []byte) *seekBuf { return &seekBuf{data: data} }

func (b *seekBuf) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *seekBuf) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		b.data = append(b.data, make([]byte, end-int64(len(b.data)))...)
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuf) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = b.pos
	case io.SeekEnd:
		base = int64(len(b.data))
	}
	b.pos = base + offset
	return b.pos, nil
}

func vintEncode(v uint64) []byte {
	n := SizeLength(v)
	var buf bytes.Buffer
	_ = WriteSize(&buf, v, n)
	return buf.Bytes()
}

func idEncode(id uint64) []byte {
	n := IDLength(id)
	var buf bytes.Buffer
	_ = WriteID(&buf, id, n)
	return buf.Bytes()
}

// buildElement concatenates an id, size, and payload into a single element.
func buildElement(id uint64, payload []byte) []byte {
	var out []byte
	out = append(out, idEncode(id)...)
	out = append(out, vintEncode(uint64(len(payload)))...)
	out = append(out, payload...)
	return out
}

func TestElementParseAndChildren(t *testing.T) {
	childA := buildElement(0xA1, []byte("hello"))
	childB := buildElement(0xA2, []byte("world!!"))
	doc := buildElement(0x1A45DFA3, append(append([]byte{}, childA...), childB...))

	buf := newSeekBuf(doc)
	stream := NewStream(buf)
	root := NewRootElement(stream, int64(len(doc)))

	top, err := root.FirstChild()
	if err != nil || top == nil {
		t.Fatalf("FirstChild: %v", err)
	}
	if err := top.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if top.ID() != 0x1A45DFA3 {
		t.Fatalf("id = 0x%x", top.ID())
	}

	children, err := top.Children()
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("len(children) = %d, want 2", len(children))
	}
	if children[0].ID() != 0xA1 || children[1].ID() != 0xA2 {
		t.Fatalf("unexpected child ids: 0x%x 0x%x", children[0].ID(), children[1].ID())
	}
	payload, err := children[1].ReadPayload()
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	if string(payload) != "world!!" {
		t.Fatalf("payload = %q", payload)
	}
}

func TestElementChildByID(t *testing.T) {
	childA := buildElement(0xA1, []byte("x"))
	childB := buildElement(0xA2, []byte("y"))
	doc := buildElement(0x1A45DFA3, append(append([]byte{}, childA...), childB...))

	buf := newSeekBuf(doc)
	stream := NewStream(buf)
	root := NewRootElement(stream, int64(len(doc)))
	top, _ := root.FirstChild()

	found, err := top.ChildByID(0xA2)
	if err != nil {
		t.Fatalf("ChildByID: %v", err)
	}
	if found == nil || found.ID() != 0xA2 {
		t.Fatalf("ChildByID(0xA2) = %v", found)
	}

	missing, err := top.ChildByID(0xFF)
	if err != nil {
		t.Fatalf("ChildByID(missing): %v", err)
	}
	if missing != nil {
		t.Fatalf("ChildByID(0xFF) = %v, want nil", missing)
	}
}

func TestElementReparse(t *testing.T) {
	doc := buildElement(0xA1, []byte("abc"))
	buf := newSeekBuf(doc)
	stream := NewStream(buf)
	root := NewRootElement(stream, int64(len(doc)))
	el, _ := root.FirstChild()
	if err := el.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if el.DataSize() != 3 {
		t.Fatalf("DataSize = %d, want 3", el.DataSize())
	}

	// simulate rewriting this element's header to declare a new size
	newDoc := buildElement(0xA1, []byte("abcdef"))
	copy(buf.data, newDoc)

	if err := el.Reparse(); err != nil {
		t.Fatalf("Reparse: %v", err)
	}
	if el.DataSize() != 6 {
		t.Fatalf("after Reparse, DataSize = %d, want 6", el.DataSize())
	}
}
