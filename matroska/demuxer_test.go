package matroska

import (
	"testing"

	"github.com/ebmltag/mkvtag/config"
	"github.com/ebmltag/mkvtag/notify"
)

func TestSplitLacedFixedSize(t *testing.T) {
	// 3 frames, 2 bytes each, count-1=2 in the lace header byte.
	data := []byte{2, 'a', 'a', 'b', 'b', 'c', 'c'}
	frames, err := splitLaced(data, 2)
	if err != nil {
		t.Fatalf("splitLaced: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	for i, want := range [][]byte{{'a', 'a'}, {'b', 'b'}, {'c', 'c'}} {
		if string(frames[i]) != string(want) {
			t.Fatalf("frame %d = %q, want %q", i, frames[i], want)
		}
	}
}

func TestSplitLacedNone(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	frames, err := splitLaced(data, 0)
	if err != nil {
		t.Fatalf("splitLaced: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != string(data) {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestPacketReaderReadsSimpleBlock(t *testing.T) {
	block := new(elementBuilder)
	// track number VINT (1, 1-byte), 2-byte relative timestamp, 1 flags
	// byte (no keyframe/lacing), then raw frame data.
	block.buf.WriteByte(0x81) // track 1, 1-byte VINT with length marker
	block.buf.WriteByte(0x00)
	block.buf.WriteByte(0x00)
	block.buf.WriteByte(0x00)
	block.buf.Write([]byte("framedata"))

	cluster := new(elementBuilder)
	cluster.uintElement(IDTimestamp, 1000)
	cluster.element(IDSimpleBlock, block.bytes())

	header := new(elementBuilder)
	header.stringElement(IDDocType, "matroska")
	segment := new(elementBuilder)
	segment.element(IDCluster, cluster.bytes())
	doc := new(elementBuilder)
	doc.element(IDEBMLHeader, header.bytes())
	doc.element(IDSegment, segment.bytes())

	f := &memFile{data: doc.bytes()}
	c, _ := NewContainer(f, config.Default(), notify.NewSink(nil))
	if _, err := c.ParseHeader(); err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	r, err := NewPacketReader(c)
	if err != nil {
		t.Fatalf("NewPacketReader: %v", err)
	}
	pkt, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if pkt == nil {
		t.Fatalf("expected a packet, got nil")
	}
	if pkt.Track != 1 || pkt.Timestamp != 1000 || string(pkt.Data) != "framedata" {
		t.Fatalf("unexpected packet: %+v", pkt)
	}

	next, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket (second): %v", err)
	}
	if next != nil {
		t.Fatalf("expected end of stream, got %+v", next)
	}
}
