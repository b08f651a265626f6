package matroska

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/ebmltag/mkvtag/config"
	"github.com/ebmltag/mkvtag/notify"
)

func buildRewritableDocument(t *testing.T) []byte {
	t.Helper()

	header := new(elementBuilder)
	header.stringElement(IDDocType, "matroska")

	doc := new(elementBuilder)
	doc.element(IDEBMLHeader, header.bytes())
	doc.buf.Write(buildRewritableSegment(t, false).bytes())
	return doc.bytes()
}

// buildRewritableSegment assembles one Segment's worth of bytes: SegmentInfo,
// a Tracks with one audio TrackEntry, a Tags with one Tag, a single Cluster
// with one SimpleBlock, and a Cues entry pointing at that Cluster. withCRC32
// prepends a zero-valued CRC-32 placeholder as the Segment's first child, the
// way a muxer that protects its output would.
func buildRewritableSegment(t *testing.T, withCRC32 bool) *elementBuilder {
	t.Helper()

	track := new(elementBuilder)
	track.uintElement(IDTrackNumber, 1)
	track.uintElement(IDTrackType, uint64(TrackTypeAudio))
	track.stringElement(IDCodecID, "A_OPUS")
	tracks := new(elementBuilder)
	tracks.element(IDTrackEntry, track.bytes())

	segInfo := new(elementBuilder)
	segInfo.uintElement(IDTimecodeScale, 1000000)
	segInfo.stringElement(IDTitle, "Old Title")

	simpleTag := new(elementBuilder)
	simpleTag.stringElement(IDTagName, "TITLE")
	simpleTag.stringElement(IDTagLanguage, "und")
	simpleTag.uintElement(IDTagDefault, 1)
	simpleTag.stringElement(IDTagString, "Old Title")
	targets := new(elementBuilder)
	targets.uintElement(IDTargetTypeValue, 50)
	tag := new(elementBuilder)
	tag.element(IDTargets, targets.bytes())
	tag.element(IDSimpleTag, simpleTag.bytes())
	tags := new(elementBuilder)
	tags.element(IDTag, tag.bytes())

	block := new(elementBuilder)
	block.buf.WriteByte(0x81)
	block.buf.WriteByte(0x00)
	block.buf.WriteByte(0x00)
	block.buf.WriteByte(0x80)
	block.buf.Write([]byte("somepayload"))
	cluster := new(elementBuilder)
	cluster.uintElement(IDTimestamp, 0)
	cluster.element(IDSimpleBlock, block.bytes())

	segment := new(elementBuilder)
	var leadingSize uint64
	if withCRC32 {
		segment.element(IDCRC32, []byte{0, 0, 0, 0})
		leadingSize += elementSize(IDCRC32, 4)
	}
	segment.element(IDSegmentInfo, segInfo.bytes())
	segment.element(IDTracks, tracks.bytes())
	segment.element(IDTags, tags.bytes())
	segment.element(IDCluster, cluster.bytes())

	cuePos := new(elementBuilder)
	cuePos.uintElement(IDCueTrack, 1)
	// relative to Segment's data start: any CRC-32 placeholder plus
	// SegmentInfo + Tracks + Tags precede the Cluster, so its
	// ClusterPosition is their combined on-wire size.
	clusterOffset := leadingSize + uint64(elementSize(IDSegmentInfo, uint64(len(segInfo.bytes()))) +
		elementSize(IDTracks, uint64(len(tracks.bytes()))) +
		elementSize(IDTags, uint64(len(tags.bytes()))))
	cuePos.uintElement(IDCueClusterPosition, clusterOffset)
	cuePoint := new(elementBuilder)
	cuePoint.uintElement(IDCueTime, 0)
	cuePoint.element(IDCueTrackPositions, cuePos.bytes())
	cues := new(elementBuilder)
	cues.element(IDCuePoint, cuePoint.bytes())
	segment.element(IDCues, cues.bytes())

	out := new(elementBuilder)
	out.element(IDSegment, segment.bytes())
	return out
}

func openTestFile(t *testing.T, data []byte) (path string, f *os.File) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "test.mkv")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	return path, f
}

func TestRewriteFullRelocatesClusterAndUpdatesTags(t *testing.T) {
	doc := buildRewritableDocument(t)
	path, f := openTestFile(t, doc)
	defer f.Close()

	opts := config.Default()
	opts.ForceRewrite = true
	opts.BackupDirectory = t.TempDir()

	c, err := NewContainer(f, opts, notify.NewSink(nil))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if _, err := c.ParseHeader(); err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if _, err := c.ParseTags(); err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if _, err := c.ParseCues(); err != nil {
		t.Fatalf("ParseCues: %v", err)
	}

	newTags := []*Tag{{
		TargetTypeValue: 50,
		SimpleTags:      []*SimpleTag{{Name: "TITLE", Language: "und", Default: true, String: "New Title"}},
	}}
	if err := c.Rewrite(path, RewriteRequest{Tags: newTags}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	f.Close()

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen rewritten file: %v", err)
	}
	defer rf.Close()

	c2, err := NewContainer(rf, config.Default(), notify.NewSink(nil))
	if err != nil {
		t.Fatalf("NewContainer (reread): %v", err)
	}
	if _, err := c2.ParseHeader(); err != nil {
		t.Fatalf("ParseHeader (reread): %v", err)
	}
	seg := c2.Segment()
	first, err := seg.FirstChild()
	if err != nil || first == nil {
		t.Fatalf("Segment.FirstChild: %v", err)
	}
	if first.ID() != IDSeekHead {
		t.Fatalf("first Segment child = %#x, want IDSeekHead", first.ID())
	}

	gotTags, err := c2.ParseTags()
	if err != nil {
		t.Fatalf("ParseTags (reread): %v", err)
	}
	if len(gotTags) != 1 || gotTags[0].SimpleTags[0].String != "New Title" {
		t.Fatalf("unexpected tags after rewrite: %+v", gotTags)
	}

	gotTracks, err := c2.ParseTracks()
	if err != nil {
		t.Fatalf("ParseTracks (reread): %v", err)
	}
	if len(gotTracks) != 1 || gotTracks[0].CodecID != "A_OPUS" {
		t.Fatalf("unexpected tracks after rewrite: %+v", gotTracks)
	}

	children, err := seg.Children()
	if err != nil {
		t.Fatalf("Segment.Children (reread): %v", err)
	}
	var sawCluster bool
	for _, child := range children {
		if child.ID() == IDCluster {
			sawCluster = true
			clusterChildren, err := child.Children()
			if err != nil {
				t.Fatalf("Cluster.Children: %v", err)
			}
			var sawPosition bool
			for _, cc := range clusterChildren {
				if cc.ID() == IDPosition {
					sawPosition = true
				}
			}
			if !sawPosition {
				t.Fatalf("rewritten Cluster is missing its Position element")
			}
		}
	}
	if !sawCluster {
		t.Fatalf("rewritten file has no Cluster")
	}
}

func TestRewriteFullRegeneratesSegmentCRC32(t *testing.T) {
	header := new(elementBuilder)
	header.stringElement(IDDocType, "matroska")
	doc := new(elementBuilder)
	doc.element(IDEBMLHeader, header.bytes())
	doc.buf.Write(buildRewritableSegment(t, true).bytes())

	path, f := openTestFile(t, doc.bytes())
	defer f.Close()

	opts := config.Default()
	opts.ForceRewrite = true
	opts.BackupDirectory = t.TempDir()

	c, err := NewContainer(f, opts, notify.NewSink(nil))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if _, err := c.ParseHeader(); err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if _, err := c.ParseTags(); err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if _, err := c.ParseCues(); err != nil {
		t.Fatalf("ParseCues: %v", err)
	}

	newTags := []*Tag{{
		TargetTypeValue: 50,
		SimpleTags:      []*SimpleTag{{Name: "TITLE", Language: "und", Default: true, String: "CRC Title"}},
	}}
	if err := c.Rewrite(path, RewriteRequest{Tags: newTags}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	f.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen rewritten file: %v", err)
	}
	defer rf.Close()

	c2, err := NewContainer(rf, config.Default(), notify.NewSink(nil))
	if err != nil {
		t.Fatalf("NewContainer (reread): %v", err)
	}
	if _, err := c2.ParseHeader(); err != nil {
		t.Fatalf("ParseHeader (reread): %v", err)
	}
	seg := c2.Segment()
	crcEl, err := seg.FirstChild()
	if err != nil || crcEl == nil {
		t.Fatalf("Segment.FirstChild: %v", err)
	}
	if err := crcEl.Parse(); err != nil {
		t.Fatalf("Parse CRC-32 element: %v", err)
	}
	if crcEl.ID() != IDCRC32 {
		t.Fatalf("first Segment child = %#x, want IDCRC32", crcEl.ID())
	}

	payload, err := crcEl.ReadPayload()
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	if len(payload) != 4 {
		t.Fatalf("CRC-32 payload length = %d, want 4", len(payload))
	}
	stored := binary.LittleEndian.Uint32(payload)
	if stored == 0 {
		t.Fatalf("CRC-32 was left as its zero placeholder")
	}

	want := crc32.ChecksumIEEE(raw[crcEl.EndOffset():seg.EndOffset()])
	if stored != want {
		t.Fatalf("stored CRC-32 = %#x, want %#x (computed over the rewritten Segment body)", stored, want)
	}
}

func TestRewriteFullPreservesOtherSegmentsVerbatim(t *testing.T) {
	header := new(elementBuilder)
	header.stringElement(IDDocType, "matroska")

	secondSegment := buildRewritableSegment(t, false).bytes()

	doc := new(elementBuilder)
	doc.element(IDEBMLHeader, header.bytes())
	doc.buf.Write(buildRewritableSegment(t, false).bytes())
	doc.buf.Write(secondSegment)

	path, f := openTestFile(t, doc.bytes())
	defer f.Close()

	opts := config.Default()
	opts.ForceRewrite = true
	opts.BackupDirectory = t.TempDir()

	c, err := NewContainer(f, opts, notify.NewSink(nil))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if _, err := c.ParseHeader(); err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if len(c.Segments()) != 2 {
		t.Fatalf("len(Segments()) = %d, want 2", len(c.Segments()))
	}
	if _, err := c.ParseTags(); err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if _, err := c.ParseCues(); err != nil {
		t.Fatalf("ParseCues: %v", err)
	}

	newTags := []*Tag{{
		TargetTypeValue: 50,
		SimpleTags:      []*SimpleTag{{Name: "TITLE", Language: "und", Default: true, String: "First Segment Only"}},
	}}
	if err := c.Rewrite(path, RewriteRequest{Tags: newTags}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	f.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) < len(secondSegment) {
		t.Fatalf("rewritten file shorter than the untouched second Segment alone")
	}
	gotTail := raw[len(raw)-len(secondSegment):]
	if string(gotTail) != string(secondSegment) {
		t.Fatalf("second Segment's bytes were modified by a rewrite targeting the first Segment")
	}

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen rewritten file: %v", err)
	}
	defer rf.Close()

	c2, err := NewContainer(rf, config.Default(), notify.NewSink(nil))
	if err != nil {
		t.Fatalf("NewContainer (reread): %v", err)
	}
	if _, err := c2.ParseHeader(); err != nil {
		t.Fatalf("ParseHeader (reread): %v", err)
	}
	if len(c2.Segments()) != 2 {
		t.Fatalf("len(Segments()) after rewrite = %d, want 2", len(c2.Segments()))
	}
	gotTags, err := c2.ParseTags()
	if err != nil {
		t.Fatalf("ParseTags (reread): %v", err)
	}
	if len(gotTags) != 1 || gotTags[0].SimpleTags[0].String != "First Segment Only" {
		t.Fatalf("unexpected tags after rewrite: %+v", gotTags)
	}
}
