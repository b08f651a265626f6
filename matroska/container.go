package matroska

import (
	"fmt"
	"io"
	"math"

	"github.com/ebmltag/mkvtag/config"
	"github.com/ebmltag/mkvtag/ebml"
	"github.com/ebmltag/mkvtag/notify"
)

// Container is an open Matroska file: its element tree plus whatever has
// been parsed out of it so far, generalized from a read-only demuxer into
// the read side of the rewrite engine.
//
// A Container is not safe for concurrent use: one goroutine drives one
// instance at a time.
type Container struct {
	rw     io.ReadWriteSeeker
	stream *ebml.Stream
	root   *ebml.Element

	opts config.Options
	sink *notify.Sink

	segment     *ebml.Element
	segments    []*ebml.Element
	segmentInfo *SegmentInfo
	tracks      []*TrackInfo
	tags        []*Tag
	attachments []*Attachment
	editions    []*EditionEntry
	cues        []CuePoint

	isAborted bool
}

// NewContainer opens rw as a Matroska document. opts carries the engine's
// configuration (replacing the original's global m_maxFullParseSize); sink
// receives every notification raised while reading or writing.
func NewContainer(rw io.ReadWriteSeeker, opts config.Options, sink *notify.Sink) (*Container, error) {
	if sink == nil {
		sink = notify.NewSink(nil)
	}
	size, err := rw.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("matroska: seek to end: %w", err)
	}
	stream := ebml.NewStream(rw)
	c := &Container{
		rw:     rw,
		stream: stream,
		root:   ebml.NewRootElement(stream, size),
		opts:   opts,
		sink:   sink,
	}
	return c, nil
}

// Abort requests cooperative cancellation; checked at segment boundaries
// and before every cluster write.
func (c *Container) Abort() { c.isAborted = true }

func (c *Container) aborted() bool { return c.isAborted }

// ParseHeader validates the EBMLHeader's DocType is "matroska" or "webm"
// and returns the Segment element, discovering (not fully parsing) it.
func (c *Container) ParseHeader() (*ebml.Element, error) {
	header, err := c.root.ChildByID(IDEBMLHeader)
	if err != nil {
		return nil, c.sink.Critical("header", notify.Io, "read EBML header", err)
	}
	if header == nil {
		return nil, c.sink.Critical("header", notify.InvalidData, "no EBMLHeader element found", nil)
	}
	docTypeEl, err := header.ChildByID(IDDocType)
	if err != nil {
		return nil, c.sink.Critical("header", notify.Io, "read DocType", err)
	}
	if docTypeEl != nil {
		payload, err := docTypeEl.ReadPayload()
		if err != nil {
			return nil, c.sink.Critical("header", notify.Io, "read DocType payload", err)
		}
		docType := trimTrailingZero(payload)
		if docType != "matroska" && docType != "webm" {
			return nil, c.sink.Critical("header", notify.InvalidData,
				fmt.Sprintf("unsupported DocType %q", docType), nil)
		}
	}

	segment, err := header.NextSibling()
	if err != nil {
		return nil, c.sink.Critical("header", notify.Io, "locate Segment", err)
	}
	if segment == nil || segment.ID() != IDSegment {
		// search past any stray top-level elements (Void, CRC-32) before
		// the Segment, matching parseSegment's tolerance for leading junk.
		cur := segment
		for cur != nil && cur.ID() != IDSegment {
			cur, err = cur.NextSibling()
			if err != nil {
				return nil, c.sink.Critical("header", notify.Io, "scan for Segment", err)
			}
		}
		segment = cur
	}
	if segment == nil {
		return nil, c.sink.Critical("header", notify.InvalidData, "no Segment element found", nil)
	}
	c.segment = segment

	segments := []*ebml.Element{segment}
	cur := segment
	for {
		next, err := cur.NextSibling()
		if err != nil {
			return nil, c.sink.Critical("header", notify.Io, "scan for additional Segments", err)
		}
		if next == nil {
			break
		}
		if next.ID() == IDSegment {
			segments = append(segments, next)
		}
		cur = next
	}
	c.segments = segments

	return segment, nil
}

// Segment returns the first parsed Segment element, or nil if ParseHeader
// has not run yet.
func (c *Container) Segment() *ebml.Element { return c.segment }

// Segments returns every top-level Segment element found by ParseHeader, in
// document order. A well-formed single-segment file returns a slice of one;
// files produced by concatenating independent Matroska streams return more.
func (c *Container) Segments() []*ebml.Element { return c.segments }

func trimTrailingZero(b []byte) string {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

// ParseSegmentInfo reads the Segment's SegmentInfo child, including
// SegmentUID/PrevUID/NextUID/DateUTC/Duration.
func (c *Container) ParseSegmentInfo() (*SegmentInfo, error) {
	if c.segment == nil {
		return nil, c.sink.Critical("segmentinfo", notify.InvalidData, "ParseHeader must run first", nil)
	}
	el, err := c.segment.ChildByID(IDSegmentInfo)
	if err != nil {
		return nil, c.sink.Critical("segmentinfo", notify.Io, "locate SegmentInfo", err)
	}
	info, err := parseSegmentInfoElement(el)
	if err != nil {
		return nil, c.sink.Critical("segmentinfo", notify.Io, "decode SegmentInfo child", err)
	}
	c.segmentInfo = info
	return info, nil
}

// parseSegmentInfoElement extracts a SegmentInfo element's fields. Unlike
// Container.ParseSegmentInfo it isn't tied to the Container's first
// Segment, so the planner can use it on whichever Segment a rewrite
// targets. el may be nil, yielding the same zero-value-with-default-scale
// SegmentInfo ParseSegmentInfo returns for a Segment with none.
func parseSegmentInfoElement(el *ebml.Element) (*SegmentInfo, error) {
	info := &SegmentInfo{TimestampScale: 1000000}
	if el == nil {
		return info, nil
	}
	children, err := el.Children()
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		switch child.ID() {
		case IDSegmentUID:
			info.SegmentUID, err = child.ReadPayload()
		case IDSegmentFilename:
			info.Filename, err = readString(child)
		case IDPrevUID:
			info.PrevUID, err = child.ReadPayload()
		case IDPrevFilename:
			info.PrevFilename, err = readString(child)
		case IDNextUID:
			info.NextUID, err = child.ReadPayload()
		case IDNextFilename:
			info.NextFilename, err = readString(child)
		case IDTimecodeScale:
			info.TimestampScale, err = readUint(child)
		case IDDuration:
			info.Duration, err = readFloat(child)
		case IDDateUTC:
			info.DateUTC, err = readInt(child)
		case IDTitle:
			info.Title, err = readString(child)
		case IDMuxingApp:
			info.MuxingApp, err = readString(child)
		case IDWritingApp:
			info.WritingApp, err = readString(child)
		}
		if err != nil {
			return nil, err
		}
	}
	return info, nil
}

func readString(el *ebml.Element) (string, error) {
	b, err := el.ReadPayload()
	if err != nil {
		return "", err
	}
	return trimTrailingZero(b), nil
}

func readUint(el *ebml.Element) (uint64, error) {
	b, err := el.ReadPayload()
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, by := range b {
		v = v<<8 | uint64(by)
	}
	return v, nil
}

func readInt(el *ebml.Element) (int64, error) {
	b, err := el.ReadPayload()
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, by := range b {
		v = v<<8 | uint64(by)
	}
	n := len(b)
	if n == 0 || n >= 8 {
		return int64(v), nil
	}
	signBit := uint64(1) << (uint(n)*8 - 1)
	if v&signBit != 0 {
		return int64(v) - int64(1<<(uint(n)*8)), nil
	}
	return int64(v), nil
}

func readFloat(el *ebml.Element) (float64, error) {
	b, err := el.ReadPayload()
	if err != nil {
		return 0, err
	}
	switch len(b) {
	case 4:
		var v uint32
		for _, by := range b {
			v = v<<8 | uint32(by)
		}
		return float64(math.Float32frombits(v)), nil
	case 8:
		var v uint64
		for _, by := range b {
			v = v<<8 | uint64(by)
		}
		return math.Float64frombits(v), nil
	default:
		return 0, nil
	}
}
