package matroska

import (
	"bytes"

	"github.com/ebmltag/mkvtag/ebml"
	"github.com/ebmltag/mkvtag/notify"
)

// PacketReader iterates Clusters, yielding one Packet per BlockGroup and one
// per frame of a SimpleBlock (several for a laced SimpleBlock), decoding
// lace headers through the shared ebml.ReadVInt codec
// rather than a block-specific bit-mask routine.
type PacketReader struct {
	c       *Container
	cluster *ebml.Element
	child   *ebml.Element
	clusterTimestamp int64
	pending []*Packet
}

// NewPacketReader starts iterating Clusters from the Segment's first one.
func NewPacketReader(c *Container) (*PacketReader, error) {
	if c.segment == nil {
		return nil, c.sink.Critical("demux", notify.InvalidData, "ParseHeader must run first", nil)
	}
	firstCluster, err := c.segment.ChildByID(IDCluster)
	if err != nil {
		return nil, c.sink.Critical("demux", notify.Io, "locate first Cluster", err)
	}
	return &PacketReader{c: c, cluster: firstCluster}, nil
}

// ReadPacket returns the next demuxed Packet, or nil, nil at end of stream.
func (r *PacketReader) ReadPacket() (*Packet, error) {
	for {
		if len(r.pending) > 0 {
			p := r.pending[0]
			r.pending = r.pending[1:]
			return p, nil
		}
		if r.cluster == nil {
			return nil, nil
		}
		if err := r.advanceWithinCluster(); err != nil {
			return nil, err
		}
	}
}

func (r *PacketReader) advanceWithinCluster() error {
	if r.child == nil {
		if err := r.cluster.Parse(); err != nil {
			return r.c.sink.Critical("demux", notify.Io, "parse Cluster", err)
		}
		first, err := r.cluster.FirstChild()
		if err != nil {
			return r.c.sink.Critical("demux", notify.Io, "read first Cluster child", err)
		}
		r.child = first
	} else {
		next, err := r.child.NextSibling()
		if err != nil {
			return r.c.sink.Critical("demux", notify.Io, "read next Cluster child", err)
		}
		r.child = next
	}

	if r.child == nil {
		next, err := r.cluster.NextSibling()
		if err != nil {
			return r.c.sink.Critical("demux", notify.Io, "read next Cluster", err)
		}
		if next != nil && next.ID() == IDCluster {
			r.cluster = next
		} else {
			r.cluster = nil
		}
		r.clusterTimestamp = 0
		return nil
	}

	switch r.child.ID() {
	case IDTimestamp:
		v, err := readUint(r.child)
		if err != nil {
			return r.c.sink.Critical("demux", notify.Io, "decode Cluster Timestamp", err)
		}
		r.clusterTimestamp = int64(v)
	case IDSimpleBlock:
		pkts, err := r.parseSimpleBlock(r.child)
		if err != nil {
			return err
		}
		r.pending = append(r.pending, pkts...)
	case IDBlockGroup:
		pkt, err := r.parseBlockGroup(r.child)
		if err != nil {
			return err
		}
		if pkt != nil {
			r.pending = append(r.pending, pkt)
		}
	}
	return nil
}

func (r *PacketReader) parseSimpleBlock(el *ebml.Element) ([]*Packet, error) {
	payload, err := el.ReadPayload()
	if err != nil {
		return nil, r.c.sink.Critical("demux", notify.Io, "read SimpleBlock payload", err)
	}
	track, n, err := ebml.ReadVInt(bytes.NewReader(payload))
	if err != nil {
		return nil, r.c.sink.Critical("demux", notify.Parse, "decode SimpleBlock track number", err)
	}
	if len(payload) < n+3 {
		return nil, r.c.sink.Critical("demux", notify.Parse, "truncated SimpleBlock", nil)
	}
	rel := int16(uint16(payload[n])<<8 | uint16(payload[n+1]))
	flags := payload[n+2]
	data := payload[n+3:]

	var pflags PacketFlags
	if flags&0x80 != 0 {
		pflags |= FlagKeyframe
	}
	if flags&0x08 != 0 {
		pflags |= FlagInvisible
	}
	if flags&0x01 != 0 {
		pflags |= FlagDiscardable
	}

	lacing := (flags >> 1) & 0x03
	frames, err := splitLaced(data, lacing)
	if err != nil {
		return nil, r.c.sink.Critical("demux", notify.Parse, "decode SimpleBlock lacing", err)
	}

	packets := make([]*Packet, 0, len(frames))
	for _, frame := range frames {
		packets = append(packets, &Packet{
			Track:     track,
			Timestamp: r.clusterTimestamp + int64(rel),
			Flags:     pflags,
			Data:      frame,
		})
	}
	return packets, nil
}

func (r *PacketReader) parseBlockGroup(el *ebml.Element) (*Packet, error) {
	children, err := el.Children()
	if err != nil {
		return nil, r.c.sink.Critical("demux", notify.Io, "read BlockGroup children", err)
	}
	var (
		pkt      *Packet
		duration uint64
	)
	for _, child := range children {
		switch child.ID() {
		case IDBlock:
			frames, err := r.parseSimpleBlock(child)
			if err != nil {
				return nil, err
			}
			if len(frames) > 0 {
				pkt = frames[0]
				pkt.Flags |= FlagKeyframe
			}
		case IDBlockDuration:
			duration, err = readUint(child)
			if err != nil {
				return nil, r.c.sink.Critical("demux", notify.Io, "decode BlockDuration", err)
			}
		}
	}
	if pkt != nil {
		pkt.Duration = duration
	}
	return pkt, nil
}

// splitLaced splits a Block's data area into individual frames according
// to its lacing mode: 0 = none, 1 = Xiph, 2 = fixed-size, 3 = EBML.
func splitLaced(data []byte, lacing byte) ([][]byte, error) {
	if lacing == 0 {
		return [][]byte{data}, nil
	}
	if len(data) == 0 {
		return nil, nil
	}
	count := int(data[0]) + 1
	rest := data[1:]

	switch lacing {
	case 2: // fixed-size
		if count == 0 || len(rest)%count != 0 {
			return nil, errLacing
		}
		size := len(rest) / count
		frames := make([][]byte, count)
		for i := 0; i < count; i++ {
			frames[i] = rest[i*size : (i+1)*size]
		}
		return frames, nil
	case 1: // Xiph
		sizes := make([]int, count)
		for i := 0; i < count-1; i++ {
			size := 0
			for {
				if len(rest) == 0 {
					return nil, errLacing
				}
				b := rest[0]
				rest = rest[1:]
				size += int(b)
				if b != 0xFF {
					break
				}
			}
			sizes[i] = size
		}
		frames := make([][]byte, count)
		for i := 0; i < count-1; i++ {
			if len(rest) < sizes[i] {
				return nil, errLacing
			}
			frames[i] = rest[:sizes[i]]
			rest = rest[sizes[i]:]
		}
		frames[count-1] = rest
		return frames, nil
	case 3: // EBML
		sizes := make([]int, count)
		v, n, err := ebml.ReadVInt(bytes.NewReader(rest))
		if err != nil {
			return nil, err
		}
		sizes[0] = int(v)
		rest = rest[n:]
		prev := int64(v)
		for i := 1; i < count-1; i++ {
			delta, n, err := readSignedVInt(rest)
			if err != nil {
				return nil, err
			}
			prev += delta
			sizes[i] = int(prev)
			rest = rest[n:]
		}
		frames := make([][]byte, count)
		for i := 0; i < count-1; i++ {
			if len(rest) < sizes[i] {
				return nil, errLacing
			}
			frames[i] = rest[:sizes[i]]
			rest = rest[sizes[i]:]
		}
		frames[count-1] = rest
		return frames, nil
	default:
		return nil, errLacing
	}
}

// readSignedVInt reads an EBML-laced size delta: a size VINT whose value
// has been offset so zero sits at the midpoint of its range, letting frame
// sizes shrink as well as grow between lace entries.
func readSignedVInt(data []byte) (int64, int, error) {
	v, n, err := ebml.ReadVInt(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	bias := int64(1)<<(7*n-1) - 1
	return int64(v) - bias, n, nil
}

var errLacing = notify.Wrap(notify.Parse, "malformed lace sizes", nil)
