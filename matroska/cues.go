package matroska

import (
	"github.com/ebmltag/mkvtag/ebml"
	"github.com/ebmltag/mkvtag/notify"
)

// ParseCues reads every CuePoint under the Segment's Cues element.
func (c *Container) ParseCues() ([]CuePoint, error) {
	if c.segment == nil {
		return nil, c.sink.Critical("cues", notify.InvalidData, "ParseHeader must run first", nil)
	}
	cuesEl, err := c.segment.ChildByID(IDCues)
	if err != nil {
		return nil, c.sink.Critical("cues", notify.Io, "locate Cues", err)
	}
	if cuesEl == nil {
		c.cues = nil
		return nil, nil
	}
	cues, err := c.readCuePoints(cuesEl)
	if err != nil {
		return nil, err
	}
	c.cues = cues
	return cues, nil
}

// readCuePoints parses every CuePoint under an arbitrary Cues element,
// independent of which Segment it belongs to. ParseCues is the public,
// first-Segment-only entry point; the planner uses this directly so it can
// read cues out of whichever Segment a rewrite targets.
func (c *Container) readCuePoints(cuesEl *ebml.Element) ([]CuePoint, error) {
	if cuesEl == nil {
		return nil, nil
	}
	entries, err := cuesEl.Children()
	if err != nil {
		return nil, c.sink.Critical("cues", notify.Io, "read Cues children", err)
	}
	var cues []CuePoint
	for _, entry := range entries {
		if entry.ID() != IDCuePoint {
			continue
		}
		cue, ok, err := c.parseCuePoint(entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cues = append(cues, cue)
	}
	return cues, nil
}

func (c *Container) parseCuePoint(entry *ebml.Element) (CuePoint, bool, error) {
	var cue CuePoint
	haveTime := false
	children, err := entry.Children()
	if err != nil {
		return cue, false, c.sink.Critical("cues", notify.Io, "read CuePoint children", err)
	}
	for _, child := range children {
		switch child.ID() {
		case IDCueTime:
			v, err := readUint(child)
			if err != nil {
				return cue, false, c.sink.Critical("cues", notify.Io, "decode CueTime", err)
			}
			cue.Time = v
			haveTime = true
		case IDCueTrackPositions:
			pos, ok, err := c.parseCueTrackPositions(child)
			if err != nil {
				return cue, false, err
			}
			if ok {
				cue.Positions = append(cue.Positions, pos)
			}
		}
	}
	if !haveTime || len(cue.Positions) == 0 {
		c.sink.Add(notify.Warning, "cues", "dropping CuePoint missing mandatory CueTime/CueTrackPositions")
		return cue, false, nil
	}
	return cue, true, nil
}

func (c *Container) parseCueTrackPositions(el *ebml.Element) (CueTrackPositions, bool, error) {
	var pos CueTrackPositions
	haveCluster := false
	children, err := el.Children()
	if err != nil {
		return pos, false, c.sink.Critical("cues", notify.Io, "read CueTrackPositions children", err)
	}
	for _, child := range children {
		var derr error
		switch child.ID() {
		case IDCueTrack:
			pos.Track, derr = readUint(child)
		case IDCueClusterPosition:
			pos.ClusterPosition, derr = readUint(child)
			haveCluster = true
		case IDCueRelativePosition:
			pos.RelativePosition, derr = readUint(child)
		case IDCueDuration:
			pos.Duration, derr = readUint(child)
		case IDCueBlockNumber:
			pos.BlockNumber, derr = readUint(child)
		}
		if derr != nil {
			return pos, false, c.sink.Critical("cues", notify.Io, "decode CueTrackPositions child", derr)
		}
	}
	if !haveCluster {
		c.sink.Add(notify.Warning, "cues", "dropping CueTrackPositions missing mandatory CueClusterPosition")
		return pos, false, nil
	}
	return pos, true, nil
}

// CuePositionUpdater rewrites a parsed cue table's cluster positions after
// a full rewrite relocates every Cluster, and/or its relative positions
// after a Cluster's internal Block layout shifts. It mutates a copy of the
// cue table so planning passes can be retried without re-reading the
// source.
type CuePositionUpdater struct {
	points []CuePoint
}

// NewCuePositionUpdater seeds an updater from a parsed cue table. The slice
// is copied; callers may discard the original.
func NewCuePositionUpdater(points []CuePoint) *CuePositionUpdater {
	cp := make([]CuePoint, len(points))
	for i, p := range points {
		cp[i] = CuePoint{Time: p.Time, Positions: append([]CueTrackPositions(nil), p.Positions...)}
	}
	return &CuePositionUpdater{points: cp}
}

// UpdateClusterPosition rewrites every CueTrackPositions entry whose
// ClusterPosition equals oldPos to newPos. It reports whether the Cues
// element's serialized size changed as a result (every touched entry moves
// from the same VINT width to the same new VINT width, so one comparison
// covers all of them).
func (u *CuePositionUpdater) UpdateClusterPosition(oldPos, newPos uint64) (changedSize bool) {
	touched := false
	for i := range u.points {
		for j := range u.points[i].Positions {
			if u.points[i].Positions[j].ClusterPosition == oldPos {
				u.points[i].Positions[j].ClusterPosition = newPos
				touched = true
			}
		}
	}
	return touched && uintSize(oldPos) != uintSize(newPos)
}

// UpdateRelativePosition rewrites every CueTrackPositions entry whose
// ClusterPosition equals clusterPos and RelativePosition equals oldRelative
// to newRelative, for when a Cluster's internal Block layout shifts without
// the Cluster itself moving. It reports whether the Cues element's
// serialized size changed.
func (u *CuePositionUpdater) UpdateRelativePosition(clusterPos, oldRelative, newRelative uint64) (changedSize bool) {
	touched := false
	for i := range u.points {
		for j := range u.points[i].Positions {
			p := &u.points[i].Positions[j]
			if p.ClusterPosition == clusterPos && p.RelativePosition == oldRelative {
				p.RelativePosition = newRelative
				touched = true
			}
		}
	}
	return touched && uintSize(oldRelative) != uintSize(newRelative)
}

// Points returns the updater's current cue table.
func (u *CuePositionUpdater) Points() []CuePoint { return u.points }

// RequiredSize returns the number of payload bytes a Cues element built
// from this table would occupy (excluding the Cues element's own header).
func (u *CuePositionUpdater) RequiredSize() uint64 {
	var total uint64
	for _, p := range u.points {
		total += elementSize(IDCuePoint, cuePointPayloadSize(p))
	}
	return total
}

func cuePointPayloadSize(p CuePoint) uint64 {
	var size uint64
	size += elementSize(IDCueTime, uintSize(p.Time))
	for _, pos := range p.Positions {
		size += elementSize(IDCueTrackPositions, cueTrackPositionsPayloadSize(pos))
	}
	return size
}

func cueTrackPositionsPayloadSize(p CueTrackPositions) uint64 {
	var size uint64
	size += elementSize(IDCueTrack, uintSize(p.Track))
	size += elementSize(IDCueClusterPosition, uintSize(p.ClusterPosition))
	if p.RelativePosition != 0 {
		size += elementSize(IDCueRelativePosition, uintSize(p.RelativePosition))
	}
	if p.Duration != 0 {
		size += elementSize(IDCueDuration, uintSize(p.Duration))
	}
	if p.BlockNumber != 0 {
		size += elementSize(IDCueBlockNumber, uintSize(p.BlockNumber))
	}
	return size
}

// WriteCues serializes the updater's current cue table as a complete Cues
// element (header + CuePoint children) to s.
func (u *CuePositionUpdater) WriteCues(s *ebml.Stream) error {
	payloadSize := u.RequiredSize()
	if _, err := ebml.WriteElementHeader(s.RW, IDCues, payloadSize); err != nil {
		return err
	}
	for _, p := range u.points {
		if err := writeCuePoint(s, p); err != nil {
			return err
		}
	}
	return nil
}

func writeCuePoint(s *ebml.Stream, p CuePoint) error {
	if _, err := ebml.WriteElementHeader(s.RW, IDCuePoint, cuePointPayloadSize(p)); err != nil {
		return err
	}
	if err := writeUintElement(s, IDCueTime, p.Time); err != nil {
		return err
	}
	for _, pos := range p.Positions {
		if err := writeCueTrackPositions(s, pos); err != nil {
			return err
		}
	}
	return nil
}

func writeCueTrackPositions(s *ebml.Stream, p CueTrackPositions) error {
	if _, err := ebml.WriteElementHeader(s.RW, IDCueTrackPositions, cueTrackPositionsPayloadSize(p)); err != nil {
		return err
	}
	if err := writeUintElement(s, IDCueTrack, p.Track); err != nil {
		return err
	}
	if err := writeUintElement(s, IDCueClusterPosition, p.ClusterPosition); err != nil {
		return err
	}
	if p.RelativePosition != 0 {
		if err := writeUintElement(s, IDCueRelativePosition, p.RelativePosition); err != nil {
			return err
		}
	}
	if p.Duration != 0 {
		if err := writeUintElement(s, IDCueDuration, p.Duration); err != nil {
			return err
		}
	}
	if p.BlockNumber != 0 {
		if err := writeUintElement(s, IDCueBlockNumber, p.BlockNumber); err != nil {
			return err
		}
	}
	return nil
}

// writeUintElement writes id+size+value using the minimum byte width that
// fits value.
func writeUintElement(s *ebml.Stream, id, value uint64) error {
	n := uintSize(value)
	if _, err := ebml.WriteElementHeader(s.RW, id, n); err != nil {
		return err
	}
	return s.WriteUint(value, int(n))
}

// uintSize returns the minimum number of bytes (1..8) needed to hold value.
func uintSize(value uint64) uint64 {
	n := uint64(1)
	for v := value >> 8; v != 0; v >>= 8 {
		n++
	}
	return n
}

// elementSize returns the total on-wire size (header + payload) of an
// element with the given id and payload size.
func elementSize(id, payloadSize uint64) uint64 {
	return uint64(ebml.HeaderSize(id, payloadSize)) + payloadSize
}
