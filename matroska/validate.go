package matroska

import "github.com/ebmltag/mkvtag/notify"

// Validate cross-checks the parsed Cues against the actual Cluster tree:
// every CueClusterPosition must point at a real Cluster, and
// CueRelativePosition (when present) must land inside that Cluster's
// payload. It is a read-only, explicitly-invoked operation (Rewrite never
// calls it implicitly) — a caller that wants these guarantees before or
// after writing asks for them.
func (c *Container) Validate() error {
	if c.segment == nil {
		return c.sink.Critical("validate", notify.InvalidData, "ParseHeader must run first", nil)
	}
	clusterStarts := map[uint64]*clusterInfo{}
	children, err := c.segment.Children()
	if err != nil {
		return c.sink.Critical("validate", notify.Io, "read Segment children", err)
	}
	segmentDataStart := uint64(c.segment.DataOffset())
	for _, child := range children {
		if child.ID() != IDCluster {
			continue
		}
		relative := uint64(child.StartOffset()) - segmentDataStart
		clusterStarts[relative] = &clusterInfo{size: child.DataSize()}
	}

	for _, cue := range c.cues {
		for _, pos := range cue.Positions {
			info, ok := clusterStarts[pos.ClusterPosition]
			if !ok {
				c.sink.Addf(notify.Warning, "validate",
					"CueTrackPositions for track %d points at offset %d, which is not a Cluster", pos.Track, pos.ClusterPosition)
				continue
			}
			if pos.RelativePosition > info.size {
				c.sink.Addf(notify.Warning, "validate",
					"CueTrackPositions for track %d has RelativePosition %d beyond its Cluster's %d-byte payload",
					pos.Track, pos.RelativePosition, info.size)
			}
		}
	}
	if c.sink.HasCritical() {
		return notify.Wrap(notify.InvalidData, "validation found critical inconsistencies", nil)
	}
	return nil
}

type clusterInfo struct {
	size uint64
}
