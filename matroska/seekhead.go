package matroska

import "github.com/ebmltag/mkvtag/ebml"

// seekEntry is one Seek child of a SeekHead: the id of the element it
// points at, that element's position relative to the Segment's data start,
// and the index of the segment this entry belongs to (a SeekHead only ever
// describes its own segment, but the index still disambiguates an entry
// when a SeekInfo is asked to plan across more than one).
type seekEntry struct {
	targetID uint64
	index    int
	position uint64
}

// SeekInfo builds the SeekHead element written at the front of a rewritten
// segment. Entries are kept in insertion order, which is also serialization
// order. Every Push/Update can change the SeekHead's own encoded size,
// which is why both report whether the size changed rather than just
// succeeding silently.
type SeekInfo struct {
	entries []seekEntry
}

// NewSeekInfo returns an empty SeekInfo.
func NewSeekInfo() *SeekInfo { return &SeekInfo{} }

// Push records a new seek entry (or updates it, if (index, targetID)
// already has one) and reports whether the SeekHead's encoded size changed
// as a result — the planner must restart segment-size computation when it
// does.
func (si *SeekInfo) Push(index int, targetID, position uint64) (changedSize bool) {
	for i, e := range si.entries {
		if e.targetID == targetID && e.index == index {
			before := seekEntrySize(e)
			si.entries[i].position = position
			after := seekEntrySize(si.entries[i])
			return before != after
		}
	}
	si.entries = append(si.entries, seekEntry{targetID: targetID, index: index, position: position})
	return true
}

// Update is an alias for Push kept for callers that only ever update an
// already-pushed entry, mirroring the original's separate push()/update()
// entry points even though they do the same bookkeeping here.
func (si *SeekInfo) Update(index int, targetID, position uint64) (changedSize bool) {
	return si.Push(index, targetID, position)
}

// Len reports how many entries the SeekHead currently holds.
func (si *SeekInfo) Len() int { return len(si.entries) }

func seekEntrySize(e seekEntry) uint64 {
	idPayload := uint64(ebml.IDLength(e.targetID))
	posPayload := uintSize(e.position)
	seekPayload := elementSize(IDSeekID, idPayload) + elementSize(IDSeekPosition, posPayload)
	return elementSize(IDSeek, seekPayload)
}

// RequiredSize returns the number of payload bytes a SeekHead built from
// the current entries would occupy (excluding the SeekHead's own header).
func (si *SeekInfo) RequiredSize() uint64 {
	var total uint64
	for _, e := range si.entries {
		total += seekEntrySize(e)
	}
	return total
}

// WriteSeekHead serializes the SeekHead element (header + Seek children) to
// s. position values are written as the minimum byte width that fits.
func (si *SeekInfo) WriteSeekHead(s *ebml.Stream) error {
	if _, err := ebml.WriteElementHeader(s.RW, IDSeekHead, si.RequiredSize()); err != nil {
		return err
	}
	for _, e := range si.entries {
		if err := si.writeSeekEntry(s, e); err != nil {
			return err
		}
	}
	return nil
}

func (si *SeekInfo) writeSeekEntry(s *ebml.Stream, e seekEntry) error {
	idPayload := uint64(ebml.IDLength(e.targetID))
	posPayload := uintSize(e.position)
	seekPayload := elementSize(IDSeekID, idPayload) + elementSize(IDSeekPosition, posPayload)
	if _, err := ebml.WriteElementHeader(s.RW, IDSeek, seekPayload); err != nil {
		return err
	}
	if _, err := ebml.WriteElementHeader(s.RW, IDSeekID, idPayload); err != nil {
		return err
	}
	if err := s.WriteUint(e.targetID, int(idPayload)); err != nil {
		return err
	}
	return writeUintElement(s, IDSeekPosition, e.position)
}
