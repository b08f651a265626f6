package matroska

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/ebmltag/mkvtag/backup"
	"github.com/ebmltag/mkvtag/config"
	"github.com/ebmltag/mkvtag/ebml"
	"github.com/ebmltag/mkvtag/notify"
)

// RewriteRequest is everything a caller supplies to change a segment's tag
// metadata: the new Tags/Attachments content. The cue table is always
// recomputed from the existing cues plus whatever the planner relocates.
type RewriteRequest struct {
	Tags        []*Tag
	Attachments []*AttachmentMaker
}

// writingAppIdentifier is what a full rewrite stamps into SegmentInfo's
// MuxingApp and WritingApp, replacing whatever wrote the file originally.
const writingAppIdentifier = "mkvtag"

// segmentLayout records where each top-level child of one Segment
// currently sits, discovered during Phase A, plus that Segment's identity
// within the file and its original Tags/Cues placement.
type segmentLayout struct {
	segment      *ebml.Element
	segmentIndex int

	segmentInfo  *ebml.Element
	tracks       *ebml.Element
	chapters     *ebml.Element
	attachments  *ebml.Element
	tags         *ebml.Element
	cues         *ebml.Element
	seekHead     *ebml.Element
	firstCluster *ebml.Element

	lastClusterEnd int64
	stationaryEnd  int64 // end of SegmentInfo/Tracks/Chapters: where the flexible before-data window begins
	segmentEnd     int64 // Segment's own EndOffset(): where the flexible after-data window ends
	hasCRC32       bool  // Segment's own first child is a CRC-32 element

	tagsOriginallyAfterData bool
	cuesOriginallyAfterData bool
}

// inPlaceDecision is what planInPlaceFits settles on: which side of the
// Cluster run Tags and Cues will live on, and how much Void padding each
// flexible window needs.
type inPlaceDecision struct {
	tagsAfterData bool
	cuesAfterData bool
	beforePadding int64
	afterPadding  int64
}

// resolvePosition turns a configured Position into a concrete
// before/after-data choice: Keep defers to wherever Phase A found the
// element originally.
func resolvePosition(configured config.Position, originallyAfterData bool) bool {
	switch configured {
	case config.PositionAfterData:
		return true
	case config.PositionBeforeData:
		return false
	default:
		return originallyAfterData
	}
}

// Rewrite applies req to the container, choosing in-place or full rewrite
// and keeping SeekHead/Cues/Position/PrevSize/CRC-32 consistent. On a full
// rewrite, any failure after the original is moved aside triggers a
// backup-and-restore before the error is returned.
//
// A file with more than one top-level Segment is handled by picking a
// single target Segment for the edited Tags — the first Segment if Tags
// resolve to BeforeData, the last if AfterData — and leaving every other
// Segment's bytes untouched. Each Segment's own Cues only ever needs
// relocating when that Segment's own Clusters move, which only ever
// happens to the target.
func (c *Container) Rewrite(path string, req RewriteRequest) error {
	if len(c.segments) == 0 {
		return c.sink.Critical("rewrite", notify.InvalidData, "ParseHeader must run first", nil)
	}
	req.Attachments = dedupeAttachmentMakers(req.Attachments)

	originIdx := 0
	for i, seg := range c.segments {
		if el, err := seg.ChildByID(IDTags); err == nil && el != nil {
			originIdx = i
			break
		}
	}
	originLayout, err := c.readSegmentLayout(c.segments[originIdx], originIdx)
	if err != nil {
		return err
	}
	tagsAfterData := resolvePosition(c.opts.TagPosition, originLayout.tagsOriginallyAfterData)

	targetIdx := 0
	if tagsAfterData {
		targetIdx = len(c.segments) - 1
	}

	layout := originLayout
	if targetIdx != originIdx {
		layout, err = c.readSegmentLayout(c.segments[targetIdx], targetIdx)
		if err != nil {
			return err
		}
	}
	if err := c.checkClusterOrdering(layout); err != nil {
		return err
	}
	cuesAfterData := resolvePosition(c.opts.CuesPosition, layout.cuesOriginallyAfterData)

	tagMaker := NewTagMaker(req.Tags)
	newTagsSize := elementSize(IDTags, tagMaker.RequiredSize())
	newAttachmentsSize := attachmentsTotalSize(layout, req.Attachments)

	forced := c.opts.ForceRewrite || c.opts.SaveFilePath != ""
	decision, fits := c.planInPlaceFits(layout, newTagsSize, newAttachmentsSize, tagsAfterData, cuesAfterData)

	if !forced && fits {
		return c.rewriteInPlace(layout, tagMaker, req.Attachments, decision)
	}
	return c.rewriteFull(path, layout, targetIdx, tagMaker, req.Attachments, tagsAfterData, cuesAfterData)
}

// checkClusterOrdering rejects a layout where a Cluster reappears after
// some non-Cluster metadata element that itself followed an earlier
// Cluster — i.e. interleaved metadata between two Clusters. Metadata
// trailing the last Cluster (an AfterData Tags/Cues placement) is fine; the
// cluster-position math only assumes every Cluster is contiguous, not that
// nothing may ever follow the run.
func (c *Container) checkClusterOrdering(layout *segmentLayout) error {
	if layout.firstCluster == nil {
		return nil
	}
	children, err := layout.segment.Children()
	if err != nil {
		return c.sink.Critical("rewrite", notify.Io, "re-scan Segment children", err)
	}
	seenCluster := false
	inTrailer := false
	for _, child := range children {
		if child.ID() == IDCluster {
			if inTrailer {
				return c.sink.Critical("rewrite", notify.InvalidData,
					"a Cluster follows trailing metadata; this interleaved layout is not supported", nil)
			}
			seenCluster = true
			continue
		}
		if seenCluster {
			inTrailer = true
		}
	}
	return nil
}

func (c *Container) readSegmentLayout(segment *ebml.Element, segmentIndex int) (*segmentLayout, error) {
	layout := &segmentLayout{segment: segment, segmentIndex: segmentIndex}
	children, err := segment.Children()
	if err != nil {
		return nil, c.sink.Critical("rewrite", notify.Io, "read Segment children", err)
	}
	for _, child := range children {
		switch child.ID() {
		case IDSegmentInfo:
			layout.segmentInfo = child
		case IDTracks:
			layout.tracks = child
		case IDChapters:
			layout.chapters = child
		case IDAttachments:
			layout.attachments = child
		case IDTags:
			layout.tags = child
		case IDCues:
			layout.cues = child
		case IDSeekHead:
			layout.seekHead = child
		case IDCluster:
			if layout.firstCluster == nil {
				layout.firstCluster = child
			}
			layout.lastClusterEnd = child.EndOffset()
		}
	}

	stationaryEnd := segment.DataOffset()
	if layout.seekHead != nil {
		stationaryEnd = layout.seekHead.EndOffset()
	}
	if layout.segmentInfo != nil {
		stationaryEnd = layout.segmentInfo.EndOffset()
	}
	if layout.tracks != nil {
		stationaryEnd = layout.tracks.EndOffset()
	}
	if layout.chapters != nil {
		stationaryEnd = layout.chapters.EndOffset()
	}
	layout.stationaryEnd = stationaryEnd
	layout.segmentEnd = segment.EndOffset()

	if layout.firstCluster != nil {
		if layout.tags != nil {
			layout.tagsOriginallyAfterData = layout.tags.StartOffset() > layout.firstCluster.StartOffset()
		}
		if layout.cues != nil {
			layout.cuesOriginallyAfterData = layout.cues.StartOffset() > layout.firstCluster.StartOffset()
		}
	}

	first, err := segment.FirstChild()
	if err != nil {
		return nil, c.sink.Critical("rewrite", notify.Io, "read Segment's first child", err)
	}
	if first != nil {
		if err := first.Parse(); err != nil {
			return nil, c.sink.Critical("rewrite", notify.Io, "parse Segment's first child", err)
		}
		layout.hasCRC32 = first.ID() == IDCRC32
	}

	return layout, nil
}

// planInPlaceFits decides whether the requested Tags(+Attachments) can be
// written without moving any Cluster. It first tries the resolved
// before/after-data placement as-is; if that doesn't fit and neither
// position is pinned by ForceTagPosition/ForceCuesPosition, it retries with
// Tags flipped to AfterData, then with both Tags and Cues flipped to
// AfterData, before giving up. A flip only ever redistributes bytes between
// the existing before-data and after-data windows — it never changes the
// Segment's total size, so it's always safe to attempt in place.
func (c *Container) planInPlaceFits(layout *segmentLayout, newTagsSize, newAttachmentsSize uint64, resolvedTagsAfterData, resolvedCuesAfterData bool) (inPlaceDecision, bool) {
	if layout.firstCluster == nil {
		return inPlaceDecision{}, false
	}

	if d, ok := c.tryInPlace(layout, newTagsSize, newAttachmentsSize, resolvedTagsAfterData, resolvedCuesAfterData); ok {
		return d, true
	}
	if c.opts.ForceTagPosition || c.opts.ForceCuesPosition {
		return inPlaceDecision{}, false
	}
	if !resolvedTagsAfterData {
		if d, ok := c.tryInPlace(layout, newTagsSize, newAttachmentsSize, true, resolvedCuesAfterData); ok {
			return d, true
		}
		if !resolvedCuesAfterData {
			if d, ok := c.tryInPlace(layout, newTagsSize, newAttachmentsSize, true, true); ok {
				return d, true
			}
		}
	}
	return inPlaceDecision{}, false
}

func (c *Container) tryInPlace(layout *segmentLayout, newTagsSize, newAttachmentsSize uint64, tagsAfterData, cuesAfterData bool) (inPlaceDecision, bool) {
	cuesSize := uint64(0)
	if layout.cues != nil {
		cuesSize = layout.cues.TotalSize()
	}

	beforeNeeded := newAttachmentsSize
	afterNeeded := uint64(0)
	if tagsAfterData {
		afterNeeded += newTagsSize
	} else {
		beforeNeeded += newTagsSize
	}
	if cuesAfterData {
		afterNeeded += cuesSize
	} else {
		beforeNeeded += cuesSize
	}

	var beforeAvail uint64
	if layout.firstCluster.StartOffset() > layout.stationaryEnd {
		beforeAvail = uint64(layout.firstCluster.StartOffset() - layout.stationaryEnd)
	}
	var afterAvail uint64
	if layout.segmentEnd > layout.lastClusterEnd {
		afterAvail = uint64(layout.segmentEnd - layout.lastClusterEnd)
	}

	beforePadding, ok := c.checkPadding(beforeAvail, beforeNeeded)
	if !ok {
		return inPlaceDecision{}, false
	}
	afterPadding, ok := c.checkPadding(afterAvail, afterNeeded)
	if !ok {
		return inPlaceDecision{}, false
	}
	return inPlaceDecision{
		tagsAfterData: tagsAfterData,
		cuesAfterData: cuesAfterData,
		beforePadding: beforePadding,
		afterPadding:  afterPadding,
	}, true
}

// checkPadding reports the Void size a window would need if avail bytes
// are available and needed bytes of real content must go there, or false
// if that leaves a negative, 1-byte (Void needs at least 2), or
// out-of-[MinPadding,MaxPadding] remainder.
func (c *Container) checkPadding(avail, needed uint64) (int64, bool) {
	if needed > avail {
		return 0, false
	}
	padding := int64(avail - needed)
	if padding == 1 {
		return 0, false
	}
	if uint64(padding) < c.opts.MinPadding || uint64(padding) > c.opts.MaxPadding {
		return 0, false
	}
	return padding, true
}

// rewriteInPlace overwrites the before-data and after-data flexible
// windows according to decision, then backpatches any CRC-32 the edit
// affected. It never moves a Cluster and never needs the backup helper: a
// failure partway through leaves the file's Cluster data untouched.
func (c *Container) rewriteInPlace(layout *segmentLayout, tagMaker *TagMaker, attachments []*AttachmentMaker, decision inPlaceDecision) error {
	if err := c.writeBeforeDataWindow(c.stream, layout, tagMaker, attachments, decision); err != nil {
		return err
	}
	if layout.segmentEnd > layout.lastClusterEnd || decision.tagsAfterData || decision.cuesAfterData {
		if err := c.writeAfterDataWindow(c.stream, layout, tagMaker, decision); err != nil {
			return err
		}
	}
	return c.backpatchCRC32InPlace(layout)
}

func (c *Container) writeBeforeDataWindow(s *ebml.Stream, layout *segmentLayout, tagMaker *TagMaker, attachments []*AttachmentMaker, d inPlaceDecision) error {
	if err := s.SeekTo(layout.stationaryEnd); err != nil {
		return c.sink.Critical("rewrite", notify.Io, "seek to before-data window", err)
	}
	if layout.attachments != nil || len(attachments) > 0 {
		if err := c.writeAttachments(s, layout.attachments, attachments); err != nil {
			return err
		}
	}
	if !d.tagsAfterData {
		if err := tagMaker.Write(s); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write Tags", err)
		}
	}
	if !d.cuesAfterData && layout.cues != nil {
		if err := copyElementVerbatim(s, layout.cues); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "copy Cues", err)
		}
	}
	if d.beforePadding > 0 {
		if err := writeVoid(s, d.beforePadding); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write before-data Void padding", err)
		}
	}
	return nil
}

func (c *Container) writeAfterDataWindow(s *ebml.Stream, layout *segmentLayout, tagMaker *TagMaker, d inPlaceDecision) error {
	if err := s.SeekTo(layout.lastClusterEnd); err != nil {
		return c.sink.Critical("rewrite", notify.Io, "seek to after-data window", err)
	}
	if d.tagsAfterData {
		if err := tagMaker.Write(s); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write trailing Tags", err)
		}
	}
	if d.cuesAfterData && layout.cues != nil {
		if err := copyElementVerbatim(s, layout.cues); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "copy trailing Cues", err)
		}
	}
	if d.afterPadding > 0 {
		if err := writeVoid(s, d.afterPadding); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write after-data Void padding", err)
		}
	}
	return nil
}

func copyElementVerbatim(s *ebml.Stream, el *ebml.Element) error {
	if _, err := ebml.WriteElementHeader(s.RW, el.ID(), el.DataSize()); err != nil {
		return err
	}
	payload, err := el.ReadPayload()
	if err != nil {
		return err
	}
	return s.WriteBytes(payload)
}

func (c *Container) writeAttachments(s *ebml.Stream, existing *ebml.Element, makers []*AttachmentMaker) error {
	var payloadSize uint64
	if existing != nil {
		children, err := existing.Children()
		if err != nil {
			return c.sink.Critical("rewrite", notify.Io, "read existing Attachments", err)
		}
		for _, child := range children {
			payloadSize += child.TotalSize()
		}
	}
	for _, m := range makers {
		payloadSize += m.RequiredSize()
	}
	if payloadSize == 0 {
		return nil
	}
	if _, err := ebml.WriteElementHeader(s.RW, IDAttachments, payloadSize); err != nil {
		return err
	}
	if existing != nil {
		children, err := existing.Children()
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := copyElementVerbatim(s, child); err != nil {
				return err
			}
		}
	}
	for _, m := range makers {
		if err := m.Write(s); err != nil {
			return err
		}
	}
	return nil
}

func writeVoid(s *ebml.Stream, n int64) error {
	payload, sizeLen, ok := ebml.VoidPayload(IDVoid, n)
	if !ok {
		return fmt.Errorf("matroska: %d bytes cannot be encoded as Void", n)
	}
	if _, err := ebml.WriteElementHeaderWidth(s.RW, IDVoid, ebml.IDLength(IDVoid), uint64(payload), sizeLen); err != nil {
		return err
	}
	if payload == 0 {
		return nil
	}
	buf := make([]byte, payload)
	return s.WriteBytes(buf)
}

// rewriteFull performs a complete rewrite of the file: the target Segment
// is relocated and recomputed from scratch, while every other top-level
// element — the EBMLHeader, any other Segment — is copied verbatim in its
// original position.
func (c *Container) rewriteFull(path string, layout *segmentLayout, targetIdx int, tagMaker *TagMaker, attachments []*AttachmentMaker, tagsAfterData, cuesAfterData bool) error {
	cuePoints, err := c.readCuePoints(layout.cues)
	if err != nil {
		return err
	}

	plan, err := c.computeFullPlan(layout, tagMaker, attachments, cuePoints, tagsAfterData, cuesAfterData)
	if err != nil {
		return err
	}

	saveAs := c.opts.SaveFilePath != "" && c.opts.SaveFilePath != path
	var (
		backupFile *os.File
		backupPath string
		target     *os.File
	)
	if saveAs {
		target, err = os.Create(c.opts.SaveFilePath)
		if err != nil {
			return c.sink.Critical("rewrite", notify.Io, "create save-as target", err)
		}
	} else {
		backupPath = backup.BackupPath(c.opts.BackupDir(), path)
		backupFile, err = backup.CreateBackupFile(path, backupPath)
		if err != nil {
			return c.sink.Critical("rewrite", notify.Io, "create backup", err)
		}
		target, err = os.Create(path)
		if err != nil {
			_ = backup.RestoreOriginalFileFromBackupFile(path, backupPath, backupFile)
			return c.sink.Critical("rewrite", notify.Io, "create rewrite target", err)
		}
	}
	defer target.Close()

	unlock, lockErr := backup.Lock(target)
	if lockErr == nil {
		defer unlock()
	}

	writeErr := c.writeFullPlan(target, plan, layout, tagMaker, attachments)
	if writeErr == nil {
		writeErr = c.backpatchCRC32(target, targetIdx)
	}
	if writeErr != nil {
		if !saveAs {
			_ = target.Close()
			if restoreErr := backup.RestoreOriginalFileFromBackupFile(path, backupPath, backupFile); restoreErr != nil {
				return c.sink.Critical("rewrite", notify.Io, "restore after failed rewrite", restoreErr)
			}
		}
		return writeErr
	}
	if !saveAs {
		if err := backup.Discard(backupFile, backupPath); err != nil {
			c.sink.Add(notify.Warning, "rewrite", "could not remove backup file: "+err.Error())
		}
	}
	return nil
}

// fullPlan is the result of the fixed-point segment-size iteration: the
// final byte offsets every relocated top-level element will occupy.
type fullPlan struct {
	segmentInfo     *SegmentInfo
	segmentInfoSize uint64
	crc32Size       uint64
	seekHeadSize    uint64
	tagsSize        uint64
	attachmentsSize uint64
	cuesSize        uint64
	cuesAfterData   bool
	tagsAfterData   bool

	cues           *CuePositionUpdater
	clusterOffsets map[int64]int64 // old absolute offset -> new absolute offset
}

// computeFullPlan runs the fixed-point iteration: SeekHead size depends on
// offsets, offsets depend on Cues size, and Cues size can depend on
// relocated Cluster offsets once CueClusterPosition entries are widened or
// narrowed by relocation. Bounded to MaxPlannerRestarts.
func (c *Container) computeFullPlan(layout *segmentLayout, tagMaker *TagMaker, attachments []*AttachmentMaker, cuePoints []CuePoint, tagsAfterData, cuesAfterData bool) (*fullPlan, error) {
	segInfo, err := parseSegmentInfoElement(layout.segmentInfo)
	if err != nil {
		return nil, c.sink.Critical("rewrite", notify.Io, "read SegmentInfo for regeneration", err)
	}
	plan := &fullPlan{
		segmentInfo:     segInfo,
		tagsSize:        elementSize(IDTags, tagMaker.RequiredSize()),
		attachmentsSize: attachmentsTotalSize(layout, attachments),
		tagsAfterData:   tagsAfterData,
		cuesAfterData:   cuesAfterData,
	}
	if layout.segmentInfo != nil {
		plan.segmentInfoSize = elementSize(IDSegmentInfo, segmentInfoPayloadSize(segInfo))
	}
	if layout.hasCRC32 {
		plan.crc32Size = elementSize(IDCRC32, 4)
	}

	segmentDataOffset := layout.segment.DataOffset()
	index := layout.segmentIndex

	// seekHeaderGuess starts oversized (enough Seek entries at their
	// widest legal width) and converges downward once the real entry
	// count and offsets are known. cuesSizeGuess starts from the
	// un-relocated Cues size and is re-guessed whenever relocation
	// changes it, mirroring the same restart-until-stable approach.
	seekHeaderGuess := elementSize(IDSeekHead, 6*seekEntrySize(seekEntry{targetID: IDCues, position: ^uint64(0)}))
	cuesSizeGuess := elementSize(IDCues, NewCuePositionUpdater(cuePoints).RequiredSize())

	restarts := 0
	for {
		cues := NewCuePositionUpdater(cuePoints)
		seek := NewSeekInfo()
		offset := segmentDataOffset
		offset += int64(plan.crc32Size)
		offset += int64(seekHeaderGuess)

		if layout.segmentInfo != nil {
			seek.Push(index, IDSegmentInfo, uint64(offset-segmentDataOffset))
			offset += int64(plan.segmentInfoSize)
		}
		if layout.tracks != nil {
			seek.Push(index, IDTracks, uint64(offset-segmentDataOffset))
			offset += int64(layout.tracks.TotalSize())
		}
		if layout.chapters != nil {
			seek.Push(index, IDChapters, uint64(offset-segmentDataOffset))
			offset += int64(layout.chapters.TotalSize())
		}
		if plan.attachmentsSize > 0 {
			seek.Push(index, IDAttachments, uint64(offset-segmentDataOffset))
			offset += int64(plan.attachmentsSize)
		}
		if !plan.tagsAfterData {
			seek.Push(index, IDTags, uint64(offset-segmentDataOffset))
			offset += int64(plan.tagsSize)
		}
		if !plan.cuesAfterData {
			plan.cuesSize = cuesSizeGuess
			seek.Push(index, IDCues, uint64(offset-segmentDataOffset))
			offset += int64(plan.cuesSize)
		}

		actualSeekHeadSize := elementSize(IDSeekHead, seek.RequiredSize())
		if actualSeekHeadSize != seekHeaderGuess {
			restarts++
			if restarts > c.opts.MaxPlannerRestarts {
				return nil, c.sink.Critical("rewrite", notify.InvalidData, "segment size planning did not converge", nil)
			}
			seekHeaderGuess = actualSeekHeadSize
			continue
		}
		plan.seekHeadSize = actualSeekHeadSize

		clusterOffsets, _, err := c.planClusterOffsets(layout, offset)
		if err != nil {
			return nil, err
		}
		plan.clusterOffsets = clusterOffsets

		// CueClusterPosition is relative to the Segment's data offset, while
		// the planned Cluster offsets are absolute.
		relativeOffsets := make(map[int64]int64, len(clusterOffsets))
		for old, planned := range clusterOffsets {
			relativeOffsets[old-segmentDataOffset] = planned - segmentDataOffset
		}

		if plan.cuesAfterData {
			c.relocateCuePositions(cues, relativeOffsets)
			plan.cuesSize = elementSize(IDCues, cues.RequiredSize())
		} else {
			changedSize := c.relocateCuePositions(cues, relativeOffsets)
			newCuesSize := elementSize(IDCues, cues.RequiredSize())
			if changedSize || newCuesSize != plan.cuesSize {
				restarts++
				if restarts > c.opts.MaxPlannerRestarts {
					return nil, c.sink.Critical("rewrite", notify.InvalidData, "segment size planning did not converge", nil)
				}
				cuesSizeGuess = newCuesSize
				continue
			}
		}

		plan.cues = cues
		return plan, nil
	}
}

func attachmentsTotalSize(layout *segmentLayout, makers []*AttachmentMaker) uint64 {
	var total uint64
	if layout.attachments != nil {
		children, err := layout.attachments.Children()
		if err == nil {
			for _, child := range children {
				total += child.TotalSize()
			}
		}
	}
	for _, m := range makers {
		total += m.RequiredSize()
	}
	if total == 0 {
		return 0
	}
	return elementSize(IDAttachments, total)
}

// planClusterOffsets walks the existing Clusters in document order and
// assigns each a new absolute offset starting at startOffset, preserving
// their relative spacing (Cluster payloads are copied verbatim; only their
// position changes).
func (c *Container) planClusterOffsets(layout *segmentLayout, startOffset int64) (map[int64]int64, int64, error) {
	offsets := map[int64]int64{}
	if layout.firstCluster == nil {
		return offsets, startOffset, nil
	}
	cur := layout.firstCluster
	newOffset := startOffset
	for cur != nil {
		offsets[cur.StartOffset()] = newOffset
		newOffset += int64(cur.TotalSize())
		next, err := cur.NextSibling()
		if err != nil {
			return nil, 0, c.sink.Critical("rewrite", notify.Io, "walk Clusters", err)
		}
		if next == nil || next.ID() != IDCluster {
			break
		}
		cur = next
	}
	return offsets, newOffset, nil
}

// relocateCuePositions applies every planned Cluster relocation to cues and
// reports whether any of them changed the Cues element's encoded size.
// offsets maps each Cluster's old Segment-relative position to its new one.
func (c *Container) relocateCuePositions(cues *CuePositionUpdater, offsets map[int64]int64) bool {
	changed := false
	for old, new := range offsets {
		if cues.UpdateClusterPosition(uint64(old), uint64(new)) {
			changed = true
		}
	}
	return changed
}

// writeFullPlan streams the rewritten file to target according to plan:
// every top-level element before the target Segment, then the recomputed
// Segment, then every top-level element after it, all verbatim except the
// target Segment itself.
func (c *Container) writeFullPlan(target *os.File, plan *fullPlan, layout *segmentLayout, tagMaker *TagMaker, attachments []*AttachmentMaker) error {
	out := ebml.NewStream(target)

	if err := c.copyElementsBefore(out, layout.segment); err != nil {
		return err
	}
	if c.aborted() {
		return c.sink.Critical("rewrite", notify.Aborted, "rewrite aborted at Segment boundary", nil)
	}

	segmentDataStart, err := out.Position()
	if err != nil {
		return c.sink.Critical("rewrite", notify.Io, "read position before Segment payload", err)
	}
	segmentDataSize := c.computeSegmentDataSize(plan, layout)
	if _, err := ebml.WriteElementHeader(out.RW, IDSegment, segmentDataSize); err != nil {
		return c.sink.Critical("rewrite", notify.Io, "write Segment header", err)
	}

	if plan.crc32Size > 0 {
		if err := writeCRC32Placeholder(out); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write segment CRC-32 placeholder", err)
		}
	}

	seek := c.buildSeekHead(plan, layout, segmentDataStart)
	if err := seek.WriteSeekHead(out); err != nil {
		return c.sink.Critical("rewrite", notify.Io, "write SeekHead", err)
	}

	if layout.segmentInfo != nil {
		if err := writeSegmentInfo(out, plan.segmentInfo); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write SegmentInfo", err)
		}
	}
	if layout.tracks != nil {
		if err := copyElementVerbatim(out, layout.tracks); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write Tracks", err)
		}
	}
	if layout.chapters != nil {
		if err := copyElementVerbatim(out, layout.chapters); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write Chapters", err)
		}
	}
	if plan.attachmentsSize > 0 {
		if err := c.writeAttachments(out, layout.attachments, attachments); err != nil {
			return err
		}
	}
	if !plan.tagsAfterData {
		if err := tagMaker.Write(out); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write Tags", err)
		}
	}
	if !plan.cuesAfterData {
		if err := plan.cues.WriteCues(out); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write Cues", err)
		}
	}

	if err := c.copyClustersWithPositions(out, layout, plan); err != nil {
		return err
	}

	if plan.tagsAfterData {
		if err := tagMaker.Write(out); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write trailing Tags", err)
		}
	}
	if plan.cuesAfterData {
		if err := plan.cues.WriteCues(out); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "write trailing Cues", err)
		}
	}

	if err := c.copyElementsAfter(out, layout.segment); err != nil {
		return err
	}

	return nil
}

func writeCRC32Placeholder(s *ebml.Stream) error {
	if _, err := ebml.WriteElementHeader(s.RW, IDCRC32, 4); err != nil {
		return err
	}
	var zero [4]byte
	return s.WriteBytes(zero[:])
}

// segmentInfoPayloadSize returns the on-wire payload size of a SegmentInfo
// built from info, with MuxingApp/WritingApp always set to
// writingAppIdentifier regardless of what info carries for those two
// fields.
func segmentInfoPayloadSize(info *SegmentInfo) uint64 {
	var size uint64
	if len(info.SegmentUID) > 0 {
		size += elementSize(IDSegmentUID, uint64(len(info.SegmentUID)))
	}
	if info.Filename != "" {
		size += elementSize(IDSegmentFilename, uint64(len(info.Filename)))
	}
	if len(info.PrevUID) > 0 {
		size += elementSize(IDPrevUID, uint64(len(info.PrevUID)))
	}
	if info.PrevFilename != "" {
		size += elementSize(IDPrevFilename, uint64(len(info.PrevFilename)))
	}
	if len(info.NextUID) > 0 {
		size += elementSize(IDNextUID, uint64(len(info.NextUID)))
	}
	if info.NextFilename != "" {
		size += elementSize(IDNextFilename, uint64(len(info.NextFilename)))
	}
	size += elementSize(IDTimecodeScale, uintSize(info.TimestampScale))
	if info.Duration != 0 {
		size += elementSize(IDDuration, 8)
	}
	if info.DateUTC != 0 {
		size += elementSize(IDDateUTC, 8)
	}
	if info.Title != "" {
		size += elementSize(IDTitle, uint64(len(info.Title)))
	}
	size += elementSize(IDMuxingApp, uint64(len(writingAppIdentifier)))
	size += elementSize(IDWritingApp, uint64(len(writingAppIdentifier)))
	return size
}

// writeSegmentInfo serializes a regenerated SegmentInfo element: every
// field info carries, except MuxingApp/WritingApp, which are replaced with
// writingAppIdentifier to record that this engine produced the file.
func writeSegmentInfo(s *ebml.Stream, info *SegmentInfo) error {
	if _, err := ebml.WriteElementHeader(s.RW, IDSegmentInfo, segmentInfoPayloadSize(info)); err != nil {
		return err
	}
	if len(info.SegmentUID) > 0 {
		if _, err := ebml.WriteElementHeader(s.RW, IDSegmentUID, uint64(len(info.SegmentUID))); err != nil {
			return err
		}
		if err := s.WriteBytes(info.SegmentUID); err != nil {
			return err
		}
	}
	if info.Filename != "" {
		if err := writeStringElement(s, IDSegmentFilename, info.Filename); err != nil {
			return err
		}
	}
	if len(info.PrevUID) > 0 {
		if _, err := ebml.WriteElementHeader(s.RW, IDPrevUID, uint64(len(info.PrevUID))); err != nil {
			return err
		}
		if err := s.WriteBytes(info.PrevUID); err != nil {
			return err
		}
	}
	if info.PrevFilename != "" {
		if err := writeStringElement(s, IDPrevFilename, info.PrevFilename); err != nil {
			return err
		}
	}
	if len(info.NextUID) > 0 {
		if _, err := ebml.WriteElementHeader(s.RW, IDNextUID, uint64(len(info.NextUID))); err != nil {
			return err
		}
		if err := s.WriteBytes(info.NextUID); err != nil {
			return err
		}
	}
	if info.NextFilename != "" {
		if err := writeStringElement(s, IDNextFilename, info.NextFilename); err != nil {
			return err
		}
	}
	if err := writeUintElement(s, IDTimecodeScale, info.TimestampScale); err != nil {
		return err
	}
	if info.Duration != 0 {
		if err := writeFloat64Element(s, IDDuration, info.Duration); err != nil {
			return err
		}
	}
	if info.DateUTC != 0 {
		if err := writeInt64Element(s, IDDateUTC, info.DateUTC); err != nil {
			return err
		}
	}
	if info.Title != "" {
		if err := writeStringElement(s, IDTitle, info.Title); err != nil {
			return err
		}
	}
	if err := writeStringElement(s, IDMuxingApp, writingAppIdentifier); err != nil {
		return err
	}
	return writeStringElement(s, IDWritingApp, writingAppIdentifier)
}

func writeFloat64Element(s *ebml.Stream, id uint64, v float64) error {
	if _, err := ebml.WriteElementHeader(s.RW, id, 8); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	return s.WriteBytes(buf[:])
}

func writeInt64Element(s *ebml.Stream, id uint64, v int64) error {
	if _, err := ebml.WriteElementHeader(s.RW, id, 8); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return s.WriteBytes(buf[:])
}

// backpatchCRC32 reparses the just-written file and fills in the CRC-32
// placeholder of segmentIndex's Segment element itself, plus that of every
// child container that carries one as its first child — the layout a muxer
// uses to protect the rest of that container's children. Verbatim-copied
// containers (Tracks/Chapters) never change their payload bytes, so their
// checksum is already correct; this pass still recomputes it for them
// rather than special-casing, since the check is cheap and uniform.
func (c *Container) backpatchCRC32(target *os.File, segmentIndex int) error {
	size, err := target.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	stream := ebml.NewStream(target)
	root := ebml.NewRootElement(stream, size)
	segment, err := nthSegment(root, segmentIndex)
	if err != nil {
		return err
	}
	if segment == nil {
		return nil
	}
	crcElements, err := collectCRC32Elements(segment)
	if err != nil {
		return err
	}
	if len(crcElements) == 0 {
		return nil
	}
	return BackpatchCRC32(target, crcElements)
}

// backpatchCRC32InPlace does the same as backpatchCRC32, but for an
// in-place edit: the Segment's own byte span never moved, so it's found
// again by StartOffset rather than by index.
func (c *Container) backpatchCRC32InPlace(layout *segmentLayout) error {
	size, err := c.rw.Seek(0, io.SeekEnd)
	if err != nil {
		return c.sink.Critical("rewrite", notify.Io, "seek to end for CRC-32 backpatch", err)
	}
	root := ebml.NewRootElement(c.stream, size)
	segment, err := segmentAtOffset(root, layout.segment.StartOffset())
	if err != nil {
		return c.sink.Critical("rewrite", notify.Io, "relocate Segment for CRC-32 backpatch", err)
	}
	if segment == nil {
		return nil
	}
	crcElements, err := collectCRC32Elements(segment)
	if err != nil {
		return c.sink.Critical("rewrite", notify.Io, "scan for CRC-32 placeholders", err)
	}
	if len(crcElements) == 0 {
		return nil
	}
	return BackpatchCRC32(c.rw, crcElements)
}

// collectCRC32Elements finds every CRC-32 element that is the first child
// of segment itself, or of any of segment's own top-level children — every
// container a muxer might protect with a leading CRC-32.
func collectCRC32Elements(segment *ebml.Element) ([]*ebml.Element, error) {
	var crcElements []*ebml.Element

	first, err := segment.FirstChild()
	if err != nil {
		return nil, err
	}
	if first != nil {
		if err := first.Parse(); err != nil {
			return nil, err
		}
		if first.ID() == IDCRC32 {
			crcElements = append(crcElements, first)
		}
	}

	containers, err := segment.Children()
	if err != nil {
		return nil, err
	}
	for _, container := range containers {
		if container.ID() == IDCRC32 || container.ID() == IDVoid {
			continue
		}
		childFirst, err := container.FirstChild()
		if err != nil {
			return nil, err
		}
		if childFirst == nil {
			continue
		}
		if err := childFirst.Parse(); err != nil {
			return nil, err
		}
		if childFirst.ID() == IDCRC32 {
			crcElements = append(crcElements, childFirst)
		}
	}
	return crcElements, nil
}

// nthSegment returns the (0-indexed) n'th top-level Segment child of root.
func nthSegment(root *ebml.Element, n int) (*ebml.Element, error) {
	children, err := root.Children()
	if err != nil {
		return nil, err
	}
	i := 0
	for _, child := range children {
		if child.ID() != IDSegment {
			continue
		}
		if i == n {
			return child, nil
		}
		i++
	}
	return nil, nil
}

// segmentAtOffset returns root's top-level Segment child starting at
// offset, if any.
func segmentAtOffset(root *ebml.Element, offset int64) (*ebml.Element, error) {
	children, err := root.Children()
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.ID() == IDSegment && child.StartOffset() == offset {
			return child, nil
		}
	}
	return nil, nil
}

func (c *Container) computeSegmentDataSize(plan *fullPlan, layout *segmentLayout) uint64 {
	var size uint64
	size += plan.crc32Size
	size += plan.seekHeadSize
	size += plan.segmentInfoSize
	if layout.tracks != nil {
		size += layout.tracks.TotalSize()
	}
	if layout.chapters != nil {
		size += layout.chapters.TotalSize()
	}
	size += plan.attachmentsSize
	size += plan.tagsSize
	size += plan.cuesSize
	size += c.totalClusterBytes(layout)
	return size
}

func (c *Container) totalClusterBytes(layout *segmentLayout) uint64 {
	var total uint64
	cur := layout.firstCluster
	for cur != nil {
		total += cur.TotalSize()
		next, err := cur.NextSibling()
		if err != nil || next == nil || next.ID() != IDCluster {
			break
		}
		cur = next
	}
	return total
}

func (c *Container) buildSeekHead(plan *fullPlan, layout *segmentLayout, segmentDataStart int64) *SeekInfo {
	seek := NewSeekInfo()
	index := layout.segmentIndex
	offset := int64(plan.crc32Size) + int64(plan.seekHeadSize)
	if layout.segmentInfo != nil {
		seek.Push(index, IDSegmentInfo, uint64(offset))
		offset += int64(plan.segmentInfoSize)
	}
	if layout.tracks != nil {
		seek.Push(index, IDTracks, uint64(offset))
		offset += int64(layout.tracks.TotalSize())
	}
	if layout.chapters != nil {
		seek.Push(index, IDChapters, uint64(offset))
		offset += int64(layout.chapters.TotalSize())
	}
	if plan.attachmentsSize > 0 {
		seek.Push(index, IDAttachments, uint64(offset))
		offset += int64(plan.attachmentsSize)
	}
	if !plan.tagsAfterData {
		seek.Push(index, IDTags, uint64(offset))
		offset += int64(plan.tagsSize)
	}
	if !plan.cuesAfterData {
		seek.Push(index, IDCues, uint64(offset))
		offset += int64(plan.cuesSize)
	}
	return seek
}

// copyElementsBefore copies every top-level element preceding target
// verbatim: the EBMLHeader, plus any stray Void/CRC-32 or earlier Segment.
func (c *Container) copyElementsBefore(out *ebml.Stream, target *ebml.Element) error {
	children, err := c.root.Children()
	if err != nil {
		return c.sink.Critical("rewrite", notify.Io, "read root children", err)
	}
	for _, child := range children {
		if child.StartOffset() == target.StartOffset() {
			break
		}
		if err := copyElementVerbatim(out, child); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "copy element before target Segment", err)
		}
	}
	return nil
}

// copyElementsAfter copies every top-level element following target
// verbatim: any later Segment, plus trailing stray elements.
func (c *Container) copyElementsAfter(out *ebml.Stream, target *ebml.Element) error {
	children, err := c.root.Children()
	if err != nil {
		return c.sink.Critical("rewrite", notify.Io, "read root children", err)
	}
	found := false
	for _, child := range children {
		if !found {
			if child.StartOffset() == target.StartOffset() {
				found = true
			}
			continue
		}
		if err := copyElementVerbatim(out, child); err != nil {
			return c.sink.Critical("rewrite", notify.Io, "copy element after target Segment", err)
		}
	}
	return nil
}

// copyClustersWithPositions copies every Cluster verbatim into out while
// rewriting each one's Position element (its own new offset from the
// Segment's data start) and PrevSize element (the previous Cluster's total
// size). Checks the cooperative abort flag before every Cluster.
func (c *Container) copyClustersWithPositions(out *ebml.Stream, layout *segmentLayout, plan *fullPlan) error {
	if layout.firstCluster == nil {
		return nil
	}
	segmentDataStart := layout.segment.DataOffset()
	cur := layout.firstCluster
	var prevSize uint64
	for cur != nil {
		if c.aborted() {
			return c.sink.Critical("rewrite", notify.Aborted, "rewrite aborted at Cluster boundary", nil)
		}
		newOffset, ok := plan.clusterOffsets[cur.StartOffset()]
		if !ok {
			return c.sink.Critical("rewrite", notify.InvalidData, "missing planned offset for Cluster", nil)
		}
		if err := c.copyClusterRewritingHeader(out, cur, uint64(newOffset-segmentDataStart), prevSize); err != nil {
			return err
		}
		prevSize = cur.TotalSize()
		next, err := cur.NextSibling()
		if err != nil {
			return c.sink.Critical("rewrite", notify.Io, "walk Clusters", err)
		}
		if next == nil || next.ID() != IDCluster {
			break
		}
		cur = next
	}
	return nil
}

// copyClusterRewritingHeader copies a single Cluster's children verbatim,
// except it overwrites (or inserts) the Position child with newPosition
// and the PrevSize child with prevSize, leaving every other child
// (Timestamp, SimpleBlock, BlockGroup, ...) byte-identical.
func (c *Container) copyClusterRewritingHeader(out *ebml.Stream, cluster *ebml.Element, newPosition, prevSize uint64) error {
	children, err := cluster.Children()
	if err != nil {
		return c.sink.Critical("rewrite", notify.Io, "read Cluster children", err)
	}
	var payloadSize uint64
	for _, child := range children {
		if child.ID() == IDPosition || child.ID() == IDPrevSize {
			continue
		}
		payloadSize += child.TotalSize()
	}
	payloadSize += elementSize(IDPosition, uintSize(newPosition))
	if prevSize > 0 {
		payloadSize += elementSize(IDPrevSize, uintSize(prevSize))
	}

	if _, err := ebml.WriteElementHeader(out.RW, IDCluster, payloadSize); err != nil {
		return err
	}
	for _, child := range children {
		if child.ID() == IDPosition || child.ID() == IDPrevSize {
			continue
		}
		if err := copyElementVerbatim(out, child); err != nil {
			return err
		}
	}
	if err := writeUintElement(out, IDPosition, newPosition); err != nil {
		return err
	}
	if prevSize > 0 {
		if err := writeUintElement(out, IDPrevSize, prevSize); err != nil {
			return err
		}
	}
	return nil
}

// BackpatchCRC32 fills in every given CRC-32 element's placeholder value
// with the IEEE checksum of the bytes from just after the element to the
// end of its enclosing container (the element's parent). It is a separate
// pass because the checksum can only be computed once every byte it covers
// has been written.
func BackpatchCRC32(rw io.ReadWriteSeeker, crcElements []*ebml.Element) error {
	for _, el := range crcElements {
		parent, err := el.Parent()
		if err != nil {
			return err
		}
		coveredEnd := el.EndOffset()
		parentEnd := coveredEnd
		if parent != nil {
			parentEnd = parent.EndOffset()
		}
		if _, err := rw.Seek(coveredEnd, io.SeekStart); err != nil {
			return err
		}
		sum := crc32.NewIEEE()
		if _, err := io.CopyN(sum, rw, parentEnd-coveredEnd); err != nil {
			return err
		}
		if _, err := rw.Seek(el.DataOffset(), io.SeekStart); err != nil {
			return err
		}
		var buf [4]byte
		v := sum.Sum32()
		buf[0], buf[1], buf[2], buf[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		if _, err := rw.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}
