package matroska

import (
	"encoding/binary"

	"github.com/ebmltag/mkvtag/ebml"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// TagMaker builds the Tags element written by a rewrite from a caller's
// edited tag list. RequiredSize<=3 drops an empty Tag (the Targets element
// alone is 3 bytes: an empty Targets with no selector children still needs
// an id+size header, which is treated as "no information" and skipped).
type TagMaker struct {
	tags []*Tag
}

// NewTagMaker seeds a maker from the tag list the caller wants written.
func NewTagMaker(tags []*Tag) *TagMaker { return &TagMaker{tags: tags} }

// RequiredSize returns the Tags element's total payload size.
func (m *TagMaker) RequiredSize() uint64 {
	var total uint64
	for _, t := range m.tags {
		if tagPayloadSize(t) > 3 {
			total += tagElementSize(t)
		}
	}
	return total
}

// tagElementSize returns the full on-wire size of a Tag element (header +
// payload) for t, used for sizing; whether t carries any real information
// is decided from tagPayloadSize.
func tagElementSize(t *Tag) uint64 {
	payload := tagPayloadSize(t)
	return elementSize(IDTag, payload)
}

func tagPayloadSize(t *Tag) uint64 {
	var targetsPayload uint64
	if t.TargetTypeValue != 0 {
		targetsPayload += elementSize(IDTargetTypeValue, uintSize(t.TargetTypeValue))
	}
	if t.TargetType != "" {
		targetsPayload += elementSize(IDTargetType, uint64(len(t.TargetType)))
	}
	for _, uid := range t.TrackUIDs {
		targetsPayload += elementSize(IDTagTrackUID, uintSize(uid))
	}
	total := elementSize(IDTargets, targetsPayload)
	for _, st := range t.SimpleTags {
		total += elementSize(IDSimpleTag, simpleTagPayloadSize(st))
	}
	return total
}

func simpleTagPayloadSize(st *SimpleTag) uint64 {
	var size uint64
	size += elementSize(IDTagName, uint64(len(st.Name)))
	size += elementSize(IDTagLanguage, uint64(len(st.Language)))
	size += elementSize(IDTagDefault, 1)
	if st.String != "" {
		size += elementSize(IDTagString, uint64(len(st.String)))
	}
	if len(st.Binary) > 0 {
		size += elementSize(IDTagBinary, uint64(len(st.Binary)))
	}
	for _, nested := range st.Nested {
		size += elementSize(IDSimpleTag, simpleTagPayloadSize(nested))
	}
	return size
}

// Write serializes the Tags element to s.
func (m *TagMaker) Write(s *ebml.Stream) error {
	if _, err := ebml.WriteElementHeader(s.RW, IDTags, m.RequiredSize()); err != nil {
		return err
	}
	for _, t := range m.tags {
		if tagPayloadSize(t) <= 3 {
			continue
		}
		if err := writeTag(s, t); err != nil {
			return err
		}
	}
	return nil
}

func writeTag(s *ebml.Stream, t *Tag) error {
	if _, err := ebml.WriteElementHeader(s.RW, IDTag, tagPayloadSize(t)); err != nil {
		return err
	}
	var targetsPayload uint64
	if t.TargetTypeValue != 0 {
		targetsPayload += elementSize(IDTargetTypeValue, uintSize(t.TargetTypeValue))
	}
	if t.TargetType != "" {
		targetsPayload += elementSize(IDTargetType, uint64(len(t.TargetType)))
	}
	for _, uid := range t.TrackUIDs {
		targetsPayload += elementSize(IDTagTrackUID, uintSize(uid))
	}
	if _, err := ebml.WriteElementHeader(s.RW, IDTargets, targetsPayload); err != nil {
		return err
	}
	if t.TargetTypeValue != 0 {
		if err := writeUintElement(s, IDTargetTypeValue, t.TargetTypeValue); err != nil {
			return err
		}
	}
	if t.TargetType != "" {
		if err := writeStringElement(s, IDTargetType, t.TargetType); err != nil {
			return err
		}
	}
	for _, uid := range t.TrackUIDs {
		if err := writeUintElement(s, IDTagTrackUID, uid); err != nil {
			return err
		}
	}
	for _, st := range t.SimpleTags {
		if err := writeSimpleTag(s, st); err != nil {
			return err
		}
	}
	return nil
}

func writeSimpleTag(s *ebml.Stream, st *SimpleTag) error {
	if _, err := ebml.WriteElementHeader(s.RW, IDSimpleTag, simpleTagPayloadSize(st)); err != nil {
		return err
	}
	if err := writeStringElement(s, IDTagName, st.Name); err != nil {
		return err
	}
	if err := writeStringElement(s, IDTagLanguage, st.Language); err != nil {
		return err
	}
	def := uint64(0)
	if st.Default {
		def = 1
	}
	if err := writeUintElement(s, IDTagDefault, def); err != nil {
		return err
	}
	if st.String != "" {
		if err := writeStringElement(s, IDTagString, st.String); err != nil {
			return err
		}
	}
	if len(st.Binary) > 0 {
		if _, err := ebml.WriteElementHeader(s.RW, IDTagBinary, uint64(len(st.Binary))); err != nil {
			return err
		}
		if err := s.WriteBytes(st.Binary); err != nil {
			return err
		}
	}
	for _, nested := range st.Nested {
		if err := writeSimpleTag(s, nested); err != nil {
			return err
		}
	}
	return nil
}

func writeStringElement(s *ebml.Stream, id uint64, value string) error {
	if _, err := ebml.WriteElementHeader(s.RW, id, uint64(len(value))); err != nil {
		return err
	}
	return s.WriteBytes([]byte(value))
}

// AttachmentMaker buffers a pending attachment's content and assigns it an
// identifier drawn from github.com/google/uuid, then folds the UUID down to
// the uint64 field the wire format expects.
type AttachmentMaker struct {
	attachment *Attachment
	content    []byte
	hash       [32]byte
}

// NewAttachmentMaker buffers content for attachment a (an empty Attachment
// if a is nil), assigning it a fresh ID if a.ID is zero.
func NewAttachmentMaker(a *Attachment, content []byte) *AttachmentMaker {
	if a == nil {
		a = &Attachment{}
	}
	if a.ID == 0 {
		a.ID = newAttachmentID()
	}
	m := &AttachmentMaker{attachment: a, content: content}
	m.hash = blake3.Sum256(content)
	return m
}

func newAttachmentID() uint64 {
	id := uuid.Must(uuid.NewRandom())
	return binary.BigEndian.Uint64(id[8:16])
}

// Hash returns the blake3-256 content hash of the buffered attachment,
// useful for callers deduplicating attachments by content rather than by
// name.
func (m *AttachmentMaker) Hash() [32]byte { return m.hash }

// dedupeAttachmentMakers drops every maker whose content hash duplicates
// one already kept, preserving the first occurrence's order. A rewrite
// request built from, say, a directory scan can easily hand the same file
// to NewAttachmentMaker twice under different names; this keeps the
// engine from writing identical attachment bytes twice.
func dedupeAttachmentMakers(makers []*AttachmentMaker) []*AttachmentMaker {
	if len(makers) == 0 {
		return makers
	}
	seen := make(map[[32]byte]bool, len(makers))
	out := make([]*AttachmentMaker, 0, len(makers))
	for _, m := range makers {
		h := m.Hash()
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, m)
	}
	return out
}

// BufferCurrentAttachment returns the attachment as it will be written,
// with Data set to the buffered content.
func (m *AttachmentMaker) BufferCurrentAttachment() *Attachment {
	out := *m.attachment
	out.Data = m.content
	return &out
}

// RequiredSize returns the AttachedFile element's total on-wire size.
func (m *AttachmentMaker) RequiredSize() uint64 {
	a := m.BufferCurrentAttachment()
	return elementSize(IDAttachedFile, attachedFilePayloadSize(a))
}

func attachedFilePayloadSize(a *Attachment) uint64 {
	var size uint64
	if a.Description != "" {
		size += elementSize(IDFileDescription, uint64(len(a.Description)))
	}
	size += elementSize(IDFileName, uint64(len(a.Name)))
	size += elementSize(IDFileMimeType, uint64(len(a.MimeType)))
	size += elementSize(IDFileData, uint64(len(a.Data)))
	size += elementSize(IDFileUID, uintSize(a.ID))
	return size
}

// Write serializes the AttachedFile element to s.
func (m *AttachmentMaker) Write(s *ebml.Stream) error {
	a := m.BufferCurrentAttachment()
	if _, err := ebml.WriteElementHeader(s.RW, IDAttachedFile, attachedFilePayloadSize(a)); err != nil {
		return err
	}
	if a.Description != "" {
		if err := writeStringElement(s, IDFileDescription, a.Description); err != nil {
			return err
		}
	}
	if err := writeStringElement(s, IDFileName, a.Name); err != nil {
		return err
	}
	if err := writeStringElement(s, IDFileMimeType, a.MimeType); err != nil {
		return err
	}
	if _, err := ebml.WriteElementHeader(s.RW, IDFileData, uint64(len(a.Data))); err != nil {
		return err
	}
	if err := s.WriteBytes(a.Data); err != nil {
		return err
	}
	return writeUintElement(s, IDFileUID, a.ID)
}
