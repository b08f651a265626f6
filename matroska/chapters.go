package matroska

import (
	"github.com/ebmltag/mkvtag/ebml"
	"github.com/ebmltag/mkvtag/notify"
)

// ParseChapters reads every EditionEntry/ChapterAtom under the Segment's
// Chapters element, including nested child chapters.
func (c *Container) ParseChapters() ([]*EditionEntry, error) {
	if c.segment == nil {
		return nil, c.sink.Critical("chapters", notify.InvalidData, "ParseHeader must run first", nil)
	}
	chaptersEl, err := c.segment.ChildByID(IDChapters)
	if err != nil {
		return nil, c.sink.Critical("chapters", notify.Io, "locate Chapters", err)
	}
	if chaptersEl == nil {
		c.editions = nil
		return nil, nil
	}
	entries, err := chaptersEl.Children()
	if err != nil {
		return nil, c.sink.Critical("chapters", notify.Io, "read Chapters children", err)
	}
	var editions []*EditionEntry
	for _, entry := range entries {
		if entry.ID() != IDEditionEntry {
			continue
		}
		edition, err := c.parseEditionEntry(entry)
		if err != nil {
			return nil, err
		}
		editions = append(editions, edition)
	}
	c.editions = editions
	return editions, nil
}

func (c *Container) parseEditionEntry(entry *ebml.Element) (*EditionEntry, error) {
	edition := &EditionEntry{}
	children, err := entry.Children()
	if err != nil {
		return nil, c.sink.Critical("chapters", notify.Io, "read EditionEntry children", err)
	}
	for _, child := range children {
		if child.ID() != IDChapterAtom {
			continue
		}
		ch, err := c.parseChapterAtom(child)
		if err != nil {
			return nil, err
		}
		edition.Chapters = append(edition.Chapters, ch)
	}
	return edition, nil
}

func (c *Container) parseChapterAtom(el *ebml.Element) (*Chapter, error) {
	ch := &Chapter{}
	children, err := el.Children()
	if err != nil {
		return nil, c.sink.Critical("chapters", notify.Io, "read ChapterAtom children", err)
	}
	for _, child := range children {
		var derr error
		switch child.ID() {
		case IDChapterUID:
			ch.UID, derr = readUint(child)
		case IDChapterTimeStart:
			ch.TimeStart, derr = readUint(child)
		case IDChapterTimeEnd:
			ch.TimeEnd, derr = readUint(child)
		case IDChapterDisplay:
			var disp ChapterDisplay
			disp, derr = c.parseChapterDisplay(child)
			if derr == nil {
				ch.Display = append(ch.Display, disp)
			}
		case IDChapterAtom:
			var nested *Chapter
			nested, derr = c.parseChapterAtom(child)
			if derr == nil {
				ch.Children = append(ch.Children, nested)
			}
		}
		if derr != nil {
			return nil, c.sink.Critical("chapters", notify.Io, "decode ChapterAtom child", derr)
		}
	}
	return ch, nil
}

func (c *Container) parseChapterDisplay(el *ebml.Element) (ChapterDisplay, error) {
	disp := ChapterDisplay{Language: "eng"}
	children, err := el.Children()
	if err != nil {
		return disp, err
	}
	for _, child := range children {
		var derr error
		switch child.ID() {
		case IDChapString:
			disp.String, derr = readString(child)
		case IDChapLanguage:
			disp.Language, derr = readString(child)
		}
		if derr != nil {
			return disp, derr
		}
	}
	return disp, nil
}
