package matroska

import (
	"github.com/ebmltag/mkvtag/ebml"
	"github.com/ebmltag/mkvtag/notify"
)

// ParseTags reads every Tag under the Segment's Tags element.
func (c *Container) ParseTags() ([]*Tag, error) {
	if c.segment == nil {
		return nil, c.sink.Critical("tags", notify.InvalidData, "ParseHeader must run first", nil)
	}
	tagsEl, err := c.segment.ChildByID(IDTags)
	if err != nil {
		return nil, c.sink.Critical("tags", notify.Io, "locate Tags", err)
	}
	if tagsEl == nil {
		c.tags = nil
		return nil, nil
	}
	entries, err := tagsEl.Children()
	if err != nil {
		return nil, c.sink.Critical("tags", notify.Io, "read Tags children", err)
	}
	var tags []*Tag
	for _, entry := range entries {
		if entry.ID() != IDTag {
			continue
		}
		tag, err := c.parseTag(entry)
		if err != nil {
			return nil, err
		}
		if tag == nil {
			continue
		}
		tags = append(tags, tag)
	}
	c.tags = tags
	return tags, nil
}

func (c *Container) parseTag(entry *ebml.Element) (*Tag, error) {
	tag := &Tag{}
	children, err := entry.Children()
	if err != nil {
		return nil, c.sink.Critical("tags", notify.Io, "read Tag children", err)
	}
	for _, child := range children {
		switch child.ID() {
		case IDTargets:
			if err := c.parseTargets(child, tag); err != nil {
				return nil, err
			}
		case IDSimpleTag:
			st, err := c.parseSimpleTag(child)
			if err != nil {
				return nil, err
			}
			tag.SimpleTags = append(tag.SimpleTags, st)
		}
	}
	if len(tag.SimpleTags) == 0 {
		// an empty Tag carries no information; dropped here so
		// round-tripping doesn't accumulate no-op Tag elements.
		c.sink.Add(notify.Warning, "tags", "dropping Tag with no SimpleTag children")
		return nil, nil
	}
	return tag, nil
}

func (c *Container) parseTargets(el *ebml.Element, tag *Tag) error {
	children, err := el.Children()
	if err != nil {
		return c.sink.Critical("tags", notify.Io, "read Targets children", err)
	}
	for _, child := range children {
		switch child.ID() {
		case IDTargetTypeValue:
			v, err := readUint(child)
			if err != nil {
				return c.sink.Critical("tags", notify.Io, "decode TargetTypeValue", err)
			}
			tag.TargetTypeValue = v
		case IDTargetType:
			s, err := readString(child)
			if err != nil {
				return c.sink.Critical("tags", notify.Io, "decode TargetType", err)
			}
			tag.TargetType = s
		case IDTagTrackUID:
			v, err := readUint(child)
			if err != nil {
				return c.sink.Critical("tags", notify.Io, "decode TagTrackUID", err)
			}
			tag.TrackUIDs = append(tag.TrackUIDs, v)
		}
	}
	return nil
}

func (c *Container) parseSimpleTag(el *ebml.Element) (*SimpleTag, error) {
	st := &SimpleTag{Language: "und", Default: true}
	children, err := el.Children()
	if err != nil {
		return nil, c.sink.Critical("tags", notify.Io, "read SimpleTag children", err)
	}
	for _, child := range children {
		var err error
		switch child.ID() {
		case IDTagName:
			st.Name, err = readString(child)
		case IDTagLanguage:
			st.Language, err = readString(child)
		case IDTagDefault:
			st.Default, err = readBool(child)
		case IDTagString:
			st.String, err = readString(child)
		case IDTagBinary:
			st.Binary, err = child.ReadPayload()
		case IDSimpleTag:
			nested, nerr := c.parseSimpleTag(child)
			if nerr != nil {
				return nil, nerr
			}
			st.Nested = append(st.Nested, nested)
		}
		if err != nil {
			return nil, c.sink.Critical("tags", notify.Io, "decode SimpleTag child", err)
		}
	}
	if st.Name == "" {
		c.sink.Add(notify.Warning, "tags", "SimpleTag missing TagName, keeping with empty name")
	}
	return st, nil
}
