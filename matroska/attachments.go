package matroska

import "github.com/ebmltag/mkvtag/notify"

// ParseAttachments reads every AttachedFile under the Segment's
// Attachments element.
func (c *Container) ParseAttachments() ([]*Attachment, error) {
	if c.segment == nil {
		return nil, c.sink.Critical("attachments", notify.InvalidData, "ParseHeader must run first", nil)
	}
	attachmentsEl, err := c.segment.ChildByID(IDAttachments)
	if err != nil {
		return nil, c.sink.Critical("attachments", notify.Io, "locate Attachments", err)
	}
	if attachmentsEl == nil {
		c.attachments = nil
		return nil, nil
	}
	entries, err := attachmentsEl.Children()
	if err != nil {
		return nil, c.sink.Critical("attachments", notify.Io, "read Attachments children", err)
	}
	var attachments []*Attachment
	for _, entry := range entries {
		if entry.ID() != IDAttachedFile {
			continue
		}
		a := &Attachment{}
		children, err := entry.Children()
		if err != nil {
			return nil, c.sink.Critical("attachments", notify.Io, "read AttachedFile children", err)
		}
		for _, child := range children {
			var derr error
			switch child.ID() {
			case IDFileDescription:
				a.Description, derr = readString(child)
			case IDFileName:
				a.Name, derr = readString(child)
			case IDFileMimeType:
				a.MimeType, derr = readString(child)
			case IDFileData:
				a.Data, derr = child.ReadPayload()
			case IDFileUID:
				a.ID, derr = readUint(child)
			}
			if derr != nil {
				return nil, c.sink.Critical("attachments", notify.Io, "decode AttachedFile child", derr)
			}
		}
		if a.Name == "" {
			c.sink.Add(notify.Warning, "attachments", "AttachedFile missing FileName, dropping")
			continue
		}
		attachments = append(attachments, a)
	}
	c.attachments = attachments
	return attachments, nil
}
