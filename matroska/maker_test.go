package matroska

import (
	"testing"

	"github.com/ebmltag/mkvtag/ebml"
)

func TestTagMakerDropsInformationFreeTags(t *testing.T) {
	m := NewTagMaker([]*Tag{
		{}, // no Targets, no SimpleTags: information-free
		{
			TargetTypeValue: 50,
			SimpleTags: []*SimpleTag{{Name: "TITLE", Language: "und", Default: true, String: "Hello"}},
		},
	})

	f := &memFile{}
	s := ebml.NewStream(f)
	if err := m.Write(s); err != nil {
		t.Fatalf("Write: %v", err)
	}

	root := ebml.NewRootElement(ebml.NewStream(f), int64(len(f.data)))
	tagsEl, err := root.FirstChild()
	if err != nil || tagsEl == nil {
		t.Fatalf("FirstChild: %v", err)
	}
	if tagsEl.ID() != IDTags {
		t.Fatalf("ID() = %#x, want IDTags", tagsEl.ID())
	}
	children, err := tagsEl.Children()
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("len(children) = %d, want 1 (the information-free Tag must be dropped)", len(children))
	}
}

func TestAttachmentMakerRoundTrip(t *testing.T) {
	content := []byte("cover art bytes")
	m := NewAttachmentMaker(&Attachment{Name: "cover.jpg", MimeType: "image/jpeg"}, content)
	if m.attachment.ID == 0 {
		t.Fatalf("NewAttachmentMaker should assign a non-zero ID")
	}
	h1 := m.Hash()

	f := &memFile{}
	s := ebml.NewStream(f)
	if err := m.Write(s); err != nil {
		t.Fatalf("Write: %v", err)
	}

	root := ebml.NewRootElement(ebml.NewStream(f), int64(len(f.data)))
	el, err := root.FirstChild()
	if err != nil || el == nil {
		t.Fatalf("FirstChild: %v", err)
	}
	if el.ID() != IDAttachedFile {
		t.Fatalf("ID() = %#x, want IDAttachedFile", el.ID())
	}
	children, err := el.Children()
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	var gotData []byte
	for _, c := range children {
		if c.ID() == IDFileData {
			gotData, err = c.ReadPayload()
			if err != nil {
				t.Fatalf("ReadPayload: %v", err)
			}
		}
	}
	if string(gotData) != string(content) {
		t.Fatalf("FileData = %q, want %q", gotData, content)
	}

	m2 := NewAttachmentMaker(&Attachment{}, content)
	if m2.Hash() != h1 {
		t.Fatalf("identical content should hash identically")
	}
}
