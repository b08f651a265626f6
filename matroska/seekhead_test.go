package matroska

import (
	"testing"

	"github.com/ebmltag/mkvtag/ebml"
)

func TestSeekInfoPushReportsSizeChange(t *testing.T) {
	si := NewSeekInfo()
	if changed := si.Push(0, IDCues, 100); !changed {
		t.Fatalf("first Push of a new target should report changedSize=true")
	}
	if changed := si.Push(0, IDCues, 101); changed {
		t.Fatalf("updating a position within the same byte width should not change size")
	}
	if changed := si.Push(0, IDCues, 1<<32); !changed {
		t.Fatalf("widening the position's byte width should change size")
	}
	if si.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (Push on an existing target updates in place)", si.Len())
	}
	if changed := si.Push(1, IDCues, 100); !changed {
		t.Fatalf("Push for a different segment index should be a distinct entry, reporting changedSize=true")
	}
	if si.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (index disambiguates entries with the same target id)", si.Len())
	}
}

func TestSeekInfoWriteSeekHeadMatchesRequiredSize(t *testing.T) {
	si := NewSeekInfo()
	si.Push(0, IDSegmentInfo, 64)
	si.Push(0, IDTags, 4096)
	si.Push(0, IDCues, 1<<20)

	f := &memFile{}
	s := ebml.NewStream(f)
	if err := si.WriteSeekHead(s); err != nil {
		t.Fatalf("WriteSeekHead: %v", err)
	}

	want := int(ebml.HeaderSize(IDSeekHead, si.RequiredSize())) + int(si.RequiredSize())
	if len(f.data) != want {
		t.Fatalf("wrote %d bytes, want %d", len(f.data), want)
	}

	root := ebml.NewRootElement(ebml.NewStream(f), int64(len(f.data)))
	head, err := root.FirstChild()
	if err != nil {
		t.Fatalf("FirstChild: %v", err)
	}
	if err := head.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if head.ID() != IDSeekHead {
		t.Fatalf("ID() = %#x, want IDSeekHead", head.ID())
	}
	children, err := head.Children()
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("len(children) = %d, want 3", len(children))
	}
	for _, c := range children {
		if c.ID() != IDSeek {
			t.Fatalf("child ID = %#x, want IDSeek", c.ID())
		}
	}
}
