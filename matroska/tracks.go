package matroska

import (
	"sort"

	"github.com/ebmltag/mkvtag/ebml"
	"github.com/ebmltag/mkvtag/notify"
)

// ParseTracks reads every TrackEntry under the Segment's Tracks element,
// sorted by track number.
func (c *Container) ParseTracks() ([]*TrackInfo, error) {
	if c.segment == nil {
		return nil, c.sink.Critical("tracks", notify.InvalidData, "ParseHeader must run first", nil)
	}
	tracksEl, err := c.segment.ChildByID(IDTracks)
	if err != nil {
		return nil, c.sink.Critical("tracks", notify.Io, "locate Tracks", err)
	}
	if tracksEl == nil {
		c.tracks = nil
		return nil, nil
	}
	entries, err := tracksEl.Children()
	if err != nil {
		return nil, c.sink.Critical("tracks", notify.Io, "read Tracks children", err)
	}
	var tracks []*TrackInfo
	for _, entry := range entries {
		if entry.ID() != IDTrackEntry {
			continue
		}
		t, err := c.parseTrackEntry(entry)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Number < tracks[j].Number })
	c.tracks = tracks
	return tracks, nil
}

func (c *Container) parseTrackEntry(entry *ebml.Element) (*TrackInfo, error) {
	t := &TrackInfo{
		Enabled:       true,
		Default:       true,
		Lacing:        true,
		TimecodeScale: 1.0,
		Language:      "eng",
	}
	children, err := entry.Children()
	if err != nil {
		return nil, c.sink.Critical("tracks", notify.Io, "read TrackEntry children", err)
	}
	for _, child := range children {
		switch child.ID() {
		case IDTrackNumber:
			t.Number, err = readUint(child)
		case IDTrackUID:
			t.UID, err = readUint(child)
		case IDTrackType:
			var v uint64
			v, err = readUint(child)
			t.Type = TrackType(v)
		case IDTrackName:
			t.Name, err = readString(child)
		case IDTrackLanguage:
			t.Language, err = readString(child)
		case IDCodecID:
			t.CodecID, err = readString(child)
		case IDCodecPrivate:
			t.CodecPrivate, err = child.ReadPayload()
		case IDFlagEnabled:
			t.Enabled, err = readBool(child)
		case IDFlagDefault:
			t.Default, err = readBool(child)
		case IDFlagForced:
			t.Forced, err = readBool(child)
		case IDFlagLacing:
			t.Lacing, err = readBool(child)
		case IDTrackTimecodeScale:
			t.TimecodeScale, err = readFloat(child)
		case IDVideo:
			t.Video, err = c.parseVideoTrack(child)
		case IDAudio:
			t.Audio, err = c.parseAudioTrack(child)
		}
		if err != nil {
			return nil, c.sink.Critical("tracks", notify.Io, "decode TrackEntry child", err)
		}
	}
	return t, nil
}

func readBool(el *ebml.Element) (bool, error) {
	v, err := readUint(el)
	return v != 0, err
}

func (c *Container) parseVideoTrack(el *ebml.Element) (*VideoTrack, error) {
	v := &VideoTrack{}
	children, err := el.Children()
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		switch child.ID() {
		case IDPixelWidth:
			v.PixelWidth, err = readUint(child)
		case IDPixelHeight:
			v.PixelHeight, err = readUint(child)
		case IDDisplayWidth:
			v.DisplayWidth, err = readUint(child)
		case IDDisplayHeight:
			v.DisplayHeight, err = readUint(child)
		case IDFlagInterlaced:
			v.FlagInterlaced, err = readBool(child)
		}
		if err != nil {
			return nil, err
		}
	}
	if v.DisplayWidth == 0 {
		v.DisplayWidth = v.PixelWidth
	}
	if v.DisplayHeight == 0 {
		v.DisplayHeight = v.PixelHeight
	}
	return v, nil
}

func (c *Container) parseAudioTrack(el *ebml.Element) (*AudioTrack, error) {
	a := &AudioTrack{Channels: 1, SamplingFrequency: 8000.0}
	children, err := el.Children()
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		switch child.ID() {
		case IDSamplingFrequency:
			a.SamplingFrequency, err = readFloat(child)
		case IDOutputSamplingFreq:
			a.OutputSamplingFreq, err = readFloat(child)
		case IDChannels:
			a.Channels, err = readUint(child)
		case IDBitDepth:
			a.BitDepth, err = readUint(child)
		}
		if err != nil {
			return nil, err
		}
	}
	if a.OutputSamplingFreq == 0 {
		a.OutputSamplingFreq = a.SamplingFrequency
	}
	return a, nil
}
