// Package matroska implements the Matroska/EBML tag rewrite engine: a
// lazy element tree specialized to Matroska's element catalogue, a planner
// that computes byte layout via fixed-point iteration, and a writer that
// chooses in-place or full rewrite and keeps SeekHead/Cues/Position/
// PrevSize/CRC-32 cross-references consistent.
package matroska

// Element IDs for the subset of the Matroska/EBML catalogue this package
// reads and writes, including the index and integrity elements (SeekHead,
// Position, PrevSize, CRC-32, Void) a read-only demuxer never needs to emit.
const (
	IDEBMLHeader uint64 = 0x1A45DFA3
	IDDocType    uint64 = 0x4282
	IDSegment    uint64 = 0x18538067

	IDSeekHead     uint64 = 0x114D9B74
	IDSeek         uint64 = 0x4DBB
	IDSeekID       uint64 = 0x53AB
	IDSeekPosition uint64 = 0x53AC

	IDSegmentInfo     uint64 = 0x1549A966
	IDSegmentUID      uint64 = 0x73A4
	IDSegmentFilename uint64 = 0x7384
	IDPrevUID         uint64 = 0x3CB923
	IDPrevFilename    uint64 = 0x3C83AB
	IDNextUID         uint64 = 0x3EB923
	IDNextFilename    uint64 = 0x3E83BB
	IDTimecodeScale   uint64 = 0x2AD7B1
	IDDuration        uint64 = 0x4489
	IDDateUTC         uint64 = 0x4461
	IDTitle           uint64 = 0x7BA9
	IDMuxingApp       uint64 = 0x4D80
	IDWritingApp      uint64 = 0x5741

	IDTracks              uint64 = 0x1654AE6B
	IDTrackEntry          uint64 = 0xAE
	IDTrackNumber         uint64 = 0xD7
	IDTrackUID            uint64 = 0x73C5
	IDTrackType           uint64 = 0x83
	IDFlagEnabled         uint64 = 0xB9
	IDFlagDefault         uint64 = 0x88
	IDFlagForced          uint64 = 0x55AA
	IDFlagLacing          uint64 = 0x9C
	IDTrackName           uint64 = 0x536E
	IDTrackLanguage       uint64 = 0x22B59C
	IDCodecID             uint64 = 0x86
	IDCodecPrivate        uint64 = 0x63A2
	IDTrackTimecodeScale  uint64 = 0x23314F
	IDVideo               uint64 = 0xE0
	IDPixelWidth          uint64 = 0xB0
	IDPixelHeight         uint64 = 0xBA
	IDDisplayWidth        uint64 = 0x54B0
	IDDisplayHeight       uint64 = 0x54BA
	IDFlagInterlaced      uint64 = 0x9A
	IDAudio               uint64 = 0xE1
	IDSamplingFrequency   uint64 = 0xB5
	IDOutputSamplingFreq  uint64 = 0x78B5
	IDChannels            uint64 = 0x9F
	IDBitDepth            uint64 = 0x6264

	IDCluster   uint64 = 0x1F43B675
	IDTimestamp uint64 = 0xE7
	IDPosition  uint64 = 0xA7
	IDPrevSize  uint64 = 0xAB

	IDSimpleBlock  uint64 = 0xA3
	IDBlockGroup   uint64 = 0xA0
	IDBlock        uint64 = 0xA1
	IDBlockDuration uint64 = 0x9B

	IDCues               uint64 = 0x1C53BB6B
	IDCuePoint           uint64 = 0xBB
	IDCueTime            uint64 = 0xB3
	IDCueTrackPositions  uint64 = 0xB7
	IDCueTrack           uint64 = 0xF7
	IDCueClusterPosition uint64 = 0xF1
	IDCueRelativePosition uint64 = 0xF0
	IDCueDuration        uint64 = 0xB2
	IDCueBlockNumber     uint64 = 0x5378

	IDAttachments uint64 = 0x1941A469
	IDAttachedFile uint64 = 0x61A7
	IDFileDescription uint64 = 0x467E
	IDFileName        uint64 = 0x466E
	IDFileMimeType    uint64 = 0x4660
	IDFileData        uint64 = 0x465C
	IDFileUID         uint64 = 0x46AE

	IDChapters         uint64 = 0x1043A770
	IDEditionEntry     uint64 = 0x45B9
	IDChapterAtom      uint64 = 0xB6
	IDChapterUID       uint64 = 0x73C4
	IDChapterTimeStart uint64 = 0x91
	IDChapterTimeEnd   uint64 = 0x92
	IDChapterDisplay   uint64 = 0x80
	IDChapString       uint64 = 0x85
	IDChapLanguage     uint64 = 0x437C

	IDTags           uint64 = 0x1254C367
	IDTag            uint64 = 0x7373
	IDTargets        uint64 = 0x63C0
	IDTargetTypeValue uint64 = 0x68CA
	IDTargetType     uint64 = 0x63CA
	IDTagTrackUID    uint64 = 0x63C5
	IDSimpleTag      uint64 = 0x67C8
	IDTagName        uint64 = 0x45A3
	IDTagLanguage    uint64 = 0x447A
	IDTagDefault     uint64 = 0x4484
	IDTagString      uint64 = 0x4487
	IDTagBinary      uint64 = 0x4485

	IDCRC32 uint64 = 0xBF
	IDVoid  uint64 = 0xEC
)

// TrackType mirrors the Matroska TrackType enum values.
type TrackType int

const (
	TrackTypeVideo    TrackType = 1
	TrackTypeAudio    TrackType = 2
	TrackTypeComplex  TrackType = 3
	TrackTypeLogo     TrackType = 16
	TrackTypeSubtitle TrackType = 17
	TrackTypeButtons  TrackType = 18
	TrackTypeControl  TrackType = 32
)
