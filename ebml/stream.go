package ebml

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Stream wraps a random-access byte source with the big-endian primitive
// reads and writes EBML payloads are built from. It tracks no position of
// its own beyond what the underlying ReadWriteSeeker reports.
type Stream struct {
	RW io.ReadWriteSeeker
}

// NewStream wraps rw in a Stream.
func NewStream(rw io.ReadWriteSeeker) *Stream { return &Stream{RW: rw} }

// Position returns the current absolute offset.
func (s *Stream) Position() (int64, error) { return s.RW.Seek(0, io.SeekCurrent) }

// SeekTo moves to an absolute offset.
func (s *Stream) SeekTo(pos int64) error {
	_, err := s.RW.Seek(pos, io.SeekStart)
	return err
}

// Skip advances n bytes relative to the current position.
func (s *Stream) Skip(n int64) error {
	_, err := s.RW.Seek(n, io.SeekCurrent)
	return err
}

// ReadBytes reads exactly n bytes.
func (s *Stream) ReadBytes(n uint64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.RW, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUint reads an n-byte (1..8) big-endian unsigned integer.
func (s *Stream) ReadUint(n uint64) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if n > 8 {
		return 0, fmt.Errorf("ebml: uint width %d out of range", n)
	}
	buf, err := s.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// ReadInt reads an n-byte big-endian two's-complement signed integer.
func (s *Stream) ReadInt(n uint64) (int64, error) {
	v, err := s.ReadUint(n)
	if err != nil {
		return 0, err
	}
	if n == 0 || n >= 8 {
		return int64(v), nil
	}
	signBit := uint64(1) << (n*8 - 1)
	if v&signBit != 0 {
		return int64(v) - int64(1<<(n*8)), nil
	}
	return int64(v), nil
}

// ReadFloat reads a 4- or 8-byte IEEE-754 big-endian float.
func (s *Stream) ReadFloat(n uint64) (float64, error) {
	switch n {
	case 0:
		return 0, nil
	case 4:
		buf, err := s.ReadBytes(4)
		if err != nil {
			return 0, err
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(buf))), nil
	case 8:
		buf, err := s.ReadBytes(8)
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
	default:
		return 0, fmt.Errorf("ebml: invalid float width %d", n)
	}
}

// ReadString reads n bytes and returns them as a UTF-8 string, trimming
// trailing NUL padding some muxers use.
func (s *Stream) ReadString(n uint64) (string, error) {
	buf, err := s.ReadBytes(n)
	if err != nil {
		return "", err
	}
	for len(buf) > 0 && buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}

// WriteBytes writes b verbatim.
func (s *Stream) WriteBytes(b []byte) error {
	_, err := s.RW.Write(b)
	return err
}

// WriteUint writes v as an n-byte big-endian unsigned integer.
func (s *Stream) WriteUint(v uint64, n int) error {
	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return s.WriteBytes(buf)
}

// WriteUint32LE writes v as a 4-byte little-endian unsigned integer, the
// on-wire layout Matroska uses for its CRC-32 element value.
func (s *Stream) WriteUint32LE(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return s.WriteBytes(buf[:])
}

// ReadUint32LE reads a 4-byte little-endian unsigned integer.
func (s *Stream) ReadUint32LE() (uint32, error) {
	buf, err := s.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}
