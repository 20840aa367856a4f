package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

/*
Compact encodings for high-frequency push channels.

COMPACT (3 bytes, big-endian):
├── [0..1] smoothed distance, millimetres (u16, clamped)
└── [2]    peak value (u8, clamped)

EXTENDED (13 bytes, big-endian), one UDP datagram per record:
├── [0..7]   timestamp, unix milliseconds (i64)
├── [8..9]   smoothed distance, millimetres (u16, clamped)
├── [10]     peak value (u8, clamped)
└── [11..12] peak index (u16, 0xFFFF when there is no reflection)
*/

const (
	CompactSize  = 3
	ExtendedSize = 13

	// NoIndex marks an absent or out-of-range peak index in the extended
	// encoding.
	NoIndex = math.MaxUint16
)

// ErrShortBuffer is returned when decoding fewer bytes than an encoding needs.
var ErrShortBuffer = errors.New("record: short buffer")

// AppendCompact appends the 3-byte compact encoding of r to dst.
func (r OutputRecord) AppendCompact(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, r.SmoothedMillimetres())
	return append(dst, r.PeakValue())
}

// AppendExtended appends the 13-byte extended encoding of r to dst.
func (r OutputRecord) AppendExtended(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(r.Timestamp.UnixMilli()))
	dst = binary.BigEndian.AppendUint16(dst, r.SmoothedMillimetres())
	dst = append(dst, r.PeakValue())
	idx := uint16(NoIndex)
	if i := r.Reflection.Index; i >= 0 && i < NoIndex {
		idx = uint16(i)
	}
	return binary.BigEndian.AppendUint16(dst, idx)
}

// Compact is a decoded compact record.
type Compact struct {
	DistanceMM uint16
	PeakValue  uint8
}

// DistanceCm returns the distance in centimetres.
func (c Compact) DistanceCm() float64 { return float64(c.DistanceMM) / 10 }

// DecodeCompact parses the first CompactSize bytes of b.
func DecodeCompact(b []byte) (Compact, error) {
	if len(b) < CompactSize {
		return Compact{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(b), CompactSize)
	}
	return Compact{
		DistanceMM: binary.BigEndian.Uint16(b[0:2]),
		PeakValue:  b[2],
	}, nil
}

// Extended is a decoded extended compact record.
type Extended struct {
	Timestamp time.Time
	Compact
	PeakIndex int // -1 when the wire value is NoIndex
}

// DecodeExtended parses the first ExtendedSize bytes of b.
func DecodeExtended(b []byte) (Extended, error) {
	if len(b) < ExtendedSize {
		return Extended{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(b), ExtendedSize)
	}
	e := Extended{
		Timestamp: time.UnixMilli(int64(binary.BigEndian.Uint64(b[0:8]))).UTC(),
		Compact: Compact{
			DistanceMM: binary.BigEndian.Uint16(b[8:10]),
			PeakValue:  b[10],
		},
		PeakIndex: int(binary.BigEndian.Uint16(b[11:13])),
	}
	if e.PeakIndex == NoIndex {
		e.PeakIndex = -1
	}
	return e, nil
}
