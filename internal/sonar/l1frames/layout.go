package l1frames

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
TUSS4470 shield frame format

The firmware streams frames back-to-back over the serial link with no
in-band negotiation. N and the sample width are fixed per deployment and
must match the producer.

FRAME STRUCTURE (big-endian throughout):
├── [0]            header sentinel 0xAA
├── [1..2]         depth index computed on the device (u16)
├── [3..4]         temperature × 100 (i16)
├── [5..6]         drive voltage × 100 (u16)
├── [7..7+W·N-1]   N samples, W bytes each (u16, or u8 on 8-bit firmware)
└── [last]         XOR of bytes [1..last-1]

Total length = 1 + 6 + W·N + 1. For N=900, W=2 this is 1808 bytes.
*/

const (
	HeaderByte   = 0xAA // Frame start sentinel
	HeaderSize   = 1
	MetadataSize = 6 // depth index + temperature + drive voltage
	ChecksumSize = 1

	DefaultNumSamples  = 900
	DefaultSampleWidth = 2
	MaxNumSamples      = 16384
)

// ErrInvalidLayout is returned by Layout.Validate when the frame geometry
// cannot describe a decodable frame.
var ErrInvalidLayout = errors.New("invalid frame layout")

// Layout describes the fixed frame geometry agreed with the producer.
type Layout struct {
	NumSamples  int // N, samples per frame
	SampleWidth int // bytes per sample on the wire: 1 or 2
}

// DefaultLayout returns the 900 × u16 layout used by the shield firmware.
func DefaultLayout() Layout {
	return Layout{NumSamples: DefaultNumSamples, SampleWidth: DefaultSampleWidth}
}

// Validate reports whether the layout is usable.
func (l Layout) Validate() error {
	if l.NumSamples <= 0 || l.NumSamples > MaxNumSamples {
		return fmt.Errorf("%w: num_samples %d out of range (1..%d)", ErrInvalidLayout, l.NumSamples, MaxNumSamples)
	}
	if l.SampleWidth != 1 && l.SampleWidth != 2 {
		return fmt.Errorf("%w: sample width %d, expected 1 or 2 bytes", ErrInvalidLayout, l.SampleWidth)
	}
	return nil
}

// PayloadSize is the checksummed region: metadata plus samples.
func (l Layout) PayloadSize() int {
	return MetadataSize + l.SampleWidth*l.NumSamples
}

// FrameSize is the full on-wire frame length.
func (l Layout) FrameSize() int {
	return HeaderSize + l.PayloadSize() + ChecksumSize
}

// Checksum returns the XOR of every byte in payload.
func Checksum(payload []byte) byte {
	var c byte
	for _, b := range payload {
		c ^= b
	}
	return c
}

// AppendFrame encodes f in wire format and appends it to dst. Samples beyond
// NumSamples are ignored and missing samples are encoded as zero. With a
// one-byte sample width each value is truncated to its low byte.
func (l Layout) AppendFrame(dst []byte, f Frame) []byte {
	start := len(dst)
	dst = append(dst, HeaderByte)
	dst = binary.BigEndian.AppendUint16(dst, f.Metadata.DepthIndex)
	dst = binary.BigEndian.AppendUint16(dst, uint16(f.Metadata.TemperatureScaled))
	dst = binary.BigEndian.AppendUint16(dst, f.Metadata.DriveVoltageScaled)
	for i := 0; i < l.NumSamples; i++ {
		var v uint16
		if i < len(f.Samples) {
			v = f.Samples[i]
		}
		if l.SampleWidth == 1 {
			dst = append(dst, byte(v))
		} else {
			dst = binary.BigEndian.AppendUint16(dst, v)
		}
	}
	return append(dst, Checksum(dst[start+HeaderSize:]))
}

// parse decodes a checksum-verified candidate of exactly FrameSize bytes.
func (l Layout) parse(raw []byte) Frame {
	p := raw[HeaderSize:]
	f := Frame{
		Metadata: Metadata{
			DepthIndex:         binary.BigEndian.Uint16(p[0:2]),
			TemperatureScaled:  int16(binary.BigEndian.Uint16(p[2:4])),
			DriveVoltageScaled: binary.BigEndian.Uint16(p[4:6]),
		},
		Samples: make([]uint16, l.NumSamples),
	}
	s := p[MetadataSize:]
	if l.SampleWidth == 1 {
		for i := range f.Samples {
			f.Samples[i] = uint16(s[i])
		}
		return f
	}
	for i := range f.Samples {
		f.Samples[i] = binary.BigEndian.Uint16(s[2*i:])
	}
	return f
}
