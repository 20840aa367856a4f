package l1frames

import (
	"bytes"
	"fmt"
	"iter"
	"slices"
	"sync/atomic"
)

// Stats is a snapshot of decoder diagnostics. Every anomaly in the input
// stream ends up here rather than as an error.
type Stats struct {
	BytesIngested    uint64 // Total bytes appended via Ingest
	FramesDecoded    uint64 // Frames that passed checksum verification
	BytesDiscarded   uint64 // Junk bytes plus header bytes of corrupt candidates
	JunkRuns         uint64 // Number of times a run of junk was dropped
	ChecksumFailures uint64 // Candidates rejected on checksum
}

// Sub returns the per-field difference s - prev.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		BytesIngested:    s.BytesIngested - prev.BytesIngested,
		FramesDecoded:    s.FramesDecoded - prev.FramesDecoded,
		BytesDiscarded:   s.BytesDiscarded - prev.BytesDiscarded,
		JunkRuns:         s.JunkRuns - prev.JunkRuns,
		ChecksumFailures: s.ChecksumFailures - prev.ChecksumFailures,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("ingested=%dB frames=%d discarded=%dB junk_runs=%d checksum_failures=%d",
		s.BytesIngested, s.FramesDecoded, s.BytesDiscarded, s.JunkRuns, s.ChecksumFailures)
}

// Decoder recovers frames from an append-only byte stream. Chunk boundaries
// need not align with frame boundaries.
//
// A Decoder is not safe for concurrent Ingest calls: the buffer and resync
// state are order dependent. Stats may be read from any goroutine.
type Decoder struct {
	layout Layout
	size   int

	buf []byte
	off int // start of unconsumed data in buf

	bytesIngested    atomic.Uint64
	framesDecoded    atomic.Uint64
	bytesDiscarded   atomic.Uint64
	junkRuns         atomic.Uint64
	checksumFailures atomic.Uint64
}

// NewDecoder returns a decoder for the given layout.
func NewDecoder(layout Layout) (*Decoder, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	size := layout.FrameSize()
	return &Decoder{
		layout: layout,
		size:   size,
		buf:    make([]byte, 0, 2*size),
	}, nil
}

// Layout returns the frame geometry the decoder was built with.
func (d *Decoder) Layout() Layout { return d.layout }

// Ingest appends chunk to the stream buffer and returns a sequence over
// every complete frame now available. The sequence drains the decoder's
// shared buffer as it is iterated; stopping early leaves the remaining bytes
// buffered for the next call.
func (d *Decoder) Ingest(chunk []byte) iter.Seq[Frame] {
	d.append(chunk)
	return func(yield func(Frame) bool) {
		for {
			f, ok := d.next()
			if !ok || !yield(f) {
				return
			}
		}
	}
}

// Decode is Ingest collected into a slice.
func (d *Decoder) Decode(chunk []byte) []Frame {
	return slices.Collect(d.Ingest(chunk))
}

// Buffered returns the number of bytes held awaiting a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		BytesIngested:    d.bytesIngested.Load(),
		FramesDecoded:    d.framesDecoded.Load(),
		BytesDiscarded:   d.bytesDiscarded.Load(),
		JunkRuns:         d.junkRuns.Load(),
		ChecksumFailures: d.checksumFailures.Load(),
	}
}

func (d *Decoder) append(chunk []byte) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, chunk...)
	d.bytesIngested.Add(uint64(len(chunk)))
}

// next runs the resync loop until one frame is produced or fewer than a
// frame's worth of bytes remain. The loop is bounded by the buffer length:
// every iteration either consumes at least one byte or returns.
func (d *Decoder) next() (Frame, bool) {
	for d.Buffered() >= d.size {
		pending := d.buf[d.off:]

		at := bytes.IndexByte(pending, HeaderByte)
		if at < 0 {
			d.discard(len(pending))
			diagf("no header in %d buffered bytes, discarded", len(pending))
			return Frame{}, false
		}
		if at > 0 {
			d.discard(at)
			diagf("discarded %d junk bytes before header", at)
			continue
		}

		candidate := pending[:d.size]
		want := candidate[d.size-1]
		if got := Checksum(candidate[HeaderSize : d.size-1]); got != want {
			// Only the header byte goes: a real header may sit inside what
			// looked like this frame's payload.
			d.checksumFailures.Add(1)
			d.bytesDiscarded.Add(1)
			d.off++
			diagf("checksum mismatch: calculated %02X, received %02X", got, want)
			continue
		}

		f := d.layout.parse(candidate)
		d.off += d.size
		d.framesDecoded.Add(1)
		tracef("frame decoded: depth_index=%d buffered=%d", f.Metadata.DepthIndex, d.Buffered())
		return f, true
	}
	return Frame{}, false
}

func (d *Decoder) discard(n int) {
	d.off += n
	d.bytesDiscarded.Add(uint64(n))
	d.junkRuns.Add(1)
}
