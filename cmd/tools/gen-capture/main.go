// Command gen-capture writes a synthetic raw sounder capture for -replay and
// for decoder fixtures.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"

	"github.com/banshee-data/depth.report/internal/sonar/sim"
)

func main() {
	output := flag.String("o", "capture.bin", "output path")
	frames := flag.Int("n", 600, "number of frames")
	depth := flag.Float64("depth", 110, "mean reflector distance in centimetres")
	drift := flag.Float64("drift", 15, "amplitude of the slow depth drift in centimetres")
	dropout := flag.Int("dropout-every", 0, "every Nth frame has no echo (0 disables)")
	junk := flag.Float64("junk", 0, "probability of junk bytes ahead of a frame")
	flips := flag.Float64("bit-flips", 0, "probability of a single bit flip per frame")
	seed := flag.Uint64("seed", 1, "random seed; equal seeds give equal captures")
	flag.Parse()

	cfg := sim.DefaultConfig()
	cfg.DepthCm = *depth
	cfg.DriftCm = *drift
	cfg.DropoutEvery = *dropout
	cfg.JunkProbability = *junk
	cfg.BitFlipProbability = *flips
	cfg.Seed = *seed

	n, err := writeCapture(*output, sim.NewDevice(cfg), *frames)
	if err != nil {
		log.Fatalf("failed to write capture: %v", err)
	}
	log.Printf("✓ Created: %s (%d frames, %d bytes)", *output, *frames, n)
}

// writeCapture encodes frames from dev into a new file at path and returns
// the number of bytes written.
func writeCapture(path string, dev *sim.Device, frames int) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	total := 0
	buf := make([]byte, 0, dev.Layout().FrameSize()+64)
	for i := range frames {
		buf = dev.AppendNext(buf[:0])
		n, err := w.Write(buf)
		total += n
		if err != nil {
			return total, err
		}
		if (i+1)%100 == 0 {
			log.Printf("%d/%d frames", i+1, frames)
		}
	}
	if err := w.Flush(); err != nil {
		return total, err
	}
	return total, f.Close()
}
