// Command framegen synthesizes a raw headset byte stream for replay and
// parser testing: framed synthetic samples, with optional garbage bursts
// between frames to exercise resynchronization.
package main

import (
	"flag"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/simulate"
)

func main() {
	output := flag.String("o", "sample_stream.bin", "output path")
	n := flag.Int("n", 2500, "number of frames (2500 = five seconds at 500 Hz)")
	rate := flag.Float64("rate", 500, "sample rate in Hz")
	heartRate := flag.Float64("hr", 72, "simulated heart rate in BPM")
	seed := flag.Int64("seed", 1, "generator seed (0 = time-based)")
	garbageEvery := flag.Int("garbage-every", 0, "inject a garbage burst before every Nth frame (0 = clean stream)")
	garbageLen := flag.Int("garbage-len", 8, "garbage burst length in bytes")
	flag.Parse()

	gen := simulate.NewGenerator(simulate.Config{
		SampleRate: *rate,
		HeartRate:  *heartRate,
		Seed:       *seed,
	}, time.Now())
	rng := rand.New(rand.NewSource(*seed))

	buf := make([]byte, 0, *n*(frame.FRAME_SIZE+*garbageLen))
	for i, s := range gen.Next(*n) {
		if *garbageEvery > 0 && i > 0 && i%*garbageEvery == 0 {
			junk := make([]byte, *garbageLen)
			rng.Read(junk)
			buf = append(buf, junk...)
		}
		buf = frame.AppendFrame(buf, s)
	}

	if err := os.WriteFile(*output, buf, 0o644); err != nil {
		log.Fatalf("failed to write %s: %v", *output, err)
	}
	log.Printf("✓ Created: %s (%d frames, %d bytes)", *output, *n, len(buf))
}
