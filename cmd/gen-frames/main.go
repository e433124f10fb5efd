// Command gen-frames generates a raw frame dump with known spectral
// content for dev mode and decoder testing.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/cortical-data/affinity.report/internal/cyton"
)

// Per-channel sine mixtures in uV: frontal channels carry asymmetric
// alpha so the scored output moves, central channels carry beta, the
// rest get a broadband mix.
type component struct {
	freqHz    float64
	amplitude float64
}

var channelContent = [cyton.NumChannels][]component{
	{{10, 20}, {4, 10}},          // Fp1: alpha + theta
	{{10, 35}, {4, 10}},          // Fp2: stronger alpha, positive asymmetry
	{{20, 15}, {6, 8}},           // C3: beta
	{{22, 15}, {6, 8}},           // C4: beta
	{{8, 12}, {2, 15}},           // P7: low alpha + delta
	{{8, 12}, {2, 15}},           // P8
	{{11, 25}, {40, 5}},          // O1: alpha + gamma
	{{11, 25}, {40, 5}, {1, 10}}, // O2
}

func main() {
	output := flag.String("o", "fixtures.bin", "output path")
	seconds := flag.Float64("seconds", 30, "length of the recording")
	rate := flag.Float64("rate", 250, "sample rate in Hz")
	noise := flag.Float64("noise", 2, "white noise amplitude in uV")
	seed := flag.Int64("seed", 1, "noise seed")
	flag.Parse()

	samples := int(*seconds * *rate)
	rng := rand.New(rand.NewSource(*seed))

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()

	for i := 0; i < samples; i++ {
		t := float64(i) / *rate
		var uv [cyton.NumChannels]float64
		for ch, mix := range channelContent {
			for _, c := range mix {
				uv[ch] += c.amplitude * math.Sin(2*math.Pi*c.freqHz*t)
			}
			uv[ch] += *noise * (2*rng.Float64() - 1)
		}

		frame, err := cyton.EncodeMicrovolts(byte(i), uv, cyton.DefaultScale)
		if err != nil {
			log.Fatalf("sample %d out of range: %v", i, err)
		}
		if _, err := f.Write(frame[:]); err != nil {
			log.Fatalf("write failed: %v", err)
		}
	}

	log.Printf("wrote %d frames (%.1fs at %.0f Hz) to %s", samples, *seconds, *rate, *output)
}
