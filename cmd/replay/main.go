// Command replay feeds a captured raw byte dump through the frame
// decoder and reports decode counters, per-channel signal levels and
// band powers. Useful for checking a capture before replaying it in
// dev mode.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/cortical-data/affinity.report/internal/cyton"
	"github.com/cortical-data/affinity.report/internal/eeg"
)

func main() {
	input := flag.String("i", "fixtures.bin", "raw byte dump to decode")
	rate := flag.Float64("rate", 250, "sample rate in Hz")
	scale := flag.Float64("scale", cyton.DefaultScale, "uV per count")
	daisy := flag.Bool("daisy", false, "treat the dump as 16-channel daisy frames")
	chunk := flag.Int("chunk", 256, "feed size in bytes, mimicking serial reads")
	flag.Parse()

	data, err := os.ReadFile(*input)
	if err != nil {
		log.Fatalf("failed to read %s: %v", *input, err)
	}

	dec := cyton.NewDecoder(cyton.Config{Scale: *scale, Daisy: *daisy})
	var window [][]float64
	var vectors int
	for off := 0; off < len(data); off += *chunk {
		end := off + *chunk
		if end > len(data) {
			end = len(data)
		}
		for _, v := range dec.Feed(data[off:end]) {
			if window == nil {
				window = make([][]float64, len(v.Channels))
			}
			for ch, sample := range v.Channels {
				window[ch] = append(window[ch], sample)
			}
			vectors++
		}
	}

	stats := dec.Stats()
	fmt.Printf("%s: %d bytes\n", *input, len(data))
	fmt.Printf("frames=%d vectors=%d falseStarts=%d bytesDropped=%d halvesDropped=%d residual=%d\n",
		stats.Frames, vectors, stats.FalseStarts, stats.BytesDropped, stats.HalvesDropped, dec.ResidualLen())
	if vectors == 0 {
		return
	}

	names := eeg.ChannelNames(len(window))
	fmt.Printf("\n%-6s %12s %12s %12s\n", "chan", "mean (uV)", "rms (uV)", "peak (uV)")
	for ch, seq := range window {
		fmt.Printf("%-6s %12.2f %12.2f %12.2f\n", names[ch], mean(seq), rms(seq), peak(seq))
	}

	analyzer := eeg.NewAnalyzer(*rate, eeg.DefaultMontage())
	bands, err := analyzer.BandSummary(window)
	if err != nil {
		log.Fatalf("band summary failed: %v", err)
	}
	fmt.Printf("\n%-6s", "chan")
	for _, band := range eeg.StandardBands {
		fmt.Printf(" %12s", band.Name)
	}
	fmt.Println()
	for ch, powers := range bands {
		fmt.Printf("%-6s", names[ch])
		for _, band := range eeg.StandardBands {
			fmt.Printf(" %12.2f", powers[band.Name])
		}
		fmt.Println()
	}
}

func mean(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func rms(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func peak(x []float64) float64 {
	var p float64
	for _, v := range x {
		if math.Abs(v) > p {
			p = math.Abs(v)
		}
	}
	return p
}
