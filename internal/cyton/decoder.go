package cyton

import (
	"bytes"
	"time"
)

// SampleVector is one decoded multi-channel measurement. Channels holds 8
// values in single-board mode or 16 once a daisy pair has been combined,
// in microvolts. Seq is the board's own rolling counter, surfaced
// unchanged for gap detection downstream.
type SampleVector struct {
	Seq       uint8     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Channels  []float64 `json:"channels"`
}

// Stats counts decoder activity for diagnostics. Framing damage is never
// surfaced as an error; it shows up here instead.
type Stats struct {
	Frames        uint64 // complete frames decoded
	Vectors       uint64 // sample vectors emitted (== Frames unless daisy)
	FalseStarts   uint64 // start-marker bytes that were payload coincidences
	BytesDropped  uint64 // bytes discarded without being part of a frame
	HalvesDropped uint64 // daisy halves superseded before pairing
}

// Config carries the per-connection decoding parameters. The zero value
// is not usable; call NewDecoder which applies defaults.
type Config struct {
	// Scale is the microvolts-per-count conversion factor. Defaults to
	// DefaultScale.
	Scale float64
	// Daisy enables 16-channel pairing of alternating frames.
	Daisy bool
	// Now stamps emitted vectors; defaults to time.Now. Tests override it.
	Now func() time.Time
}

// Decoder extracts frames from an arbitrarily chunked byte stream. It is
// stateful (residual bytes, pending daisy half) and must only be fed from
// a single goroutine; decoded vectors are typically handed off over a
// bounded channel to consumers.
type Decoder struct {
	cfg      Config
	residual []byte
	pending  *SampleVector // buffered lower half awaiting its daisy mate
	stats    Stats
}

// NewDecoder returns a Decoder for the given configuration.
func NewDecoder(cfg Config) *Decoder {
	if cfg.Scale == 0 {
		cfg.Scale = DefaultScale
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Decoder{cfg: cfg}
}

// Feed appends p to the residual buffer and returns zero or more decoded
// sample vectors. It never blocks and never fails: malformed regions are
// dropped and counted. Feeding an empty slice is a no-op.
func (d *Decoder) Feed(p []byte) []SampleVector {
	if len(p) > 0 {
		d.residual = append(d.residual, p...)
	}

	var out []SampleVector
	for len(d.residual) >= FrameSize {
		s := bytes.IndexByte(d.residual, StartMarker)
		if s < 0 {
			// Nothing usable at all.
			d.stats.BytesDropped += uint64(len(d.residual))
			d.residual = d.residual[:0]
			break
		}
		end := s + FrameSize - 1
		if end >= len(d.residual) {
			// A start marker near the tail: wait for the rest of the
			// frame. Trim the unresolvable prefix so the buffer cannot
			// grow without bound under marker-bearing noise.
			d.trimTo(s)
			break
		}
		if d.residual[end] != EndMarker {
			// Payload byte that happened to equal the start marker. Drop
			// only that byte so a genuine frame later in the buffer
			// survives.
			d.stats.FalseStarts++
			d.stats.BytesDropped += uint64(s + 1)
			d.residual = d.residual[s+1:]
			continue
		}
		frame := d.residual[s : s+FrameSize]
		d.stats.Frames++
		d.stats.BytesDropped += uint64(s)
		if v, ok := d.emit(frame); ok {
			out = append(out, v)
		}
		d.residual = d.residual[s+FrameSize:]
	}

	// Invariant: the residual is now shorter than a frame, or the loop
	// above would still be running. Sustained garbage therefore cannot
	// grow the buffer across calls.
	return out
}

// emit turns a validated frame into a sample vector, handling daisy
// pairing when enabled.
func (d *Decoder) emit(frame []byte) (SampleVector, bool) {
	v := SampleVector{
		Seq:       frame[CounterPos],
		Timestamp: d.cfg.Now(),
		Channels:  decodePayload(frame, d.cfg.Scale),
	}
	if !d.cfg.Daisy {
		d.stats.Vectors++
		return v, true
	}

	// Daisy frames alternate by counter parity: even = channels 1-8,
	// odd = channels 9-16. The lower half is buffered and completed by
	// the next upper half; a fresh half of the same parity supersedes an
	// unpaired one.
	if v.Seq%2 == 0 {
		if d.pending != nil {
			d.stats.HalvesDropped++
		}
		d.pending = &v
		return SampleVector{}, false
	}
	if d.pending == nil {
		d.stats.HalvesDropped++
		return SampleVector{}, false
	}
	paired := SampleVector{
		Seq:       d.pending.Seq,
		Timestamp: d.pending.Timestamp,
		Channels:  append(d.pending.Channels, v.Channels...),
	}
	d.pending = nil
	d.stats.Vectors++
	return paired, true
}

// trimTo discards bytes before offset s, counting them as dropped.
func (d *Decoder) trimTo(s int) {
	if s <= 0 {
		return
	}
	d.stats.BytesDropped += uint64(s)
	d.residual = d.residual[s:]
}

// Stats returns a snapshot of the decoder's counters.
func (d *Decoder) Stats() Stats { return d.stats }

// ResidualLen reports how many unresolved bytes are buffered. Exposed for
// diagnostics and tests.
func (d *Decoder) ResidualLen() int { return len(d.residual) }
