package cyton

import (
	"math"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newTestDecoder(daisy bool) *Decoder {
	return NewDecoder(Config{Daisy: daisy, Now: fixedNow})
}

func TestRoundTrip(t *testing.T) {
	uv := [NumChannels]float64{12.5, -40.2, 0, 99.9, -99.9, 3.3, -0.5, 55.1}
	frame, err := EncodeMicrovolts(7, uv, DefaultScale)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := newTestDecoder(false)
	vectors := d.Feed(frame[:])
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	v := vectors[0]
	if v.Seq != 7 {
		t.Errorf("seq = %d, want 7", v.Seq)
	}
	if len(v.Channels) != NumChannels {
		t.Fatalf("got %d channels, want %d", len(v.Channels), NumChannels)
	}
	for i, want := range uv {
		if math.Abs(v.Channels[i]-want) > DefaultScale {
			t.Errorf("channel %d = %f, want %f within one LSB", i+1, v.Channels[i], want)
		}
	}
}

func TestSignHandling(t *testing.T) {
	cases := []struct {
		name string
		raw  int32
		want float64
	}{
		{"most negative", -0x800000, -float64(1<<23) * DefaultScale},
		{"most positive", 0x7FFFFF, float64(1<<23-1) * DefaultScale},
		{"zero", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := EncodeFrame(0, [NumChannels]int32{tc.raw})
			d := newTestDecoder(false)
			vectors := d.Feed(frame[:])
			if len(vectors) != 1 {
				t.Fatalf("expected 1 vector, got %d", len(vectors))
			}
			if got := vectors[0].Channels[0]; got != tc.want {
				t.Errorf("decoded %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecodeChannelSignExtension(t *testing.T) {
	if got := DecodeChannel([]byte{0x80, 0x00, 0x00}); got != -0x800000 {
		t.Errorf("0x800000 decoded to %d, want %d", got, -0x800000)
	}
	if got := DecodeChannel([]byte{0xFF, 0xFF, 0xFF}); got != -1 {
		t.Errorf("0xFFFFFF decoded to %d, want -1", got)
	}
}

// buildStream concatenates n frames with distinct counters and payloads.
func buildStream(t *testing.T, n int) []byte {
	t.Helper()
	var stream []byte
	for i := 0; i < n; i++ {
		frame := EncodeFrame(byte(i), [NumChannels]int32{int32(i * 100), -int32(i), 42})
		stream = append(stream, frame[:]...)
	}
	return stream
}

func TestFragmentationInvariance(t *testing.T) {
	stream := buildStream(t, 10)

	// Whole stream at once.
	whole := newTestDecoder(false)
	wantVectors := whole.Feed(stream)

	for _, chunkSize := range []int{1, 2, 3, 7, 16, 33, 50} {
		d := newTestDecoder(false)
		var got []SampleVector
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, d.Feed(stream[off:end])...)
		}
		if len(got) != len(wantVectors) {
			t.Fatalf("chunk size %d: got %d vectors, want %d", chunkSize, len(got), len(wantVectors))
		}
		for i := range got {
			if got[i].Seq != wantVectors[i].Seq {
				t.Errorf("chunk size %d: vector %d seq = %d, want %d", chunkSize, i, got[i].Seq, wantVectors[i].Seq)
			}
			for c := range got[i].Channels {
				if got[i].Channels[c] != wantVectors[i].Channels[c] {
					t.Errorf("chunk size %d: vector %d channel %d differs", chunkSize, i, c)
				}
			}
		}
	}
}

func TestEmptyFeeds(t *testing.T) {
	d := newTestDecoder(false)
	for i := 0; i < 1000; i++ {
		if vectors := d.Feed(nil); vectors != nil {
			t.Fatalf("empty feed produced vectors")
		}
	}
}

func TestFalsePositiveMarkerRecovery(t *testing.T) {
	// A payload byte equal to the start marker, positioned so that the
	// byte 32 places later is not the end marker, followed by a genuine
	// frame. The genuine frame must survive.
	junk := make([]byte, 40)
	for i := range junk {
		junk[i] = 0x11
	}
	junk[3] = StartMarker

	frame := EncodeFrame(99, [NumChannels]int32{12345})
	d := newTestDecoder(false)
	vectors := d.Feed(append(junk, frame[:]...))
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector after false start, got %d", len(vectors))
	}
	if vectors[0].Seq != 99 {
		t.Errorf("seq = %d, want 99", vectors[0].Seq)
	}
	if d.Stats().FalseStarts == 0 {
		t.Error("expected false start to be counted")
	}
}

func TestFalsePositiveInsidePayload(t *testing.T) {
	// Channel bytes that legitimately contain 0xA0 must not derail the
	// scan once the true frame boundary is known.
	raw := [NumChannels]int32{int32(0xA0A0A0) - 0x1000000, 0xA0, 7}
	frame := EncodeFrame(1, raw)
	d := newTestDecoder(false)
	vectors := d.Feed(frame[:])
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	if got := vectors[0].Channels[0]; got != float64(int32(0xA0A0A0)-0x1000000)*DefaultScale {
		t.Errorf("channel 1 = %v", got)
	}
}

func TestNoiseRobustness(t *testing.T) {
	d := newTestDecoder(false)
	noise := make([]byte, 512)
	for i := range noise {
		noise[i] = byte(i % 0x90) // never the start marker
	}
	for i := 0; i < 200; i++ {
		if vectors := d.Feed(noise); len(vectors) != 0 {
			t.Fatalf("noise produced vectors")
		}
		if d.ResidualLen() >= FrameSize {
			t.Fatalf("residual grew to %d bytes", d.ResidualLen())
		}
	}
	if d.Stats().BytesDropped == 0 {
		t.Error("expected dropped bytes to be counted")
	}
}

func TestMarkerBearingNoiseBounded(t *testing.T) {
	// Noise that contains start markers but never a valid frame must also
	// keep the residual bounded.
	d := newTestDecoder(false)
	noise := make([]byte, 512)
	for i := range noise {
		if i%5 == 0 {
			noise[i] = StartMarker
		} else {
			noise[i] = 0x22
		}
	}
	for i := 0; i < 100; i++ {
		d.Feed(noise)
		if d.ResidualLen() >= FrameSize {
			t.Fatalf("residual grew to %d bytes", d.ResidualLen())
		}
	}
}

func TestPartialFrameCompletes(t *testing.T) {
	frame := EncodeFrame(5, [NumChannels]int32{1000})
	d := newTestDecoder(false)
	if vectors := d.Feed(frame[:20]); len(vectors) != 0 {
		t.Fatal("partial frame decoded early")
	}
	vectors := d.Feed(frame[20:])
	if len(vectors) != 1 || vectors[0].Seq != 5 {
		t.Fatalf("split frame not recovered: %+v", vectors)
	}
}

func TestDaisyPairing(t *testing.T) {
	lower := EncodeFrame(4, [NumChannels]int32{100, 200})
	upper := EncodeFrame(5, [NumChannels]int32{300, 400})

	d := newTestDecoder(true)
	if vectors := d.Feed(lower[:]); len(vectors) != 0 {
		t.Fatal("lower half emitted before pairing")
	}
	vectors := d.Feed(upper[:])
	if len(vectors) != 1 {
		t.Fatalf("expected paired vector, got %d", len(vectors))
	}
	v := vectors[0]
	if len(v.Channels) != 16 {
		t.Fatalf("paired vector has %d channels, want 16", len(v.Channels))
	}
	if v.Seq != 4 {
		t.Errorf("paired seq = %d, want lower-half seq 4", v.Seq)
	}
	if v.Channels[0] != 100*DefaultScale || v.Channels[8] != 300*DefaultScale {
		t.Errorf("halves combined in wrong order: %v", v.Channels)
	}
}

func TestDaisySupersededHalf(t *testing.T) {
	first := EncodeFrame(2, [NumChannels]int32{1})
	second := EncodeFrame(4, [NumChannels]int32{2})
	upper := EncodeFrame(5, [NumChannels]int32{3})

	d := newTestDecoder(true)
	d.Feed(first[:])
	d.Feed(second[:])
	vectors := d.Feed(upper[:])
	if len(vectors) != 1 {
		t.Fatalf("expected 1 paired vector, got %d", len(vectors))
	}
	if vectors[0].Channels[0] != 2*DefaultScale {
		t.Error("stale lower half was not superseded")
	}
	if d.Stats().HalvesDropped != 1 {
		t.Errorf("HalvesDropped = %d, want 1", d.Stats().HalvesDropped)
	}
}

func TestDaisyOrphanUpperDropped(t *testing.T) {
	upper := EncodeFrame(3, [NumChannels]int32{9})
	d := newTestDecoder(true)
	if vectors := d.Feed(upper[:]); len(vectors) != 0 {
		t.Fatal("orphan upper half emitted")
	}
	if d.Stats().HalvesDropped != 1 {
		t.Errorf("HalvesDropped = %d, want 1", d.Stats().HalvesDropped)
	}
}

func TestEncodeMicrovoltsRange(t *testing.T) {
	if _, err := EncodeMicrovolts(0, [NumChannels]float64{1e9}, DefaultScale); err == nil {
		t.Error("expected range error for out-of-range value")
	}
}

func TestStatsAccounting(t *testing.T) {
	frame := EncodeFrame(1, [NumChannels]int32{})
	d := newTestDecoder(false)
	d.Feed(append([]byte{0x01, 0x02, 0x03}, frame[:]...))
	s := d.Stats()
	if s.Frames != 1 || s.Vectors != 1 {
		t.Errorf("frames/vectors = %d/%d, want 1/1", s.Frames, s.Vectors)
	}
	if s.BytesDropped != 3 {
		t.Errorf("BytesDropped = %d, want 3", s.BytesDropped)
	}
}
