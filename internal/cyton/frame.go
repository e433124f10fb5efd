// Package cyton decodes the binary streaming protocol spoken by
// OpenBCI-Cyton-compatible 8/16 channel bio-amplifier boards.
//
// The board emits fixed 33-byte frames over the serial link with no
// checksum: a start marker, a rolling sample counter, eight 3-byte
// big-endian two's-complement channel readings, auxiliary bytes, and an
// end marker. Frames arrive on an unreliable transport with arbitrary
// chunking, so frame recovery is a byte-level scan rather than a simple
// fixed-size read.
package cyton

import "fmt"

// Wire format constants for the 33-byte streaming frame.
const (
	FrameSize   = 33   // total frame length in bytes
	StartMarker = 0xA0 // byte 0
	EndMarker   = 0xC0 // byte 32
	CounterPos  = 1    // rolling sample counter (0-255, wraps)
	PayloadPos  = 2    // first channel byte
	ChannelSize = 3    // bytes per channel reading
	NumChannels = 8    // channels per frame

	// DefaultScale converts raw ADC counts to microvolts. Derived from the
	// board's 4.5V reference, 24x gain and 24-bit converter. The hardware
	// shipped with at least two competing values for this constant; it must
	// be validated against a calibration signal before trusting absolute
	// amplitudes. See the config package to override it.
	DefaultScale = 0.02235
)

// DecodeChannel converts one 3-byte big-endian two's-complement reading
// into a raw signed count.
func DecodeChannel(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 0x1000000
	}
	return v
}

// decodePayload extracts the eight channel readings from a validated
// frame and scales them to microvolts.
func decodePayload(frame []byte, scale float64) []float64 {
	channels := make([]float64, NumChannels)
	for i := 0; i < NumChannels; i++ {
		off := PayloadPos + i*ChannelSize
		channels[i] = float64(DecodeChannel(frame[off:off+ChannelSize])) * scale
	}
	return channels
}

// EncodeFrame builds a wire frame from raw channel counts. Used by the
// mock board, fixture generators and tests; the daemon itself never
// encodes frames.
func EncodeFrame(counter byte, raw [NumChannels]int32) [FrameSize]byte {
	var frame [FrameSize]byte
	frame[0] = StartMarker
	frame[CounterPos] = counter
	for i, v := range raw {
		u := uint32(v) & 0xFFFFFF
		off := PayloadPos + i*ChannelSize
		frame[off] = byte(u >> 16)
		frame[off+1] = byte(u >> 8)
		frame[off+2] = byte(u)
	}
	frame[FrameSize-1] = EndMarker
	return frame
}

// EncodeMicrovolts is EncodeFrame with microvolt inputs, rounding each
// value to the nearest representable count at the given scale.
func EncodeMicrovolts(counter byte, uv [NumChannels]float64, scale float64) ([FrameSize]byte, error) {
	var raw [NumChannels]int32
	for i, v := range uv {
		count := int64(roundHalfAway(v / scale))
		if count > 0x7FFFFF || count < -0x800000 {
			return [FrameSize]byte{}, fmt.Errorf("channel %d value %.2f uV out of 24-bit range at scale %g", i+1, v, scale)
		}
		raw[i] = int32(count)
	}
	return EncodeFrame(counter, raw), nil
}

func roundHalfAway(v float64) float64 {
	if v < 0 {
		return float64(int64(v - 0.5))
	}
	return float64(int64(v + 0.5))
}
