package eeg

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// Band is a closed frequency interval in Hz.
type Band struct {
	Name string
	Low  float64
	High float64
}

// StandardBands are the canonical EEG frequency bands used throughout
// the analysis pipeline.
var StandardBands = []Band{
	{"delta", 0.5, 4},
	{"theta", 4, 8},
	{"alpha", 8, 12},
	{"beta", 12, 30},
	{"gamma", 30, 45},
}

// BandPowerMap maps band name to a non-negative power estimate.
type BandPowerMap map[string]float64

// bandPowers computes per-band spectral power for one channel sequence.
// Power is the squared magnitude of the unnormalized DFT, averaged over
// the positive-frequency bins whose frequency lies within the band's
// closed interval. DC and the Nyquist image are excluded. A band with no
// bins in range reports zero.
func bandPowers(x []float64, rate float64, bands []Band) BandPowerMap {
	out := make(BandPowerMap, len(bands))
	for _, b := range bands {
		out[b.Name] = 0
	}
	n := len(x)
	if n < 2 {
		return out
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, x)

	type acc struct {
		sum   float64
		count int
	}
	sums := make([]acc, len(bands))
	for i := 1; i < len(coeffs); i++ {
		if n%2 == 0 && i == n/2 {
			// Even-length input: the last coefficient is the Nyquist
			// bin, which the positive-frequency mask excludes.
			continue
		}
		f := fft.Freq(i) * rate
		power := real(coeffs[i])*real(coeffs[i]) + imag(coeffs[i])*imag(coeffs[i])
		for bi, b := range bands {
			if f >= b.Low && f <= b.High {
				sums[bi].sum += power
				sums[bi].count++
			}
		}
	}
	for bi, b := range bands {
		if sums[bi].count > 0 {
			out[b.Name] = sums[bi].sum / float64(sums[bi].count)
		}
	}
	return out
}
