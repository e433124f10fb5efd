package eeg

import (
	"fmt"
	"math"
	"math/cmplx"
)

// butterworth holds a designed IIR filter as transfer-function
// coefficients. b and a have equal length and a[0] == 1.
type butterworth struct {
	b, a []float64
}

// designBandpass builds an order-N Butterworth bandpass filter for the
// given corner frequencies in Hz at the given sampling rate. The design
// follows the classic analog-prototype route: lowpass prototype poles,
// lowpass-to-bandpass transform, bilinear transform with frequency
// pre-warping. The resulting digital filter has 2N poles.
func designBandpass(order int, lowHz, highHz, rate float64) (*butterworth, error) {
	nyq := rate / 2
	if order < 1 {
		return nil, fmt.Errorf("filter order %d out of range", order)
	}
	if lowHz <= 0 || highHz <= lowHz || highHz >= nyq {
		return nil, fmt.Errorf("passband %g-%g Hz invalid for %g Hz sampling", lowHz, highHz, rate)
	}

	// Pre-warp the normalized corner frequencies for the bilinear
	// transform (internal sampling constant of 2).
	const fs = 2.0
	warpLo := 2 * fs * math.Tan(math.Pi*(lowHz/nyq)/fs)
	warpHi := 2 * fs * math.Tan(math.Pi*(highHz/nyq)/fs)

	// Analog lowpass prototype: poles evenly spaced on the unit
	// half-circle, no zeros, unity gain.
	poles := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		theta := math.Pi * float64(m) / (2 * float64(order))
		poles = append(poles, -cmplx.Exp(complex(0, theta)))
	}
	gain := 1.0

	// Lowpass to bandpass: each prototype pole splits into a pair; N
	// zeros appear at the origin.
	bw := warpHi - warpLo
	w0 := complex(math.Sqrt(warpLo*warpHi), 0)
	bpPoles := make([]complex128, 0, 2*order)
	for _, p := range poles {
		ps := p * complex(bw/2, 0)
		d := cmplx.Sqrt(ps*ps - w0*w0)
		bpPoles = append(bpPoles, ps+d, ps-d)
	}
	bpZeros := make([]complex128, order) // zeros at s = 0
	gain *= math.Pow(bw, float64(order))

	// Bilinear transform to the z-domain.
	fs2 := complex(2*fs, 0)
	zPoles := make([]complex128, len(bpPoles))
	zZeros := make([]complex128, 0, len(bpPoles))
	num := complex(1, 0)
	den := complex(1, 0)
	for i, p := range bpPoles {
		zPoles[i] = (fs2 + p) / (fs2 - p)
		den *= fs2 - p
	}
	for _, z := range bpZeros {
		zZeros = append(zZeros, (fs2+z)/(fs2-z))
		num *= fs2 - z
	}
	// The analog transfer function has N fewer zeros than poles; those
	// map to z = -1.
	for len(zZeros) < len(zPoles) {
		zZeros = append(zZeros, -1)
	}
	gain *= real(num / den)

	b := polynomial(zZeros)
	a := polynomial(zPoles)
	fb := make([]float64, len(b))
	fa := make([]float64, len(a))
	for i := range b {
		fb[i] = gain * real(b[i])
		fa[i] = real(a[i])
	}
	return &butterworth{b: fb, a: fa}, nil
}

// polynomial expands a monic polynomial from its roots.
func polynomial(roots []complex128) []complex128 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}
	return coeffs
}

// apply runs the filter over x in a single forward pass (direct form II
// transposed).
func (f *butterworth) apply(x []float64) []float64 {
	n := len(f.b)
	state := make([]float64, n-1)
	y := make([]float64, len(x))
	for i, xi := range x {
		yi := f.b[0]*xi + state[0]
		for j := 1; j < n-1; j++ {
			state[j-1] = f.b[j]*xi + state[j] - f.a[j]*yi
		}
		state[n-2] = f.b[n-1]*xi - f.a[n-1]*yi
		y[i] = yi
	}
	return y
}

// applyZeroPhase runs the filter forward then backward, cancelling phase
// delay at the cost of squaring the magnitude response.
func (f *butterworth) applyZeroPhase(x []float64) []float64 {
	y := f.apply(x)
	reverse(y)
	y = f.apply(y)
	reverse(y)
	return y
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
