// Package eeg turns windows of calibrated multi-channel EEG samples into
// band-power decompositions and a composite affinity score.
//
// The analyzer is a pure per-call transform: it keeps no state between
// invocations, so concurrent analysis of overlapping windows needs no
// synchronization.
package eeg

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrWindowTooShort is returned when the window holds fewer samples
	// than MinWindowSamples requires.
	ErrWindowTooShort = errors.New("eeg: analysis window too short")
	// ErrMissingChannels is returned when the window lacks a channel the
	// montage designates.
	ErrMissingChannels = errors.New("eeg: montage references missing channel")
)

// Montage maps electrode roles to channel indices within a window. The
// default follows the board's standard 10-20 hookup: Fp1 Fp2 C3 C4 P7 P8
// O1 O2 for channels 1-8.
type Montage struct {
	LeftFrontal  int `json:"left_frontal"`
	RightFrontal int `json:"right_frontal"`
	LeftCentral  int `json:"left_central"`
	RightCentral int `json:"right_central"`
}

// DefaultMontage designates Fp1/Fp2 as the frontal pair and C3/C4 as the
// central pair.
func DefaultMontage() Montage {
	return Montage{LeftFrontal: 0, RightFrontal: 1, LeftCentral: 2, RightCentral: 3}
}

func (m Montage) validate(channels int) error {
	for _, idx := range []int{m.LeftFrontal, m.RightFrontal, m.LeftCentral, m.RightCentral} {
		if idx < 0 || idx >= channels {
			return fmt.Errorf("%w: index %d of %d channels", ErrMissingChannels, idx, channels)
		}
	}
	return nil
}

// ChannelNames labels window channels for reporting. Channels beyond the
// standard eight get generic names.
func ChannelNames(n int) []string {
	standard := []string{"Fp1", "Fp2", "C3", "C4", "P7", "P8", "O1", "O2"}
	names := make([]string, n)
	for i := range names {
		if i < len(standard) {
			names[i] = standard[i]
		} else {
			names[i] = fmt.Sprintf("Ch%d", i+1)
		}
	}
	return names
}

// Category is the discrete label for a score.
type Category string

const (
	CategoryHighAffinity   Category = "high_affinity"
	CategoryStrongInterest Category = "strong_interest"
	CategoryInterested     Category = "interested"
	CategoryNeutral        Category = "neutral"
	CategoryDisengaged     Category = "disengaged"
)

// CategoryFor maps a 0-100 score onto its label. Bucket lower bounds are
// inclusive.
func CategoryFor(score float64) Category {
	switch {
	case score >= 80:
		return CategoryHighAffinity
	case score >= 60:
		return CategoryStrongInterest
	case score >= 40:
		return CategoryInterested
	case score >= 20:
		return CategoryNeutral
	default:
		return CategoryDisengaged
	}
}

// Components holds the three normalized 0-100 sub-scores.
type Components struct {
	FAA     float64 `json:"frontal_asymmetry"`
	Arousal float64 `json:"arousal"`
	P300    float64 `json:"attention_p300"`
}

// RawValues holds the unnormalized metrics behind the sub-scores.
type RawValues struct {
	FAA     float64 `json:"faa"`
	Arousal float64 `json:"avg_arousal"`
	P300    float64 `json:"p300_amplitude"`
}

// Result is the composite outcome of analyzing one window.
type Result struct {
	Score      float64    `json:"score"`
	Category   Category   `json:"category"`
	Components Components `json:"components"`
	Raw        RawValues  `json:"raw_values"`
}

// Component weights for the composite score.
const (
	weightFAA     = 0.4
	weightArousal = 0.3
	weightP300    = 0.3
)

// Analyzer carries the fixed parameters of the analysis: sampling rate,
// montage, band table and broadband filter corners. It holds no mutable
// state; Analyze may be called from any goroutine.
type Analyzer struct {
	Rate    float64
	Montage Montage
	Bands   []Band
	// Broadband pre-filter corners in Hz.
	LowCut, HighCut float64
	// FilterOrder is the Butterworth prototype order.
	FilterOrder int
}

// NewAnalyzer returns an Analyzer with the standard bands, a 1-45 Hz
// 4th-order broadband filter and the given rate and montage.
func NewAnalyzer(rate float64, montage Montage) *Analyzer {
	return &Analyzer{
		Rate:        rate,
		Montage:     montage,
		Bands:       StandardBands,
		LowCut:      1,
		HighCut:     45,
		FilterOrder: 4,
	}
}

// MinWindowSamples is the smallest usable window: one full second, so the
// FFT bin spacing is at most 1 Hz and every band interval contains at
// least one bin.
func (a *Analyzer) MinWindowSamples() int {
	return int(math.Round(a.Rate))
}

// Analyze scores one window. The window is addressed channel-first:
// window[ch] is the ordered amplitude sequence for that channel. Inputs
// are not modified.
func (a *Analyzer) Analyze(window [][]float64) (*Result, error) {
	if err := a.Montage.validate(len(window)); err != nil {
		return nil, err
	}
	min := a.MinWindowSamples()
	for ch, seq := range window {
		if len(seq) < min {
			return nil, fmt.Errorf("%w: channel %d has %d samples, need %d", ErrWindowTooShort, ch+1, len(seq), min)
		}
	}

	broadband, err := designBandpass(a.FilterOrder, a.LowCut, a.HighCut, a.Rate)
	if err != nil {
		return nil, err
	}
	filtered := make([][]float64, len(window))
	for ch, seq := range window {
		filtered[ch] = broadband.applyZeroPhase(seq)
	}

	faa, err := a.frontalAlphaAsymmetry(
		filtered[a.Montage.LeftFrontal],
		filtered[a.Montage.RightFrontal],
	)
	if err != nil {
		return nil, err
	}

	arousal := a.arousal(filtered)

	p300 := (a.eventAmplitude(filtered[a.Montage.LeftCentral]) +
		a.eventAmplitude(filtered[a.Montage.RightCentral])) / 2

	faa = sanitize(faa)
	arousal = sanitize(arousal)
	p300 = sanitize(p300)

	comps := Components{
		FAA:     clamp(50+faa*100, 0, 100),
		Arousal: clamp(arousal/1000, 0, 100),
		P300:    clamp(p300*10, 0, 100),
	}
	score := weightFAA*comps.FAA + weightArousal*comps.Arousal + weightP300*comps.P300

	return &Result{
		Score:      score,
		Category:   CategoryFor(score),
		Components: comps,
		Raw:        RawValues{FAA: faa, Arousal: arousal, P300: p300},
	}, nil
}

// frontalAlphaAsymmetry narrows both frontal channels to the alpha band
// and returns ln(right power) - ln(left power). Zero when either power is
// non-positive, which guards the logarithm against degenerate input.
func (a *Analyzer) frontalAlphaAsymmetry(left, right []float64) (float64, error) {
	alpha, err := designBandpass(a.FilterOrder, 8, 12, a.Rate)
	if err != nil {
		return 0, err
	}
	leftPower := meanSquare(alpha.applyZeroPhase(left))
	rightPower := meanSquare(alpha.applyZeroPhase(right))
	if leftPower <= 0 || rightPower <= 0 {
		return 0, nil
	}
	return math.Log(rightPower) - math.Log(leftPower), nil
}

// arousal averages beta+gamma band power across all channels.
func (a *Analyzer) arousal(filtered [][]float64) float64 {
	if len(filtered) == 0 {
		return 0
	}
	total := 0.0
	for _, seq := range filtered {
		powers := bandPowers(seq, a.Rate, a.Bands)
		total += powers["beta"] + powers["gamma"]
	}
	return total / float64(len(filtered))
}

// eventAmplitude measures the event-locked response: the peak in the
// 250-400 ms post-onset window minus the mean of the preceding baseline.
// Zero when the sequence cannot contain the window.
func (a *Analyzer) eventAmplitude(seq []float64) float64 {
	start := int(math.Round(0.25 * a.Rate))
	end := int(math.Round(0.4 * a.Rate))
	if len(seq) <= end || start <= 0 || start >= end {
		return 0
	}
	peak := math.Inf(-1)
	for _, v := range seq[start:end] {
		if v > peak {
			peak = v
		}
	}
	baseline := 0.0
	for _, v := range seq[:start] {
		baseline += v
	}
	baseline /= float64(start)
	return peak - baseline
}

// BandSummary reports per-channel band power for the window after
// broadband filtering. Used by the frequency report endpoint.
func (a *Analyzer) BandSummary(window [][]float64) ([]BandPowerMap, error) {
	min := a.MinWindowSamples()
	for ch, seq := range window {
		if len(seq) < min {
			return nil, fmt.Errorf("%w: channel %d has %d samples, need %d", ErrWindowTooShort, ch+1, len(seq), min)
		}
	}
	broadband, err := designBandpass(a.FilterOrder, a.LowCut, a.HighCut, a.Rate)
	if err != nil {
		return nil, err
	}
	out := make([]BandPowerMap, len(window))
	for ch, seq := range window {
		out[ch] = bandPowers(broadband.applyZeroPhase(seq), a.Rate, a.Bands)
	}
	return out, nil
}

func meanSquare(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum / float64(len(x))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sanitize collapses NaN and infinities to the metric fallback of zero so
// a degenerate window cannot poison the composite score.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
