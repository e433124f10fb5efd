package eeg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 250.0

// sine builds n samples of a sine at freq Hz with the given amplitude.
func sine(n int, freq, amplitude, rate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func zeros(n int) []float64 { return make([]float64, n) }

func TestCategoryBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Category
	}{
		{100, CategoryHighAffinity},
		{80, CategoryHighAffinity},
		{79.999, CategoryStrongInterest},
		{60, CategoryStrongInterest},
		{59.999, CategoryInterested},
		{40, CategoryInterested},
		{39.999, CategoryNeutral},
		{20, CategoryNeutral},
		{19.999, CategoryDisengaged},
		{0, CategoryDisengaged},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CategoryFor(tc.score), "score %v", tc.score)
	}
}

func TestBandpassPassesInBandRejectsOutOfBand(t *testing.T) {
	f, err := designBandpass(4, 1, 45, testRate)
	require.NoError(t, err)

	n := 5 * int(testRate)
	inBand := f.applyZeroPhase(sine(n, 10, 1, testRate))
	outOfBand := f.applyZeroPhase(sine(n, 60, 1, testRate))

	// Compare steady-state power, skipping the edge transients.
	mid := func(x []float64) float64 { return meanSquare(x[n/4 : 3*n/4]) }
	assert.InDelta(t, 0.5, mid(inBand), 0.05, "10 Hz should pass at near unity gain (0.5 = sine mean square)")
	assert.Less(t, mid(outOfBand), 0.01, "60 Hz should be strongly attenuated")
	assert.Less(t, mid(outOfBand), mid(inBand)/25)
}

func TestBandpassRemovesDC(t *testing.T) {
	f, err := designBandpass(4, 1, 45, testRate)
	require.NoError(t, err)
	// The bandpass places N zeros at z=1, so the DC gain sum(b)/sum(a)
	// must vanish.
	var sb, sa float64
	for _, v := range f.b {
		sb += v
	}
	for _, v := range f.a {
		sa += v
	}
	assert.Less(t, math.Abs(sb/sa), 1e-8)
}

func TestDesignBandpassValidation(t *testing.T) {
	_, err := designBandpass(4, 0, 45, testRate)
	assert.Error(t, err, "zero low corner")
	_, err = designBandpass(4, 45, 45, testRate)
	assert.Error(t, err, "empty passband")
	_, err = designBandpass(4, 1, 130, testRate)
	assert.Error(t, err, "corner above Nyquist")
	_, err = designBandpass(0, 1, 45, testRate)
	assert.Error(t, err, "zero order")
}

func TestBandPowersLocatesSine(t *testing.T) {
	x := sine(int(testRate)*2, 10, 30, testRate)
	powers := bandPowers(x, testRate, StandardBands)
	require.Len(t, powers, len(StandardBands))
	for _, b := range StandardBands {
		if b.Name == "alpha" {
			continue
		}
		assert.Less(t, powers[b.Name], powers["alpha"],
			"alpha power should dominate for a 10 Hz sine, %s did not", b.Name)
	}
}

func TestBandPowersDeterministic(t *testing.T) {
	x := sine(1250, 17, 12, testRate)
	first := bandPowers(x, testRate, StandardBands)
	second := bandPowers(x, testRate, StandardBands)
	assert.Equal(t, first, second)
}

func TestBandPowersEmptyBand(t *testing.T) {
	// 10 samples at 250 Hz: bin spacing 25 Hz, so nothing lands in delta
	// through alpha.
	powers := bandPowers(sine(10, 10, 1, testRate), testRate, StandardBands)
	assert.Zero(t, powers["delta"])
	assert.Zero(t, powers["alpha"])
}

func TestBandPowersDegenerateInput(t *testing.T) {
	powers := bandPowers(nil, testRate, StandardBands)
	for _, b := range StandardBands {
		assert.Zero(t, powers[b.Name])
	}
}

func fiveSecondWindow(channels int) [][]float64 {
	n := 5 * int(testRate)
	window := make([][]float64, channels)
	for i := range window {
		window[i] = zeros(n)
	}
	return window
}

func TestAnalyzeWindowTooShort(t *testing.T) {
	a := NewAnalyzer(testRate, DefaultMontage())
	window := fiveSecondWindow(8)
	window[4] = zeros(10)
	_, err := a.Analyze(window)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWindowTooShort)
}

func TestAnalyzeMissingChannels(t *testing.T) {
	a := NewAnalyzer(testRate, DefaultMontage())
	_, err := a.Analyze(fiveSecondWindow(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingChannels)

	a.Montage.RightCentral = -1
	_, err = a.Analyze(fiveSecondWindow(8))
	assert.ErrorIs(t, err, ErrMissingChannels)
}

func TestAnalyzeAllZeroWindow(t *testing.T) {
	a := NewAnalyzer(testRate, DefaultMontage())
	res, err := a.Analyze(fiveSecondWindow(8))
	require.NoError(t, err)

	// Zero input: FAA falls back to 0 (both log guards trip), arousal and
	// P300 are 0, so the score is the FAA midpoint contribution alone.
	assert.Zero(t, res.Raw.FAA)
	assert.Zero(t, res.Raw.Arousal)
	assert.Zero(t, res.Raw.P300)
	assert.InDelta(t, 50.0, res.Components.FAA, 1e-9)
	assert.InDelta(t, weightFAA*50, res.Score, 1e-9)
	assert.Equal(t, CategoryNeutral, res.Category)
}

func TestAnalyzeDegenerateValuesSanitized(t *testing.T) {
	a := NewAnalyzer(testRate, DefaultMontage())
	window := fiveSecondWindow(8)
	for i := range window[0] {
		window[0][i] = math.NaN()
	}
	res, err := a.Analyze(window)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(res.Score), "NaN leaked into the score")
	assert.False(t, math.IsInf(res.Score, 0))
}

// TestAnalyzeFrontalAsymmetryScenario is the fixed-point regression from
// the analysis design: a 5 s, 250 Hz, 8-channel window whose frontal
// channels carry 10 Hz alpha with right:left power ratio 1:2. The right
// channel is the same waveform scaled by 1/sqrt(2), so the filtered power
// ratio is exactly 1:2 and FAA = ln(1/2). The FAA sub-score clamps to 0
// and everything else is quiet, so the final score is ~0.
func TestAnalyzeFrontalAsymmetryScenario(t *testing.T) {
	n := 5 * int(testRate)
	window := fiveSecondWindow(8)
	left := sine(n, 10, 20, testRate)
	right := make([]float64, n)
	for i, v := range left {
		right[i] = v / math.Sqrt2
	}
	window[0] = left
	window[1] = right

	a := NewAnalyzer(testRate, DefaultMontage())
	res, err := a.Analyze(window)
	require.NoError(t, err)

	assert.InDelta(t, math.Log(0.5), res.Raw.FAA, 1e-9,
		"scaled copies must give an exact power ratio through the linear filter")
	assert.Zero(t, res.Components.FAA, "negative FAA clamps to zero")
	assert.Zero(t, res.Components.P300, "central channels are flat")
	assert.Less(t, res.Score, 20.0)
	assert.Equal(t, CategoryDisengaged, res.Category)
}

func TestAnalyzePositiveAsymmetry(t *testing.T) {
	n := 5 * int(testRate)
	window := fiveSecondWindow(8)
	right := sine(n, 10, 20, testRate)
	left := make([]float64, n)
	for i, v := range right {
		left[i] = v / 2
	}
	window[0] = left
	window[1] = right

	a := NewAnalyzer(testRate, DefaultMontage())
	res, err := a.Analyze(window)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), res.Raw.FAA, 1e-9)
	assert.InDelta(t, clamp(50+100*math.Log(4), 0, 100), res.Components.FAA, 1e-9)
}

func TestAnalyzePure(t *testing.T) {
	n := 5 * int(testRate)
	window := fiveSecondWindow(8)
	for ch := range window {
		window[ch] = sine(n, float64(5+ch*3), 15, testRate)
	}
	a := NewAnalyzer(testRate, DefaultMontage())
	first, err := a.Analyze(window)
	require.NoError(t, err)
	second, err := a.Analyze(window)
	require.NoError(t, err)
	assert.Equal(t, first, second, "analyze must be a pure function of its inputs")
}

func TestEventAmplitude(t *testing.T) {
	a := NewAnalyzer(testRate, DefaultMontage())

	// Flat baseline with a spike inside the 250-400 ms window.
	seq := zeros(2 * int(testRate))
	spikeAt := int(0.3 * testRate)
	seq[spikeAt] = 12.5
	assert.InDelta(t, 12.5, a.eventAmplitude(seq), 1e-12)

	// Sequence too short to contain the window.
	assert.Zero(t, a.eventAmplitude(zeros(int(0.3*testRate))))
}

func TestEventAmplitudeBaselineSubtracted(t *testing.T) {
	a := NewAnalyzer(testRate, DefaultMontage())
	seq := zeros(2 * int(testRate))
	start := int(math.Round(0.25 * testRate))
	for i := 0; i < start; i++ {
		seq[i] = 2.0
	}
	seq[int(0.3*testRate)] = 10
	assert.InDelta(t, 8.0, a.eventAmplitude(seq), 1e-12)
}

func TestBandSummary(t *testing.T) {
	n := 5 * int(testRate)
	window := fiveSecondWindow(8)
	window[6] = sine(n, 10, 25, testRate) // O1 carrying alpha

	a := NewAnalyzer(testRate, DefaultMontage())
	summary, err := a.BandSummary(window)
	require.NoError(t, err)
	require.Len(t, summary, 8)
	assert.Greater(t, summary[6]["alpha"], summary[6]["beta"])
	assert.Greater(t, summary[6]["alpha"], summary[0]["alpha"])
}

func TestChannelNames(t *testing.T) {
	names := ChannelNames(16)
	assert.Equal(t, "Fp1", names[0])
	assert.Equal(t, "O2", names[7])
	assert.Equal(t, "Ch9", names[8])
	assert.Equal(t, "Ch16", names[15])
}

func TestMinWindowSamples(t *testing.T) {
	a := NewAnalyzer(testRate, DefaultMontage())
	assert.Equal(t, 250, a.MinWindowSamples())
}
