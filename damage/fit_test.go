package damage

import (
	"errors"
	"math"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/stretchr/testify/require"
)

// syntheticProfile builds a profile whose 5' bucket d holds opps[d]
// opportunities and subs[d] substitutions.
func syntheticProfile(ref string, refLen int, subs, opps []int64) *Profile {
	prof := NewProfile(ref, refLen, len(opps))
	copy(prof.P5.Subs, subs)
	copy(prof.P5.Opps, opps)
	copy(prof.P3.Subs, subs)
	copy(prof.P3.Opps, opps)
	var total int64
	for _, n := range opps {
		total += n
	}
	prof.NReads = total / int64(len(opps))
	prof.AlignedBases = total
	return prof
}

// gradientCounts generates noise-free counts following
// rate(d) = floor + amp*decay^d with n opportunities per bucket.
func gradientCounts(wlen int, n int64, floor, amp, decay float64) (subs, opps []int64) {
	subs = make([]int64, wlen)
	opps = make([]int64, wlen)
	for d := 0; d < wlen; d++ {
		rate := floor + amp*math.Pow(decay, float64(d))
		opps[d] = n
		subs[d] = int64(math.Round(rate * float64(n)))
	}
	return
}

func TestFitStrongGradient(t *testing.T) {
	// ~40% substitution at distance 0 decaying to ~2% by distance 10.
	subs, opps := gradientCounts(15, 1000, 0.02, 0.38, 0.7)
	prof := syntheticProfile("strong", 10000, subs, opps)

	res, err := Fit(prof, GeometricModel{}, 50)
	require.NoError(t, err)
	require.True(t, res.PValue < 0.01, "pvalue=%v", res.PValue)
	require.True(t, res.Decay5 > 0.01, "decay=%v", res.Decay5)
	require.InDelta(t, 0.40, res.Amplitude5, 0.15)
	require.True(t, res.LRStat > 0)
	require.True(t, res.PValue >= 0 && res.PValue <= 1)
	// The mirrored 3' profile corroborates.
	require.True(t, res.Decay3 > 0.01)
}

func TestFitStrongGradientExponential(t *testing.T) {
	subs, opps := gradientCounts(15, 1000, 0.02, 0.38, 0.7)
	prof := syntheticProfile("strong", 10000, subs, opps)

	res, err := Fit(prof, ExponentialModel{}, 50)
	require.NoError(t, err)
	require.True(t, res.PValue < 0.01, "pvalue=%v", res.PValue)
	require.True(t, res.Decay5 > 0.01)
	assert.EQ(t, res.Model, "exponential")
}

func TestFitUniformRate(t *testing.T) {
	// Uniform ~1% substitution at every distance: no decay, not
	// significant.
	subs, opps := gradientCounts(15, 1000, 0.01, 0, 0)
	prof := syntheticProfile("flat", 10000, subs, opps)

	res, err := Fit(prof, GeometricModel{}, 50)
	require.NoError(t, err)
	require.True(t, res.PValue > 0.5, "pvalue=%v", res.PValue)
	require.InDelta(t, 0.01, res.NullRate, 1e-9)
}

func TestFitInsufficientData(t *testing.T) {
	// 3 total opportunities is far below any sane minimum-coverage
	// threshold.
	prof := syntheticProfile("tiny", 100, []int64{1, 0, 0}, []int64{1, 1, 1})

	_, err := Fit(prof, GeometricModel{}, 50)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	empty := NewProfile("empty", 100, 3)
	_, err = Fit(empty, GeometricModel{}, 0)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestFitResultInvariants(t *testing.T) {
	cases := []struct {
		name string
		subs []int64
		opps []int64
	}{
		{"zero substitutions", []int64{0, 0, 0, 0, 0}, []int64{100, 100, 100, 100, 100}},
		{"saturated", []int64{100, 100, 100, 100, 100}, []int64{100, 100, 100, 100, 100}},
		{"steep decay", []int64{50, 10, 2, 1, 0}, []int64{100, 100, 100, 100, 100}},
	}
	for _, c := range cases {
		prof := syntheticProfile("inv", 1000, c.subs, c.opps)
		res, err := Fit(prof, GeometricModel{}, 10)
		require.NoError(t, err, c.name)
		require.True(t, res.PValue >= 0 && res.PValue <= 1, c.name)
		require.True(t, res.Decay5 >= 0, c.name)
		require.True(t, res.Amplitude5 >= 0 && res.Amplitude5 <= 1, c.name)
		require.True(t, res.LRStat >= 0, c.name)
	}
}

func TestModelByName(t *testing.T) {
	m, err := ModelByName("")
	assert.NoError(t, err)
	assert.EQ(t, m.Name(), "geometric")
	m, err = ModelByName("exponential")
	assert.NoError(t, err)
	assert.EQ(t, m.Name(), "exponential")
	_, err = ModelByName("weibull")
	assert.NotNil(t, err)
}

func TestDecayModelRoundTrip(t *testing.T) {
	for _, m := range []DecayModel{GeometricModel{}, ExponentialModel{}} {
		theta := []float64{0.25, 0.1}
		got := m.FromRaw(m.ToRaw(theta))
		require.InDelta(t, theta[0], got[0], 1e-6)
		require.InDelta(t, theta[1], got[1], 1e-6)
		// Rate at distance 0 is the amplitude, and rates never increase
		// with distance.
		require.InDelta(t, theta[0], m.Rate(0, theta), 1e-12)
		prev := m.Rate(0, theta)
		for d := 1; d < 20; d++ {
			cur := m.Rate(d, theta)
			require.True(t, cur <= prev)
			prev = cur
		}
	}
}
