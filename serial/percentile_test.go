package serial

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentileEstimatorFallbackBeforeAnySample(t *testing.T) {
	p := newPercentileEstimator()
	require.Equal(t, defaultThreshold, p.threshold())
}

func TestPercentileEstimatorIgnoresSamplesAboveIgnoreAbove(t *testing.T) {
	p := newPercentileEstimator()
	p.record(1.5) // above defaultIgnoreAbove (1.0s), dropped
	require.Equal(t, defaultThreshold, p.threshold())
}

func TestPercentileEstimatorMatchesSortedIndex(t *testing.T) {
	p := newPercentileEstimator()
	samples := []float64{
		0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.07, 0.08, 0.09, 0.10,
		0.11, 0.12, 0.13, 0.14, 0.15, 0.16, 0.17, 0.18, 0.19, 0.20,
	}
	for _, s := range samples {
		p.record(s)
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(float64(len(sorted))*defaultHeapRatio)) - 1
	want := sorted[idx]

	got := p.threshold()
	require.InDelta(t, want, got, 0.011, "percentile estimate should match the sorted index within one sample")
}

func TestPercentileEstimatorEvictsOldestBeyondQueueSize(t *testing.T) {
	p := newPercentileEstimator()
	p.queueSize = 5

	for i := 0; i < 5; i++ {
		p.record(0.01)
	}
	require.Equal(t, 0.01, p.threshold())

	// Pushing past capacity evicts the oldest sample; feeding a run of
	// larger values should eventually move the percentile upward.
	for i := 0; i < 5; i++ {
		p.record(0.5)
	}
	require.Greater(t, p.threshold(), 0.01)
}

func TestIsFedFastAcceptsBelowFixedThreshold(t *testing.T) {
	p := newPercentileEstimator()
	require.True(t, p.isFedFast(0.1))
	require.True(t, p.isFedFast(defaultThreshold))
}
