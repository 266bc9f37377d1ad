package confidence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScore_EmptyIsLowWithDistinctReason(t *testing.T) {
	r := Score(nil, DefaultThresholds)
	require.Equal(t, LevelLow, r.Level)
	require.Contains(t, r.Reason, "no supporting chunks")
}

func TestScore_HighRequiresTwoChunks(t *testing.T) {
	r := Score([]float64{0.9}, DefaultThresholds)
	require.Equal(t, LevelMedium, r.Level, "single chunk cannot reach high regardless of similarity")

	r2 := Score([]float64{0.9, 0.5}, DefaultThresholds)
	require.Equal(t, LevelHigh, r2.Level)
}

func TestScore_Monotonicity(t *testing.T) {
	low := Score([]float64{0.2, 0.2}, DefaultThresholds)
	mid := Score([]float64{0.45, 0.2}, DefaultThresholds)
	high := Score([]float64{0.7, 0.2}, DefaultThresholds)

	rank := map[Level]int{LevelLow: 0, LevelMedium: 1, LevelHigh: 2}
	require.LessOrEqual(t, rank[low.Level], rank[mid.Level])
	require.LessOrEqual(t, rank[mid.Level], rank[high.Level])
}

func TestScore_MediumOnSingleChunk(t *testing.T) {
	r := Score([]float64{0.1}, DefaultThresholds)
	require.Equal(t, LevelMedium, r.Level, "n==1 forces medium even with low similarity")
}
