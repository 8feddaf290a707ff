package dice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategorize_TierBoundaries(t *testing.T) {
	cases := []struct {
		roll int
		want Outcome
	}{
		{1, CriticalFailure},
		{2, CriticalFailure},
		{3, Failure},
		{7, Failure},
		{8, Neutral},
		{13, Neutral},
		{14, Success},
		{18, Success},
		{19, CriticalSuccess},
		{20, CriticalSuccess},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Categorize(tc.roll), "roll=%d", tc.roll)
	}
}

func TestNewRollerWithSource_NilSource(t *testing.T) {
	_, err := NewRollerWithSource(nil)
	require.Error(t, err)
}

func TestRoll_ScriptedSource(t *testing.T) {
	next := 0
	r, err := NewRollerWithSource(func(n int) int {
		require.Equal(t, 20, n)
		v := next
		next++
		return v
	})
	require.NoError(t, err)

	for want := 1; want <= 20; want++ {
		res := r.Roll()
		require.Equal(t, want, res.Roll)
		require.Equal(t, Categorize(want), res.Outcome)
	}
}

func TestRoll_RangeAndConsistency(t *testing.T) {
	r := NewRoller()
	seen := map[int]bool{}
	for i := 0; i < 10000; i++ {
		res := r.Roll()
		require.GreaterOrEqual(t, res.Roll, 1)
		require.LessOrEqual(t, res.Roll, 20)
		require.Equal(t, Categorize(res.Roll), res.Outcome)
		seen[res.Roll] = true
	}
	// 10k uniform draws hit every face in practice.
	require.Len(t, seen, 20)
}
