package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntIsPure(t *testing.T) {
	a := NewSource(42)
	b := NewSource(42)
	key := Key{X: 7, Y: -3}

	for date := int64(0); date < 200; date++ {
		v := a.Int(key, date, OffsetUnitGrowth, 1000)
		assert.Equal(t, v, a.Int(key, date, OffsetUnitGrowth, 1000), "same source, same inputs")
		assert.Equal(t, v, b.Int(key, date, OffsetUnitGrowth, 1000), "fresh source, same seed")
	}
}

func TestIntRange(t *testing.T) {
	src := NewSource(7)
	for i := 0; i < 5000; i++ {
		v := src.Int(Key{X: int32(i % 31), Y: int32(i / 31)}, int64(i), OffsetExpansionNeighbor, 6)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 6)
	}
}

func TestIntSmallMaxShortCircuits(t *testing.T) {
	src := NewSource(1)
	for _, max := range []int{-5, 0, 1} {
		assert.Equal(t, 0, src.Int(Key{X: 3, Y: 4}, 99, OffsetUnitGrowth, max))
	}
}

func TestOffsetsSeparateDraws(t *testing.T) {
	src := NewSource(99)
	key := Key{X: 2, Y: 2}
	same := 0
	for date := int64(0); date < 500; date++ {
		if src.Int(key, date, OffsetUnitGrowth, 1<<30) == src.Int(key, date, OffsetUnitUpdateSpan, 1<<30) {
			same++
		}
	}
	assert.Less(t, same, 3)
}

func TestSeedsDiffer(t *testing.T) {
	a := NewSource(1)
	b := NewSource(2)
	diff := 0
	for i := int64(0); i < 100; i++ {
		if a.Float(Key{X: 1, Y: 1}, i, OffsetUnitGrowth) != b.Float(Key{X: 1, Y: 1}, i, OffsetUnitGrowth) {
			diff++
		}
	}
	assert.Greater(t, diff, 95)
}

func TestFloatAndSmoothRange(t *testing.T) {
	src := NewSource(3)
	sum := 0.0
	const n = 4000
	for i := 0; i < n; i++ {
		key := Key{X: int32(i % 50), Y: int32(i / 50)}
		f := src.Float(key, int64(i), OffsetProminenceNoise)
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)
		sum += f

		s := src.Smooth(key, int64(i), OffsetProminenceNoise)
		require.GreaterOrEqual(t, s, 0.0)
		require.Less(t, s, 1.0)
	}
	assert.InDelta(t, 0.5, sum/n, 0.05)
}

func TestValidateOffsets(t *testing.T) {
	require.NoError(t, ValidateOffsets(CallSites))

	tests := []struct {
		name  string
		sites []CallSite
	}{
		{"overlap", []CallSite{{Name: "a", Base: 10, Span: 5}, {Name: "b", Base: 12, Span: 1}}},
		{"duplicate name", []CallSite{{Name: "a", Base: 10, Span: 1}, {Name: "a", Base: 20, Span: 1}}},
		{"same base", []CallSite{{Name: "a", Base: 10, Span: 1}, {Name: "b", Base: 10, Span: 1}}},
		{"zero span", []CallSite{{Name: "a", Base: 10, Span: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateOffsets(tt.sites))
		})
	}
}
