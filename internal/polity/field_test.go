package polity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldhistory/internal/entropy"
	"github.com/talgya/worldhistory/internal/invariant"
	"github.com/talgya/worldhistory/internal/world"
	"github.com/talgya/worldhistory/internal/world/worldtest"
)

// contest grows two polities from opposite corners of a grid for the given
// number of ten-day steps, checking the field after every step.
func contest(t *testing.T, seed int64, steps int) *Field {
	t.Helper()
	m := worldtest.Grid(8, 8, 1)
	f, err := NewField(DefaultConfig(), m, entropy.NewSource(seed))
	require.NoError(t, err)
	_, err = f.NewPolity("West", 0, 1.0)
	require.NoError(t, err)
	_, err = f.NewPolity("East", 63, 1.0)
	require.NoError(t, err)

	for step := 1; step <= steps; step++ {
		date := int64(step * 10)
		require.NoError(t, f.Update(date))
		for _, p := range f.Polities() {
			expandOnce(t, f, p.ID, date)
		}
		for _, u := range m.Units {
			require.LessOrEqual(t, f.UnitSum(u.ID), 1+1e-9, "unit %d at step %d", u.ID, step)
		}
		require.NoError(t, f.Validate(), "step %d", step)
	}
	return f
}

func expandOnce(t *testing.T, f *Field, id ID, date int64) {
	t.Helper()
	from, ok := f.RandomMember(id, entropy.OffsetExpansionMember, nil)
	if !ok {
		return
	}
	u := f.World().Units[from.Unit]
	edge := u.Edges[f.rng.Int(u.Key(), date, entropy.OffsetExpansionNeighbor, len(u.Edges))]
	if f.Entry(edge.To, id) != nil {
		return
	}
	value := math.Min(0.2, 1-f.UnitSum(edge.To))
	if value <= 0.02 {
		return
	}
	_, err := f.AddProminence(id, edge.To, value)
	require.NoError(t, err)
}

func TestUpdateLagFilter(t *testing.T) {
	f := newTestField(t, worldtest.Line(3, 2))
	p, err := f.NewPolity("A", 0, 1.0)
	require.NoError(t, err)
	_, err = f.AddProminence(p.ID, 1, 0.3)
	require.NoError(t, err)

	const date = 30
	cfg := f.Config()
	want := make(map[world.UnitID]float64)
	for _, uid := range []world.UnitID{0, 1} {
		u := f.World().Units[uid]
		e := f.Entry(uid, p.ID)
		noise := 1 - cfg.Noise*f.rng.Smooth(u.Key(), date, entropy.OffsetProminenceNoise)
		target, err := f.target(u, e, noise)
		require.NoError(t, err)
		lambda := 30.0 / (30.0 + cfg.TimeConstant)
		want[uid] = e.Value + (target-e.Value)*lambda
	}

	require.NoError(t, f.Update(date))
	for uid, v := range want {
		got, ok := f.Prominence(uid, p.ID)
		require.True(t, ok)
		assert.InDelta(t, v, got, 1e-12, "unit %d", uid)
	}
	assert.Equal(t, int64(date), f.LastUpdate())
	assert.Equal(t, int64(date), f.Date())
}

func TestUpdateWithoutElapsedTimeIsNoop(t *testing.T) {
	f := newTestField(t, worldtest.Line(3, 1))
	fillLine(t, f, 3)
	require.NoError(t, f.Update(50))
	before := f.State()

	require.NoError(t, f.Update(50))
	require.NoError(t, f.Update(40))
	assert.Equal(t, before, f.State())
}

func TestCutOffEntriesDecayAway(t *testing.T) {
	f := newTestField(t, worldtest.Line(3, 1))
	p := fillLine(t, f, 3)
	f.RemoveProminence(1, p.ID)
	require.True(t, math.IsInf(f.Entry(2, p.ID).CoreDistance, 1))

	require.NoError(t, f.Update(3000))
	assert.Nil(t, f.Entry(2, p.ID))
	assert.NotNil(t, f.Entry(0, p.ID))
	assert.Equal(t, 1, p.Entries())
}

func TestUpdateRejectsNonPositiveWeight(t *testing.T) {
	m := worldtest.Line(3, 1)
	f := newTestField(t, m)
	p := fillLine(t, f, 3)
	before := f.State()

	m.Units[1].Edges[0].Weight = -1
	err := f.Update(100)
	assert.ErrorIs(t, err, invariant.ErrViolation)

	v, _ := f.Prominence(2, p.ID)
	assert.Equal(t, 0.5, v)
	assert.Equal(t, before.Entries, f.State().Entries)
	assert.Equal(t, int64(0), f.LastUpdate())
}

func TestSumBoundOverManySteps(t *testing.T) {
	f := contest(t, 3, 150)
	assert.Len(t, f.Polities(), 2)
	for _, p := range f.Polities() {
		assert.Greater(t, p.Entries(), 1)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	a := contest(t, 11, 80)
	b := contest(t, 11, 80)
	assert.Equal(t, a.State(), b.State())

	c := contest(t, 12, 80)
	assert.NotEqual(t, a.State(), c.State())
}

func TestNewFieldRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSplitSize = cfg.MaxClusterSize
	_, err := NewField(cfg, worldtest.Line(1, 1), entropy.NewSource(1))
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.MergeBelow = cfg.MinSplitSize + 1
	_, err = NewField(cfg, worldtest.Line(1, 1), entropy.NewSource(1))
	assert.Error(t, err)
}
