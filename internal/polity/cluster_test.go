package polity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldhistory/internal/entropy"
	"github.com/talgya/worldhistory/internal/world"
	"github.com/talgya/worldhistory/internal/world/worldtest"
)

func clusterSizes(f *Field, id ID) []int {
	var out []int
	for _, c := range f.Clusters(id) {
		out = append(out, c.Len())
	}
	return out
}

func TestSplitOnOverflow(t *testing.T) {
	f := newTestField(t, worldtest.Line(51, 1))
	p := fillLine(t, f, 50)
	require.Len(t, f.Clusters(p.ID), 1)
	assert.Equal(t, 50, f.Clusters(p.ID)[0].Len())

	_, err := f.AddProminence(p.ID, 50, 0.5)
	require.NoError(t, err)

	clusters := f.Clusters(p.ID)
	require.Len(t, clusters, 2)
	total := 0
	for _, c := range clusters {
		assert.GreaterOrEqual(t, c.Len(), 25)
		assert.LessOrEqual(t, c.Len(), 50)
		total += c.Len()
	}
	assert.Equal(t, 51, total)
	assert.Equal(t, f.Entry(26, p.ID).Cluster, f.Entry(50, p.ID).Cluster)
	assert.NotEqual(t, f.Entry(0, p.ID).Cluster, f.Entry(50, p.ID).Cluster)
	assert.Equal(t, 2, f.Highs().Clusters)
	require.NoError(t, f.Validate())
}

func TestSplitOnBranchLeavesThreePieces(t *testing.T) {
	m := worldtest.Line(50, 1)
	branch := m.AddUnit(world.HexCoord{Q: 25, R: 1}, world.TerrainPlains)
	branch.Population = 100
	require.NoError(t, m.Connect(25, branch.ID, 1))

	f := newTestField(t, m)
	p := fillLine(t, f, 50)
	_, err := f.AddProminence(p.ID, branch.ID, 0.5)
	require.NoError(t, err)

	// Migration from the branch takes the middle of the line, so the rest
	// falls into two pieces, each smaller than MinSplitSize.
	assert.ElementsMatch(t, []int{13, 25, 13}, clusterSizes(f, p.ID))
	mid := f.Entry(branch.ID, p.ID).Cluster
	for u := world.UnitID(13); u <= 36; u++ {
		assert.Equal(t, mid, f.Entry(u, p.ID).Cluster, "unit %d", u)
	}
	assert.NotEqual(t, f.Entry(0, p.ID).Cluster, f.Entry(49, p.ID).Cluster)
	require.NoError(t, f.CheckContiguity())
	require.NoError(t, f.Validate())
}

func TestEveryEntryInExactlyOneCluster(t *testing.T) {
	f := newTestField(t, worldtest.Grid(12, 12, 1))
	p, err := f.NewPolity("Grid", 0, 1.0)
	require.NoError(t, err)
	for u := 1; u < 144; u++ {
		_, err := f.AddProminence(p.ID, world.UnitID(u), 0.4)
		require.NoError(t, err)
	}

	seen := make(map[world.UnitID]ClusterID)
	for _, c := range f.Clusters(p.ID) {
		for _, u := range c.Members() {
			_, dup := seen[u]
			require.False(t, dup, "unit %d in two clusters", u)
			seen[u] = c.ID
			assert.Equal(t, c.ID, f.Entry(u, p.ID).Cluster)
		}
	}
	assert.Len(t, seen, 144)
	require.NoError(t, f.Validate())
}

func TestRemovalKeepsClustersContiguous(t *testing.T) {
	f := newTestField(t, worldtest.Line(51, 1))
	p := fillLine(t, f, 51)

	f.RemoveProminence(10, p.ID)
	require.NoError(t, f.Validate())
	assert.NotEqual(t, f.Entry(9, p.ID).Cluster, f.Entry(11, p.ID).Cluster)
	assert.ElementsMatch(t, []int{10, 15, 25}, clusterSizes(f, p.ID))

	f.RemoveProminence(40, p.ID)
	require.NoError(t, f.CheckContiguity())
	require.NoError(t, f.Validate())
	assert.ElementsMatch(t, []int{10, 15, 14, 10}, clusterSizes(f, p.ID))
}

func TestUndersizedPieceMergesIntoNeighbour(t *testing.T) {
	f := newTestField(t, worldtest.Line(51, 1))
	p := fillLine(t, f, 51)
	east := f.Entry(26, p.ID).Cluster

	// Cuts unit 25 off the western cluster; alone it falls under the merge
	// threshold and joins the eastern cluster it touches.
	f.RemoveProminence(24, p.ID)
	require.NoError(t, f.Validate())
	assert.Equal(t, east, f.Entry(25, p.ID).Cluster)
	assert.ElementsMatch(t, []int{24, 26}, clusterSizes(f, p.ID))
}

func TestMergeDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeBelow = 0
	f, err := NewField(cfg, worldtest.Line(51, 1), entropy.NewSource(42))
	require.NoError(t, err)
	p := fillLine(t, f, 51)

	f.RemoveProminence(24, p.ID)
	require.NoError(t, f.Validate())
	assert.ElementsMatch(t, []int{24, 1, 25}, clusterSizes(f, p.ID))
}

func TestCensusMatchesFromScratch(t *testing.T) {
	m := worldtest.Grid(10, 10, 1.5)
	for _, u := range m.Units {
		u.Population = float64(50 + int(u.ID)*3)
	}
	f := newTestField(t, m)
	p, err := f.NewPolity("Grid", 0, 1.0)
	require.NoError(t, err)
	for u := 1; u < 100; u++ {
		_, err := f.AddProminence(p.ID, world.UnitID(u), 0.2+float64(u%7)/10)
		require.NoError(t, err)
	}
	_, err = f.AddFaction(p.ID, "Far", 99, 0.3)
	require.NoError(t, err)
	f.RemoveProminence(45, p.ID)
	f.RemoveProminence(46, p.ID)

	got, err := f.RunCensus(p.ID)
	require.NoError(t, err)

	var want Census
	cfg := f.Config()
	for _, c := range f.Clusters(p.ID) {
		assert.False(t, c.NeedsCensus())
		for _, uid := range c.Members() {
			e := f.Entry(uid, p.ID)
			u := m.Units[uid]
			want.Population += u.Population * e.Value
			want.AdminCost += u.Population * e.Value * (cfg.AdminBase + e.FactionDistance) * cfg.AdminScale
			want.Area += u.Area
			want.Prominence += e.Value
			want.Entries++
		}
		want.Clusters++
	}
	assert.InDelta(t, want.Population, got.Population, 1e-6)
	assert.InDelta(t, want.AdminCost, got.AdminCost, 1e-6)
	assert.InDelta(t, want.Area, got.Area, 1e-9)
	assert.InDelta(t, want.Prominence, got.Prominence, 1e-9)
	assert.Equal(t, want.Entries, got.Entries)
	assert.Equal(t, want.Clusters, got.Clusters)
	assert.Equal(t, got, p.Census())
}

func TestCensusIsLazy(t *testing.T) {
	f := newTestField(t, worldtest.Line(51, 1))
	p := fillLine(t, f, 51)
	_, err := f.RunCensus(p.ID)
	require.NoError(t, err)

	west := f.Cluster(f.Entry(0, p.ID).Cluster)
	east := f.Cluster(f.Entry(50, p.ID).Cluster)
	require.False(t, west.NeedsCensus())
	require.False(t, east.NeedsCensus())

	f.World().Units[50].Population = 1000
	f.TouchUnit(50)
	assert.False(t, west.NeedsCensus())
	assert.True(t, east.NeedsCensus())

	before := west.Census()
	got, err := f.RunCensus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, west.Census())
	assert.InDelta(t, 100*1.0+49*100*0.5+1000*0.5, got.Population, 1e-9)
	assert.Equal(t, got.Population, f.Highs().Population)
}

func TestCensusUnknownPolity(t *testing.T) {
	f := newTestField(t, worldtest.Line(2, 1))
	_, err := f.RunCensus(7)
	assert.Error(t, err)
}

func TestRandomMemberIsDeterministic(t *testing.T) {
	f := newTestField(t, worldtest.Grid(10, 10, 1))
	p, err := f.NewPolity("Grid", 0, 1.0)
	require.NoError(t, err)
	for u := 1; u < 100; u++ {
		_, err := f.AddProminence(p.ID, world.UnitID(u), 0.5)
		require.NoError(t, err)
	}

	picked := make(map[world.UnitID]bool)
	for date := int64(0); date < 200; date++ {
		f.SetDate(date)
		a, ok := f.RandomMember(p.ID, 300, nil)
		require.True(t, ok)
		b, _ := f.RandomMember(p.ID, 300, nil)
		assert.Same(t, a, b)
		picked[a.Unit] = true
	}
	assert.Greater(t, len(picked), 40)
}

func TestRandomMemberWeighted(t *testing.T) {
	f := newTestField(t, worldtest.Line(10, 1))
	p := fillLine(t, f, 10)

	only7 := func(e *Entry) float64 {
		if e.Unit == 7 {
			return 2
		}
		return 0
	}
	for date := int64(0); date < 50; date++ {
		f.SetDate(date)
		e, ok := f.RandomMember(p.ID, 300, only7)
		require.True(t, ok)
		assert.Equal(t, world.UnitID(7), e.Unit)
	}

	_, ok := f.RandomMember(p.ID+1, 300, nil)
	assert.False(t, ok)
}
