package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldhistory/internal/config"
	"github.com/talgya/worldhistory/internal/engine"
	"github.com/talgya/worldhistory/internal/world"
)

func newTestSim(t *testing.T) (*config.Config, *engine.Simulation) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Derived.Gen = world.SmallTestConfig()
	cfg.SetSeed(11)
	cfg.World.Founders = 2
	sim, err := engine.Generate(cfg)
	require.NoError(t, err)
	_, err = sim.Step(60)
	require.NoError(t, err)
	return cfg, sim
}

func TestNilOutputManagerIsNoop(t *testing.T) {
	om, err := NewOutputManager("")
	require.NoError(t, err)
	assert.Nil(t, om)

	assert.NoError(t, om.WriteCensus([]CensusRow{{Date: 1}}))
	assert.NoError(t, om.WriteWorld(WorldRow{Date: 1}))
	assert.NoError(t, om.WriteConfig(nil))
	assert.Equal(t, "", om.Dir())
	assert.NoError(t, om.Close())
}

func TestClusterSizeStats(t *testing.T) {
	assert.Equal(t, SizeStats{}, ClusterSizeStats(nil))

	one := ClusterSizeStats([]float64{7})
	assert.Equal(t, 7.0, one.Mean)
	assert.Equal(t, 0.0, one.Std)
	assert.Equal(t, 7.0, one.P90)

	s := ClusterSizeStats([]float64{50, 10, 30, 20, 40})
	assert.InDelta(t, 30.0, s.Mean, 1e-9)
	assert.InDelta(t, 15.811388, s.Std, 1e-6)
	assert.Equal(t, 30.0, s.P50)
	assert.Equal(t, 50.0, s.P90)
}

func TestCollect(t *testing.T) {
	_, sim := newTestSim(t)

	rows, w := Collect(sim)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(60), w.Date)
	assert.Equal(t, 2, w.Polities)

	entries, clusters := 0, 0
	for _, r := range rows {
		assert.Equal(t, int64(60), r.Date)
		assert.NotEmpty(t, r.Name)
		assert.Positive(t, r.Population)
		assert.Positive(t, r.Prominence)
		entries += r.Entries
		clusters += r.Clusters
	}
	assert.Equal(t, w.Entries, entries)
	assert.Equal(t, w.Clusters, clusters)
	assert.Positive(t, w.ClusterSizeMean)
}

func TestWriteCensusAppends(t *testing.T) {
	cfg, sim := newTestSim(t)
	dir := filepath.Join(t.TempDir(), "out")
	om, err := NewOutputManager(dir)
	require.NoError(t, err)

	require.NoError(t, om.WriteConfig(cfg))
	rows, w := Collect(sim)
	require.NoError(t, om.WriteCensus(rows))
	require.NoError(t, om.WriteWorld(w))

	_, err = sim.Step(30)
	require.NoError(t, err)
	rows2, w2 := Collect(sim)
	require.NoError(t, om.WriteCensus(rows2))
	require.NoError(t, om.WriteWorld(w2))
	require.NoError(t, om.Close())

	data, err := os.ReadFile(filepath.Join(dir, "census.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "polity,name"))

	var got []CensusRow
	require.NoError(t, gocsv.UnmarshalBytes(data, &got))
	assert.Len(t, got, len(rows)+len(rows2))

	var worlds []WorldRow
	wdata, err := os.ReadFile(filepath.Join(dir, "world.csv"))
	require.NoError(t, err)
	require.NoError(t, gocsv.UnmarshalBytes(wdata, &worlds))
	require.Len(t, worlds, 2)
	assert.Equal(t, int64(60), worlds[0].Date)
	assert.Equal(t, int64(90), worlds[1].Date)

	reloaded, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, cfg.World.Seed, reloaded.World.Seed)
}
