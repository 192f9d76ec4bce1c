package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldhistory/internal/config"
	"github.com/talgya/worldhistory/internal/engine"
	"github.com/talgya/worldhistory/internal/world"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "world.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Derived.Gen = world.SmallTestConfig()
	cfg.SetSeed(17)
	cfg.World.Founders = 3
	cfg.Schedule.FactionArea = 8
	return cfg
}

func TestEmptyDatabaseHasNoWorld(t *testing.T) {
	db := openTestDB(t)
	assert.False(t, db.HasWorldState())
	_, err := db.LoadWorldState()
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	sim, err := engine.Generate(cfg)
	require.NoError(t, err)
	_, err = sim.Step(500)
	require.NoError(t, err)

	db := openTestDB(t)
	require.NoError(t, db.SaveWorldState(sim))
	assert.True(t, db.HasWorldState())

	want := sim.State()
	loaded, err := db.LoadWorldState()
	require.NoError(t, err)
	assert.Equal(t, want.Seed, loaded.Seed)
	assert.Equal(t, want.Date, loaded.Date)
	assert.Equal(t, want.Gen, loaded.Gen)
	assert.Equal(t, want.Units, loaded.Units)
	assert.Equal(t, want.Events, loaded.Events)
	assert.Equal(t, want.Field.Entries, loaded.Field.Entries)
	assert.Equal(t, want.Field.Clusters, loaded.Field.Clusters)

	restored, err := engine.Restore(cfg, loaded)
	require.NoError(t, err)
	assert.Equal(t, want, restored.State())

	_, err = sim.Step(200)
	require.NoError(t, err)
	_, err = restored.Step(200)
	require.NoError(t, err)
	assert.Equal(t, sim.State(), restored.State())
}

func TestSaveReplacesPreviousWorld(t *testing.T) {
	cfg := testConfig(t)
	db := openTestDB(t)

	first, err := engine.Generate(cfg)
	require.NoError(t, err)
	_, err = first.Step(300)
	require.NoError(t, err)
	require.NoError(t, db.SaveWorldState(first))

	cfg.SetSeed(18)
	second, err := engine.Generate(cfg)
	require.NoError(t, err)
	require.NoError(t, db.SaveWorldState(second))

	loaded, err := db.LoadWorldState()
	require.NoError(t, err)
	assert.Equal(t, int64(18), loaded.Seed)
	assert.Equal(t, second.State().Field.Entries, loaded.Field.Entries)
}

func TestChronicleIsAppended(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveChronicle([]engine.Event{
		{Date: 1, Description: "first", Category: "polity"},
		{Date: 2, Description: "second", Category: "faction"},
	}))
	require.NoError(t, db.SaveChronicle(nil))
	require.NoError(t, db.SaveChronicle([]engine.Event{{Date: 3, Description: "third", Category: "world"}}))

	got, err := db.RecentChronicle(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].Description)
	assert.Equal(t, "second", got[1].Description)
}

func TestFailedSaveKeepsChronicle(t *testing.T) {
	sim, err := engine.Generate(testConfig(t))
	require.NoError(t, err)
	require.Len(t, sim.Chronicle, 3)

	db := openTestDB(t)
	require.NoError(t, db.Close())
	require.Error(t, db.SaveWorldState(sim))
	assert.Len(t, sim.Chronicle, 3)
}

func TestFailedChronicleInsertRequeuesEvents(t *testing.T) {
	sim, err := engine.Generate(testConfig(t))
	require.NoError(t, err)
	want := append([]engine.Event(nil), sim.Chronicle...)

	db := openTestDB(t)
	_, err = db.conn.Exec("DROP TABLE chronicle")
	require.NoError(t, err)

	require.Error(t, db.SaveWorldState(sim))
	assert.True(t, db.HasWorldState())
	assert.Equal(t, want, sim.Chronicle)
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveMeta("speed", "2.5"))
	v, err := db.GetMeta("speed")
	require.NoError(t, err)
	assert.Equal(t, "2.5", v)
}
