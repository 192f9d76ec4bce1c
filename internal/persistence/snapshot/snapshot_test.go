package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldhistory/internal/config"
	"github.com/talgya/worldhistory/internal/engine"
	"github.com/talgya/worldhistory/internal/world"
)

func testState(t *testing.T) (*config.Config, engine.State) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Derived.Gen = world.SmallTestConfig()
	cfg.SetSeed(23)
	cfg.World.Founders = 2
	sim, err := engine.Generate(cfg)
	require.NoError(t, err)
	_, err = sim.Step(400)
	require.NoError(t, err)
	return cfg, sim.State()
}

func TestWriteReadRoundTrip(t *testing.T) {
	cfg, st := testState(t)
	path := Path(t.TempDir(), st.Date)

	require.NoError(t, Write(path, st))
	got, h, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, st.Seed, h.Seed)
	assert.Equal(t, st.Date, h.Date)
	assert.Equal(t, len(st.Events), h.Events)

	// gob drops empty slices, so compare through a restore.
	sim, err := engine.Restore(cfg, got)
	require.NoError(t, err)
	assert.Equal(t, st, sim.State())
}

func TestReadHeaderOnly(t *testing.T) {
	_, st := testState(t)
	path := Path(t.TempDir(), st.Date)
	require.NoError(t, Write(path, st))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, st.Date, h.Date)
	assert.Equal(t, len(st.Field.Polities), h.Polities)
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	got, err := Latest(dir)
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, date := range []int64{90, 1200, 360} {
		require.NoError(t, os.WriteFile(Path(dir, date), nil, 0o644))
	}
	got, err = Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, Path(dir, 1200), got)
}

func TestReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap.zst")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))
	_, _, err := Read(path)
	assert.Error(t, err)
}
