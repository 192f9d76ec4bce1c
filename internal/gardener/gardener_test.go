package gardener

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldhistory/internal/api"
	"github.com/talgya/worldhistory/internal/config"
	"github.com/talgya/worldhistory/internal/engine"
	"github.com/talgya/worldhistory/internal/world"
)

func polityWithProminence(name string, prominence float64) PolityInfo {
	p := PolityInfo{Name: name}
	p.Census.Prominence = prominence
	return p
}

func TestTriageLevels(t *testing.T) {
	extinct := Triage(&WorldSnapshot{Status: WorldStatus{Date: 100}})
	assert.Equal(t, LevelExtinct, extinct.CrisisLevel)

	snap := &WorldSnapshot{
		Status: WorldStatus{Date: 1000},
		Polities: []PolityInfo{
			polityWithProminence("Ashford", 6),
			polityWithProminence("Brindle", 4),
		},
		Chronicle: []ChronicleEntry{
			{Date: 900, Category: "polity", Description: "Cold Hollow has collapsed"},
			{Date: 100, Category: "polity", Description: "Deepmere has collapsed"},
			{Date: 950, Category: "polity", Description: "Brindle rises at unit 4"},
		},
	}
	h := Triage(snap)
	assert.Equal(t, 2, h.Polities)
	assert.Equal(t, 1, h.Collapses)
	assert.Equal(t, 1, h.Rises)
	assert.InDelta(t, 0.6, h.LargestShare, 1e-9)
	assert.Equal(t, "Ashford", h.LargestPolity)
	assert.Equal(t, LevelCritical, h.CrisisLevel)

	snap.Chronicle = nil
	snap.Polities[0].Census.Prominence = 99
	snap.Polities[1].Census.Prominence = 1
	assert.Equal(t, LevelWarning, Triage(snap).CrisisLevel)

	snap.Polities[1].Census.Prominence = 50
	assert.Equal(t, LevelHealthy, Triage(snap).CrisisLevel)
}

func TestDecideSnapshotCooldown(t *testing.T) {
	h := &WorldHealth{Date: 1000, Polities: 2, Collapses: 3, CrisisLevel: LevelCritical}
	assert.Equal(t, ActionSnapshot, Decide(h, nil).Action)

	mem := &CycleMemory{}
	mem.Record(CycleRecord{Date: 800, Action: ActionSnapshot})
	assert.Equal(t, ActionNone, Decide(h, mem).Action)

	h.Date = 1200
	assert.Equal(t, ActionSnapshot, Decide(h, mem).Action)

	assert.Equal(t, ActionPause, Decide(&WorldHealth{CrisisLevel: LevelExtinct}, mem).Action)
	assert.Equal(t, ActionNone, Decide(&WorldHealth{CrisisLevel: LevelHealthy}, mem).Action)
}

func TestMemoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	mem := LoadMemory(path)
	assert.Empty(t, mem.Records)

	for i := 0; i < maxRecords+5; i++ {
		mem.Record(CycleRecord{Date: int64(i), Action: ActionNone})
	}
	mem.Save()

	again := LoadMemory(path)
	require.Len(t, again.Records, maxRecords)
	assert.Equal(t, int64(5), again.Records[0].Date)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	assert.Empty(t, LoadMemory(path).Records)
}

func TestObserveAndAct(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Derived.Gen = world.SmallTestConfig()
	cfg.SetSeed(8)
	cfg.World.Founders = 2
	sim, err := engine.Generate(cfg)
	require.NoError(t, err)

	eng := engine.NewEngine(sim, time.Second, 1)
	srv := &api.Server{Sim: sim, Eng: eng, AdminKey: "k", SnapshotDir: t.TempDir()}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	snap, err := NewObserver(ts.URL).Observe()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Status.Polities)
	assert.Len(t, snap.Polities, 2)
	assert.Len(t, snap.Chronicle, 2)
	assert.Equal(t, 2, Triage(snap).Rises)

	actor := NewActor(ts.URL, "k")
	res, err := actor.Act(&Decision{Action: ActionNone})
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = actor.Act(&Decision{Action: ActionSnapshot})
	require.NoError(t, err)
	assert.Contains(t, res, "file")

	_, err = actor.Act(&Decision{Action: ActionPause})
	require.NoError(t, err)
	assert.Equal(t, 0.0, eng.Speed())

	_, err = NewActor(ts.URL, "wrong").Act(&Decision{Action: ActionPause})
	assert.Error(t, err)
	_, err = actor.Act(&Decision{Action: "flood"})
	assert.Error(t, err)
}
