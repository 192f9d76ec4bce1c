package polity

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talgya/worldhistory/internal/world"
	"github.com/talgya/worldhistory/internal/world/worldtest"
)

// referenceDistances runs a plain Dijkstra over the units holding p's
// prominence, starting from every source of kind k.
func referenceDistances(f *Field, p *Polity, k distKind) map[world.UnitID]float64 {
	dist := make(map[world.UnitID]float64)
	for _, c := range f.Clusters(p.ID) {
		for _, u := range c.Members() {
			dist[u] = math.Inf(1)
			if p.isSource(k, u) {
				dist[u] = 0
			}
		}
	}
	done := make(map[world.UnitID]bool, len(dist))
	for {
		cur, best := world.UnitID(0), math.Inf(1)
		for u, d := range dist {
			if !done[u] && (d < best || (d == best && u < cur)) {
				cur, best = u, d
			}
		}
		if math.IsInf(best, 1) {
			return dist
		}
		done[cur] = true
		for _, edge := range f.World().Units[cur].Edges {
			d, ok := dist[edge.To]
			if ok && best+edge.Weight < d {
				dist[edge.To] = best + edge.Weight
			}
		}
	}
}

func requireDistancesMatch(t *testing.T, f *Field, step int) {
	t.Helper()
	for _, p := range f.Polities() {
		core := referenceDistances(f, p, kindCore)
		faction := referenceDistances(f, p, kindFaction)
		for u, want := range core {
			e := f.Entry(u, p.ID)
			require.NotNil(t, e)
			requireSameDistance(t, want, e.CoreDistance, "step %d polity %d unit %d core", step, p.ID, u)
			requireSameDistance(t, faction[u], e.FactionDistance, "step %d polity %d unit %d faction", step, p.ID, u)
		}
	}
}

func requireSameDistance(t *testing.T, want, got float64, msg string, args ...any) {
	t.Helper()
	if math.IsInf(want, 1) {
		require.True(t, math.IsInf(got, 1), append([]any{msg + ": want +Inf, got %g"}, append(args, got)...)...)
		return
	}
	require.InDelta(t, want, got, 1e-9, append([]any{msg}, args...)...)
}

func memberUnits(f *Field, id ID) []world.UnitID {
	var out []world.UnitID
	for _, c := range f.Clusters(id) {
		out = append(out, c.Members()...)
	}
	return out
}

func TestRandomEditsKeepDistancesExact(t *testing.T) {
	for seed := uint64(1); seed <= 6; seed++ {
		m := worldtest.Grid(10, 10, 1.5)
		f := newTestField(t, m)
		r := rand.New(rand.NewPCG(seed, 7))

		liveUnit := func() (world.UnitID, bool) {
			u := world.UnitID(r.IntN(len(m.Units)))
			return u, m.Get(u) != nil
		}

		for step := 0; step < 400; step++ {
			polities := f.Polities()
			switch op := r.IntN(100); {
			case len(polities) < 3 || op < 5:
				u, ok := liveUnit()
				if !ok || f.UnitSum(u) > 0.7 {
					continue
				}
				_, err := f.NewPolity("P", u, 0.3)
				require.NoError(t, err)

			case op < 60:
				u, ok := liveUnit()
				if !ok {
					continue
				}
				p := polities[r.IntN(len(polities))]
				value := 0.05 + r.Float64()*0.2
				others := f.UnitSum(u)
				if e := f.Entry(u, p.ID); e != nil {
					others -= e.Value
				}
				if others+value > 1 {
					continue
				}
				_, err := f.AddProminence(p.ID, u, value)
				require.NoError(t, err)

			case op < 85:
				u, ok := liveUnit()
				if !ok {
					continue
				}
				entries := f.Entries(u)
				if len(entries) == 0 {
					continue
				}
				e := entries[r.IntN(len(entries))]
				f.RemoveProminence(u, e.Polity)

			case op < 96:
				p := polities[r.IntN(len(polities))]
				units := memberUnits(f, p.ID)
				_, err := f.AddFaction(p.ID, "F", units[r.IntN(len(units))], 0.3)
				require.NoError(t, err)

			default:
				if u, ok := liveUnit(); ok {
					f.RemoveUnit(u)
				}
			}

			require.NoError(t, f.Validate(), "seed %d step %d", seed, step)
			requireDistancesMatch(t, f, step)
		}
	}
}
