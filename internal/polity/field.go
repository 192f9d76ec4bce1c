package polity

import (
	"math"
	"sort"

	"github.com/talgya/worldhistory/internal/entropy"
	"github.com/talgya/worldhistory/internal/invariant"
	"github.com/talgya/worldhistory/internal/world"
)

// Update propagates every entry from the last update to date.
//
// Each value moves toward a target by span/(span+TimeConstant). The target
// is the distance-discounted sustainable prominence k/(k+coreDistance),
// lowered by per-unit noise and scaled by how much of the neighbourhood
// already holds the polity. Targets on one unit are normalised to sum ≤ 1.
// All new values are computed before any is applied. Entries ending at or
// below MinValue are deleted.
//
// An invariant violation aborts the update before any value is written.
func (f *Field) Update(date int64) error {
	span := float64(date - f.lastUpdate)
	f.SetDate(date)
	if span <= 0 {
		return nil
	}
	f.flushDistances()
	lambda := span / (span + f.cfg.TimeConstant)

	units := f.occupiedUnits()
	var targets []float64
	for _, uid := range units {
		u := f.world.Units[uid]
		entries := f.units[uid]
		noise := 1 - f.cfg.Noise*f.rng.Smooth(u.Key(), date, entropy.OffsetProminenceNoise)

		targets = targets[:0]
		sum := 0.0
		for _, e := range entries {
			t, err := f.target(u, e, noise)
			if err != nil {
				return err
			}
			targets = append(targets, t)
			sum += t
		}
		if sum > 1 {
			for i := range targets {
				targets[i] /= sum
			}
		}

		next := 0.0
		for i, e := range entries {
			e.next = clamp01(e.Value + (targets[i]-e.Value)*lambda)
			next += e.next
		}
		if math.IsNaN(next) || next > 1+sumTolerance {
			return invariant.New("field.update", "unit %d prominence sum %g after propagation", uid, next)
		}
	}

	var dead []*Entry
	for _, uid := range units {
		for _, e := range f.units[uid] {
			e.Value = e.next
			f.markCensus(e)
			if e.Value <= f.cfg.MinValue {
				dead = append(dead, e)
			}
		}
	}

	touched := make(map[ID]bool)
	for _, e := range dead {
		if f.polities[e.Polity] == nil {
			continue
		}
		f.removeEntry(e)
		touched[e.Polity] = true
	}
	ids := make([]ID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		f.settle(id)
	}
	f.flushDistances()

	f.lastUpdate = date
	return nil
}

// LastUpdate returns the date of the last propagation.
func (f *Field) LastUpdate() int64 {
	return f.lastUpdate
}

func (f *Field) target(u *world.Unit, e *Entry, noise float64) (float64, error) {
	sustainable := 0.0
	if !math.IsInf(e.CoreDistance, 1) {
		k := f.cfg.DistanceScale
		sustainable = k / (k + e.CoreDistance) * noise
	}

	num, den := e.Value, 1.0
	for _, edge := range u.Edges {
		if edge.Weight <= 0 {
			return 0, invariant.New("field.update", "edge %d->%d has non-positive weight %g", u.ID, edge.To, edge.Weight)
		}
		inv := 1 / edge.Weight
		den += inv
		if n := f.Entry(edge.To, e.Polity); n != nil {
			num += inv * n.Value
		}
	}
	support := num / den

	floor := f.cfg.SupportFloor
	return sustainable * (floor + (1-floor)*support), nil
}

// occupiedUnits returns the units holding at least one entry, in id order.
func (f *Field) occupiedUnits() []world.UnitID {
	out := make([]world.UnitID, 0, len(f.units))
	for uid := range f.units {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
