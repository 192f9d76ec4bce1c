package polity

import (
	"fmt"
	"math"
	"sort"

	"github.com/talgya/worldhistory/internal/invariant"
	"github.com/talgya/worldhistory/internal/world"
)

// sumTolerance absorbs float rounding when checking per-unit sums.
const sumTolerance = 1e-9

// Entry is the prominence of one polity on one unit.
type Entry struct {
	Unit   world.UnitID `json:"unit"`
	Polity ID           `json:"polity"`
	Value  float64      `json:"value"`

	// Shortest distances over units holding this polity's prominence.
	// +Inf when the unit is cut off from every source.
	CoreDistance    float64 `json:"core_distance"`
	FactionDistance float64 `json:"faction_distance"`

	AdminCost float64 `json:"admin_cost"` // refreshed by RunCensus

	Cluster ClusterID `json:"cluster"`

	next float64 // staged value during Update
}

// Entry returns the entry of polity id on unit, or nil.
func (f *Field) Entry(unit world.UnitID, id ID) *Entry {
	for _, e := range f.units[unit] {
		if e.Polity == id {
			return e
		}
	}
	return nil
}

// Prominence returns the value of polity id on unit and whether an entry exists.
func (f *Field) Prominence(unit world.UnitID, id ID) (float64, bool) {
	if e := f.Entry(unit, id); e != nil {
		return e.Value, true
	}
	return 0, false
}

// Entries returns the entries on a unit sorted by polity id. The slice must
// not be modified.
func (f *Field) Entries(unit world.UnitID) []*Entry {
	return f.units[unit]
}

// UnitSum returns the total prominence held on a unit.
func (f *Field) UnitSum(unit world.UnitID) float64 {
	sum := 0.0
	for _, e := range f.units[unit] {
		sum += e.Value
	}
	return sum
}

// AddProminence sets the prominence of polity id on unit, creating the entry
// if needed. The unit's total may not exceed 1.
func (f *Field) AddProminence(id ID, unit world.UnitID, value float64) (*Entry, error) {
	p := f.polities[id]
	if p == nil {
		return nil, fmt.Errorf("add prominence: polity %d missing", id)
	}
	if f.world.Get(unit) == nil {
		return nil, fmt.Errorf("add prominence: unit %d missing", unit)
	}
	if math.IsNaN(value) || value <= 0 || value > 1 {
		return nil, invariant.New("field.add", "value %g for polity %d on unit %d outside (0, 1]", value, id, unit)
	}

	existing := f.Entry(unit, id)
	others := f.UnitSum(unit)
	if existing != nil {
		others -= existing.Value
	}
	if others+value > 1+sumTolerance {
		return nil, invariant.New("field.add", "unit %d total would be %g", unit, others+value)
	}

	if existing != nil {
		existing.Value = value
		f.markCensus(existing)
		return existing, nil
	}

	e := &Entry{
		Unit:            unit,
		Polity:          id,
		Value:           value,
		CoreDistance:    math.Inf(1),
		FactionDistance: math.Inf(1),
	}
	f.linkToUnit(e)
	p.entries++
	if p.entries > f.highs.Entries {
		f.highs.Entries = p.entries
	}
	f.attach(e)

	f.workFor(id).addSeed(unit)
	f.flushDistances()
	return e, nil
}

// RemoveProminence deletes the entry of polity id on unit. Removing an absent
// entry is a no-op. A polity left without entries is removed; a polity whose
// core entry was removed moves its core.
func (f *Field) RemoveProminence(unit world.UnitID, id ID) {
	e := f.Entry(unit, id)
	if e == nil {
		return
	}
	f.removeEntry(e)
	f.settle(id)
	f.flushDistances()
}

// RemoveUnit deletes every entry on a unit and then removes the unit from the
// graph.
func (f *Field) RemoveUnit(unit world.UnitID) {
	entries := append([]*Entry(nil), f.units[unit]...)
	for _, e := range entries {
		f.removeEntry(e)
	}
	f.world.RemoveUnit(unit)
	for _, e := range entries {
		f.settle(e.Polity)
	}
	f.flushDistances()
}

// TouchUnit flags every cluster holding the unit for a new census, e.g.
// after its population changed.
func (f *Field) TouchUnit(unit world.UnitID) {
	for _, e := range f.units[unit] {
		f.markCensus(e)
	}
}

// removeEntry detaches e from its cluster and unit and queues distance work.
// Callers run settle and flushDistances afterwards.
func (f *Field) removeEntry(e *Entry) {
	p := f.polities[e.Polity]
	f.detach(e)
	f.unlinkFromUnit(e)
	p.entries--

	w := f.workFor(e.Polity)
	if u := f.world.Get(e.Unit); u != nil {
		for _, edge := range u.Edges {
			if f.Entry(edge.To, e.Polity) != nil {
				w.addCheck(edge.To)
			}
		}
	}
}

// settle repairs a polity after entries were removed: factions whose core
// vanished are dropped, a lost core moves to the strongest entry, and an
// empty polity is deleted.
func (f *Field) settle(id ID) {
	p := f.polities[id]
	if p == nil {
		return
	}
	if p.entries == 0 {
		f.RemovePolity(id)
		return
	}

	w := f.workFor(id)
	kept := p.Factions[:0]
	for _, fac := range p.Factions {
		if f.Entry(fac.Core, id) != nil {
			kept = append(kept, fac)
		}
	}
	p.Factions = kept

	if f.Entry(p.Core, id) == nil {
		best := (*Entry)(nil)
		for _, e := range f.polityEntries(p) {
			if best == nil || e.Value > best.Value || (e.Value == best.Value && e.Unit < best.Unit) {
				best = e
			}
		}
		p.Core = best.Unit
		w.addSeed(best.Unit)
		w.resetAll = true
	}
}

func (f *Field) linkToUnit(e *Entry) {
	list := append(f.units[e.Unit], e)
	sort.Slice(list, func(i, j int) bool { return list[i].Polity < list[j].Polity })
	f.units[e.Unit] = list
}

func (f *Field) unlinkFromUnit(e *Entry) {
	list := f.units[e.Unit]
	for i, other := range list {
		if other == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(f.units, e.Unit)
		return
	}
	f.units[e.Unit] = list
}
