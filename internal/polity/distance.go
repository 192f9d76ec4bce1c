package polity

import (
	"container/heap"
	"math"
	"sort"

	"github.com/talgya/worldhistory/internal/world"
)

const distEpsilon = 1e-9

type distKind uint8

const (
	kindCore    distKind = iota // source: the polity core
	kindFaction                 // sources: the polity core and every faction core
)

// distanceWork collects the units whose distances may be stale since the
// last flush.
type distanceWork struct {
	seeds    map[world.UnitID]struct{} // new entries and new sources; may lower distances
	checks   map[world.UnitID]struct{} // neighbours of removed entries; may raise distances
	resetAll bool                      // sources moved; recompute the whole polity
}

func (w *distanceWork) addSeed(u world.UnitID) {
	w.seeds[u] = struct{}{}
}

func (w *distanceWork) addCheck(u world.UnitID) {
	w.checks[u] = struct{}{}
}

func (f *Field) workFor(id ID) *distanceWork {
	w := f.work[id]
	if w == nil {
		w = &distanceWork{
			seeds:  make(map[world.UnitID]struct{}),
			checks: make(map[world.UnitID]struct{}),
		}
		f.work[id] = w
	}
	return w
}

func (e *Entry) distance(k distKind) float64 {
	if k == kindCore {
		return e.CoreDistance
	}
	return e.FactionDistance
}

func (f *Field) setDistance(e *Entry, k distKind, d float64) {
	if k == kindCore {
		e.CoreDistance = d
		return
	}
	e.FactionDistance = d
	// Administrative cost depends on the faction distance.
	f.markCensus(e)
}

func (p *Polity) isSource(k distKind, unit world.UnitID) bool {
	if k == kindCore {
		return unit == p.Core
	}
	return p.isFactionCore(unit)
}

// flushDistances applies all queued distance work, polity by polity in id order.
func (f *Field) flushDistances() {
	if len(f.work) == 0 {
		return
	}
	ids := make([]ID, 0, len(f.work))
	for id := range f.work {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		w := f.work[id]
		delete(f.work, id)
		p := f.polities[id]
		if p == nil {
			continue
		}
		if w.resetAll {
			f.resetDistances(p, w)
		}
		for _, k := range []distKind{kindCore, kindFaction} {
			affected := f.invalidate(p, k, sortedUnits(w.checks))
			f.relax(p, k, affected, sortedUnits(w.seeds))
		}
	}
}

// resetDistances clears every distance of p and turns all sources into seeds.
func (f *Field) resetDistances(p *Polity, w *distanceWork) {
	for _, e := range f.polityEntries(p) {
		e.CoreDistance = math.Inf(1)
		e.FactionDistance = math.Inf(1)
		f.markCensus(e)
	}
	w.checks = make(map[world.UnitID]struct{})
	w.addSeed(p.Core)
	for _, fac := range p.Factions {
		w.addSeed(fac.Core)
	}
}

// invalidate finds the entries whose distance lost its supporting path and
// sets them to +Inf. Units are visited in increasing old distance, so a
// supporter is always settled before the units that depend on it.
func (f *Field) invalidate(p *Polity, k distKind, checks []world.UnitID) map[world.UnitID]bool {
	affected := make(map[world.UnitID]bool)
	q := &distQueue{}
	for _, unit := range checks {
		if e := f.Entry(unit, p.ID); e != nil && !math.IsInf(e.distance(k), 1) {
			heap.Push(q, distItem{dist: e.distance(k), unit: unit})
		}
	}

	for q.Len() > 0 {
		item := heap.Pop(q).(distItem)
		if affected[item.unit] {
			continue
		}
		e := f.Entry(item.unit, p.ID)
		if e == nil || e.distance(k) != item.dist {
			continue
		}
		if p.isSource(k, item.unit) || f.supported(p, k, e, affected) {
			continue
		}

		old := e.distance(k)
		affected[item.unit] = true
		f.setDistance(e, k, math.Inf(1))

		for _, edge := range f.world.Units[item.unit].Edges {
			n := f.Entry(edge.To, p.ID)
			if n == nil || affected[edge.To] {
				continue
			}
			if d := n.distance(k); !math.IsInf(d, 1) && d >= old {
				heap.Push(q, distItem{dist: d, unit: edge.To})
			}
		}
	}
	return affected
}

// supported reports whether some unaffected neighbour still explains e's distance.
func (f *Field) supported(p *Polity, k distKind, e *Entry, affected map[world.UnitID]bool) bool {
	target := e.distance(k)
	for _, edge := range f.world.Units[e.Unit].Edges {
		if affected[edge.To] {
			continue
		}
		n := f.Entry(edge.To, p.ID)
		if n != nil && n.distance(k)+edge.Weight <= target+distEpsilon {
			return true
		}
	}
	return false
}

// relax re-derives affected entries from their settled neighbours, lowers
// seeds, and propagates decreases outward. Only units whose distance actually
// changed are expanded.
func (f *Field) relax(p *Polity, k distKind, affected map[world.UnitID]bool, seeds []world.UnitID) {
	q := &distQueue{}

	for _, unit := range sortedFlags(affected) {
		e := f.Entry(unit, p.ID)
		if e == nil {
			continue
		}
		if best := f.bestFromNeighbours(p, k, e); best < e.distance(k) {
			f.setDistance(e, k, best)
			heap.Push(q, distItem{dist: best, unit: unit})
		}
	}

	for _, unit := range seeds {
		e := f.Entry(unit, p.ID)
		if e == nil {
			continue
		}
		best := 0.0
		if !p.isSource(k, unit) {
			best = f.bestFromNeighbours(p, k, e)
		}
		if best < e.distance(k)-distEpsilon {
			f.setDistance(e, k, best)
		}
		if d := e.distance(k); !math.IsInf(d, 1) {
			heap.Push(q, distItem{dist: d, unit: unit})
		}
	}

	for q.Len() > 0 {
		item := heap.Pop(q).(distItem)
		e := f.Entry(item.unit, p.ID)
		if e == nil || item.dist > e.distance(k)+distEpsilon {
			continue
		}
		for _, edge := range f.world.Units[item.unit].Edges {
			n := f.Entry(edge.To, p.ID)
			if n == nil || p.isSource(k, edge.To) {
				continue
			}
			if nd := item.dist + edge.Weight; nd < n.distance(k)-distEpsilon {
				f.setDistance(n, k, nd)
				heap.Push(q, distItem{dist: nd, unit: edge.To})
			}
		}
	}
}

func (f *Field) bestFromNeighbours(p *Polity, k distKind, e *Entry) float64 {
	best := math.Inf(1)
	for _, edge := range f.world.Units[e.Unit].Edges {
		n := f.Entry(edge.To, p.ID)
		if n == nil {
			continue
		}
		if d := n.distance(k) + edge.Weight; d < best {
			best = d
		}
	}
	return best
}

type distItem struct {
	dist float64
	unit world.UnitID
}

type distQueue []distItem

func (q distQueue) Len() int { return len(q) }

func (q distQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].unit < q[j].unit
}

func (q distQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *distQueue) Push(x any) { *q = append(*q, x.(distItem)) }

func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func sortedUnits(set map[world.UnitID]struct{}) []world.UnitID {
	out := make([]world.UnitID, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedFlags(set map[world.UnitID]bool) []world.UnitID {
	out := make([]world.UnitID, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
