package world

import (
	"fmt"
	"sort"

	"github.com/talgya/worldhistory/internal/invariant"
)

// Map is the arena of units. Units are addressed by UnitID, which is the
// index into Units.
type Map struct {
	Units  []*Unit `json:"-"`
	Radius int     `json:"radius"`

	byCoord map[HexCoord]UnitID
}

// NewMap creates an empty map with the given radius.
func NewMap(radius int) *Map {
	return &Map{
		Radius:  radius,
		byCoord: make(map[HexCoord]UnitID),
	}
}

// AddUnit appends a unit at coord and returns it.
func (m *Map) AddUnit(coord HexCoord, terrain Terrain) *Unit {
	u := &Unit{
		ID:       UnitID(len(m.Units)),
		Coord:    coord,
		Terrain:  terrain,
		Capacity: terrain.Capacity(),
		Area:     1,
	}
	m.Units = append(m.Units, u)
	m.byCoord[coord] = u.ID
	return u
}

// Get returns the unit with the given id, or nil if it does not exist or was removed.
func (m *Map) Get(id UnitID) *Unit {
	if int(id) >= len(m.Units) {
		return nil
	}
	u := m.Units[id]
	if u.Removed {
		return nil
	}
	return u
}

// At returns the unit at a coordinate, or nil.
func (m *Map) At(coord HexCoord) *Unit {
	id, ok := m.byCoord[coord]
	if !ok {
		return nil
	}
	return m.Get(id)
}

// Connect links two units in both directions. Weights must be positive.
func (m *Map) Connect(a, b UnitID, weight float64) error {
	if weight <= 0 {
		return invariant.New("map.connect", "edge %d-%d has non-positive weight %g", a, b, weight)
	}
	ua, ub := m.Get(a), m.Get(b)
	if ua == nil || ub == nil {
		return fmt.Errorf("connect %d-%d: unit missing", a, b)
	}
	if a == b {
		return fmt.Errorf("connect %d-%d: self edge", a, b)
	}
	setEdge(ua, b, weight)
	setEdge(ub, a, weight)
	return nil
}

func setEdge(u *Unit, to UnitID, weight float64) {
	for i := range u.Edges {
		if u.Edges[i].To == to {
			u.Edges[i].Weight = weight
			return
		}
	}
	u.Edges = append(u.Edges, Edge{To: to, Weight: weight})
	sort.Slice(u.Edges, func(i, j int) bool { return u.Edges[i].To < u.Edges[j].To })
}

// RemoveUnit marks a unit removed and unlinks it from its neighbors.
// Removing an absent unit is a no-op.
func (m *Map) RemoveUnit(id UnitID) {
	u := m.Get(id)
	if u == nil {
		return
	}
	for _, e := range u.Edges {
		n := m.Units[e.To]
		for i := range n.Edges {
			if n.Edges[i].To == id {
				n.Edges = append(n.Edges[:i], n.Edges[i+1:]...)
				break
			}
		}
	}
	u.Edges = nil
	u.Removed = true
}

// Each calls fn for every live unit in id order.
func (m *Map) Each(fn func(u *Unit)) {
	for _, u := range m.Units {
		if !u.Removed {
			fn(u)
		}
	}
}

// Len returns the number of live units.
func (m *Map) Len() int {
	n := 0
	for _, u := range m.Units {
		if !u.Removed {
			n++
		}
	}
	return n
}

// Validate checks that every edge has a positive weight and a mirror edge
// of equal weight.
func (m *Map) Validate() error {
	for _, u := range m.Units {
		if u.Removed {
			continue
		}
		for _, e := range u.Edges {
			if e.Weight <= 0 {
				return invariant.New("map.validate", "edge %d->%d has non-positive weight %g", u.ID, e.To, e.Weight)
			}
			n := m.Get(e.To)
			if n == nil {
				return invariant.New("map.validate", "edge %d->%d points at a removed unit", u.ID, e.To)
			}
			back, ok := n.EdgeWeight(u.ID)
			if !ok || back != e.Weight {
				return invariant.New("map.validate", "edge %d->%d has no matching mirror", u.ID, e.To)
			}
		}
	}
	return nil
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(radius=%d, units=%d)", m.Radius, m.Len())
}
