// Package worldtest builds small hand-shaped unit graphs for tests.
package worldtest

import "github.com/talgya/worldhistory/internal/world"

// Line returns n plains units along the q axis, each linked to the next with
// the given weight. Unit i sits at (i, 0).
func Line(n int, weight float64) *world.Map {
	m := world.NewMap(n)
	for i := 0; i < n; i++ {
		u := m.AddUnit(world.HexCoord{Q: i, R: 0}, world.TerrainPlains)
		u.Population = 100
	}
	for i := 1; i < n; i++ {
		if err := m.Connect(world.UnitID(i-1), world.UnitID(i), weight); err != nil {
			panic(err)
		}
	}
	return m
}

// Grid returns a w×h block of plains units in axial coordinates linked to
// their hex neighbors with the given weight. Unit id = r*w + q.
func Grid(w, h int, weight float64) *world.Map {
	m := world.NewMap(w + h)
	for r := 0; r < h; r++ {
		for q := 0; q < w; q++ {
			u := m.AddUnit(world.HexCoord{Q: q, R: r}, world.TerrainPlains)
			u.Population = 100
		}
	}
	for _, u := range m.Units {
		for _, nc := range u.Coord.Neighbors() {
			n := m.At(nc)
			if n == nil || n.ID < u.ID {
				continue
			}
			if err := m.Connect(u.ID, n.ID, weight); err != nil {
				panic(err)
			}
		}
	}
	return m
}
