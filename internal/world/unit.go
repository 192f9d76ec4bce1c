package world

import "github.com/talgya/worldhistory/internal/entropy"

// UnitID addresses a unit in the Map arena. IDs are dense and never reused.
type UnitID uint32

// Edge is a directed half of a neighbor link.
type Edge struct {
	To     UnitID  `json:"to"`
	Weight float64 `json:"weight"` // geographic travel distance, always > 0
}

// Unit is a single geographic node of the simulation graph.
type Unit struct {
	ID      UnitID   `json:"id"`
	Coord   HexCoord `json:"coord"`
	Terrain Terrain  `json:"terrain"`

	Elevation   float64 `json:"elevation"`   // 0.0 (sea level) to 1.0 (peak)
	Rainfall    float64 `json:"rainfall"`    // 0.0 (arid) to 1.0 (tropical)
	Temperature float64 `json:"temperature"` // 0.0 (frozen) to 1.0 (hot)

	Population float64 `json:"population"`
	Capacity   float64 `json:"capacity"` // carrying capacity
	Area       float64 `json:"area"`     // square km

	// Neighbors in ascending To order. Iteration order of this slice is the
	// canonical neighbor order everywhere determinism matters.
	Edges []Edge `json:"edges"`

	LastUpdate int64 `json:"last_update"` // simulated date of the last population update
	Removed    bool  `json:"removed"`
}

// Key returns the unit's spatial key for the random source.
func (u *Unit) Key() entropy.Key {
	return entropy.Key{X: int32(u.Coord.Q), Y: int32(u.Coord.R)}
}

// EdgeWeight returns the weight of the edge to another unit.
func (u *Unit) EdgeWeight(to UnitID) (float64, bool) {
	for _, e := range u.Edges {
		if e.To == to {
			return e.Weight, true
		}
	}
	return 0, false
}
