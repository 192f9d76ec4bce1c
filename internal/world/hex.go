// Package world provides the spatial unit graph the simulation runs on.
// Units sit on a hex grid in axial coordinates (q, r); edges carry a
// geographic travel weight.
package world

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Terrain types for hex tiles.
type Terrain uint8

const (
	TerrainPlains   Terrain = iota // Fertile, cheap to cross
	TerrainForest                  // Slower travel, moderate capacity
	TerrainMountain                // Expensive to cross, sparse
	TerrainCoast                   // Fishing, moderate capacity
	TerrainDesert                  // Harsh
	TerrainSwamp                   // Slow travel, disease
	TerrainTundra                  // Extreme cold
	TerrainOcean                   // Not a unit; never linked
)

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	max := dq
	if dr > max {
		max = dr
	}
	if ds > max {
		max = ds
	}
	return max
}

// TravelCost is the relative cost of crossing a tile of this terrain.
func (t Terrain) TravelCost() float64 {
	switch t {
	case TerrainPlains, TerrainCoast:
		return 1.0
	case TerrainForest, TerrainDesert:
		return 1.5
	case TerrainSwamp, TerrainTundra:
		return 2.0
	case TerrainMountain:
		return 3.0
	default:
		return 10.0
	}
}

// Capacity is the population a unit of this terrain sustains at full health.
func (t Terrain) Capacity() float64 {
	switch t {
	case TerrainPlains:
		return 1200
	case TerrainCoast:
		return 900
	case TerrainForest:
		return 600
	case TerrainSwamp:
		return 300
	case TerrainDesert, TerrainTundra:
		return 150
	case TerrainMountain:
		return 100
	default:
		return 0
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
