// World generation using layered simplex noise.
// Generates elevation, rainfall and temperature, derives terrain, then links
// land hexes into the unit graph. Ocean hexes never become units.
package world

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Radius      int     // Hex grid radius (~22 for ~2000 hexes)
	Seed        int64   // World seed; callers resolve 0 before generating
	SeaLevel    float64 // Elevation threshold for ocean (0.0–1.0)
	MountainLvl float64 // Elevation threshold for mountains (0.0–1.0)
	SlopeCost   float64 // Extra edge weight per unit of elevation difference
	InitialFill float64 // Starting population as a fraction of capacity
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius:      22,
		Seed:        42,
		SeaLevel:    0.25,
		MountainLvl: 0.72,
		SlopeCost:   4,
		InitialFill: 0.2,
	}
}

// SmallTestConfig returns a tiny world for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Radius:      5,
		Seed:        42,
		SeaLevel:    0.05,
		MountainLvl: 0.85,
		SlopeCost:   4,
		InitialFill: 0.2,
	}
}

// Generate creates the unit graph. The result depends only on cfg.
func Generate(cfg GenConfig) (*Map, error) {
	elevNoise := opensimplex.NewNormalized(cfg.Seed)
	rainNoise := opensimplex.NewNormalized(cfg.Seed + 1)
	tempNoise := opensimplex.NewNormalized(cfg.Seed + 2)

	m := NewMap(cfg.Radius)

	// q-major order keeps unit ids stable for a given config.
	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			s := -q - r
			if abs(q) > cfg.Radius || abs(r) > cfg.Radius || abs(s) > cfg.Radius {
				continue
			}

			// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0

			elev := octaveNoise(elevNoise, x, y, 4, 0.08, 0.5)
			rain := octaveNoise(rainNoise, x, y, 3, 0.06, 0.5)
			temp := octaveNoise(tempNoise, x, y, 3, 0.05, 0.5)

			// Continental shaping: reduce elevation near edges to create ocean border.
			distFromCenter := math.Sqrt(x*x+y*y) / float64(cfg.Radius)
			edgeFalloff := 1.0 - math.Pow(distFromCenter, 3.5)
			if edgeFalloff < 0 {
				edgeFalloff = 0
			}
			elev *= edgeFalloff

			temp = temp*0.6 + (1.0-math.Abs(y)/float64(cfg.Radius))*0.3 + (1.0-elev)*0.1

			terrain := deriveTerrain(elev, rain, temp, cfg)
			if terrain == TerrainOcean {
				continue
			}

			u := m.AddUnit(HexCoord{Q: q, R: r}, terrain)
			u.Elevation = elev
			u.Rainfall = rain
			u.Temperature = temp
			u.Capacity = terrain.Capacity() * (0.5 + rain*0.5)
			u.Population = u.Capacity * cfg.InitialFill
		}
	}

	markCoastalUnits(m)

	if err := link(m, cfg); err != nil {
		return nil, fmt.Errorf("link units: %w", err)
	}
	return m, nil
}

// link connects every pair of adjacent land units. The weight grows with
// the terrain cost of both ends and with the slope between them.
func link(m *Map, cfg GenConfig) error {
	for _, u := range m.Units {
		for _, nc := range u.Coord.Neighbors() {
			n := m.At(nc)
			if n == nil || n.ID < u.ID {
				continue
			}
			cost := (u.Terrain.TravelCost() + n.Terrain.TravelCost()) / 2
			slope := math.Abs(u.Elevation - n.Elevation)
			if err := m.Connect(u.ID, n.ID, cost*(1+slope*cfg.SlopeCost)); err != nil {
				return err
			}
		}
	}
	return nil
}

// deriveTerrain determines terrain type from environmental parameters.
func deriveTerrain(elev, rain, temp float64, cfg GenConfig) Terrain {
	if elev < cfg.SeaLevel {
		return TerrainOcean
	}
	if elev > cfg.MountainLvl {
		return TerrainMountain
	}
	if temp < 0.25 {
		return TerrainTundra
	}
	if rain < 0.25 && temp > 0.5 {
		return TerrainDesert
	}
	if rain > 0.7 && elev < 0.45 {
		return TerrainSwamp
	}
	if rain > 0.45 && elev > 0.45 {
		return TerrainForest
	}
	return TerrainPlains
}

// markCoastalUnits converts low plains/forest units next to open water into coast.
func markCoastalUnits(m *Map) {
	var toMark []*Unit
	for _, u := range m.Units {
		if u.Terrain != TerrainPlains && u.Terrain != TerrainForest {
			continue
		}
		if u.Elevation >= 0.5 {
			continue
		}
		for _, nc := range u.Coord.Neighbors() {
			if m.At(nc) == nil && Distance(nc, HexCoord{}) <= m.Radius {
				toMark = append(toMark, u)
				break
			}
		}
	}
	for _, u := range toMark {
		u.Terrain = TerrainCoast
		u.Capacity = TerrainCoast.Capacity() * (0.5 + u.Rainfall*0.5)
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// TerrainCounts returns a summary of terrain type distribution.
func TerrainCounts(m *Map) map[Terrain]int {
	counts := make(map[Terrain]int)
	m.Each(func(u *Unit) {
		counts[u.Terrain]++
	})
	return counts
}

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t Terrain) string {
	switch t {
	case TerrainPlains:
		return "Plains"
	case TerrainForest:
		return "Forest"
	case TerrainMountain:
		return "Mountain"
	case TerrainCoast:
		return "Coast"
	case TerrainDesert:
		return "Desert"
	case TerrainSwamp:
		return "Swamp"
	case TerrainTundra:
		return "Tundra"
	case TerrainOcean:
		return "Ocean"
	default:
		return "Unknown"
	}
}
