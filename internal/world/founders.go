// Founder placement: picks the units the first polities grow from.
package world

import (
	"math"
	"sort"

	"github.com/talgya/worldhistory/internal/entropy"
)

// FounderSite is a unit chosen to host a founding polity core.
type FounderSite struct {
	Unit  UnitID
	Score float64 // desirability
	Name  string
}

// PlaceFounders scores every live unit and returns up to count sites,
// best first, no two closer than minDist hexes. Names are drawn from src.
func PlaceFounders(m *Map, src *entropy.Source, count, minDist int) []FounderSite {
	type scored struct {
		unit  *Unit
		score float64
	}
	var candidates []scored
	m.Each(func(u *Unit) {
		if s := founderScore(m, u); s > 0 {
			candidates = append(candidates, scored{u, s})
		}
	})

	// Ties fall back to unit id so placement depends only on the map.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].unit.ID < candidates[j].unit.ID
	})

	var sites []FounderSite
	var coords []HexCoord
	used := make(map[string]bool)
	for _, c := range candidates {
		if len(sites) >= count {
			break
		}
		if tooClose(c.unit.Coord, coords, minDist) {
			continue
		}
		coords = append(coords, c.unit.Coord)
		sites = append(sites, FounderSite{
			Unit:  c.unit.ID,
			Score: c.score,
			Name:  UniqueName(src, c.unit.Key(), entropy.OffsetFounderName, used),
		})
	}
	return sites
}

// founderScore prefers fertile, populous units with varied surroundings.
func founderScore(m *Map, u *Unit) float64 {
	score := 0.0
	switch u.Terrain {
	case TerrainPlains:
		score += 3.0
	case TerrainCoast:
		score += 4.0
	case TerrainForest:
		score += 1.5
	case TerrainDesert, TerrainSwamp, TerrainTundra:
		score += 0.5
	case TerrainMountain:
		score += 0.3
	default:
		return 0
	}

	terrains := make(map[Terrain]bool)
	for _, e := range u.Edges {
		terrains[m.Units[e.To].Terrain] = true
	}
	score += float64(len(terrains)) * 0.3
	score += math.Log1p(u.Population) * 0.2
	return score
}

func tooClose(coord HexCoord, taken []HexCoord, minDist int) bool {
	for _, c := range taken {
		if Distance(coord, c) < minDist {
			return true
		}
	}
	return false
}

var (
	namePrefixes = []string{
		"Iron", "Green", "Ash", "Stone", "Mill", "Cross", "Black",
		"Silver", "Red", "White", "Dark", "Bright", "High", "Low",
		"Old", "New", "Far", "Deep", "Long", "Broad", "Gold", "Frost",
		"Storm", "Thorn", "Elm", "Oak", "Pine", "Copper", "River",
	}
	nameSuffixes = []string{
		"haven", "ford", "hollow", "wick", "bridge", "gate", "keep",
		"stead", "wood", "field", "dale", "crest", "vale", "port",
		"town", "bury", "marsh", "well", "brook", "cliff", "moor",
		"ridge", "watch", "fall", "rest", "point", "reach", "helm",
	}
)

// Name combines a prefix and a suffix drawn at offset and offset+1.
func Name(src *entropy.Source, key entropy.Key, date int64, offset entropy.Offset) string {
	return namePrefixes[src.Int(key, date, offset, len(namePrefixes))] +
		nameSuffixes[src.Int(key, date, offset+1, len(nameSuffixes))]
}

// UniqueName draws names until one is not in used, records it and returns it.
// Successive attempts advance the date argument of the draw.
func UniqueName(src *entropy.Source, key entropy.Key, offset entropy.Offset, used map[string]bool) string {
	for attempt := int64(0); ; attempt++ {
		name := Name(src, key, attempt, offset)
		if !used[name] || attempt > 64 {
			used[name] = true
			return name
		}
	}
}
