// Package telemetry exports periodic census data as CSV.
package telemetry

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/talgya/worldhistory/internal/engine"
)

// CensusRow is one polity's census at a date.
type CensusRow struct {
	Date       int64   `csv:"date"`
	Polity     uint64  `csv:"polity"`
	Name       string  `csv:"name"`
	Core       uint32  `csv:"core_unit"`
	Population float64 `csv:"population"`
	AdminCost  float64 `csv:"admin_cost"`
	Area       float64 `csv:"area"`
	Prominence float64 `csv:"prominence"`
	Entries    int     `csv:"entries"`
	Clusters   int     `csv:"clusters"`
	Factions   int     `csv:"factions"`
}

// WorldRow summarises the whole world at a date.
type WorldRow struct {
	Date          int64   `csv:"date"`
	Population    float64 `csv:"population"`
	Polities      int     `csv:"polities"`
	Entries       int     `csv:"entries"`
	Clusters      int     `csv:"clusters"`
	PendingEvents int     `csv:"pending_events"`
	Fired         int     `csv:"fired"`
	Clamped       int     `csv:"clamped"`

	ClusterSizeMean float64 `csv:"cluster_size_mean"`
	ClusterSizeStd  float64 `csv:"cluster_size_std"`
	ClusterSizeP50  float64 `csv:"cluster_size_p50"`
	ClusterSizeP90  float64 `csv:"cluster_size_p90"`
}

// SizeStats describes a distribution of cluster sizes.
type SizeStats struct {
	Mean, Std, P50, P90 float64
}

// ClusterSizeStats computes summary statistics of sizes. Fewer than two
// samples give a zero standard deviation.
func ClusterSizeStats(sizes []float64) SizeStats {
	if len(sizes) == 0 {
		return SizeStats{}
	}
	sorted := append([]float64(nil), sizes...)
	sort.Float64s(sorted)

	s := SizeStats{
		Mean: stat.Mean(sorted, nil),
		P50:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:  stat.Quantile(0.9, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.Std = stat.StdDev(sorted, nil)
	}
	return s
}

// Collect reads the current census of every polity and a world summary.
// Census figures are those of the most recent field update.
func Collect(sim *engine.Simulation) ([]CensusRow, WorldRow) {
	var rows []CensusRow
	var world WorldRow
	sim.View(func(s *engine.Simulation) {
		date := s.Stats.Date
		var sizes []float64
		for _, p := range s.Field.Polities() {
			c := p.Census()
			rows = append(rows, CensusRow{
				Date:       date,
				Polity:     uint64(p.ID),
				Name:       p.Name,
				Core:       uint32(p.Core),
				Population: c.Population,
				AdminCost:  c.AdminCost,
				Area:       c.Area,
				Prominence: c.Prominence,
				Entries:    p.Entries(),
				Clusters:   p.ClusterCount(),
				Factions:   len(p.Factions),
			})
			for _, cl := range s.Field.Clusters(p.ID) {
				sizes = append(sizes, float64(cl.Len()))
			}
		}

		sz := ClusterSizeStats(sizes)
		world = WorldRow{
			Date:            date,
			Population:      s.Stats.Population,
			Polities:        s.Stats.Polities,
			Entries:         s.Stats.Entries,
			Clusters:        s.Stats.Clusters,
			PendingEvents:   s.Stats.PendingEvents,
			Fired:           s.Stats.Scheduler.Fired,
			Clamped:         s.Stats.Scheduler.Clamped,
			ClusterSizeMean: sz.Mean,
			ClusterSizeStd:  sz.Std,
			ClusterSizeP50:  sz.P50,
			ClusterSizeP90:  sz.P90,
		}
	})
	return rows, world
}
