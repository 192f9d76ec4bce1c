package polity

import (
	"fmt"
	"math"

	"github.com/talgya/worldhistory/internal/world"
)

// maxAdminDistance caps the distance used for units cut off from every
// faction core, which would otherwise cost +Inf.
const maxAdminDistance = 1000

// Census holds the aggregate statistics of a cluster or polity.
type Census struct {
	Population float64 `json:"population"` // Σ population × prominence
	AdminCost  float64 `json:"admin_cost"`
	Area       float64 `json:"area"`
	Prominence float64 `json:"prominence"` // Σ prominence
	Entries    int     `json:"entries"`
	Clusters   int     `json:"clusters"`
}

func (c *Census) add(o Census) {
	c.Population += o.Population
	c.AdminCost += o.AdminCost
	c.Area += o.Area
	c.Prominence += o.Prominence
	c.Entries += o.Entries
	c.Clusters += o.Clusters
}

// RunCensus refreshes the aggregates of every cluster of the polity flagged
// as needing a census and returns the polity total.
func (f *Field) RunCensus(id ID) (Census, error) {
	p := f.polities[id]
	if p == nil {
		return Census{}, fmt.Errorf("census: polity %d missing", id)
	}
	var total Census
	for _, cid := range p.clusters {
		c := f.clusters[cid]
		if c.needsCensus {
			f.censusCluster(c)
		}
		total.add(c.census)
	}
	p.census = total
	if total.Population > f.highs.Population {
		f.highs.Population = total.Population
	}
	return total, nil
}

// RunAllCensuses runs RunCensus for every live polity.
func (f *Field) RunAllCensuses() {
	for _, p := range f.Polities() {
		// Polities from Polities() are live, so RunCensus cannot fail.
		_, _ = f.RunCensus(p.ID)
	}
}

func (f *Field) censusCluster(c *Cluster) {
	var cs Census
	for _, e := range c.members {
		u := f.world.Units[e.Unit]
		e.AdminCost = f.adminCost(e, u)
		cs.Population += u.Population * e.Value
		cs.AdminCost += e.AdminCost
		cs.Area += u.Area
		cs.Prominence += e.Value
	}
	cs.Entries = len(c.members)
	cs.Clusters = 1
	c.census = cs
	c.needsCensus = false
}

func (f *Field) adminCost(e *Entry, u *world.Unit) float64 {
	dist := math.Min(e.FactionDistance, maxAdminDistance)
	return u.Population * e.Value * (f.cfg.AdminBase + dist) * f.cfg.AdminScale
}
