package polity

import (
	"fmt"
	"math"

	"github.com/talgya/worldhistory/internal/entropy"
	"github.com/talgya/worldhistory/internal/invariant"
	"github.com/talgya/worldhistory/internal/world"
)

// PolityRecord is the persisted form of a polity.
type PolityRecord struct {
	ID      ID           `json:"id" db:"id"`
	Name    string       `json:"name" db:"name"`
	Core    world.UnitID `json:"core" db:"core_unit"`
	Founded int64        `json:"founded" db:"founded"`
}

// FactionRecord is the persisted form of a faction.
type FactionRecord struct {
	ID        FactionID    `json:"id" db:"id"`
	Polity    ID           `json:"polity" db:"polity_id"`
	Name      string       `json:"name" db:"name"`
	Core      world.UnitID `json:"core" db:"core_unit"`
	Influence float64      `json:"influence" db:"influence"`
	Founded   int64        `json:"founded" db:"founded"`
}

// EntryRecord is the persisted form of an entry. Distances of units cut
// off from every source are stored as -1.
type EntryRecord struct {
	Unit            world.UnitID `json:"unit" db:"unit_id"`
	Polity          ID           `json:"polity" db:"polity_id"`
	Value           float64      `json:"value" db:"value"`
	CoreDistance    float64      `json:"core_distance" db:"core_distance"`
	FactionDistance float64      `json:"faction_distance" db:"faction_distance"`
}

// ClusterRecord is the persisted form of a cluster: its members in order.
type ClusterRecord struct {
	ID      ClusterID      `json:"id"`
	Polity  ID             `json:"polity"`
	Members []world.UnitID `json:"members"`
}

// State is the logical persisted layout of a field.
type State struct {
	Date        int64     `json:"date"`
	LastUpdate  int64     `json:"last_update"`
	NextPolity  ID        `json:"next_polity"`
	NextFaction FactionID `json:"next_faction"`
	NextCluster ClusterID `json:"next_cluster"`
	Highs       Highs     `json:"highs"`

	Polities []PolityRecord  `json:"polities"`
	Factions []FactionRecord `json:"factions"`
	Entries  []EntryRecord   `json:"entries"`
	Clusters []ClusterRecord `json:"clusters"`
}

// State captures the field in a deterministic order.
func (f *Field) State() State {
	f.flushDistances()
	st := State{
		Date:        f.date,
		LastUpdate:  f.lastUpdate,
		NextPolity:  f.nextPolity,
		NextFaction: f.nextFaction,
		NextCluster: f.nextCluster,
		Highs:       f.highs,
	}
	for _, p := range f.Polities() {
		st.Polities = append(st.Polities, PolityRecord{ID: p.ID, Name: p.Name, Core: p.Core, Founded: p.Founded})
		for _, fac := range p.Factions {
			st.Factions = append(st.Factions, FactionRecord{
				ID:        fac.ID,
				Polity:    p.ID,
				Name:      fac.Name,
				Core:      fac.Core,
				Influence: fac.Influence,
				Founded:   fac.Founded,
			})
		}
		for _, cid := range p.clusters {
			c := f.clusters[cid]
			st.Clusters = append(st.Clusters, ClusterRecord{ID: c.ID, Polity: p.ID, Members: c.Members()})
		}
	}
	for _, uid := range f.occupiedUnits() {
		for _, e := range f.units[uid] {
			st.Entries = append(st.Entries, EntryRecord{
				Unit:            e.Unit,
				Polity:          e.Polity,
				Value:           e.Value,
				CoreDistance:    encodeDistance(e.CoreDistance),
				FactionDistance: encodeDistance(e.FactionDistance),
			})
		}
	}
	return st
}

// Restore rebuilds a field from saved state in two phases. First polities,
// factions and entries are created; then clusters are rebuilt from their
// stored member lists and the result is audited. Distances and clusters are
// taken as saved, never recomputed, so a reload continues exactly where the
// saved world stopped.
func Restore(cfg Config, m *world.Map, rng *entropy.Source, st State) (*Field, error) {
	f, err := NewField(cfg, m, rng)
	if err != nil {
		return nil, err
	}
	f.date = st.Date
	f.lastUpdate = st.LastUpdate
	f.highs = st.Highs

	// Phase one: arena contents.
	for _, r := range st.Polities {
		if _, dup := f.polities[r.ID]; dup {
			return nil, fmt.Errorf("restore: duplicate polity %d", r.ID)
		}
		f.polities[r.ID] = &Polity{ID: r.ID, Name: r.Name, Core: r.Core, Founded: r.Founded}
	}
	for _, r := range st.Factions {
		p := f.polities[r.Polity]
		if p == nil {
			return nil, fmt.Errorf("restore: faction %d references missing polity %d", r.ID, r.Polity)
		}
		p.Factions = append(p.Factions, &Faction{
			ID:        r.ID,
			Name:      r.Name,
			Core:      r.Core,
			Influence: r.Influence,
			Founded:   r.Founded,
		})
	}
	for _, r := range st.Entries {
		p := f.polities[r.Polity]
		if p == nil {
			return nil, fmt.Errorf("restore: entry on unit %d references missing polity %d", r.Unit, r.Polity)
		}
		if m.Get(r.Unit) == nil {
			return nil, fmt.Errorf("restore: entry references missing unit %d", r.Unit)
		}
		if f.Entry(r.Unit, r.Polity) != nil {
			return nil, fmt.Errorf("restore: duplicate entry for polity %d on unit %d", r.Polity, r.Unit)
		}
		f.linkToUnit(&Entry{
			Unit:            r.Unit,
			Polity:          r.Polity,
			Value:           r.Value,
			CoreDistance:    decodeDistance(r.CoreDistance),
			FactionDistance: decodeDistance(r.FactionDistance),
		})
		p.entries++
	}

	// Phase two: resolve cluster member lists into the loaded entries.
	maxCluster := ClusterID(0)
	for _, r := range st.Clusters {
		p := f.polities[r.Polity]
		if p == nil {
			return nil, fmt.Errorf("restore: cluster %d references missing polity %d", r.ID, r.Polity)
		}
		if _, dup := f.clusters[r.ID]; dup || r.ID == 0 {
			return nil, fmt.Errorf("restore: invalid or duplicate cluster id %d", r.ID)
		}
		c := &Cluster{ID: r.ID, Polity: r.Polity, index: make(map[world.UnitID]int, len(r.Members))}
		f.clusters[c.ID] = c
		p.clusters = append(p.clusters, c.ID)
		for _, uid := range r.Members {
			e := f.Entry(uid, r.Polity)
			if e == nil {
				return nil, fmt.Errorf("restore: cluster %d lists unit %d without an entry", r.ID, uid)
			}
			if e.Cluster != 0 {
				return nil, fmt.Errorf("restore: unit %d of polity %d listed in clusters %d and %d", uid, r.Polity, e.Cluster, r.ID)
			}
			c.add(e)
		}
		if r.ID > maxCluster {
			maxCluster = r.ID
		}
	}

	f.nextPolity = st.NextPolity
	f.nextFaction = st.NextFaction
	f.nextCluster = st.NextCluster
	if f.nextCluster <= maxCluster {
		f.nextCluster = maxCluster + 1
	}
	for id := range f.polities {
		if id >= f.nextPolity {
			f.nextPolity = id + 1
		}
	}
	if f.nextFaction == 0 {
		f.nextFaction = 1
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return f, nil
}

// Validate audits the whole field: per-unit sums, entry/cluster membership,
// cluster size and contiguity, and polity cores.
func (f *Field) Validate() error {
	const op = "field.validate"
	counts := make(map[ID]int)
	for _, uid := range f.occupiedUnits() {
		sum := 0.0
		for _, e := range f.units[uid] {
			if e.Value < 0 || e.Value > 1 || math.IsNaN(e.Value) {
				return invariant.New(op, "unit %d polity %d value %g outside [0, 1]", uid, e.Polity, e.Value)
			}
			sum += e.Value
			c := f.clusters[e.Cluster]
			if c == nil || c.Polity != e.Polity {
				return invariant.New(op, "unit %d polity %d has no valid cluster", uid, e.Polity)
			}
			if i, ok := c.index[uid]; !ok || c.members[i] != e {
				return invariant.New(op, "unit %d polity %d missing from cluster %d", uid, e.Polity, c.ID)
			}
			counts[e.Polity]++
		}
		if sum > 1+sumTolerance {
			return invariant.New(op, "unit %d prominence sum %g", uid, sum)
		}
	}

	for _, p := range f.Polities() {
		if counts[p.ID] != p.entries {
			return invariant.New(op, "polity %d counts %d entries, found %d", p.ID, p.entries, counts[p.ID])
		}
		if f.Entry(p.Core, p.ID) == nil {
			return invariant.New(op, "polity %d core unit %d holds no prominence", p.ID, p.Core)
		}
		for _, cid := range p.clusters {
			c := f.clusters[cid]
			if c == nil || c.Len() == 0 {
				return invariant.New(op, "polity %d lists empty or missing cluster %d", p.ID, cid)
			}
			if c.Len() > f.cfg.MaxClusterSize {
				return invariant.New(op, "cluster %d has %d members, max %d", c.ID, c.Len(), f.cfg.MaxClusterSize)
			}
		}
	}
	return f.CheckContiguity()
}

// CheckContiguity reports the first cluster whose members are not connected
// through units of the cluster itself.
func (f *Field) CheckContiguity() error {
	for _, p := range f.Polities() {
		for _, cid := range p.clusters {
			c := f.clusters[cid]
			if c == nil || c.Len() == 0 {
				continue
			}
			if comps := f.components(c); len(comps) != 1 {
				return invariant.New("field.contiguity", "cluster %d is split into %d pieces", c.ID, len(comps))
			}
		}
	}
	return nil
}

func encodeDistance(d float64) float64 {
	if math.IsInf(d, 1) {
		return -1
	}
	return d
}

func decodeDistance(d float64) float64 {
	if d < 0 {
		return math.Inf(1)
	}
	return d
}
