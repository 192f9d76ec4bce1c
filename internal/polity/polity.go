// Package polity maintains where political influence sits on the unit graph.
//
// A Field holds every prominence entry (unit, polity, value), keeps each
// polity's core distances current as entries appear and disappear, and
// partitions each polity's entries into bounded, contiguous clusters so
// census and random sampling stay cheap on large territories.
//
// Entries, clusters and polities refer to each other by id. Pointers are
// only handed out for the duration of a call.
package polity

import (
	"fmt"
	"sort"

	"github.com/talgya/worldhistory/internal/entropy"
	"github.com/talgya/worldhistory/internal/world"
)

// ID is a unique identifier for a polity.
type ID uint64

// FactionID is a unique identifier for a faction.
type FactionID uint64

// ClusterID is a unique identifier for a cluster.
type ClusterID uint64

// Faction is a sub-entity of a polity with its own core unit. Faction cores
// shorten the administrative distance of the units around them.
type Faction struct {
	ID        FactionID    `json:"id"`
	Name      string       `json:"name"`
	Core      world.UnitID `json:"core"`
	Influence float64      `json:"influence"`
	Founded   int64        `json:"founded"`
}

// Polity is a long-lived political entity holding territorial influence.
type Polity struct {
	ID       ID           `json:"id"`
	Name     string       `json:"name"`
	Core     world.UnitID `json:"core"`
	Founded  int64        `json:"founded"`
	Factions []*Faction   `json:"factions"`

	clusters []ClusterID // creation order
	entries  int
	census   Census
}

// Entries returns how many units hold this polity's prominence.
func (p *Polity) Entries() int {
	return p.entries
}

// ClusterCount returns the number of clusters the polity's territory is split into.
func (p *Polity) ClusterCount() int {
	return len(p.clusters)
}

// Census returns the aggregates from the most recent RunCensus.
func (p *Polity) Census() Census {
	return p.census
}

// Highs tracks the largest values ever observed in this world.
type Highs struct {
	Population float64 `json:"population"`
	Clusters   int     `json:"clusters"`
	Entries    int     `json:"entries"`
}

// Config tunes propagation and clustering.
type Config struct {
	TimeConstant  float64 // days; lag filter constant
	MinValue      float64 // entries at or below this are deleted
	DistanceScale float64 // k in k/(k+distance)
	Noise         float64 // max fractional reduction of sustainable prominence
	SupportFloor  float64 // share of the target independent of neighbour support
	AdminBase     float64
	AdminScale    float64

	MaxClusterSize int
	MinSplitSize   int
	MergeBelow     int // clusters smaller than this merge into a neighbour; 0 disables
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		TimeConstant:   30,
		MinValue:       0.01,
		DistanceScale:  20,
		Noise:          0.2,
		SupportFloor:   0.5,
		AdminBase:      5,
		AdminScale:     0.001,
		MaxClusterSize: 50,
		MinSplitSize:   25,
		MergeBelow:     5,
	}
}

func (c Config) validate() error {
	if c.MaxClusterSize < 2 {
		return fmt.Errorf("max cluster size %d < 2", c.MaxClusterSize)
	}
	if c.MinSplitSize < 1 || c.MinSplitSize >= c.MaxClusterSize {
		return fmt.Errorf("min split size %d outside [1, %d)", c.MinSplitSize, c.MaxClusterSize)
	}
	if c.MergeBelow < 0 || c.MergeBelow > c.MinSplitSize {
		return fmt.Errorf("merge threshold %d outside [0, %d]", c.MergeBelow, c.MinSplitSize)
	}
	if c.TimeConstant <= 0 || c.DistanceScale <= 0 {
		return fmt.Errorf("time constant and distance scale must be positive")
	}
	if c.MinValue < 0 || c.MinValue >= 1 {
		return fmt.Errorf("min value %g outside [0, 1)", c.MinValue)
	}
	if c.Noise < 0 || c.Noise >= 1 || c.SupportFloor < 0 || c.SupportFloor > 1 {
		return fmt.Errorf("noise and support floor must lie in [0, 1]")
	}
	return nil
}

// Field is the prominence field and cluster index for one world.
type Field struct {
	cfg   Config
	world *world.Map
	rng   *entropy.Source

	units    map[world.UnitID][]*Entry // per unit, sorted by polity id
	polities map[ID]*Polity
	clusters map[ClusterID]*Cluster

	nextPolity  ID
	nextFaction FactionID
	nextCluster ClusterID

	date       int64 // date of the last Update or SetDate
	lastUpdate int64 // date of the last Update

	work map[ID]*distanceWork

	highs Highs
}

// NewField creates an empty field over a unit graph.
func NewField(cfg Config, m *world.Map, rng *entropy.Source) (*Field, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("field config: %w", err)
	}
	return &Field{
		cfg:         cfg,
		world:       m,
		rng:         rng,
		units:       make(map[world.UnitID][]*Entry),
		polities:    make(map[ID]*Polity),
		clusters:    make(map[ClusterID]*Cluster),
		nextPolity:  1,
		nextFaction: 1,
		nextCluster: 1,
		work:        make(map[ID]*distanceWork),
	}, nil
}

// Config returns the field's tuning.
func (f *Field) Config() Config {
	return f.cfg
}

// World returns the unit graph.
func (f *Field) World() *world.Map {
	return f.world
}

// Date returns the field's current date.
func (f *Field) Date() int64 {
	return f.date
}

// SetDate moves the field's clock without propagating. Random draws made by
// RandomMember use this date.
func (f *Field) SetDate(date int64) {
	if date > f.date {
		f.date = date
	}
}

// Highs returns the per-world maxima observed so far.
func (f *Field) Highs() Highs {
	return f.highs
}

// Polity returns a live polity or nil.
func (f *Field) Polity(id ID) *Polity {
	return f.polities[id]
}

// Polities returns the live polities in id order.
func (f *Field) Polities() []*Polity {
	out := make([]*Polity, 0, len(f.polities))
	for _, p := range f.polities {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NewPolity founds a polity with its core at unit holding the given prominence.
func (f *Field) NewPolity(name string, core world.UnitID, value float64) (*Polity, error) {
	if f.world.Get(core) == nil {
		return nil, fmt.Errorf("new polity %q: core unit %d missing", name, core)
	}
	p := &Polity{
		ID:      f.nextPolity,
		Name:    name,
		Core:    core,
		Founded: f.date,
	}
	f.nextPolity++
	f.polities[p.ID] = p
	if _, err := f.AddProminence(p.ID, core, value); err != nil {
		delete(f.polities, p.ID)
		return nil, fmt.Errorf("new polity %q: %w", name, err)
	}
	return p, nil
}

// RemovePolity deletes a polity and all of its entries. Removing an absent
// polity is a no-op.
func (f *Field) RemovePolity(id ID) {
	p := f.polities[id]
	if p == nil {
		return
	}
	for _, cid := range p.clusters {
		for _, e := range f.clusters[cid].members {
			f.unlinkFromUnit(e)
		}
		delete(f.clusters, cid)
	}
	p.clusters = nil
	p.entries = 0
	delete(f.work, id)
	delete(f.polities, id)
}

// AddFaction founds a faction of polity id with its core at unit. The unit
// must hold the polity's prominence.
func (f *Field) AddFaction(id ID, name string, core world.UnitID, influence float64) (*Faction, error) {
	p := f.polities[id]
	if p == nil {
		return nil, fmt.Errorf("add faction %q: polity %d missing", name, id)
	}
	if f.Entry(core, id) == nil {
		return nil, fmt.Errorf("add faction %q: unit %d holds no prominence of polity %d", name, core, id)
	}
	fac := &Faction{
		ID:        f.nextFaction,
		Name:      name,
		Core:      core,
		Influence: influence,
		Founded:   f.date,
	}
	f.nextFaction++
	p.Factions = append(p.Factions, fac)
	f.workFor(id).addSeed(core)
	f.flushDistances()
	return fac, nil
}

// polityEntries returns every entry of p in cluster order.
func (f *Field) polityEntries(p *Polity) []*Entry {
	out := make([]*Entry, 0, p.entries)
	for _, cid := range p.clusters {
		out = append(out, f.clusters[cid].members...)
	}
	return out
}

// isFactionCore reports whether unit is the core of p or of one of its factions.
func (p *Polity) isFactionCore(unit world.UnitID) bool {
	if p.Core == unit {
		return true
	}
	for _, fac := range p.Factions {
		if fac.Core == unit {
			return true
		}
	}
	return false
}
