package polity

import (
	"github.com/talgya/worldhistory/internal/world"
)

// Cluster is a spatially contiguous group of one polity's entries.
type Cluster struct {
	ID     ClusterID
	Polity ID

	members []*Entry
	index   map[world.UnitID]int

	census      Census
	needsCensus bool
}

// Len returns the number of members.
func (c *Cluster) Len() int {
	return len(c.members)
}

// Members returns the member unit ids in cluster order.
func (c *Cluster) Members() []world.UnitID {
	out := make([]world.UnitID, len(c.members))
	for i, e := range c.members {
		out[i] = e.Unit
	}
	return out
}

// Census returns the cached aggregates. They are current only when
// NeedsCensus is false.
func (c *Cluster) Census() Census {
	return c.census
}

// NeedsCensus reports whether a mutation invalidated the cached aggregates.
func (c *Cluster) NeedsCensus() bool {
	return c.needsCensus
}

func (c *Cluster) add(e *Entry) {
	e.Cluster = c.ID
	c.index[e.Unit] = len(c.members)
	c.members = append(c.members, e)
	c.needsCensus = true
}

func (c *Cluster) remove(e *Entry) {
	i, ok := c.index[e.Unit]
	if !ok {
		return
	}
	last := len(c.members) - 1
	if i != last {
		moved := c.members[last]
		c.members[i] = moved
		c.index[moved.Unit] = i
	}
	c.members[last] = nil
	c.members = c.members[:last]
	delete(c.index, e.Unit)
	e.Cluster = 0
	c.needsCensus = true
}

// Clusters returns the clusters of a polity in creation order.
func (f *Field) Clusters(id ID) []*Cluster {
	p := f.polities[id]
	if p == nil {
		return nil
	}
	out := make([]*Cluster, len(p.clusters))
	for i, cid := range p.clusters {
		out[i] = f.clusters[cid]
	}
	return out
}

// Cluster returns a cluster by id, or nil.
func (f *Field) Cluster(id ClusterID) *Cluster {
	return f.clusters[id]
}

func (f *Field) newCluster(p *Polity) *Cluster {
	c := &Cluster{
		ID:          f.nextCluster,
		Polity:      p.ID,
		index:       make(map[world.UnitID]int),
		needsCensus: true,
	}
	f.nextCluster++
	f.clusters[c.ID] = c
	p.clusters = append(p.clusters, c.ID)
	if len(p.clusters) > f.highs.Clusters {
		f.highs.Clusters = len(p.clusters)
	}
	return c
}

func (f *Field) dropCluster(c *Cluster) {
	delete(f.clusters, c.ID)
	p := f.polities[c.Polity]
	if p == nil {
		return
	}
	for i, cid := range p.clusters {
		if cid == c.ID {
			p.clusters = append(p.clusters[:i], p.clusters[i+1:]...)
			break
		}
	}
}

func (f *Field) markCensus(e *Entry) {
	if c := f.clusters[e.Cluster]; c != nil {
		c.needsCensus = true
	}
}

// sameCluster returns the neighbours of e that belong to cluster cid, in
// edge order.
func (f *Field) sameCluster(e *Entry, cid ClusterID) []*Entry {
	var out []*Entry
	for _, edge := range f.world.Units[e.Unit].Edges {
		if n := f.Entry(edge.To, e.Polity); n != nil && n.Cluster == cid {
			out = append(out, n)
		}
	}
	return out
}

// attach places a new entry into the cluster of its first same-polity
// neighbour, or into a new singleton cluster, splitting when the cluster
// grows past MaxClusterSize.
func (f *Field) attach(e *Entry) {
	p := f.polities[e.Polity]
	var c *Cluster
	for _, edge := range f.world.Units[e.Unit].Edges {
		if n := f.Entry(edge.To, e.Polity); n != nil && n.Cluster != 0 {
			c = f.clusters[n.Cluster]
			break
		}
	}
	if c == nil {
		c = f.newCluster(p)
	}
	c.add(e)
	if c.Len() > f.cfg.MaxClusterSize {
		f.split(c, e)
	}
}

// split moves seed into a new cluster and then migrates old members reached
// breadth-first from it until the new cluster holds MinSplitSize entries or
// nothing else is reachable. Pieces of the old cluster cut off by the move
// become clusters of their own.
func (f *Field) split(c *Cluster, seed *Entry) *Cluster {
	p := f.polities[c.Polity]
	nc := f.newCluster(p)

	c.remove(seed)
	nc.add(seed)
	queue := []*Entry{seed}
	for len(queue) > 0 && nc.Len() < f.cfg.MinSplitSize {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range f.sameCluster(cur, c.ID) {
			if nc.Len() >= f.cfg.MinSplitSize {
				break
			}
			c.remove(n)
			nc.add(n)
			queue = append(queue, n)
		}
	}

	if c.Len() == 0 {
		f.dropCluster(c)
		return nc
	}
	f.separateComponents(c)
	return nc
}

// detach removes e from its cluster. An emptied cluster is dropped; a
// cluster cut in two keeps its largest piece and the rest become new
// clusters; undersized clusters merge into a neighbour when allowed.
func (f *Field) detach(e *Entry) {
	c := f.clusters[e.Cluster]
	if c == nil {
		return
	}
	touching := f.sameCluster(e, c.ID)
	c.remove(e)
	if c.Len() == 0 {
		f.dropCluster(c)
		return
	}

	pieces := []*Cluster{c}
	if len(touching) >= 2 && !f.reachesAll(c, touching) {
		pieces = append(pieces, f.separateComponents(c)...)
	}
	for _, piece := range pieces {
		f.maybeMerge(piece)
	}
}

// reachesAll reports whether every entry in targets is reachable from
// targets[0] inside cluster c.
func (f *Field) reachesAll(c *Cluster, targets []*Entry) bool {
	want := make(map[world.UnitID]bool, len(targets))
	for _, t := range targets {
		want[t.Unit] = true
	}
	seen := map[world.UnitID]bool{targets[0].Unit: true}
	delete(want, targets[0].Unit)
	queue := []*Entry{targets[0]}
	for len(queue) > 0 && len(want) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range f.sameCluster(cur, c.ID) {
			if seen[n.Unit] {
				continue
			}
			seen[n.Unit] = true
			delete(want, n.Unit)
			queue = append(queue, n)
		}
	}
	return len(want) == 0
}

// components returns the connected pieces of c, discovered in member order.
func (f *Field) components(c *Cluster) [][]*Entry {
	seen := make(map[world.UnitID]bool, c.Len())
	var out [][]*Entry
	for _, start := range c.members {
		if seen[start.Unit] {
			continue
		}
		seen[start.Unit] = true
		comp := []*Entry{start}
		for i := 0; i < len(comp); i++ {
			for _, n := range f.sameCluster(comp[i], c.ID) {
				if !seen[n.Unit] {
					seen[n.Unit] = true
					comp = append(comp, n)
				}
			}
		}
		out = append(out, comp)
	}
	return out
}

// separateComponents keeps the largest connected piece of c in place and
// moves every other piece into a new cluster, which it returns.
func (f *Field) separateComponents(c *Cluster) []*Cluster {
	comps := f.components(c)
	if len(comps) < 2 {
		return nil
	}
	largest := 0
	for i, comp := range comps {
		if len(comp) > len(comps[largest]) {
			largest = i
		}
	}
	p := f.polities[c.Polity]
	var created []*Cluster
	for i, comp := range comps {
		if i == largest {
			continue
		}
		nc := f.newCluster(p)
		for _, e := range comp {
			c.remove(e)
			nc.add(e)
		}
		created = append(created, nc)
	}
	return created
}

// maybeMerge folds an undersized cluster into the adjacent cluster of the
// same polity with the lowest id, if the result stays within MaxClusterSize.
func (f *Field) maybeMerge(c *Cluster) {
	if f.cfg.MergeBelow == 0 || c.Len() >= f.cfg.MergeBelow || f.clusters[c.ID] == nil {
		return
	}
	var target *Cluster
	for _, e := range c.members {
		for _, edge := range f.world.Units[e.Unit].Edges {
			n := f.Entry(edge.To, c.Polity)
			if n == nil || n.Cluster == c.ID || n.Cluster == 0 {
				continue
			}
			cand := f.clusters[n.Cluster]
			if cand.Len()+c.Len() > f.cfg.MaxClusterSize {
				continue
			}
			if target == nil || cand.ID < target.ID {
				target = cand
			}
		}
	}
	if target == nil {
		return
	}
	for _, e := range append([]*Entry(nil), c.members...) {
		c.remove(e)
		target.add(e)
	}
	f.dropCluster(c)
}
