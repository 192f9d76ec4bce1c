package polity

import (
	"github.com/talgya/worldhistory/internal/entropy"
)

// WeightFunc scores an entry for weighted sampling. Negative scores count as 0.
type WeightFunc func(e *Entry) float64

// RandomMember picks one of the polity's entries. The first draw (offset)
// picks a cluster in proportion to its size; the second (offset+1) picks a
// member uniformly, or by weight when weight is non-nil. Draws are keyed on
// the polity core and the field date, so callers must use distinct offsets
// for independent draws made on the same date.
func (f *Field) RandomMember(id ID, offset entropy.Offset, weight WeightFunc) (*Entry, bool) {
	p := f.polities[id]
	if p == nil || p.entries == 0 {
		return nil, false
	}
	core := f.world.Units[p.Core]
	key := core.Key()

	pick := f.rng.Int(key, f.date, offset, p.entries)
	var c *Cluster
	for _, cid := range p.clusters {
		c = f.clusters[cid]
		if pick < c.Len() {
			break
		}
		pick -= c.Len()
	}

	if weight == nil {
		return c.members[f.rng.Int(key, f.date, offset+1, c.Len())], true
	}

	total := 0.0
	for _, e := range c.members {
		if w := weight(e); w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return c.members[f.rng.Int(key, f.date, offset+1, c.Len())], true
	}
	r := f.rng.Float(key, f.date, offset+1) * total
	for _, e := range c.members {
		w := weight(e)
		if w <= 0 {
			continue
		}
		if r < w {
			return e, true
		}
		r -= w
	}
	// Rounding left r just above the last weight.
	for i := len(c.members) - 1; i >= 0; i-- {
		if weight(c.members[i]) > 0 {
			return c.members[i], true
		}
	}
	return c.members[0], true
}
