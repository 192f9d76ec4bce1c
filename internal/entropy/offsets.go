package entropy

import (
	"fmt"
	"sort"
)

// Call-site offsets. Each logical draw owns [Base, Base+Span) and no two
// ranges may overlap; the table is checked when the package loads.
const (
	OffsetProminenceNoise   Offset = 100
	OffsetUnitUpdateSpan    Offset = 200
	OffsetUnitGrowth        Offset = 210
	OffsetExpansionMember   Offset = 300
	OffsetExpansionNeighbor Offset = 310
	OffsetExpansionValue    Offset = 320
	OffsetExpansionSpan     Offset = 330
	OffsetFactionMember     Offset = 400
	OffsetFactionSpan       Offset = 410
	OffsetFactionName       Offset = 420
	OffsetFounderName       Offset = 600
)

// CallSite names one entry of the offset table.
type CallSite struct {
	Name string
	Base Offset
	Span int64 // number of consecutive offsets the site may use
}

// CallSites is the central offset table.
var CallSites = []CallSite{
	{Name: "prominence.noise", Base: OffsetProminenceNoise, Span: 1},
	{Name: "unit.update_span", Base: OffsetUnitUpdateSpan, Span: 1},
	{Name: "unit.growth", Base: OffsetUnitGrowth, Span: 1},
	// RandomMember draws twice: cluster, then member.
	{Name: "expansion.member", Base: OffsetExpansionMember, Span: 2},
	{Name: "expansion.neighbor", Base: OffsetExpansionNeighbor, Span: 1},
	{Name: "expansion.value", Base: OffsetExpansionValue, Span: 1},
	{Name: "expansion.span", Base: OffsetExpansionSpan, Span: 1},
	{Name: "faction.member", Base: OffsetFactionMember, Span: 2},
	{Name: "faction.span", Base: OffsetFactionSpan, Span: 1},
	{Name: "faction.name", Base: OffsetFactionName, Span: 2},
	// Names draw a prefix and a suffix.
	{Name: "founder.name", Base: OffsetFounderName, Span: 2},
}

func init() {
	if err := ValidateOffsets(CallSites); err != nil {
		panic(err)
	}
}

// ValidateOffsets checks that names are unique and offset ranges disjoint.
func ValidateOffsets(sites []CallSite) error {
	sorted := make([]CallSite, len(sites))
	copy(sorted, sites)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	names := make(map[string]bool, len(sorted))
	for i, site := range sorted {
		if site.Span < 1 {
			return fmt.Errorf("offset %q: span %d < 1", site.Name, site.Span)
		}
		if names[site.Name] {
			return fmt.Errorf("offset %q registered twice", site.Name)
		}
		names[site.Name] = true
		if i > 0 {
			prev := sorted[i-1]
			if int64(prev.Base)+prev.Span > int64(site.Base) {
				return fmt.Errorf("offset %q [%d,%d) overlaps %q at %d",
					prev.Name, prev.Base, int64(prev.Base)+prev.Span, site.Name, site.Base)
			}
		}
	}
	return nil
}
