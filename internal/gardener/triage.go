package gardener

import "strings"

// Crisis levels, most severe first.
const (
	LevelExtinct  = "EXTINCT"
	LevelCritical = "CRITICAL"
	LevelWarning  = "WARNING"
	LevelHealthy  = "HEALTHY"
)

// Thresholds for Triage.
const (
	// Window of simulated days in which collapses are counted.
	collapseWindow = 360
	// Collapses per surviving polity within the window that count as a crisis.
	collapseCritical = 0.5
	// Prominence share of the largest polity that counts as hegemony.
	hegemonyShare = 0.9
)

// WorldHealth holds derived diagnostic signals computed from a WorldSnapshot.
type WorldHealth struct {
	Date          int64
	Polities      int
	Collapses     int     // within collapseWindow days of Date
	Rises         int     // within collapseWindow days of Date
	LargestShare  float64 // largest polity's share of total prominence
	LargestPolity string
	CrisisLevel   string
}

// Triage computes a WorldHealth from the snapshot's data.
func Triage(snap *WorldSnapshot) *WorldHealth {
	h := &WorldHealth{
		Date:     snap.Status.Date,
		Polities: len(snap.Polities),
	}

	for _, e := range snap.Chronicle {
		if e.Category != "polity" || snap.Status.Date-e.Date > collapseWindow {
			continue
		}
		switch {
		case strings.HasSuffix(e.Description, "has collapsed"):
			h.Collapses++
		case strings.Contains(e.Description, " rises at "):
			h.Rises++
		}
	}

	total := 0.0
	for _, p := range snap.Polities {
		total += p.Census.Prominence
	}
	if total > 0 {
		for _, p := range snap.Polities {
			if share := p.Census.Prominence / total; share > h.LargestShare {
				h.LargestShare = share
				h.LargestPolity = p.Name
			}
		}
	}

	switch {
	case h.Polities == 0:
		h.CrisisLevel = LevelExtinct
	case float64(h.Collapses) >= collapseCritical*float64(h.Polities):
		h.CrisisLevel = LevelCritical
	case h.Polities > 1 && h.LargestShare > hegemonyShare:
		h.CrisisLevel = LevelWarning
	default:
		h.CrisisLevel = LevelHealthy
	}
	return h
}
