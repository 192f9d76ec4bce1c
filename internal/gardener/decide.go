package gardener

import "fmt"

// Actions the gardener can take.
const (
	ActionNone     = "none"
	ActionSnapshot = "snapshot" // preserve the world before it unravels
	ActionPause    = "pause"    // nothing left to simulate
)

// snapshotCooldown is the minimum number of simulated days between two
// crisis snapshots.
const snapshotCooldown = 360

// Decision represents the recommended action.
type Decision struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

// Decide picks at most one action for the observed health. Past cycles in
// mem suppress repeated snapshots.
func Decide(h *WorldHealth, mem *CycleMemory) *Decision {
	switch h.CrisisLevel {
	case LevelExtinct:
		return &Decision{
			Action:    ActionPause,
			Rationale: "no polity remains",
		}
	case LevelCritical:
		if last, ok := mem.LastAction(ActionSnapshot); ok && h.Date-last.Date < snapshotCooldown {
			return &Decision{
				Action:    ActionNone,
				Rationale: fmt.Sprintf("crisis continues, snapshot taken on day %d", last.Date),
			}
		}
		return &Decision{
			Action:    ActionSnapshot,
			Rationale: fmt.Sprintf("%d collapses among %d polities in the last year", h.Collapses, h.Polities),
		}
	case LevelWarning:
		return &Decision{
			Action:    ActionNone,
			Rationale: fmt.Sprintf("%s holds %.0f%% of all prominence", h.LargestPolity, 100*h.LargestShare),
		}
	}
	return &Decision{Action: ActionNone, Rationale: "healthy"}
}
