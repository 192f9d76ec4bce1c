package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/worldhistory/internal/config"
	"github.com/talgya/worldhistory/internal/entropy"
	"github.com/talgya/worldhistory/internal/polity"
	"github.com/talgya/worldhistory/internal/schedule"
	"github.com/talgya/worldhistory/internal/world"
)

// chronicleLimit bounds the in-memory list of notable events.
const chronicleLimit = 1000

// Simulation holds the complete world state and wires systems together.
// Step takes the write lock; readers go through View.
type Simulation struct {
	mu sync.RWMutex

	Seed  int64
	Gen   world.GenConfig
	Map   *world.Map
	Field *polity.Field
	Sched *schedule.Scheduler
	Rng   *entropy.Source

	cfg config.ScheduleConfig

	// Notable events, oldest first. Flushed to storage by the caller.
	Chronicle []Event

	Stats SimStats

	feed feed
}

// Event is a notable occurrence in the world.
type Event struct {
	Date        int64  `json:"date" db:"date"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category" db:"category"` // "polity", "faction", "world"
}

// SimStats tracks aggregate world statistics.
type SimStats struct {
	Date          int64   `json:"date"`
	Units         int     `json:"units"`
	Population    float64 `json:"population"`
	Polities      int     `json:"polities"`
	Entries       int     `json:"entries"`
	Clusters      int     `json:"clusters"`
	PendingEvents int     `json:"pending_events"`

	Scheduler schedule.Stats `json:"scheduler"`
	Highs     polity.Highs   `json:"highs"`
}

// NewSimulation creates an empty simulation over a generated map. Call
// Found to seed polities and the first events.
func NewSimulation(cfg *config.Config, gen world.GenConfig, m *world.Map) (*Simulation, error) {
	rng := entropy.NewSource(gen.Seed)
	field, err := polity.NewField(cfg.Derived.Field, m, rng)
	if err != nil {
		return nil, err
	}
	s := &Simulation{
		Seed:  gen.Seed,
		Gen:   gen,
		Map:   m,
		Field: field,
		Rng:   rng,
		cfg:   cfg.Schedule,
	}
	s.Sched = schedule.New(s, schedule.Date(cfg.Schedule.MaxSpan))
	if err := s.registerHandlers(); err != nil {
		return nil, err
	}
	return s, nil
}

// Generate builds a fresh world from configuration: the map, the founding
// polities and their first events.
func Generate(cfg *config.Config) (*Simulation, error) {
	gen := cfg.Derived.Gen
	m, err := world.Generate(gen)
	if err != nil {
		return nil, fmt.Errorf("generate map: %w", err)
	}
	s, err := NewSimulation(cfg, gen, m)
	if err != nil {
		return nil, err
	}
	if err := s.Found(cfg.World.Founders, cfg.World.FounderProminence); err != nil {
		return nil, err
	}
	return s, nil
}

// Exists implements schedule.OwnerChecker.
func (s *Simulation) Exists(owner schedule.Owner) bool {
	switch owner.Type {
	case schedule.OwnerWorld:
		return true
	case schedule.OwnerUnit:
		return s.Map.Get(world.UnitID(owner.ID)) != nil
	case schedule.OwnerPolity:
		return s.Field.Polity(polity.ID(owner.ID)) != nil
	}
	return false
}

// Found places up to count founding polities and schedules the first
// events: one field update, one update per unit and the per-polity events.
func (s *Simulation) Found(count int, prominence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	minDist := 2 * s.Map.Radius / (count + 1)
	if minDist < 2 {
		minDist = 2
	}
	for _, site := range world.PlaceFounders(s.Map, s.Rng, count, minDist) {
		p, err := s.Field.NewPolity(site.Name, site.Unit, prominence)
		if err != nil {
			return fmt.Errorf("found %s: %w", site.Name, err)
		}
		if err := s.schedulePolity(p); err != nil {
			return err
		}
		s.record("polity", "%s rises at unit %d", p.Name, p.Core)
	}

	root := schedule.Owner{Type: schedule.OwnerWorld}
	if _, err := s.Sched.ScheduleIn(root, KindFieldUpdate, 0, schedule.Date(s.cfg.FieldUpdateSpan)); err != nil {
		return err
	}
	var err error
	s.Map.Each(func(u *world.Unit) {
		if err != nil {
			return
		}
		owner := schedule.Owner{Type: schedule.OwnerUnit, ID: uint64(u.ID)}
		_, err = s.Sched.Schedule(owner, KindUnitUpdate, 0, s.unitUpdateDate(u, int64(s.Sched.Now())))
	})
	if err != nil {
		return err
	}
	s.updateStats()
	slog.Info("world founded", "seed", s.Seed, "units", s.Map.Len(), "polities", len(s.Field.Polities()))
	return nil
}

// Date returns the current simulated date.
func (s *Simulation) Date() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(s.Sched.Now())
}

// Step advances the world by days, firing every event due on the way. It
// returns the number of events processed. An error leaves the world at the
// date of the failing event.
func (s *Simulation) Step(days int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.Sched.Now() + schedule.Date(days)
	n, err := s.Sched.Advance(target)
	s.Field.SetDate(int64(s.Sched.Now()))
	s.updateStats()
	return n, err
}

// View runs fn with the read lock held. fn must not mutate the simulation.
func (s *Simulation) View(fn func(s *Simulation)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s)
}

// RemoveUnit deletes a unit, its prominence entries and its pending events.
func (s *Simulation) RemoveUnit(id world.UnitID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Map.Get(id) == nil {
		return
	}
	before := s.Field.Polities()
	s.Field.RemoveUnit(id)
	s.Sched.CancelOwner(schedule.Owner{Type: schedule.OwnerUnit, ID: uint64(id)})
	s.record("world", "unit %d is lost", id)
	s.reapPolities(before)
	s.updateStats()
}

// DrainChronicle returns and clears the chronicle.
func (s *Simulation) DrainChronicle() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.Chronicle
	s.Chronicle = nil
	return out
}

// RequeueChronicle puts events taken by DrainChronicle back ahead of any
// recorded since, keeping the newest chronicleLimit.
func (s *Simulation) RequeueChronicle(events []Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make([]Event, 0, len(events)+len(s.Chronicle))
	merged = append(merged, events...)
	merged = append(merged, s.Chronicle...)
	if len(merged) > chronicleLimit {
		merged = merged[len(merged)-chronicleLimit:]
	}
	s.Chronicle = merged
}

func (s *Simulation) record(category, format string, args ...any) {
	ev := Event{
		Date:        int64(s.Sched.Now()),
		Description: fmt.Sprintf(format, args...),
		Category:    category,
	}
	s.Chronicle = append(s.Chronicle, ev)
	if len(s.Chronicle) > chronicleLimit {
		s.Chronicle = s.Chronicle[len(s.Chronicle)-chronicleLimit:]
	}
	slog.Debug("chronicle", "date", ev.Date, "category", category, "description", ev.Description)
	s.publish(ev)
}

func (s *Simulation) updateStats() {
	st := SimStats{
		Date:          int64(s.Sched.Now()),
		Units:         s.Map.Len(),
		PendingEvents: s.Sched.Len(),
		Scheduler:     s.Sched.Stats,
		Highs:         s.Field.Highs(),
	}
	s.Map.Each(func(u *world.Unit) {
		st.Population += u.Population
	})
	for _, p := range s.Field.Polities() {
		st.Polities++
		st.Entries += p.Entries()
		st.Clusters += p.ClusterCount()
	}
	s.Stats = st
}
