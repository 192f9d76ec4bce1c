package engine

import (
	"fmt"

	"github.com/talgya/worldhistory/internal/config"
	"github.com/talgya/worldhistory/internal/polity"
	"github.com/talgya/worldhistory/internal/schedule"
	"github.com/talgya/worldhistory/internal/world"
)

// UnitRecord is the mutable part of a unit. Everything else is regenerated
// from the seed.
type UnitRecord struct {
	ID         world.UnitID `json:"id" db:"id"`
	Population float64      `json:"population" db:"population"`
	LastUpdate int64        `json:"last_update" db:"last_update"`
	Removed    bool         `json:"removed" db:"removed"`
}

// State is the logical persisted layout of a world.
type State struct {
	Seed        int64            `json:"seed"`
	Gen         world.GenConfig  `json:"gen"`
	Date        int64            `json:"date"`
	NextEventID schedule.EventID `json:"next_event_id"`

	Units  []UnitRecord      `json:"units"`
	Field  polity.State      `json:"field"`
	Events []schedule.Record `json:"events"`
}

// State captures the world. Callers hold no lock; State takes the write
// lock because capturing the field settles pending distance work.
func (s *Simulation) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Seed:        s.Seed,
		Gen:         s.Gen,
		Date:        int64(s.Sched.Now()),
		NextEventID: s.Sched.NextID(),
		Field:       s.Field.State(),
		Events:      s.Sched.Records(),
	}
	st.Units = make([]UnitRecord, len(s.Map.Units))
	for i, u := range s.Map.Units {
		st.Units[i] = UnitRecord{
			ID:         u.ID,
			Population: u.Population,
			LastUpdate: u.LastUpdate,
			Removed:    u.Removed,
		}
	}
	return st
}

// Restore rebuilds a simulation from saved state: the map is regenerated
// from the saved generator config, unit records are applied on top, and the
// field and scheduler are restored as saved.
func Restore(cfg *config.Config, st State) (*Simulation, error) {
	gen := st.Gen
	gen.Seed = st.Seed
	m, err := world.Generate(gen)
	if err != nil {
		return nil, fmt.Errorf("restore map: %w", err)
	}
	if len(st.Units) != len(m.Units) {
		return nil, fmt.Errorf("restore map: saved %d units, generator produced %d", len(st.Units), len(m.Units))
	}
	for _, r := range st.Units {
		if int(r.ID) >= len(m.Units) {
			return nil, fmt.Errorf("restore map: unit %d out of range", r.ID)
		}
		u := m.Units[r.ID]
		u.Population = r.Population
		u.LastUpdate = r.LastUpdate
		if r.Removed {
			m.RemoveUnit(r.ID)
		}
	}

	s, err := NewSimulation(cfg, gen, m)
	if err != nil {
		return nil, err
	}
	field, err := polity.Restore(cfg.Derived.Field, m, s.Rng, st.Field)
	if err != nil {
		return nil, err
	}
	s.Field = field
	if err := s.Sched.Restore(schedule.Date(st.Date), st.Events); err != nil {
		return nil, fmt.Errorf("restore scheduler: %w", err)
	}
	s.Sched.SetNextID(st.NextEventID)
	s.updateStats()
	return s, nil
}
