package engine

import (
	"math"

	"github.com/talgya/worldhistory/internal/entropy"
	"github.com/talgya/worldhistory/internal/polity"
	"github.com/talgya/worldhistory/internal/schedule"
	"github.com/talgya/worldhistory/internal/world"
)

// Event kinds fired by the simulation.
const (
	KindFieldUpdate  schedule.Kind = iota + 1 // owner: world; propagates prominence and runs the census
	KindUnitUpdate                            // owner: unit; population growth
	KindExpansion                             // owner: polity; spreads prominence to a neighbour
	KindFactionSplit                          // owner: polity; founds a faction far from the core
)

func (s *Simulation) registerHandlers() error {
	handlers := []struct {
		kind schedule.Kind
		h    schedule.Handler
	}{
		{KindFieldUpdate, schedule.Handler{
			Name:    "field_update",
			Trigger: s.fieldUpdate,
			Rearm: func(ev *schedule.Event) (schedule.Date, bool) {
				return ev.Date + schedule.Date(s.cfg.FieldUpdateSpan), true
			},
		}},
		{KindUnitUpdate, schedule.Handler{
			Name:    "unit_update",
			Trigger: s.unitUpdate,
			Rearm: func(ev *schedule.Event) (schedule.Date, bool) {
				u := s.Map.Get(world.UnitID(ev.Owner.ID))
				return s.unitUpdateDate(u, int64(ev.Date)), true
			},
		}},
		{KindExpansion, schedule.Handler{
			Name:    "expansion",
			Trigger: s.expand,
			Rearm: func(ev *schedule.Event) (schedule.Date, bool) {
				return s.polityDate(ev, entropy.OffsetExpansionSpan, s.cfg.ExpansionMin, s.cfg.ExpansionMax), true
			},
		}},
		{KindFactionSplit, schedule.Handler{
			Name:       "faction_split",
			CanTrigger: s.canSplitFaction,
			Trigger:    s.splitFaction,
			Rearm: func(ev *schedule.Event) (schedule.Date, bool) {
				return s.polityDate(ev, entropy.OffsetFactionSpan, s.cfg.FactionSpanMin, s.cfg.FactionSpanMax), true
			},
		}},
	}
	for _, entry := range handlers {
		if err := s.Sched.Register(entry.kind, entry.h); err != nil {
			return err
		}
	}
	return nil
}

// drawSpan returns a span in [min, max] drawn at offset.
func (s *Simulation) drawSpan(key entropy.Key, date int64, offset entropy.Offset, min, max int64) int64 {
	return min + int64(s.Rng.Int(key, date, offset, int(max-min+1)))
}

func (s *Simulation) unitUpdateDate(u *world.Unit, date int64) schedule.Date {
	return schedule.Date(date + s.drawSpan(u.Key(), date, entropy.OffsetUnitUpdateSpan, s.cfg.UnitUpdateMin, s.cfg.UnitUpdateMax))
}

func (s *Simulation) polityDate(ev *schedule.Event, offset entropy.Offset, min, max int64) schedule.Date {
	p := s.Field.Polity(polity.ID(ev.Owner.ID))
	key := s.Map.Units[p.Core].Key()
	date := int64(ev.Date)
	return schedule.Date(date + s.drawSpan(key, date, offset, min, max))
}

// schedulePolity queues the recurring events of a newly founded polity.
func (s *Simulation) schedulePolity(p *polity.Polity) error {
	owner := schedule.Owner{Type: schedule.OwnerPolity, ID: uint64(p.ID)}
	key := s.Map.Units[p.Core].Key()
	now := int64(s.Sched.Now())

	span := s.drawSpan(key, now, entropy.OffsetExpansionSpan, s.cfg.ExpansionMin, s.cfg.ExpansionMax)
	if _, err := s.Sched.ScheduleIn(owner, KindExpansion, 0, schedule.Date(span)); err != nil {
		return err
	}
	span = s.drawSpan(key, now, entropy.OffsetFactionSpan, s.cfg.FactionSpanMin, s.cfg.FactionSpanMax)
	if _, err := s.Sched.ScheduleIn(owner, KindFactionSplit, 0, schedule.Date(span)); err != nil {
		return err
	}
	return nil
}

// fieldUpdate propagates prominence to the event date and refreshes every
// census. Polities that lost their last entry are chronicled and their
// pending events dropped.
func (s *Simulation) fieldUpdate(ev *schedule.Event) error {
	before := s.Field.Polities()
	if err := s.Field.Update(int64(ev.Date)); err != nil {
		return err
	}
	s.Field.RunAllCensuses()
	s.reapPolities(before)
	return nil
}

// reapPolities chronicles the polities of before that no longer exist and
// cancels their pending events.
func (s *Simulation) reapPolities(before []*polity.Polity) {
	for _, p := range before {
		if s.Field.Polity(p.ID) != nil {
			continue
		}
		s.Sched.CancelOwner(schedule.Owner{Type: schedule.OwnerPolity, ID: uint64(p.ID)})
		s.record("polity", "%s has collapsed", p.Name)
	}
}

// unitUpdate applies logistic population growth. The rate varies per unit
// and date around the configured growth rate.
func (s *Simulation) unitUpdate(ev *schedule.Event) error {
	u := s.Map.Get(world.UnitID(ev.Owner.ID))
	date := int64(ev.Date)
	if u.Capacity > 0 {
		rate := s.cfg.GrowthRate * (0.5 + s.Rng.Float(u.Key(), date, entropy.OffsetUnitGrowth))
		u.Population = math.Max(0, u.Population+rate*u.Population*(1-u.Population/u.Capacity))
	}
	u.LastUpdate = date
	s.Field.TouchUnit(u.ID)
	return nil
}

// expand spreads the polity from a member, chosen in proportion to its
// prominence, onto one of the member's neighbours.
func (s *Simulation) expand(ev *schedule.Event) error {
	id := polity.ID(ev.Owner.ID)
	date := int64(ev.Date)
	s.Field.SetDate(date)

	from, ok := s.Field.RandomMember(id, entropy.OffsetExpansionMember, func(e *polity.Entry) float64 {
		return e.Value
	})
	if !ok {
		return nil
	}
	u := s.Map.Units[from.Unit]
	if len(u.Edges) == 0 {
		return nil
	}
	to := u.Edges[s.Rng.Int(u.Key(), date, entropy.OffsetExpansionNeighbor, len(u.Edges))].To
	if s.Field.Entry(to, id) != nil {
		return nil
	}

	value := s.cfg.ExpansionValue * from.Value * (0.5 + s.Rng.Float(u.Key(), date, entropy.OffsetExpansionValue))
	value = math.Min(value, 1-s.Field.UnitSum(to))
	if value <= s.Field.Config().MinValue {
		return nil
	}
	_, err := s.Field.AddProminence(id, to, value)
	return err
}

func (s *Simulation) canSplitFaction(ev *schedule.Event) bool {
	id := polity.ID(ev.Owner.ID)
	census, err := s.Field.RunCensus(id)
	if err != nil {
		return false
	}
	return census.Area >= s.cfg.FactionArea*float64(len(s.Field.Polity(id).Factions)+1)
}

// splitFaction founds a faction at a member far from the existing faction
// cores.
func (s *Simulation) splitFaction(ev *schedule.Event) error {
	id := polity.ID(ev.Owner.ID)
	p := s.Field.Polity(id)
	date := int64(ev.Date)
	s.Field.SetDate(date)

	e, ok := s.Field.RandomMember(id, entropy.OffsetFactionMember, func(e *polity.Entry) float64 {
		if math.IsInf(e.FactionDistance, 1) {
			return 0
		}
		return e.FactionDistance
	})
	if !ok || e.FactionDistance == 0 {
		return nil
	}
	key := s.Map.Units[e.Unit].Key()
	fac, err := s.Field.AddFaction(id, world.Name(s.Rng, key, date, entropy.OffsetFactionName), e.Unit, e.Value)
	if err != nil {
		return err
	}
	s.record("faction", "the %s faction of %s forms at unit %d", fac.Name, p.Name, fac.Core)
	return nil
}
