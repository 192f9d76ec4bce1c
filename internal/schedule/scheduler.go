package schedule

import (
	"container/heap"
	"fmt"
	"log/slog"
	"sort"
)

// Stats counts what happened to events since the scheduler was created.
type Stats struct {
	Scheduled int `json:"scheduled"`
	Fired     int `json:"fired"`
	Dropped   int `json:"dropped"`  // precondition false at fire time
	Canceled  int `json:"canceled"` // owner gone or explicit cancel
	Clamped   int `json:"clamped"`  // dates outside [now, now+MaxSpan]
}

// Scheduler is the global ordered collection of pending events.
// It is not safe for concurrent use; the simulation steps it from one goroutine.
type Scheduler struct {
	now     Date
	maxSpan Date

	queue    eventHeap
	byID     map[EventID]*Event
	byOwner  map[Owner]map[EventID]struct{}
	handlers map[Kind]Handler
	owners   OwnerChecker

	nextID  EventID
	nextSeq uint64

	Stats Stats
}

// New creates a scheduler. maxSpan bounds how far ahead an event may be
// placed; out-of-range dates are clamped to now+maxSpan.
func New(owners OwnerChecker, maxSpan Date) *Scheduler {
	if maxSpan <= 0 {
		maxSpan = 1
	}
	return &Scheduler{
		maxSpan:  maxSpan,
		byID:     make(map[EventID]*Event),
		byOwner:  make(map[Owner]map[EventID]struct{}),
		handlers: make(map[Kind]Handler),
		owners:   owners,
		nextID:   1,
	}
}

// Register installs the handler for a kind.
func (s *Scheduler) Register(kind Kind, h Handler) error {
	if _, ok := s.handlers[kind]; ok {
		return fmt.Errorf("event kind %d (%s) already registered", kind, h.Name)
	}
	if h.Trigger == nil {
		return fmt.Errorf("event kind %d (%s) has no trigger", kind, h.Name)
	}
	s.handlers[kind] = h
	return nil
}

// KindName returns the registered name of a kind.
func (s *Scheduler) KindName(kind Kind) string {
	if h, ok := s.handlers[kind]; ok && h.Name != "" {
		return h.Name
	}
	return fmt.Sprintf("kind_%d", kind)
}

// Now returns the current simulated date.
func (s *Scheduler) Now() Date {
	return s.now
}

// MaxSpan returns the largest allowed distance between now and a trigger date.
func (s *Scheduler) MaxSpan() Date {
	return s.maxSpan
}

// Len returns the number of pending events.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// NextDate returns the date of the earliest pending event.
func (s *Scheduler) NextDate() (Date, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	return s.queue[0].Date, true
}

// NextID returns the id the next scheduled event will receive.
func (s *Scheduler) NextID() EventID {
	return s.nextID
}

// SetNextID raises the id counter, e.g. after Restore, so ids of events that
// already fired are not handed out again.
func (s *Scheduler) SetNextID(id EventID) {
	if id > s.nextID {
		s.nextID = id
	}
}

// Get returns a pending event by id.
func (s *Scheduler) Get(id EventID) (*Event, bool) {
	ev, ok := s.byID[id]
	return ev, ok
}

// Schedule inserts a pending event at an absolute date and returns its id.
func (s *Scheduler) Schedule(owner Owner, kind Kind, target uint64, date Date) (EventID, error) {
	if _, ok := s.handlers[kind]; !ok {
		return 0, fmt.Errorf("schedule %s: unknown event kind %d", owner, kind)
	}
	ev := &Event{
		ID:     s.nextID,
		Owner:  owner,
		Target: target,
		Date:   s.clamp(kind, owner, date, false),
		Kind:   kind,
		State:  Pending,
	}
	s.nextID++
	s.insert(ev)
	s.Stats.Scheduled++
	return ev.ID, nil
}

// ScheduleIn inserts a pending event span days after now.
func (s *Scheduler) ScheduleIn(owner Owner, kind Kind, target uint64, span Date) (EventID, error) {
	if span < 0 || span > s.maxSpan {
		s.warnClamp(kind, owner, span)
		span = s.maxSpan
	}
	return s.Schedule(owner, kind, target, s.now+span)
}

// Reschedule moves a pending event to a new date. The event is removed and
// reinserted, so it fires after events already queued at that date.
func (s *Scheduler) Reschedule(id EventID, date Date) bool {
	ev, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, ev.index)
	ev.Date = s.clamp(ev.Kind, ev.Owner, date, false)
	ev.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.queue, ev)
	return true
}

// Cancel removes a pending event. Canceling an unknown event is a no-op.
func (s *Scheduler) Cancel(id EventID) bool {
	ev, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, ev.index)
	s.forget(ev)
	ev.State = Canceled
	s.Stats.Canceled++
	return true
}

// CancelOwner cancels every pending event of an owner and returns how many.
func (s *Scheduler) CancelOwner(owner Owner) int {
	ids := s.byOwner[owner]
	if len(ids) == 0 {
		return 0
	}
	sorted := make([]EventID, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		s.Cancel(id)
	}
	return len(sorted)
}

// HasPending reports whether an owner has a pending event of the given kind.
func (s *Scheduler) HasPending(owner Owner, kind Kind) bool {
	for id := range s.byOwner[owner] {
		if s.byID[id].Kind == kind {
			return true
		}
	}
	return false
}

// FireNext processes the earliest pending event. It returns false when the
// queue is empty.
func (s *Scheduler) FireNext() (bool, error) {
	if len(s.queue) == 0 {
		return false, nil
	}
	ev := heap.Pop(&s.queue).(*Event)
	s.forget(ev)
	if ev.Date > s.now {
		s.now = ev.Date
	}

	if s.owners != nil && !s.owners.Exists(ev.Owner) {
		// Owner vanished between scheduling and firing: not an error.
		ev.State = Canceled
		s.Stats.Canceled++
		return true, nil
	}

	h := s.handlers[ev.Kind]
	if h.CanTrigger == nil || h.CanTrigger(ev) {
		if err := h.Trigger(ev); err != nil {
			return true, fmt.Errorf("%s event %d for %s: %w", h.Name, ev.ID, ev.Owner, err)
		}
		ev.State = Fired
		s.Stats.Fired++
	} else {
		ev.State = Canceled
		s.Stats.Dropped++
	}

	if h.Rearm != nil {
		// The effect may have destroyed the owner.
		if s.owners != nil && !s.owners.Exists(ev.Owner) {
			return true, nil
		}
		if date, ok := h.Rearm(ev); ok {
			next := &Event{
				ID:     s.nextID,
				Owner:  ev.Owner,
				Target: ev.Target,
				Date:   s.clamp(ev.Kind, ev.Owner, date, true),
				Kind:   ev.Kind,
				State:  Pending,
			}
			s.nextID++
			s.insert(next)
			s.Stats.Scheduled++
		}
	}
	return true, nil
}

// Advance fires every event dated on or before to, then moves the clock to to.
// It returns the number of events processed.
func (s *Scheduler) Advance(to Date) (int, error) {
	n := 0
	for len(s.queue) > 0 && s.queue[0].Date <= to {
		if _, err := s.FireNext(); err != nil {
			return n, err
		}
		n++
	}
	if to > s.now {
		s.now = to
	}
	return n, nil
}

// Step fires every event at the earliest pending date, including events
// scheduled for that same date while it runs.
func (s *Scheduler) Step() (Date, int, error) {
	date, ok := s.NextDate()
	if !ok {
		return s.now, 0, nil
	}
	n, err := s.Advance(date)
	return date, n, err
}

// Pending returns copies of the pending events in firing order.
func (s *Scheduler) Pending() []Event {
	out := make([]Event, 0, len(s.queue))
	for _, ev := range s.queue {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Records returns the persisted form of every pending event in firing order.
func (s *Scheduler) Records() []Record {
	pending := s.Pending()
	out := make([]Record, len(pending))
	for i, ev := range pending {
		out[i] = Record{
			ID:        ev.ID,
			OwnerType: ev.Owner.Type,
			OwnerID:   ev.Owner.ID,
			Target:    ev.Target,
			Date:      ev.Date,
			Kind:      ev.Kind,
		}
	}
	return out
}

// Restore replaces the queue with saved records. Records must be in firing
// order (as returned by Records); their order becomes the tie-break order.
func (s *Scheduler) Restore(now Date, records []Record) error {
	s.now = now
	s.queue = s.queue[:0]
	s.byID = make(map[EventID]*Event, len(records))
	s.byOwner = make(map[Owner]map[EventID]struct{})
	s.nextSeq = 0
	s.nextID = 1

	for _, r := range records {
		if _, ok := s.handlers[r.Kind]; !ok {
			return fmt.Errorf("restore event %d: unknown kind %d", r.ID, r.Kind)
		}
		if _, dup := s.byID[r.ID]; dup {
			return fmt.Errorf("restore event %d: duplicate id", r.ID)
		}
		if r.Date < now {
			return fmt.Errorf("restore event %d: date %d before now %d", r.ID, r.Date, now)
		}
		s.insert(&Event{
			ID:     r.ID,
			Owner:  r.Owner(),
			Target: r.Target,
			Date:   r.Date,
			Kind:   r.Kind,
			State:  Pending,
		})
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}
	return nil
}

func (s *Scheduler) insert(ev *Event) {
	ev.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.queue, ev)
	s.byID[ev.ID] = ev
	ids := s.byOwner[ev.Owner]
	if ids == nil {
		ids = make(map[EventID]struct{})
		s.byOwner[ev.Owner] = ids
	}
	ids[ev.ID] = struct{}{}
}

func (s *Scheduler) forget(ev *Event) {
	delete(s.byID, ev.ID)
	if ids := s.byOwner[ev.Owner]; ids != nil {
		delete(ids, ev.ID)
		if len(ids) == 0 {
			delete(s.byOwner, ev.Owner)
		}
	}
}

// clamp keeps a trigger date inside [now, now+maxSpan]. A rearm must land
// strictly after now or the same event would fire forever.
func (s *Scheduler) clamp(kind Kind, owner Owner, date Date, rearm bool) Date {
	tooEarly := date < s.now || (rearm && date == s.now)
	if tooEarly || date > s.now+s.maxSpan {
		s.warnClamp(kind, owner, date-s.now)
		return s.now + s.maxSpan
	}
	return date
}

func (s *Scheduler) warnClamp(kind Kind, owner Owner, span Date) {
	s.Stats.Clamped++
	name := s.handlers[kind].Name
	slog.Warn("event span out of range, clamped",
		"kind", name,
		"owner", owner.String(),
		"span", int64(span),
		"max_span", int64(s.maxSpan),
	)
}
