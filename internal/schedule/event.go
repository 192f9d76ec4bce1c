// Package schedule decides when simulated entities next act. Events sit in a
// min-heap keyed by trigger date; ties fire in insertion order.
package schedule

import "fmt"

// Date is a simulated date in days since world creation.
type Date int64

// Kind identifies the feature an event belongs to. The scheduler never
// depends on the concrete set of kinds; features register handlers.
type Kind uint16

// EventID is unique per scheduler and never reused.
type EventID uint64

// OwnerType says which arena an owner id points into.
type OwnerType uint8

const (
	OwnerWorld  OwnerType = iota // the world itself; always present
	OwnerUnit                    // a world.UnitID
	OwnerPolity                  // a polity.ID
)

func (t OwnerType) String() string {
	switch t {
	case OwnerWorld:
		return "world"
	case OwnerUnit:
		return "unit"
	case OwnerPolity:
		return "polity"
	default:
		return fmt.Sprintf("owner(%d)", uint8(t))
	}
}

// Owner is an opaque reference to the entity an event acts on.
type Owner struct {
	Type OwnerType `json:"type"`
	ID   uint64    `json:"id"`
}

func (o Owner) String() string {
	return fmt.Sprintf("%s:%d", o.Type, o.ID)
}

// State of an event.
type State uint8

const (
	Pending State = iota
	Fired
	Canceled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fired:
		return "fired"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Event is a single scheduled action.
type Event struct {
	ID     EventID
	Owner  Owner
	Target uint64 // optional secondary reference, meaning depends on Kind
	Date   Date
	Kind   Kind
	State  State

	seq   uint64 // insertion sequence, breaks date ties
	index int    // heap position, -1 when not queued
}

// Handler holds the free functions a feature registers for its kind.
type Handler struct {
	Name string

	// CanTrigger is re-evaluated at fire time. nil means always.
	CanTrigger func(ev *Event) bool

	// Trigger applies the effect. An error aborts the current step.
	Trigger func(ev *Event) error

	// Rearm runs after the event fires or fails its precondition and returns
	// the date of the next event of the same kind and owner. nil or false
	// means the event is not renewed.
	Rearm func(ev *Event) (Date, bool)
}

// OwnerChecker reports whether an event owner still exists.
type OwnerChecker interface {
	Exists(owner Owner) bool
}

// OwnerFunc adapts a function to OwnerChecker.
type OwnerFunc func(owner Owner) bool

// Exists implements OwnerChecker.
func (f OwnerFunc) Exists(owner Owner) bool {
	return f(owner)
}

// Record is the persisted form of a pending event.
type Record struct {
	ID        EventID   `json:"id" db:"id"`
	OwnerType OwnerType `json:"owner_type" db:"owner_type"`
	OwnerID   uint64    `json:"owner_id" db:"owner_id"`
	Target    uint64    `json:"target" db:"target"`
	Date      Date      `json:"date" db:"trigger_date"`
	Kind      Kind      `json:"kind" db:"kind"`
}

// Owner returns the record's owner reference.
func (r Record) Owner() Owner {
	return Owner{Type: r.OwnerType, ID: r.OwnerID}
}
