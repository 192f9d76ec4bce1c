package schedule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kindTest Kind = iota + 1
	kindPeriodic
)

type harness struct {
	sched *Scheduler
	alive map[Owner]bool
	fired []EventID
	allow bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{alive: make(map[Owner]bool), allow: true}
	h.sched = New(OwnerFunc(func(o Owner) bool { return o.Type == OwnerWorld || h.alive[o] }), 1000)
	require.NoError(t, h.sched.Register(kindTest, Handler{
		Name:       "test",
		CanTrigger: func(ev *Event) bool { return h.allow },
		Trigger: func(ev *Event) error {
			h.fired = append(h.fired, ev.ID)
			return nil
		},
	}))
	return h
}

func TestFiresByDateThenInsertionOrder(t *testing.T) {
	h := newHarness(t)
	world := Owner{Type: OwnerWorld}

	e1, err := h.sched.Schedule(world, kindTest, 0, 10)
	require.NoError(t, err)
	e2, err := h.sched.Schedule(world, kindTest, 0, 10)
	require.NoError(t, err)
	e3, err := h.sched.Schedule(world, kindTest, 0, 5)
	require.NoError(t, err)

	n, err := h.sched.Advance(20)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []EventID{e3, e1, e2}, h.fired)
	assert.Equal(t, Date(20), h.sched.Now())
}

func TestStepFiresOneDate(t *testing.T) {
	h := newHarness(t)
	world := Owner{Type: OwnerWorld}
	for _, d := range []Date{3, 3, 7} {
		_, err := h.sched.Schedule(world, kindTest, 0, d)
		require.NoError(t, err)
	}

	date, n, err := h.sched.Step()
	require.NoError(t, err)
	assert.Equal(t, Date(3), date)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, h.sched.Len())
}

func TestOwnerDestroyedNeverTriggers(t *testing.T) {
	h := newHarness(t)
	unit := Owner{Type: OwnerUnit, ID: 4}
	h.alive[unit] = true

	_, err := h.sched.Schedule(unit, kindTest, 0, 10)
	require.NoError(t, err)
	delete(h.alive, unit)

	_, err = h.sched.Advance(10)
	require.NoError(t, err)
	assert.Empty(t, h.fired)
	assert.Equal(t, 1, h.sched.Stats.Canceled)
}

func TestCancelOwner(t *testing.T) {
	h := newHarness(t)
	unit := Owner{Type: OwnerUnit, ID: 1}
	other := Owner{Type: OwnerUnit, ID: 2}
	h.alive[unit], h.alive[other] = true, true

	for i := 0; i < 3; i++ {
		_, err := h.sched.Schedule(unit, kindTest, 0, Date(5+i))
		require.NoError(t, err)
	}
	keep, err := h.sched.Schedule(other, kindTest, 0, 6)
	require.NoError(t, err)

	assert.Equal(t, 3, h.sched.CancelOwner(unit))
	assert.Equal(t, 0, h.sched.CancelOwner(unit))
	_, err = h.sched.Advance(100)
	require.NoError(t, err)
	assert.Equal(t, []EventID{keep}, h.fired)
}

func TestPreconditionCheckedAtFireTime(t *testing.T) {
	h := newHarness(t)
	_, err := h.sched.Schedule(Owner{Type: OwnerWorld}, kindTest, 0, 4)
	require.NoError(t, err)

	// The world changed after scheduling.
	h.allow = false
	_, err = h.sched.Advance(4)
	require.NoError(t, err)
	assert.Empty(t, h.fired)
	assert.Equal(t, 1, h.sched.Stats.Dropped)
}

func TestRescheduleMovesBehindSameDate(t *testing.T) {
	h := newHarness(t)
	world := Owner{Type: OwnerWorld}
	a, _ := h.sched.Schedule(world, kindTest, 0, 10)
	b, _ := h.sched.Schedule(world, kindTest, 0, 10)
	c, _ := h.sched.Schedule(world, kindTest, 0, 2)

	require.True(t, h.sched.Reschedule(a, 10))
	require.True(t, h.sched.Reschedule(c, 12))
	assert.False(t, h.sched.Reschedule(999, 12))

	_, err := h.sched.Advance(20)
	require.NoError(t, err)
	assert.Equal(t, []EventID{b, a, c}, h.fired)
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t)
	id, _ := h.sched.Schedule(Owner{Type: OwnerWorld}, kindTest, 0, 1)
	assert.True(t, h.sched.Cancel(id))
	assert.False(t, h.sched.Cancel(id))
	assert.Equal(t, 0, h.sched.Len())
}

func TestRearmRenewsEvent(t *testing.T) {
	h := newHarness(t)
	count := 0
	require.NoError(t, h.sched.Register(kindPeriodic, Handler{
		Name:    "periodic",
		Trigger: func(ev *Event) error { count++; return nil },
		Rearm:   func(ev *Event) (Date, bool) { return ev.Date + 10, count < 5 },
	}))
	_, err := h.sched.Schedule(Owner{Type: OwnerWorld}, kindPeriodic, 0, 0)
	require.NoError(t, err)

	_, err = h.sched.Advance(1000)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, 0, h.sched.Len())
}

func TestNegativeSpanClampedToMax(t *testing.T) {
	h := newHarness(t)
	_, err := h.sched.Advance(50)
	require.NoError(t, err)

	id, err := h.sched.ScheduleIn(Owner{Type: OwnerWorld}, kindTest, 0, -5)
	require.NoError(t, err)
	ev, ok := h.sched.Get(id)
	require.True(t, ok)
	assert.Equal(t, Date(1050), ev.Date)

	id, err = h.sched.Schedule(Owner{Type: OwnerWorld}, kindTest, 0, 10)
	require.NoError(t, err)
	ev, _ = h.sched.Get(id)
	assert.Equal(t, Date(1050), ev.Date)
	assert.Equal(t, 2, h.sched.Stats.Clamped)
}

func TestRearmAtNowIsClamped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(kindPeriodic, Handler{
		Name:    "stuck",
		Trigger: func(ev *Event) error { return nil },
		Rearm:   func(ev *Event) (Date, bool) { return ev.Date, true },
	}))
	_, err := h.sched.Schedule(Owner{Type: OwnerWorld}, kindPeriodic, 0, 3)
	require.NoError(t, err)

	_, err = h.sched.Advance(3)
	require.NoError(t, err)
	next, ok := h.sched.NextDate()
	require.True(t, ok)
	assert.Equal(t, Date(1003), next)
}

func TestTriggerErrorPropagates(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")
	require.NoError(t, h.sched.Register(kindPeriodic, Handler{
		Name:    "failing",
		Trigger: func(ev *Event) error { return boom },
	}))
	_, err := h.sched.Schedule(Owner{Type: OwnerWorld}, kindPeriodic, 0, 1)
	require.NoError(t, err)

	_, err = h.sched.Advance(1)
	assert.ErrorIs(t, err, boom)
}

func TestUnknownKindRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.sched.Schedule(Owner{Type: OwnerWorld}, Kind(77), 0, 1)
	assert.Error(t, err)
	assert.Error(t, h.sched.Register(kindTest, Handler{Name: "dup", Trigger: func(*Event) error { return nil }}))
}

func TestRecordsRestorePreservesOrder(t *testing.T) {
	h := newHarness(t)
	world := Owner{Type: OwnerWorld}
	var ids []EventID
	for _, d := range []Date{9, 4, 9, 4, 12} {
		id, err := h.sched.Schedule(world, kindTest, uint64(d), d)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	records := h.sched.Records()
	require.Len(t, records, 5)

	restored := newHarness(t)
	require.NoError(t, restored.sched.Restore(0, records))
	_, err := restored.sched.Advance(100)
	require.NoError(t, err)
	assert.Equal(t, []EventID{ids[1], ids[3], ids[0], ids[2], ids[4]}, restored.fired)

	// New ids continue above the restored ones.
	id, err := restored.sched.Schedule(world, kindTest, 0, 200)
	require.NoError(t, err)
	assert.Greater(t, id, ids[4])
}

func TestSetNextIDOnlyRaises(t *testing.T) {
	h := newHarness(t)
	h.sched.SetNextID(40)
	assert.Equal(t, EventID(40), h.sched.NextID())
	h.sched.SetNextID(10)
	assert.Equal(t, EventID(40), h.sched.NextID())

	id, err := h.sched.Schedule(Owner{Type: OwnerWorld}, kindTest, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, EventID(40), id)
}

func TestKindName(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "test", h.sched.KindName(kindTest))
	assert.Equal(t, "kind_2", h.sched.KindName(kindPeriodic))
}
