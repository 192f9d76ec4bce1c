// Package engine runs the world: a Simulation wires the scheduler, the
// prominence field and the random source together, and an Engine steps it
// in real time.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Calendar constants. A simulated date counts days since world creation.
const (
	DaysPerSeason = 90
	DaysPerYear   = 4 * DaysPerSeason
)

// Stepper advances a simulation by a number of days.
type Stepper interface {
	Step(days int64) (int, error)
	Date() int64
}

// Engine drives a simulation forward in real time.
type Engine struct {
	sim Stepper

	mu          sync.Mutex
	speed       float64 // multiplier: 1.0 = one step per interval, 0 = paused
	interval    time.Duration
	daysPerStep int64
	stop        chan struct{}

	// Callbacks populated during setup. OnYear fires when a step crosses a
	// year boundary.
	OnStep func(date int64, fired int)
	OnYear func(date int64)
}

// NewEngine creates an engine stepping sim by daysPerStep every interval.
func NewEngine(sim Stepper, interval time.Duration, daysPerStep int64) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	if daysPerStep <= 0 {
		daysPerStep = 1
	}
	return &Engine{
		sim:         sim,
		speed:       1.0,
		interval:    interval,
		daysPerStep: daysPerStep,
		stop:        make(chan struct{}),
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. 0 pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	if speed < 0 {
		speed = 0
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
	slog.Info("engine speed changed", "speed", speed)
}

// Run steps the simulation until ctx is canceled, Stop is called, or a step
// fails. It returns the step error, or nil on a clean stop.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("simulation engine started", "date", e.sim.Date(), "speed", e.Speed())
	defer func() {
		slog.Info("simulation engine stopped", "date", e.sim.Date())
	}()

	for {
		speed := e.Speed()
		wait := 100 * time.Millisecond // paused: check again shortly
		if speed > 0 {
			start := time.Now()
			if err := e.step(); err != nil {
				return err
			}
			// Sleep for the remainder of the interval, adjusted for speed.
			wait = time.Duration(float64(e.interval)/speed) - time.Since(start)
		}

		if wait <= 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-e.stop:
				return nil
			default:
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-e.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop halts the loop. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

func (e *Engine) step() error {
	before := e.sim.Date()
	fired, err := e.sim.Step(e.daysPerStep)
	if err != nil {
		return fmt.Errorf("step at %s: %w", SimTime(before), err)
	}
	after := e.sim.Date()
	if e.OnStep != nil {
		e.OnStep(after, fired)
	}
	if e.OnYear != nil && after/DaysPerYear > before/DaysPerYear {
		e.OnYear(after)
	}
	return nil
}

// SimTime returns a human-readable form of a simulated date.
func SimTime(date int64) string {
	seasonNames := [4]string{"Spring", "Summer", "Autumn", "Winter"}
	year := date/DaysPerYear + 1
	season := (date % DaysPerYear) / DaysPerSeason
	day := date%DaysPerSeason + 1
	return fmt.Sprintf("%s Day %d, Year %d", seasonNames[season], day, year)
}
