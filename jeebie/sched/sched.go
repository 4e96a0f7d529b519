// Package sched implements the event-deadline scheduling protocol shared by
// every cycle-accurate peripheral: a peripheral does not get ticked one CPU
// cycle at a time, it is asked "how many cycles until you next need
// service?" and the driver advances exactly that far before asking again.
package sched

import "math"

// Cycle is a signed CPU-cycle count or delta. Deadline arithmetic is
// deliberately signed: a peripheral asked to advance further than its
// deadline ends up with a negative residual, which means "this deadline was
// missed by N cycles, catch up now" rather than an error condition.
type Cycle int32

// Never is returned by a peripheral to mean "I have no pending deadline; do
// not schedule me again until a register write calls Scheduler.Notify."
const Never Cycle = math.MaxInt32

// Peripheral is anything that can be driven by the scheduler's cooperative
// deadline protocol.
//
// ProcessEvents is given the number of cycles elapsed since the previous
// call. It must decrement its own pending deadlines by delta, execute any
// that fall to zero or below (possibly more than once, if delta was large
// enough to span several periods), and return the number of cycles until
// its next nearest deadline. Returning Never means "don't call me again
// until I call Scheduler.Notify."
type Peripheral interface {
	ProcessEvents(delta Cycle) Cycle
}

// Scheduler tracks the CPU's cycle clock and the minimum next-event deadline
// across all registered peripherals, per spec.md §4.1.
type Scheduler struct {
	cpuCycle    Cycle
	nextEvent   Cycle
	peripherals []Peripheral
}

// New creates a scheduler with no peripherals registered yet.
func New() *Scheduler {
	return &Scheduler{nextEvent: Never}
}

// Register adds a peripheral to the scheduler's fan-out list. Order is
// insignificant: every registered peripheral is serviced on every Advance
// call, so two coincident deadlines are always handled in the same round
// (spec.md §4.1's tie-break rule falls out of this for free).
func (s *Scheduler) Register(p Peripheral) {
	s.peripherals = append(s.peripherals, p)
}

// Advance moves the CPU clock forward by delta cycles, driving every
// registered peripheral's ProcessEvents, and returns the new NextEvent —
// the number of cycles the CPU may run before it must call Advance again.
func (s *Scheduler) Advance(delta Cycle) Cycle {
	s.cpuCycle += delta

	next := Never
	for _, p := range s.peripherals {
		if d := p.ProcessEvents(delta); d < next {
			next = d
		}
	}

	s.nextEvent = next
	return next
}

// Notify lets a peripheral pull the scheduler's NextEvent down immediately
// after a register write lowers its own deadline — this is the
// "schedule_event" helper spec.md §4.1 refers to. It must take effect before
// the CPU's next instruction boundary, which in this cooperative model means
// simply clamping nextEvent here; Advance is always the next call made by
// the CPU driver.
func (s *Scheduler) Notify(deadline Cycle) {
	if deadline < s.nextEvent {
		s.nextEvent = deadline
	}
}

// NextEvent returns the most recently computed minimum deadline.
func (s *Scheduler) NextEvent() Cycle {
	return s.nextEvent
}

// CurrentCycle returns the scheduler's view of the CPU clock (the
// ClockDomain of spec.md §3).
func (s *Scheduler) CurrentCycle() Cycle {
	return s.cpuCycle
}

// Min is a small helper for peripherals composing more than one internal
// deadline (e.g. Audio's frame-sequencer deadline vs. its sample deadline).
func Min(a, b Cycle) Cycle {
	if a < b {
		return a
	}
	return b
}
