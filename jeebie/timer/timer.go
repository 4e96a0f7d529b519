// Package timer implements the Game Boy's DIV/TIMA hardware timer as an
// event-deadline peripheral: instead of being ticked one cycle at a time, it
// is driven by jeebie/sched.Scheduler through ProcessEvents.
package timer

import (
	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/sched"
)

// timaPeriods maps the TAC clock-select field (bits 1:0) to the number of
// CPU cycles per TIMA increment.
var timaPeriods = [4]sched.Cycle{1024, 16, 64, 256}

// Timer is the DIV prescaler + TIMA counter + interrupt raiser of spec.md §3.
type Timer struct {
	divPeriod  sched.Cycle // base prescaler period, 256 cycles on DMG
	nextDiv    sched.Cycle // cycles remaining until the next DIV increment
	nextTima   sched.Cycle // cycles remaining until the next TIMA increment; sched.Never if disabled
	nextEvent  sched.Cycle // cycles until the nearest of the above
	eventDiff  sched.Cycle // cycles accumulated since the last ProcessEvents call
	timaPeriod sched.Cycle // cycles per TIMA increment, selected by TAC

	div  byte
	tima byte
	tma  byte
	tac  byte

	// overflowStage tracks the hardware's delayed TIMA-overflow sequence:
	// 1 while TIMA reads 0x00 and the TMA reload is still pending, 2 once
	// TMA has landed and the interrupt is pending, 0 when idle. A TIMA
	// write during stage 1 cancels the reload and interrupt outright (the
	// write wins); a write during stage 2 is ignored, since TMA has
	// already been loaded.
	overflowStage int
	overflowDelay sched.Cycle

	// RequestInterrupt raises the TIMER bit in IF and invokes the CPU's
	// update_irqs(); wired by the owner (MMU/CoreThread), non-owning.
	RequestInterrupt func()

	// scheduler is a non-owning back-reference used to pull the scheduler's
	// NextEvent down immediately after a register write lowers our own
	// deadline (spec.md's schedule_event helper). Nil is fine in tests that
	// drive ProcessEvents directly.
	scheduler *sched.Scheduler
}

// New creates a Timer in its post-reset state.
func New() *Timer {
	t := &Timer{}
	t.Reset()
	return t
}

// Attach wires the timer to the scheduler it will be registered on, so that
// register writes can call Notify. Call before any register writes.
func (t *Timer) Attach(s *sched.Scheduler) {
	t.scheduler = s
}

// Reset matches spec.md §4.2: div_period=256, next_tima disabled,
// next_event=256, event_diff=0, tima_period=1024.
func (t *Timer) Reset() {
	t.divPeriod = 256
	t.nextDiv = 256
	t.nextTima = sched.Never
	t.nextEvent = 256
	t.eventDiff = 0
	t.timaPeriod = 1024
	t.div = 0
	t.tima = 0
	t.tma = 0
	t.tac = 0
	t.overflowStage = 0
	t.overflowDelay = 0
}

// ProcessEvents implements sched.Peripheral, per spec.md §4.2.
func (t *Timer) ProcessEvents(delta sched.Cycle) sched.Cycle {
	t.eventDiff += delta
	t.nextEvent -= delta
	if t.nextEvent > 0 {
		return t.nextEvent
	}

	t.nextDiv -= t.eventDiff
	for t.nextDiv <= 0 {
		t.div++
		t.nextDiv += t.divPeriod
	}
	t.nextEvent = t.nextDiv

	// Resolve any reload/interrupt left pending by a previous call before
	// looking at new TIMA increments, so a stage entered this same call (see
	// below) is left untouched for the caller to observe — and possibly
	// race a TIMA write against — until the next ProcessEvents call.
	if t.overflowStage != 0 {
		t.overflowDelay -= t.eventDiff
		for t.overflowStage != 0 && t.overflowDelay <= 0 {
			switch t.overflowStage {
			case 1:
				t.tima = t.tma
				t.overflowStage = 2
				t.overflowDelay += 1
			case 2:
				if t.RequestInterrupt != nil {
					t.RequestInterrupt()
				}
				t.overflowStage = 0
			}
		}
	}

	if t.nextTima != sched.Never {
		t.nextTima -= t.eventDiff
		for t.nextTima <= 0 {
			if t.overflowStage == 0 {
				t.tima++
				if t.tima == 0 {
					t.overflowStage = 1
					t.overflowDelay = 1
				}
			}
			t.nextTima += t.timaPeriod
		}
		if t.nextTima < t.nextEvent {
			t.nextEvent = t.nextTima
		}
	}

	if t.overflowStage != 0 && t.overflowDelay < t.nextEvent {
		t.nextEvent = t.overflowDelay
	}

	t.eventDiff = 0
	return t.nextEvent
}

// DivReset zeroes the DIV byte and re-bases next_div/next_event, per
// spec.md §4.2. Any write to DIV (any value) triggers this.
func (t *Timer) DivReset() {
	t.div = 0
	t.nextDiv = t.divPeriod
	if t.nextDiv < t.nextEvent {
		t.nextEvent = t.nextDiv
	}
	t.notifyScheduler()
}

// UpdateTAC applies a write to the TAC register: selects tima_period from
// the clock field if the run bit is set, or disables TIMA otherwise.
func (t *Timer) UpdateTAC(tac byte) {
	t.tac = tac & 0x07
	if tac&0x04 != 0 {
		t.timaPeriod = timaPeriods[tac&0x03]
		if t.nextTima == sched.Never {
			t.nextTima = t.timaPeriod
		}
		if t.nextTima < t.nextEvent {
			t.nextEvent = t.nextTima
		}
	} else {
		t.nextTima = sched.Never
	}
	t.notifyScheduler()
}

func (t *Timer) notifyScheduler() {
	if t.scheduler != nil {
		t.scheduler.Notify(t.nextEvent)
	}
}

// Seed sets DIV directly, for boot-sequence initialization that needs a
// specific post-bootrom value. It does not touch the countdown state, so a
// seed taking effect mid-frame does not shift when the next DIV increment
// or TIMA event is due.
func (t *Timer) Seed(div byte) {
	t.div = div
}

// Read returns the current byte value of one of DIV/TIMA/TMA/TAC.
func (t *Timer) Read(address uint16) byte {
	switch address {
	case addr.DIV:
		return t.div
	case addr.TIMA:
		return t.tima
	case addr.TMA:
		return t.tma
	case addr.TAC:
		return t.tac | 0xF8
	default:
		return 0xFF
	}
}

// Write applies a CPU write to one of DIV/TIMA/TMA/TAC.
func (t *Timer) Write(address uint16, value byte) {
	switch address {
	case addr.DIV:
		t.DivReset()
	case addr.TIMA:
		switch t.overflowStage {
		case 1:
			// the write lands in the same cycle TIMA reads 0x00 pending
			// reload: it overrides the overflow outright.
			t.overflowStage = 0
			t.tima = value
		case 2:
			// TMA has already landed; the write is dropped.
		default:
			t.tima = value
		}
	case addr.TMA:
		t.tma = value
	case addr.TAC:
		t.UpdateTAC(value)
	}
}
