package memory

import (
	"github.com/valerio/go-jeebie/jeebie/sched"
	jtimer "github.com/valerio/go-jeebie/jeebie/timer"
)

// Timer adapts jeebie/timer.Timer to the MMU's register read/write and
// whole-cycle Tick calling convention, for callers that advance the
// machine one CPU step at a time rather than through a sched.Scheduler.
// No code outside the tests registers a peripheral on a sched.Scheduler, so
// this wrapper, driven by MMU.Tick, is what advances the timer.
type Timer struct {
	inner *jtimer.Timer

	// TimerInterruptHandler is wired by the owning MMU and forwarded to the
	// inner timer on first use.
	TimerInterruptHandler func()
}

func (t *Timer) ensure() *jtimer.Timer {
	if t.inner == nil {
		t.inner = jtimer.New()
	}
	if t.inner.RequestInterrupt == nil && t.TimerInterruptHandler != nil {
		t.inner.RequestInterrupt = t.TimerInterruptHandler
	}
	return t.inner
}

// SetSeed sets DIV to the upper byte of seed, matching the pre-rewrite
// Timer's boot-sequence seeding contract.
func (t *Timer) SetSeed(seed uint16) {
	t.ensure().Seed(byte(seed >> 8))
}

// Tick advances the timer by cycles CPU cycles, discarding the returned
// deadline since this caller doesn't drive a scheduler.
func (t *Timer) Tick(cycles int) {
	t.ensure().ProcessEvents(sched.Cycle(cycles))
}

// Read returns the current byte value of DIV/TIMA/TMA/TAC.
func (t *Timer) Read(address uint16) byte {
	return t.ensure().Read(address)
}

// Write applies a CPU write to DIV/TIMA/TMA/TAC.
func (t *Timer) Write(address uint16, value byte) {
	t.ensure().Write(address, value)
}
