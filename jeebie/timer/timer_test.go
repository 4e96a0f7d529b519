package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valerio/go-jeebie/jeebie/sched"
)

func runCycles(t *Timer, total sched.Cycle, step sched.Cycle) {
	for total > 0 {
		d := step
		if d > total {
			d = total
		}
		t.ProcessEvents(d)
		total -= d
	}
}

func TestResetDefaults(t *testing.T) {
	tm := New()
	assert.Equal(t, sched.Cycle(256), tm.nextEvent)
	assert.Equal(t, sched.Never, tm.nextTima)
	assert.Equal(t, sched.Cycle(1024), tm.timaPeriod)
}

func TestTimerOverflowCountMatchesFloorNOverPeriod(t *testing.T) {
	// RequestInterrupt only fires when the 8-bit TIMA byte wraps, not on
	// every increment, so over an interval of N cycles the number of
	// interrupts is floor(N/tima_period) TIMA increments, and in turn
	// floor(increments/256) overflows, with a +-1 boundary tolerance for the
	// partial period at the start of the interval.
	tm := New()
	irqs := 0
	tm.RequestInterrupt = func() { irqs++ }
	tm.UpdateTAC(0b101) // run=1, clock select=1 -> period 16

	const total sched.Cycle = 16*778 + 3
	runCycles(tm, total, 1)

	increments := int(total) / 16
	expected := increments / 256
	assert.InDelta(t, expected, irqs, 1)
}

func TestDivIncrementsEveryDivPeriod(t *testing.T) {
	tm := New()
	runCycles(tm, 256*3, 50)
	assert.Equal(t, byte(3), tm.div)
}

func TestDivResetZeroesByteAndRebasesDeadline(t *testing.T) {
	tm := New()
	runCycles(tm, 200, 50)
	tm.DivReset()
	assert.Equal(t, byte(0), tm.div)
	assert.Equal(t, sched.Cycle(256), tm.nextDiv)
}

func TestUpdateTACDisablesTima(t *testing.T) {
	tm := New()
	tm.UpdateTAC(0b101)
	assert.NotEqual(t, sched.Never, tm.nextTima)

	tm.UpdateTAC(0b001) // run bit cleared
	assert.Equal(t, sched.Never, tm.nextTima)
}

func TestNextEventIsNeverNegative(t *testing.T) {
	tm := New()
	tm.UpdateTAC(0b100) // period 1024
	for i := 0; i < 500; i++ {
		next := tm.ProcessEvents(7)
		assert.GreaterOrEqual(t, int32(next), int32(0))
	}
}

func TestReadWriteRegisters(t *testing.T) {
	tm := New()
	tm.Write(0xFF06, 0x42) // TMA
	assert.Equal(t, byte(0x42), tm.Read(0xFF06))

	tm.Write(0xFF05, 0x07) // TIMA
	assert.Equal(t, byte(0x07), tm.Read(0xFF05))

	runCycles(tm, 10, 1)
	tm.Write(0xFF04, 0xFF) // any write to DIV resets it
	assert.Equal(t, byte(0), tm.Read(0xFF04))
}

func TestSeedSetsDivWithoutDisturbingCountdown(t *testing.T) {
	tm := New()
	tm.UpdateTAC(0b101) // period 16
	next := tm.ProcessEvents(10)

	tm.Seed(0xAB)

	assert.Equal(t, byte(0xAB), tm.Read(0xFF04))
	assert.Equal(t, next, tm.nextEvent)
}

// driveToWrap advances tm one cycle at a time until TIMA has just wrapped to
// 0x00 and entered overflowStage 1 (TMA not yet reloaded). Requires tm.tima
// to already be 0xFF and tac configured so a TIMA increment is imminent.
func driveToWrap(tm *Timer) {
	for tm.overflowStage == 0 {
		tm.ProcessEvents(1)
	}
}

func TestOverflowDelaysReloadAndInterruptByTwoCycles(t *testing.T) {
	tm := New()
	irqs := 0
	tm.RequestInterrupt = func() { irqs++ }
	tm.UpdateTAC(0b101) // period 16
	tm.tma = 0x10
	tm.tima = 0xFF

	driveToWrap(tm)
	assert.Equal(t, byte(0x00), tm.tima, "TIMA reads 0x00 during the overflow cycle, before TMA lands")
	assert.Equal(t, 0, irqs)

	tm.ProcessEvents(1)
	assert.Equal(t, byte(0x10), tm.tima, "TMA lands one cycle after the overflow")
	assert.Equal(t, 0, irqs, "interrupt is not requested until the cycle after reload")

	tm.ProcessEvents(1)
	assert.Equal(t, 1, irqs)
}

func TestWriteDuringOverflowStageCancelsReloadAndInterrupt(t *testing.T) {
	tm := New()
	irqs := 0
	tm.RequestInterrupt = func() { irqs++ }
	tm.UpdateTAC(0b101) // period 16
	tm.tma = 0x10
	tm.tima = 0xFF

	driveToWrap(tm)
	require.Equal(t, 1, tm.overflowStage)

	tm.Write(0xFF05, 0x77) // TIMA

	assert.Equal(t, byte(0x77), tm.Read(0xFF05), "the write wins over the pending reload")
	runCycles(tm, 64, 1)
	assert.Equal(t, 0, irqs, "the cancelled overflow never raises its interrupt")
}

func TestWriteDuringLoadStageIsIgnored(t *testing.T) {
	tm := New()
	irqs := 0
	tm.RequestInterrupt = func() { irqs++ }
	tm.UpdateTAC(0b101) // period 16
	tm.tma = 0x10
	tm.tima = 0xFF

	driveToWrap(tm)
	tm.ProcessEvents(1) // TMA lands, enters overflowStage 2
	require.Equal(t, 2, tm.overflowStage)
	require.Equal(t, byte(0x10), tm.tima)

	tm.Write(0xFF05, 0x77) // TIMA

	assert.Equal(t, byte(0x10), tm.Read(0xFF05), "a write after TMA has landed is dropped")

	tm.ProcessEvents(1)
	assert.Equal(t, 1, irqs, "the interrupt still fires on schedule despite the ignored write")
}
