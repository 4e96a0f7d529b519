package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePeripheral struct {
	deadline Cycle
	ticks    int
}

func (f *fakePeripheral) ProcessEvents(delta Cycle) Cycle {
	f.deadline -= delta
	for f.deadline <= 0 {
		f.ticks++
		f.deadline += 10
	}
	return f.deadline
}

func TestAdvanceTakesMinimumDeadline(t *testing.T) {
	s := New()
	a := &fakePeripheral{deadline: 10}
	b := &fakePeripheral{deadline: 4}
	s.Register(a)
	s.Register(b)

	next := s.Advance(0)
	assert.Equal(t, Cycle(4), next)
	assert.Equal(t, Cycle(4), s.NextEvent())
}

func TestAdvanceServicesCoincidentDeadlinesInOneRound(t *testing.T) {
	s := New()
	a := &fakePeripheral{deadline: 10}
	b := &fakePeripheral{deadline: 10}
	s.Register(a)
	s.Register(b)

	s.Advance(10)

	assert.Equal(t, 1, a.ticks)
	assert.Equal(t, 1, b.ticks)
}

func TestNoPeripheralsReturnsNever(t *testing.T) {
	s := New()
	assert.Equal(t, Never, s.Advance(100))
}

func TestNotifyLowersNextEvent(t *testing.T) {
	s := New()
	s.Register(&fakePeripheral{deadline: 100})
	s.Advance(0)
	assert.Equal(t, Cycle(100), s.NextEvent())

	s.Notify(5)
	assert.Equal(t, Cycle(5), s.NextEvent())

	// Notify never raises the deadline back up.
	s.Notify(50)
	assert.Equal(t, Cycle(5), s.NextEvent())
}

func TestCurrentCycleAccumulates(t *testing.T) {
	s := New()
	s.Register(&fakePeripheral{deadline: 1000})
	s.Advance(5)
	s.Advance(7)
	assert.Equal(t, Cycle(12), s.CurrentCycle())
}

func TestOverdraftIsCarriedForward(t *testing.T) {
	// A peripheral ticked past its deadline must carry the overdraft
	// forward (next += period) rather than resetting phase.
	f := &fakePeripheral{deadline: 10}
	next := f.ProcessEvents(25)
	assert.Equal(t, 2, f.ticks)
	assert.Equal(t, Cycle(5), next)
}
