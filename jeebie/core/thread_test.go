package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCore is a minimal Core used to drive CoreThread without any real
// emulated hardware. Step increments a counter and resetCount tracks how
// many times Reset was called, so tests can assert on worker progress
// without reaching into CoreThread's private state.
type fakeCore struct {
	steps      int64
	resets     int64
	framePulse bool

	mu      sync.Mutex
	pending int
	target  int
}

func (f *fakeCore) Step() int {
	atomic.AddInt64(&f.steps, 1)
	return 4
}

func (f *fakeCore) Reset() {
	atomic.AddInt64(&f.resets, 1)
}

func (f *fakeCore) FramePresented() bool {
	return f.framePulse
}

func (f *fakeCore) AudioPending() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.target
}

func (f *fakeCore) setAudio(pending, target int) {
	f.mu.Lock()
	f.pending, f.target = pending, target
	f.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestCoreThread_StartReachesRunning(t *testing.T) {
	emu := &fakeCore{}
	thread := New(emu, NewSyncPoint())
	thread.Start()
	defer thread.End()

	assert.Equal(t, StateRunning, thread.State())
	require.True(t, waitFor(t, time.Second, func() bool {
		return atomic.LoadInt64(&emu.steps) > 0
	}), "worker should make progress once running")
}

func TestCoreThread_PauseUnpauseStopsAndResumesProgress(t *testing.T) {
	emu := &fakeCore{}
	thread := New(emu, NewSyncPoint())
	thread.Start()
	defer thread.End()

	thread.Pause()
	assert.Equal(t, StatePaused, thread.State())

	steps := atomic.LoadInt64(&emu.steps)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, steps, atomic.LoadInt64(&emu.steps), "no progress while paused")

	thread.Unpause()
	assert.Equal(t, StateRunning, thread.State())
	require.True(t, waitFor(t, time.Second, func() bool {
		return atomic.LoadInt64(&emu.steps) > steps
	}), "worker should resume progress after unpause")
}

// Scenario: interrupt nesting. Two Interrupt calls must require two
// Continue calls before the worker leaves INTERRUPTED.
func TestCoreThread_InterruptNesting(t *testing.T) {
	emu := &fakeCore{}
	thread := New(emu, NewSyncPoint())
	thread.Start()
	defer thread.End()

	thread.Interrupt()
	thread.Interrupt()
	assert.Equal(t, StateInterrupted, thread.State())

	thread.Continue()
	assert.Equal(t, StateInterrupted, thread.State(), "first continue must not leave interrupted with depth 2")

	thread.Continue()
	assert.Equal(t, StateRunning, thread.State(), "second continue restores the saved state")
}

// Scenario: reset during pause. Reset must apply exactly once and leave
// the worker running again.
func TestCoreThread_ResetDuringPause(t *testing.T) {
	emu := &fakeCore{}
	thread := New(emu, NewSyncPoint())
	thread.Start()
	defer thread.End()

	thread.Pause()
	require.Equal(t, StatePaused, thread.State())

	thread.Reset()
	require.True(t, waitFor(t, time.Second, func() bool {
		return atomic.LoadInt64(&emu.resets) == 1
	}), "reset should be applied exactly once")

	assert.Equal(t, StateRunning, thread.State())
	assert.Equal(t, int64(1), atomic.LoadInt64(&emu.resets))
}

func TestCoreThread_RunFunctionExecutesOnWorkerAndRestoresState(t *testing.T) {
	emu := &fakeCore{}
	thread := New(emu, NewSyncPoint())
	thread.Start()
	defer thread.End()

	var ran int32
	thread.RunFunction(func() {
		atomic.StoreInt32(&ran, 1)
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.Equal(t, StateRunning, thread.State())
}

// Scenario: audio back-pressure. Once the fake resampler reports it has
// reached target, the worker blocks on the audio barrier; End must
// release it within a bounded time.
func TestCoreThread_AudioBackpressureUnblockedByEnd(t *testing.T) {
	emu := &fakeCore{}
	emu.setAudio(1024, 1024)

	thread := New(emu, NewSyncPoint())
	thread.Start()

	require.True(t, waitFor(t, time.Second, func() bool {
		return atomic.LoadInt64(&emu.steps) > 0
	}), "worker should take at least one step before blocking on the full buffer")

	done := make(chan struct{})
	go func() {
		thread.End()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("End() did not unblock a worker parked on a full audio buffer")
	}

	thread.Join()
	assert.Equal(t, StateShutdown, thread.State())
}

func TestCoreThread_EndIsIdempotentAndJoinReturns(t *testing.T) {
	emu := &fakeCore{}
	thread := New(emu, NewSyncPoint())
	thread.Start()

	thread.End()
	thread.End()
	thread.Join()

	assert.Equal(t, StateShutdown, thread.State())
}
