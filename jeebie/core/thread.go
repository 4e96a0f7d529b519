// Package core provides the threaded emulation harness: CoreThread drives a
// Core implementation on its own goroutine, answering pause/interrupt/reset
// commands from other goroutines through an explicit state machine, and
// handing video frames and audio buffers to consumers through a SyncPoint.
package core

import (
	"log/slog"
	"sync"
)

// Core is the minimal contract CoreThread needs from the emulated machine.
// Kept as an interface, rather than a concrete *jeebie.Emulator, so this
// package never imports jeebie/cpu directly — the worker only needs to
// advance the machine and reset it, not reach into its internals.
type Core interface {
	// Step executes one unit of work (one CPU instruction, or one frame's
	// worth — the implementation decides its own granularity) and returns
	// the number of CPU cycles elapsed.
	Step() int

	// Reset reinitializes the machine to its post-power-on state.
	Reset()

	// FramePresented reports whether the most recent Step produced a
	// complete video frame ready for SyncPoint.PresentFrame.
	FramePresented() bool

	// AudioPending reports the resampler's current buffer fill and target,
	// so the worker knows whether to block on the audio barrier.
	AudioPending() (pending, target int)
}

// Option configures a CoreThread at construction time.
type Option func(*CoreThread)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *CoreThread) { t.logger = l }
}

// WithOnStart installs a callback run once on the worker goroutine before
// it transitions out of INITIALIZED.
func WithOnStart(fn func()) Option {
	return func(t *CoreThread) { t.onStart = fn }
}

// WithOnClean installs a callback run once on the worker goroutine after it
// leaves EXITING, before the final SHUTDOWN transition.
func WithOnClean(fn func()) Option {
	return func(t *CoreThread) { t.onClean = fn }
}

// CoreThread is the worker-thread state machine described by spec.md §4.4:
// it owns the emulated Core for the entire RUNNING-EXITING span, and every
// external mutation is routed through a state transition rather than a
// direct call into the core.
type CoreThread struct {
	sync *SyncPoint
	emu  Core

	logger *slog.Logger

	stateMu        sync.Mutex
	stateCond      *sync.Cond
	state          State
	savedState     State
	interruptDepth int
	runFn          func()

	onStart func()
	onClean func()

	started bool
	wg      sync.WaitGroup
}

// New creates a CoreThread in state INITIALIZED. Call Start to spawn the
// worker goroutine.
func New(emu Core, sp *SyncPoint, opts ...Option) *CoreThread {
	t := &CoreThread{
		emu:    emu,
		sync:   sp,
		logger: slog.Default(),
		state:  StateInitialized,
	}
	t.stateCond = sync.NewCond(&t.stateMu)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start spawns the worker goroutine and blocks until it has reached RUNNING.
func (t *CoreThread) Start() {
	t.stateMu.Lock()
	if t.started {
		t.stateMu.Unlock()
		return
	}
	t.started = true
	t.wg.Add(1)
	t.stateMu.Unlock()

	go t.run()

	t.stateMu.Lock()
	for t.state < StateRunning {
		t.stateCond.Wait()
	}
	t.stateMu.Unlock()
}

// State returns the worker's current state.
func (t *CoreThread) State() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// Pause transitions the worker towards PAUSED and blocks until it
// acknowledges.
func (t *CoreThread) Pause() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.state == StateRunning {
		t.state = StatePausing
		t.stateCond.Broadcast()
	}
	for t.state != StatePaused && t.state != StateShutdown && t.state != StateCrashed {
		t.stateCond.Wait()
	}
}

// Unpause returns a PAUSED worker to RUNNING. A no-op if not paused.
func (t *CoreThread) Unpause() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.state == StatePaused {
		t.state = StateRunning
		t.stateCond.Broadcast()
	}
}

// Interrupt suspends the CPU loop while leaving the core's memory
// accessible to the calling thread. Nestable: only the first call blocks
// until INTERRUPTED; nested calls bump interrupt_depth and return
// immediately.
func (t *CoreThread) Interrupt() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	t.interruptDepth++
	if t.interruptDepth != 1 {
		return
	}

	t.savedState = t.state
	t.state = StateInterrupting
	t.stateCond.Broadcast()
	for t.state != StateInterrupted && t.state != StateShutdown && t.state != StateCrashed {
		t.stateCond.Wait()
	}
}

// Continue decrements interrupt_depth; at zero, restores the state that was
// active when Interrupt was first called.
func (t *CoreThread) Continue() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.interruptDepth == 0 {
		return
	}
	t.interruptDepth--
	if t.interruptDepth == 0 {
		t.state = t.savedState
		t.stateCond.Broadcast()
	}
}

// RunFunction installs fn, transitions to RUN_ON, and blocks until the
// worker has executed fn and returned to its prior state. fn runs on the
// worker goroutine, so reads of emulator state inside fn see a
// cycle-aligned snapshot.
func (t *CoreThread) RunFunction(fn func()) {
	t.stateMu.Lock()
	t.runFn = fn
	t.savedState = t.state
	t.state = StateRunOn
	t.stateCond.Broadcast()
	for t.state == StateRunOn {
		t.stateCond.Wait()
	}
	t.stateMu.Unlock()
}

// Reset waits for any in-flight interrupt to complete, then transitions to
// RESETING; the worker picks this up, exits whatever it was doing, and
// calls Core.Reset().
func (t *CoreThread) Reset() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	for t.interruptDepth > 0 {
		t.stateCond.Wait()
	}
	t.state = StateReseting
	t.stateCond.Broadcast()
}

// End transitions to EXITING and releases any producer blocked on the
// SyncPoint, guaranteeing eventual SHUTDOWN. Idempotent; safe from any
// thread.
func (t *CoreThread) End() {
	t.stateMu.Lock()
	if t.state != StateShutdown {
		t.state = StateExiting
		t.stateCond.Broadcast()
	}
	t.stateMu.Unlock()

	t.sync.Disable()
}

// Join blocks until the worker goroutine has exited.
func (t *CoreThread) Join() {
	t.wg.Wait()
}

// run is the worker goroutine body.
func (t *CoreThread) run() {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("core thread crashed", "panic", r)
			t.stateMu.Lock()
			t.state = StateCrashed
			t.stateCond.Broadcast()
			t.stateMu.Unlock()
			t.sync.Disable()
		}
	}()

	if t.onStart != nil {
		t.onStart()
	}

	t.stateMu.Lock()
	t.state = StateRunning
	t.stateCond.Broadcast()
	t.stateMu.Unlock()

	for {
		t.stateMu.Lock()
		switch t.state {
		case StatePausing:
			t.state = StatePaused
			t.stateCond.Broadcast()
		case StateInterrupting:
			t.state = StateInterrupted
			t.stateCond.Broadcast()
		}
		state := t.state
		t.stateMu.Unlock()

		switch state {
		case StatePaused, StateInterrupted:
			t.waitUntilNotState(state)
			continue
		case StateRunOn:
			t.runOnce()
			continue
		case StateReseting:
			t.emu.Reset()
			t.stateMu.Lock()
			t.state = StateRunning
			t.stateCond.Broadcast()
			t.stateMu.Unlock()
			continue
		case StateExiting:
			goto shutdown
		case StateShutdown, StateCrashed:
			return
		}

		t.step()
	}

shutdown:
	if t.onClean != nil {
		t.onClean()
	}
	t.sync.Disable()

	t.stateMu.Lock()
	t.state = StateShutdown
	t.stateCond.Broadcast()
	t.stateMu.Unlock()
}

// step advances the core by one unit of work and services the SyncPoint
// barriers it may have crossed.
func (t *CoreThread) step() {
	t.emu.Step()

	if t.emu.FramePresented() {
		t.sync.PresentFrame()
	}
	if pending, target := t.emu.AudioPending(); target > 0 {
		t.sync.PresentAudio(pending, target)
	}
}

// runOnce executes the installed RUN_ON callback and restores the saved
// state, per spec.md's run_function contract.
func (t *CoreThread) runOnce() {
	t.stateMu.Lock()
	fn := t.runFn
	t.runFn = nil
	t.stateMu.Unlock()

	if fn != nil {
		fn()
	}

	t.stateMu.Lock()
	t.state = t.savedState
	t.stateCond.Broadcast()
	t.stateMu.Unlock()
}

// waitUntilNotState blocks on state_cond while the worker remains in s
// (PAUSED or INTERRUPTED). Per spec.md §4.4's deadlock-avoidance rule, each
// wait iteration also attempts a non-blocking wake of the SyncPoint's
// "required" conditions: otherwise a thread blocked in Pause() waiting for
// PAUSED, combined with an earlier producer parked on a full audio buffer,
// could deadlock with nothing left to break the cycle.
func (t *CoreThread) waitUntilNotState(s State) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	for t.state == s {
		t.sync.wakeRequiredIfIdle()
		t.stateCond.Wait()
	}
}
