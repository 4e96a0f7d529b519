package core

import "sync"

// SyncPoint is the pair of producer/consumer barriers a CoreThread worker
// uses to hand video frames and audio buffers to external consumers without
// an unbounded queue growing between them. Either barrier can be disabled at
// runtime (consumer too slow, or running headless), and both must release
// any blocked producer the instant the worker is asked to end.
type SyncPoint struct {
	videoMu             sync.Mutex
	videoFrameAvailable *sync.Cond
	videoFrameRequired  *sync.Cond
	videoFrameOn        bool
	videoFrameWait      bool

	audioMu       sync.Mutex
	audioRequired *sync.Cond
	audioWait     bool
	fpsTarget     int
}

// NewSyncPoint creates a SyncPoint with both barriers enabled.
func NewSyncPoint() *SyncPoint {
	s := &SyncPoint{
		videoFrameWait: true,
		audioWait:      true,
		fpsTarget:      60,
	}
	s.videoFrameAvailable = sync.NewCond(&s.videoMu)
	s.videoFrameRequired = sync.NewCond(&s.videoMu)
	s.audioRequired = sync.NewCond(&s.audioMu)
	return s
}

// PresentFrame is called by the worker after presenting a frame. If the
// video barrier is enabled, it blocks until the consumer acknowledges via
// WaitFrame.
func (s *SyncPoint) PresentFrame() {
	s.videoMu.Lock()
	defer s.videoMu.Unlock()

	s.videoFrameOn = true
	s.videoFrameAvailable.Broadcast()
	for s.videoFrameWait && s.videoFrameOn {
		s.videoFrameRequired.Wait()
	}
}

// WaitFrame is called by the consumer; it blocks until a frame is ready,
// then clears the flag and releases the producer.
func (s *SyncPoint) WaitFrame() {
	s.videoMu.Lock()
	defer s.videoMu.Unlock()

	for !s.videoFrameOn {
		s.videoFrameAvailable.Wait()
	}
	s.videoFrameOn = false
	s.videoFrameRequired.Broadcast()
}

// SetVideoWait enables or disables the video producer barrier.
func (s *SyncPoint) SetVideoWait(wait bool) {
	s.videoMu.Lock()
	s.videoFrameWait = wait
	s.videoFrameRequired.Broadcast()
	s.videoMu.Unlock()
}

// PresentAudio is called by the worker after each step with the
// resampler's current fill level and target. If the audio barrier is
// enabled and the buffer has reached target, it blocks until the consumer
// calls RequireAudio (or the barrier is disabled).
func (s *SyncPoint) PresentAudio(pending, target int) {
	s.audioMu.Lock()
	defer s.audioMu.Unlock()

	if s.audioWait && pending >= target {
		s.audioRequired.Wait()
	}
}

// RequireAudio is called by the consumer after draining the buffer, to
// release a producer parked in PresentAudio.
func (s *SyncPoint) RequireAudio() {
	s.audioMu.Lock()
	s.audioRequired.Broadcast()
	s.audioMu.Unlock()
}

// SetAudioWait enables or disables the audio producer barrier.
func (s *SyncPoint) SetAudioWait(wait bool) {
	s.audioMu.Lock()
	s.audioWait = wait
	s.audioRequired.Broadcast()
	s.audioMu.Unlock()
}

// SetFPSTarget records the consumer's target presentation rate; used by
// callers pacing audio/video delivery, not enforced internally.
func (s *SyncPoint) SetFPSTarget(fps int) {
	s.audioMu.Lock()
	s.fpsTarget = fps
	s.audioMu.Unlock()
}

// FPSTarget returns the configured target.
func (s *SyncPoint) FPSTarget() int {
	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	return s.fpsTarget
}

// Disable unconditionally releases both barriers and wakes every blocked
// producer and consumer. Called once by CoreThread.End() so a producer
// currently parked on a full audio buffer or an un-acknowledged frame
// doesn't keep the worker from reaching SHUTDOWN.
func (s *SyncPoint) Disable() {
	s.videoMu.Lock()
	s.videoFrameWait = false
	s.videoFrameOn = false
	s.videoFrameAvailable.Broadcast()
	s.videoFrameRequired.Broadcast()
	s.videoMu.Unlock()

	s.audioMu.Lock()
	s.audioWait = false
	s.audioRequired.Broadcast()
	s.audioMu.Unlock()
}

// wakeRequiredIfIdle attempts a non-blocking lock of each sync mutex and, if
// acquired, wakes the corresponding "required" condition. This is
// CoreThread's deadlock-avoidance hook: a thread blocked in pause() waiting
// for PAUSED, combined with the producer blocked on a full audio buffer,
// would otherwise deadlock, since the producer is the same worker goroutine
// that needs to observe the pause request.
func (s *SyncPoint) wakeRequiredIfIdle() {
	if s.videoMu.TryLock() {
		s.videoFrameRequired.Broadcast()
		s.videoMu.Unlock()
	}
	if s.audioMu.TryLock() {
		s.audioRequired.Broadcast()
		s.audioMu.Unlock()
	}
}
