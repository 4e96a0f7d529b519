package audio

import (
	"log/slog"

	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/bit"
	"github.com/valerio/go-jeebie/jeebie/sched"
)

// APU is the Audio Processing Unit of a Game Boy / Game Boy Advance.
// It generates 4-channel audio: CH1 (square+sweep), CH2 (square), CH3
// (wave), CH4 (noise), all mixed to stereo output and fed through a
// delta resampler. It is driven by jeebie/sched.Scheduler through
// ProcessEvents rather than being ticked one cycle at a time.
type APU struct {
	logger *slog.Logger
	style  Style

	enabled           bool
	channels          [4]Channel
	vinLeft, vinRight bool  // from NR50
	volLeft, volRight uint8 // volume for left/right, values 0 to 7
	vinSample         int16 // external VIN input sample (Pan Docs: Audio mixing - VIN)
	masterVolume      int   // 0-256, linear post-mix scale (spec's master_volume)

	resampler *Resampler

	// frame sequencer state
	frameCounter  int // current step (0-7)
	frameCycleAcc sched.Cycle

	// raw memory + registers
	NR10, NR11, NR12, NR13, NR14 uint8 // Channel 1
	NR21, NR22, NR23, NR24       uint8 // Channel 2
	NR30, NR31, NR32, NR33, NR34 uint8 // Channel 3
	NR41, NR42, NR43, NR44       uint8 // Channel 4
	NR50, NR51, NR52             uint8 // Global controls
	waveRAM                      [waveRAMSize]uint8

	// ch3CurrentByteIndex mirrors channels[2].window>>1 in the internal
	// waveRAM array; exposed directly since the CPU-visible wave RAM write
	// redirect (spec.md 4.3.4) depends on it.
	ch3CurrentByteIndex int

	// waveRAMCorruption gates the DMG wave-RAM corruption-on-retrigger
	// quirk; spec.md's Design Notes calls this out as hardware-revision
	// dependent and asks for an optional quirks flag.
	waveRAMCorruption bool

	scheduler *sched.Scheduler
}

// Channel represents one of the four APU channels.
// Fields might be used depending on channel type.
//
// Some simple explanations of what concepts mean:
//   - duty: for square waves (ch1-2), which pattern/shape to use (0-3)
//   - sweep: changes frequency over time (only for ch1)
//   - envelope: changes volume over time (for ch1-2, ch4)
//   - freq: 11-bit frequency value; the waveform period is proportional to 2048 - freq (for ch1-3)
//   - DAC: Digital-to-Analog Converter, if off the channel is silent (all channels)
//   - LFSR: Linear Feedback Shift Register, a pseudo-random bit generator (for ch4)
type Channel struct {
	enabled bool

	// panning, or "on which side is this channel heard?"
	// can be both or neither, if neither it's effectively muted (we don't mix it)
	left, right bool

	duty          uint8  // for square waves, values 0 to 3
	timer         uint8  // initial length timer value, 6 bits for ch1-2-4 -> values 0 to 63, 8 bits for ch3 -> values 0 to 255
	lengthCounter uint16 // current length counter, can hold up to 256 for CH3
	volume        uint8  // initial volume, 4 bits -> values 0 to 15

	// Frequency sweep (CH1 only)
	sweepPeriod    uint8  // "time" per pandocs/spec (NR10 6-4), 3 bits -> values 0 to 7
	sweepDown      bool   // sweep direction, 0=up, 1=down
	sweepStep      uint8  // "shift" per spec (NR10 2-0), 3 bits -> values 0 to 7
	sweepEnable    bool   // true if sweep is enabled (either time or shift non-zero)
	sweepTimer     uint8  // timer for sweep calculations
	realFrequency  uint16 // spec's real_frequency; shadow copy used for sweep math
	sweepOccurred  bool   // set after any successful sweep calculation step

	envelopePace    uint8 // NRx2 bits 2-0, 3 bits -> values 0 to 7
	envelopeUp      bool  // NRx2 bit 3, 0=down, 1=up
	envelopeCounter uint8
	envelopeDead    envelopeState

	freq         uint16 // frequency period, 11 bits -> values 0 to 2047
	trigger      bool   // trigger flag, write-only, when written it "triggers" the channel
	lengthEnable bool   // length enable flag
	next         int    // cycles until this channel's next waveform step (freqTimer/noiseTimer unified)
	dutyStep     uint8
	waveSample   uint8

	// Wave channel (CH3) specific
	window   uint8      // current nibble position, mod 32 (mod 64 on GBA continuous mode)
	readable bool       // true shortly after a wave-RAM read; gates corruption-on-retrigger
	fadeCh3  sched.Cycle // countdown before readable falls, per spec's fade_ch3

	// CH4 Noise channel specific
	lfsr        uint16 // 15-bit LFSR for noise generation
	use7bitLFSR bool   // from NR43 bit 3, when set use 7-bit LFSR, otherwise 15-bit
	shift       uint8  // from NR43, 4 bits -> values 0 to 15
	divider     uint8  // from NR43, 3 bits -> values 0 to 7

	dacEnabled bool // DAC enable flag: NR30 bit 7 for CH3, NRx2 bits 7-3 non-zero for the others

	// Debug state
	muted bool // force_disable[N]: separate from enabled/dac
}

// calculateSweepFrequency performs the sweep frequency calculation.
func (ch *Channel) calculateSweepFrequency() (newFreq uint16, overflow bool) {
	if ch.sweepStep == 0 {
		return ch.realFrequency, false
	}
	return ch.checkSweepOverflow()
}

// checkSweepOverflow computes the sweep target regardless of
// sweepStep being zero. This is used for the periodic overflow check that
// occurs even when shift==0. It does NOT mutate channel state.
func (ch *Channel) checkSweepOverflow() (newFreq uint16, overflow bool) {
	freqChange := ch.realFrequency >> ch.sweepStep
	if ch.sweepDown {
		if freqChange > ch.realFrequency {
			newFreq = 0
		} else {
			newFreq = ch.realFrequency - freqChange
		}
	} else {
		newFreq = ch.realFrequency + freqChange
	}
	return newFreq, newFreq > 2047
}

// Option configures an APU at construction time.
type Option func(*APU)

// WithStyle selects DMG or GBA wave-channel addressing and NR52 reset
// behavior.
func WithStyle(s Style) Option {
	return func(a *APU) { a.style = s }
}

// WithSampleInterval overrides the sample interval stored on the resampler
// (default 128 CPU cycles). The mixer does not read it: it submits one raw
// sample per ProcessEvents call, covering that call's whole delta.
func WithSampleInterval(cycles int) Option {
	return func(a *APU) { a.resampler.sampleInterval = cycles }
}

// WithSamplesTarget overrides the resampler's buffer-fill target, the value
// its Target method reports.
func WithSamplesTarget(n int) Option {
	return func(a *APU) { a.resampler.samples = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *APU) { a.logger = l }
}

// WithWaveRAMCorruption toggles the DMG wave-RAM corruption-on-retrigger
// quirk (enabled by default).
func WithWaveRAMCorruption(enabled bool) Option {
	return func(a *APU) { a.waveRAMCorruption = enabled }
}

func New(opts ...Option) *APU {
	apu := &APU{
		logger:            slog.Default(),
		resampler:         NewResampler(defaultSampleInterval, 1024),
		waveRAMCorruption: true,
		masterVolume:      256,
	}
	for _, opt := range opts {
		opt(apu)
	}
	return apu
}

// Attach wires the APU to the scheduler it will be registered on, so that
// register writes can pull the scheduler's deadline down via Notify.
func (a *APU) Attach(s *sched.Scheduler) {
	a.scheduler = s
}

// ProcessEvents implements sched.Peripheral. It advances the channel
// generators, the 512 Hz frame sequencer, and the mixer/resampler by delta
// cycles, and returns the number of cycles until the next frame-sequencer
// tick.
func (a *APU) ProcessEvents(delta sched.Cycle) sched.Cycle {
	if !a.enabled {
		return sched.Never
	}

	cycles := int(delta)
	a.tickGenerators(cycles)
	a.tickFadeCh3(delta)

	a.frameCycleAcc += delta
	for a.frameCycleAcc >= cyclesPerStep {
		a.frameCycleAcc -= cyclesPerStep
		a.tickSequence()
	}

	next := cyclesPerStep - int(a.frameCycleAcc)
	if next < 1 {
		next = 1
	}
	return sched.Cycle(next)
}

// Tick advances the APU by CPU T-cycles; a thin wrapper over ProcessEvents
// for callers not driven through jeebie/sched.
func (a *APU) Tick(cycles int) {
	a.ProcessEvents(sched.Cycle(cycles))
}

func (a *APU) tickFadeCh3(delta sched.Cycle) {
	ch := &a.channels[2]
	if !ch.readable {
		return
	}
	ch.fadeCh3 -= delta
	if ch.fadeCh3 <= 0 {
		ch.readable = false
	}
}

func (a *APU) tickGenerators(cycles int) {
	if cycles <= 0 {
		return
	}

	var leftLevel, rightLevel int64
	for i := range 4 {
		ch := &a.channels[i]
		if !ch.enabled || !ch.dacEnabled || ch.muted {
			continue
		}

		var level int64
		switch i {
		case 0, 1:
			level = a.stepSquare(ch, cycles)
		case 2:
			level = a.stepWave(ch, cycles)
		case 3:
			level = a.stepNoise(ch, cycles)
		}
		if level == 0 {
			continue
		}

		if ch.left {
			leftLevel += level
		}
		if ch.right {
			rightLevel += level
		}
	}
	// VIN pin is optional, it feeds each mixer lane
	if a.vinLeft {
		leftLevel += int64(a.vinSample)
	}
	if a.vinRight {
		rightLevel += int64(a.vinSample)
	}

	left := scaleToPCM(float64(leftLevel), a.volLeft, a.masterVolume)
	right := scaleToPCM(float64(rightLevel), a.volRight, a.masterVolume)
	a.resampler.Submit(left, right, cycles)
}

func (a *APU) stepSquare(ch *Channel, cycles int) int64 {
	period := a.squarePeriodCycles(ch)
	if period == 0 {
		return 0
	}
	if ch.next <= 0 {
		ch.next = period
	}

	ch.next -= cycles
	for ch.next <= 0 {
		ch.next += period
		ch.dutyStep = (ch.dutyStep + 1) & 0x7
	}

	pattern := dutyPatterns[ch.duty&0x3][ch.dutyStep]
	if ch.volume == 0 {
		return 0
	}
	level := int64(ch.volume)
	if pattern == 0 {
		// Per Pan Docs: if the duty cycle is 0, the output is 0
		// so we mirror the level to have a DC-free signal.
		return -level
	}
	return level
}

func (a *APU) stepWave(ch *Channel, cycles int) int64 {
	period := a.wavePeriodCycles(ch)
	if period == 0 {
		return 0
	}
	if ch.next <= 0 {
		ch.next = period
	}

	windowMax := uint8(32)
	if a.style == StyleGBA && bit.IsSet(6, a.NR30) {
		windowMax = 64
	}

	ch.next -= cycles
	for ch.next <= 0 {
		ch.next += period
		ch.window = (ch.window + 1) % windowMax
	}

	sample := int64(a.readWaveSample(ch)) - 8
	switch ch.volume & 0b11 {
	case 0:
		return 0
	case 1:
		return sample
	case 2:
		return sample / 2
	case 3:
		return sample / 4
	default:
		return sample
	}
}

func (a *APU) stepNoise(ch *Channel, cycles int) int64 {
	period := a.noisePeriodCycles(ch)
	if period == 0 {
		return 0
	}
	if ch.lfsr == 0 {
		ch.lfsr = 0x7FFF
	}
	if ch.next <= 0 {
		ch.next = period
	}

	ch.next -= cycles
	for ch.next <= 0 {
		ch.next += period
		lsb := (ch.lfsr & 1) ^ ((ch.lfsr >> 1) & 1)
		ch.lfsr = (ch.lfsr >> 1) | (lsb << 14)
		if ch.use7bitLFSR {
			ch.lfsr = (ch.lfsr &^ (1 << 6)) | (lsb << 6)
		}
	}

	if ch.volume == 0 {
		return 0
	}
	level := int64(ch.volume)
	if bit.IsSet(0, uint8(ch.lfsr)) {
		// Per Pan Docs: Noise output bit is inverted before it hits the DAC
		return -level
	}
	return level
}

func (a *APU) squarePeriodCycles(ch *Channel) int {
	period := 2048 - int(ch.freq&0x7FF)
	if period <= 0 {
		return 0
	}
	return period * 4
}

func (a *APU) wavePeriodCycles(ch *Channel) int {
	period := 2048 - int(ch.freq&0x7FF)
	if period <= 0 {
		return 0
	}
	return period * 2
}

var noiseDividers = [8]int{8, 16, 32, 48, 64, 80, 96, 112}

func (a *APU) noisePeriodCycles(ch *Channel) int {
	div := noiseDividers[ch.divider&0x7]
	period := div << ch.shift
	if period <= 0 {
		return 0
	}
	return period
}

// waveAddressIndex maps a channel-3 nibble window to a byte offset in the
// internal waveRAM store. On DMG this is a plain 16-byte wrap. On GBA the
// CPU-visible 16-byte register window can be redirected to either of two
// banks (NR30 bit5), or the two banks can be walked as one continuous
// 32-byte region (NR30 bit6) — the exact nibble-rotation hardware performs
// across 32-bit word boundaries isn't pinned down by available references,
// so this linearizes bank selection without attempting the word-rotation
// detail spec.md describes as uncertain.
func (a *APU) waveAddressIndex(window uint8) int {
	if a.style != StyleGBA {
		return int(window>>1) % waveRAMBankSize
	}
	if bit.IsSet(6, a.NR30) {
		return int(window>>1) % waveRAMSize
	}
	bankOffset := 0
	if bit.IsSet(5, a.NR30) {
		bankOffset = waveRAMBankSize
	}
	return bankOffset + int(window>>1)%waveRAMBankSize
}

func (a *APU) readWaveSample(ch *Channel) uint8 {
	byteIdx := a.waveAddressIndex(ch.window)
	value := a.waveRAM[byteIdx]
	ch.waveSample = value
	ch.readable = true
	ch.fadeCh3 = ch3FadeCycles
	a.ch3CurrentByteIndex = byteIdx

	if ch.window&1 == 0 {
		return value >> 4
	}
	return value & 0x0F
}

// Per Pan Docs: Wave RAM is locked to the CPU while
// CH3 is enabled with the DAC on (Wave channel).
func (a *APU) waveRAMLocked() bool {
	return a.enabled && a.channels[2].enabled && a.channels[2].dacEnabled
}

// corruptWaveRAM implements spec.md 4.3.4's DMG wave-RAM
// corruption-on-retrigger: if CH3 is re-triggered while still readable, the
// low window positions overwrite byte 0, and higher positions overwrite a
// 4-byte-aligned block.
func (a *APU) corruptWaveRAM(ch *Channel) {
	if a.style != StyleDMG || !a.waveRAMCorruption || !ch.readable {
		return
	}

	byteIdx := int(ch.window >> 1)
	if ch.window < 8 {
		a.waveRAM[0] = a.waveRAM[byteIdx]
		return
	}

	block := byteIdx &^ 3
	copy(a.waveRAM[0:4], a.waveRAM[block:block+4])
}

var dutyPatterns = [4][8]int64{
	{0, 1, 0, 0, 0, 0, 0, 0},
	{0, 1, 1, 0, 0, 0, 0, 0},
	{0, 1, 1, 1, 1, 0, 0, 0},
	{1, 0, 0, 1, 1, 1, 1, 1},
}

const sampleScale = 32767.0 / 15.0

// scaleToPCM applies the NR50 master volume lane (0-7) and the
// spec's master_volume (0-256) linear scale to a mixed channel sum.
func scaleToPCM(level float64, laneVol uint8, masterVolume int) int16 {
	gain := float64(laneVol+1) / 8.0
	masterGain := float64(masterVolume) / 256.0
	value := level * gain * masterGain * sampleScale
	if value > 32767 {
		value = 32767
	} else if value < -32768 {
		value = -32768
	}
	return int16(value)
}

// tickSequence advances the sequencer by one step.
// We advance one step every 512Hz (8192 T-cycles), then
// depending on the step we tick length, sweep, and/or envelope.
//
//	Step | Length (256Hz) | Sweep (128Hz) | Envelope (64Hz)
//	------------------------------------------------------
//	0    | yes            | -             | -
//	1    | -              | -             | -
//	2    | yes            | yes           | -
//	3    | -              | -             | -
//	4    | yes            | -             | -
//	5    | -              | -             | -
//	6    | yes            | yes           | -
//	7    | -              | -             | yes
func (a *APU) tickSequence() {
	switch a.frameCounter {
	case 0:
		a.tickLength()
	case 2:
		a.tickLength()
		a.tickSweep()
	case 4:
		a.tickLength()
	case 6:
		a.tickLength()
		a.tickSweep()
	case 7:
		a.tickEnvelope()
	}

	a.frameCounter++
	a.frameCounter %= 8
}

func (a *APU) tickLength() {
	// Length counters: when enabled, decrement each channel's length counter
	// When it reaches 0, disable the channel.
	for i := range 4 {
		ch := &a.channels[i]
		if ch.lengthEnable && ch.lengthCounter > 0 {
			ch.lengthCounter--
			if ch.lengthCounter == 0 {
				ch.enabled = false
			}
		}
	}
}

func (a *APU) tickSweep() {
	// Frequency sweep only applies to CH1 (channel 0)
	ch := &a.channels[0]

	if !ch.sweepEnable {
		return
	}

	// tick down, we continue only if it reaches 0
	ch.sweepTimer--
	if ch.sweepTimer > 0 {
		return
	}

	ch.sweepTimer = ch.sweepPeriod
	if ch.sweepTimer == 0 {
		ch.sweepTimer = 8
	}

	// Per dmg_sound tests: if period==0, do not perform calculations on ticks
	if ch.sweepPeriod == 0 {
		return
	}

	// First: perform overflow check.
	newFrequency, overflow := ch.checkSweepOverflow()
	ch.sweepOccurred = true
	if overflow {
		ch.enabled = false
		return
	}
	// If shift==0, do not update frequency on tick
	if ch.sweepStep == 0 {
		return
	}
	// Update the frequency registers (NR13/NR14 11 bits total)
	ch.realFrequency = newFrequency
	ch.freq = newFrequency
	a.NR14 = (a.NR14 & 0b11111000) | uint8((newFrequency>>8)&0b111)
	a.NR13 = uint8(newFrequency)

	// Do the calculation AGAIN for overflow check only
	// (This weird behavior is documented in Pan Docs — the hardware's
	// "double-check")
	if _, overflow := ch.checkSweepOverflow(); overflow {
		ch.enabled = false
	}
}

func (a *APU) tickEnvelope() {
	for _, idx := range []int{0, 1, 3} {
		ch := &a.channels[idx]
		// Per Pan Docs: Envelope timer continues running even if the channel is currently silent
		// so we avoid checking ch.enabled here.
		if !ch.dacEnabled || ch.envelopeDead != envelopeAlive {
			continue
		}

		pace := ch.envelopePace
		if pace == 0 {
			pace = 8
		}

		if ch.envelopeCounter == 0 {
			ch.envelopeCounter = pace
		}
		ch.envelopeCounter--
		if ch.envelopeCounter > 0 {
			continue
		}

		if ch.envelopeUp {
			if ch.volume < 15 {
				ch.volume++
				ch.envelopeCounter = pace
			} else {
				ch.envelopeDead = envelopeSaturatedHigh
			}
		} else {
			if ch.volume > 0 {
				ch.volume--
				ch.envelopeCounter = pace
			} else {
				ch.envelopeDead = envelopeSaturatedLow
			}
		}
	}
}

// ReadRegister returns masked register values.
// Note: write-only and unused bits are fixed to 1 when reading.
func (a *APU) ReadRegister(address uint16) uint8 {
	switch address {
	case addr.NR10:
		return a.NR10 | 0b1000_0000
	case addr.NR11:
		return a.NR11 | 0b0011_1111
	case addr.NR12:
		return a.NR12
	case addr.NR13:
		return 0xFF // write-only reg
	case addr.NR14:
		return a.NR14 | 0b1011_1111
	case addr.NR21:
		return a.NR21 | 0b0011_1111
	case addr.NR22:
		return a.NR22
	case addr.NR23:
		return 0xFF // write-only reg
	case addr.NR24:
		return a.NR24 | 0b1011_1111
	case addr.NR30:
		return a.NR30 | 0b0111_1111
	case addr.NR31:
		return 0xFF // write-only reg
	case addr.NR32:
		return a.NR32 | 0b1001_1111
	case addr.NR33:
		return 0xFF // write-only reg
	case addr.NR34:
		return a.NR34 | 0b1011_1111
	case addr.NR41:
		return 0xFF // write-only reg
	case addr.NR42:
		return a.NR42
	case addr.NR43:
		return a.NR43
	case addr.NR44:
		return a.NR44 | 0b1011_1111
	case addr.NR50:
		return a.NR50
	case addr.NR51:
		return a.NR51
	case addr.NR52:
		// NR52 status: bit 7 = power, bits 6-4 always 1, bits 3-0 = channel active status
		status := uint8(0b0111_0000)
		if a.enabled {
			status = bit.Set(7, status)
		}
		// set the low 4 bits based on channel enabled flags
		for i := range 4 {
			if a.channels[i].enabled {
				status = bit.Set(uint8(i), status)
			}
		}
		return status
	}
	if address >= addr.WaveRAMStart && address <= addr.WaveRAMEnd {
		if a.waveRAMLocked() {
			// Per Pan Docs: When wave channel is active the CPU
			// sees the current sample buffer instead of RAM.
			return a.channels[2].waveSample
		}
		return a.waveRAM[a.waveAddressIndex(uint8(address-addr.WaveRAMStart)*2)]
	}
	// unmapped - panic?
	return 0xFF
}

// WriteRegister stores the value of the given register/memory, then updates
// internal state accordingly.
func (a *APU) WriteRegister(address uint16, value uint8) {
	isInWaveRAM := address >= addr.WaveRAMStart && address <= addr.WaveRAMEnd

	if !a.enabled && address != addr.NR52 && !isInWaveRAM {
		// and ignore writes to audio regs except NR52/RAM when powered off
		return
	}

	switch address {
	case addr.NR10:
		a.writeNR10(value)
	case addr.NR11:
		a.NR11 = value
		a.channels[0].lengthCounter = 64 - uint16(bit.ExtractBits(value, 5, 0))
	case addr.NR12:
		a.NR12 = value
		a.applyEnvelopeWrite(&a.channels[0], value)
	case addr.NR13:
		a.NR13 = value
	case addr.NR14:
		a.NR14 = value
	case addr.NR21:
		a.NR21 = value
		a.channels[1].lengthCounter = 64 - uint16(bit.ExtractBits(value, 5, 0))
	case addr.NR22:
		a.NR22 = value
		a.applyEnvelopeWrite(&a.channels[1], value)
	case addr.NR23:
		a.NR23 = value
	case addr.NR24:
		a.NR24 = value
	case addr.NR30:
		a.NR30 = value
	case addr.NR31:
		a.NR31 = value
		a.channels[2].lengthCounter = 256 - uint16(value)
	case addr.NR32:
		a.NR32 = value
	case addr.NR33:
		a.NR33 = value
	case addr.NR34:
		a.NR34 = value
	case addr.NR41:
		a.NR41 = value
		a.channels[3].lengthCounter = 64 - uint16(bit.ExtractBits(value, 5, 0))
	case addr.NR42:
		a.NR42 = value
		a.applyEnvelopeWrite(&a.channels[3], value)
	case addr.NR43:
		a.NR43 = value
	case addr.NR44:
		a.NR44 = value
	case addr.NR50:
		a.NR50 = value
	case addr.NR51:
		a.NR51 = value
	case addr.NR52:
		a.writeNR52(value)
	default:
		// ignore
	}

	if isInWaveRAM {
		offset := address - addr.WaveRAMStart
		if a.waveRAMLocked() {
			// Per Pan Docs: Writes during playback update
			// the currently buffered sample instead of RAM.
			a.waveRAM[a.ch3CurrentByteIndex] = value
			a.channels[2].waveSample = value
		} else {
			a.waveRAM[a.waveAddressIndex(uint8(offset)*2)] = value
		}
	}

	a.mapRegistersToState()
	a.notifyScheduler()
}

// writeNR10 handles CH1's sweep control register, including the
// direction-flip-after-a-sweep-occurred disable rule from spec.md 4.3.3.
func (a *APU) writeNR10(value uint8) {
	ch := &a.channels[0]
	prevSweepDown := ch.sweepDown

	a.NR10 = value
	ch.sweepPeriod = bit.ExtractBits(value, 6, 4)
	ch.sweepDown = bit.IsSet(3, value)
	ch.sweepStep = bit.ExtractBits(value, 2, 0)

	if !ch.sweepDown && prevSweepDown && ch.sweepOccurred && (ch.sweepPeriod > 0 || ch.sweepStep > 0) {
		// Per Pan Docs: switching sweep from subtract to add
		// after a subtract calc disables CH1 immediately.
		ch.enabled = false
	}
}

// applyEnvelopeWrite centralizes the NRx2 envelope write handling shared by
// CH1/CH2/CH4, including the dead-state transitions of spec.md 4.3.2.
func (a *APU) applyEnvelopeWrite(ch *Channel, value uint8) {
	ch.volume = bit.ExtractBits(value, 7, 4)
	ch.envelopeUp = bit.IsSet(3, value)
	ch.envelopePace = bit.ExtractBits(value, 2, 0)
	ch.dacEnabled = ch.volume > 0 || ch.envelopeUp

	if ch.envelopePace == 0 {
		if ch.volume == 0 {
			ch.envelopeDead = envelopeSaturatedLow
		} else {
			ch.envelopeDead = envelopeSaturatedHigh
		}
	} else {
		ch.envelopeDead = envelopeAlive
	}

	if !ch.dacEnabled {
		ch.enabled = false
	}
}

// writeNR52 handles the global audio enable register, including the
// style-dependent length-register-survival rule of spec.md 4.3.7.
func (a *APU) writeNR52(value uint8) {
	wasEnabled := a.enabled
	a.NR52 = value
	a.enabled = bit.IsSet(7, value)

	if !a.enabled {
		a.NR10, a.NR12, a.NR13, a.NR14 = 0, 0, 0, 0
		a.NR22, a.NR23, a.NR24 = 0, 0, 0
		a.NR30, a.NR32, a.NR33, a.NR34 = 0, 0, 0, 0
		a.NR42, a.NR43, a.NR44 = 0, 0, 0
		a.NR50, a.NR51 = 0, 0

		if a.style != StyleDMG {
			// On DMG the length counters survive a global disable; on
			// GBA (and the teacher's original behavior) they're cleared.
			a.NR11, a.NR21, a.NR31, a.NR41 = 0, 0, 0, 0
			for i := range a.channels {
				a.channels[i].lengthCounter = 0
			}
		}
		for i := range a.channels {
			a.channels[i].enabled = false
		}
	} else if !wasEnabled {
		// Powering back on resets the frame sequencer so the next tick is step 0.
		a.frameCounter = 0
		a.frameCycleAcc = 0
	}
}

func (a *APU) notifyScheduler() {
	if a.scheduler != nil {
		a.scheduler.Notify(1)
	}
}

// handleLengthEnableTransition centralizes the oddities around enabling length
// and triggering channels:
//   - enabling length in the second half of a sequencer period clocks once
//   - triggers reload length from zero before that clock
//   - a trigger after a clocked-to-zero reloads before the forced extra clock
//   - the extra clock also occurs while already enabled when a trigger reloads
//     from zero (the "force" path)
//
// Reference: https://gbdev.io/pandocs/Audio_details.html#obscure-behavior.
func (a *APU) handleLengthEnableTransition(prevEnabled bool, lengthBefore uint16, triggered bool, maxLength uint16, chIdx int) {
	ch := &a.channels[chIdx]
	lengthWasZero := lengthBefore == 0
	clockOnEnable := !prevEnabled && ch.lengthEnable && a.frameCounter%2 == 1 && lengthBefore > 0

	if triggered && (lengthWasZero || (clockOnEnable && lengthBefore == 1)) {
		ch.lengthCounter = maxLength
	}

	if !ch.lengthEnable {
		return
	}

	forceClock := lengthWasZero && triggered && ch.lengthCounter > 0
	if !forceClock && prevEnabled {
		return
	}

	if a.frameCounter%2 == 1 && ch.lengthCounter > 0 {
		ch.lengthCounter--
		if ch.lengthCounter == 0 {
			ch.enabled = false
		}
	}
}

func (a *APU) mapRegistersToState() {
	// NR51 - Sound Panning
	// 7: CH4L | 6: CH3L | 5: CH2L | 4: CH1L | 3: CH4R | 2: CH3R | 1: CH2R | 0: CH1R
	for i := range 4 {
		a.channels[i].right = bit.IsSet(uint8(i), a.NR51)
		a.channels[i].left = bit.IsSet(uint8(i+4), a.NR51)
	}

	// NR50 - Master Volume & VIN Panning
	// 7: VIN L | 6-4: Vol L | 3: VIN R | 2-0: Vol R
	a.vinLeft, a.vinRight = bit.IsSet(7, a.NR50), bit.IsSet(3, a.NR50)
	a.volLeft, a.volRight = bit.ExtractBits(a.NR50, 6, 4), bit.ExtractBits(a.NR50, 2, 0)

	// Channel 1 (Square + Sweep) - NR11, NR13, NR14 (NR10/NR12 handled inline above)

	a.channels[0].duty = bit.ExtractBits(a.NR11, 7, 6)
	a.channels[0].timer = bit.ExtractBits(a.NR11, 5, 0)

	// frequency = 131072/(2048-value) Hz
	a.channels[0].freq = bit.Combine(a.NR14&0b111, a.NR13)

	prevLenEnable := a.channels[0].lengthEnable
	lengthBefore := a.channels[0].lengthCounter
	triggered := bit.IsSet(7, a.NR14)
	a.channels[0].lengthEnable = bit.IsSet(6, a.NR14)
	a.channels[0].trigger = triggered
	if a.channels[0].trigger {
		a.triggerCh1()
		a.NR14 = bit.Reset(7, a.NR14)
		a.channels[0].trigger = false
	}
	a.handleLengthEnableTransition(prevLenEnable, lengthBefore, triggered, 64, 0)

	// Channel 2 (Square) - NR21-NR24

	a.channels[1].duty = bit.ExtractBits(a.NR21, 7, 6)
	a.channels[1].timer = bit.ExtractBits(a.NR21, 5, 0)

	a.channels[1].freq = bit.Combine(a.NR24&0b111, a.NR23)

	prevLenEnable = a.channels[1].lengthEnable
	lengthBefore = a.channels[1].lengthCounter
	triggered = bit.IsSet(7, a.NR24)
	a.channels[1].lengthEnable = bit.IsSet(6, a.NR24)
	a.channels[1].trigger = triggered
	if a.channels[1].trigger {
		ch := &a.channels[1]
		if ch.dacEnabled {
			ch.enabled = true
		}
		ch.envelopeDead = envelopeAlive
		if ch.envelopePace == 0 {
			ch.envelopeCounter = 8
		} else {
			ch.envelopeCounter = ch.envelopePace
		}
		ch.dutyStep = 0
		ch.next = a.squarePeriodCycles(ch)
		a.NR24 = bit.Reset(7, a.NR24)
		ch.trigger = false
	}
	a.handleLengthEnableTransition(prevLenEnable, lengthBefore, triggered, 64, 1)

	// Channel 3 (Wave) - NR30-NR34

	a.channels[2].dacEnabled = bit.IsSet(7, a.NR30)
	a.channels[2].timer = a.NR31
	a.channels[2].volume = bit.ExtractBits(a.NR32, 6, 5)

	// frequency = 65536/(2048-value) Hz (twice as fast as square channels)
	a.channels[2].freq = bit.Combine(a.NR34&0b111, a.NR33)

	prevLenEnable = a.channels[2].lengthEnable
	lengthBefore = a.channels[2].lengthCounter
	triggered = bit.IsSet(7, a.NR34)
	a.channels[2].lengthEnable = bit.IsSet(6, a.NR34)
	a.channels[2].trigger = triggered
	if a.channels[2].trigger {
		ch := &a.channels[2]
		a.corruptWaveRAM(ch)
		if ch.dacEnabled {
			ch.enabled = true
		}
		ch.next = a.wavePeriodCycles(ch)
		ch.window = 0
		ch.waveSample = a.waveRAM[a.waveAddressIndex(0)]
		a.NR34 = bit.Reset(7, a.NR34)
		ch.trigger = false
	}
	a.handleLengthEnableTransition(prevLenEnable, lengthBefore, triggered, 256, 2)

	// Channel 4 (Noise) - NR41-NR44

	a.channels[3].timer = bit.ExtractBits(a.NR41, 5, 0)

	a.channels[3].shift = bit.ExtractBits(a.NR43, 7, 4)
	a.channels[3].use7bitLFSR = bit.IsSet(3, a.NR43)
	a.channels[3].divider = bit.ExtractBits(a.NR43, 2, 0)

	prevLenEnable = a.channels[3].lengthEnable
	lengthBefore = a.channels[3].lengthCounter
	triggered = bit.IsSet(7, a.NR44)
	a.channels[3].lengthEnable = bit.IsSet(6, a.NR44)
	a.channels[3].trigger = triggered
	if a.channels[3].trigger {
		ch := &a.channels[3]
		if ch.dacEnabled {
			ch.enabled = true
		}
		ch.envelopeDead = envelopeAlive
		if ch.envelopePace == 0 {
			ch.envelopeCounter = 8
		} else {
			ch.envelopeCounter = ch.envelopePace
		}
		if ch.use7bitLFSR {
			ch.lfsr = 0x40
		} else {
			ch.lfsr = 0x4000
		}
		ch.next = a.noisePeriodCycles(ch)
		a.NR44 = bit.Reset(7, a.NR44)
		ch.trigger = false
	}
	a.handleLengthEnableTransition(prevLenEnable, lengthBefore, triggered, 64, 3)

	// disable channel immediately if DAC is off
	for i := range a.channels {
		if !a.channels[i].dacEnabled {
			a.channels[i].enabled = false
		}
	}
}

// triggerCh1 applies the NR14 trigger path for channel 1, including the
// sweep unit's initial shadow-frequency load and dummy overflow check.
func (a *APU) triggerCh1() {
	ch := &a.channels[0]
	if ch.dacEnabled {
		ch.enabled = true
	}
	ch.envelopeDead = envelopeAlive
	if ch.envelopePace == 0 {
		ch.envelopeCounter = 8
	} else {
		ch.envelopeCounter = ch.envelopePace
	}
	ch.dutyStep = 0
	ch.next = a.squarePeriodCycles(ch)

	// On trigger, reset sweep timer and shadow frequency
	ch.sweepEnable = ch.sweepPeriod > 0 || ch.sweepStep > 0
	ch.sweepTimer = ch.sweepPeriod
	if ch.sweepTimer == 0 {
		ch.sweepTimer = 8
	}
	ch.realFrequency = ch.freq
	ch.sweepOccurred = false

	// Dummy calculation to immediately disable channel if overflow
	if ch.sweepStep != 0 {
		if _, overflow := ch.calculateSweepFrequency(); overflow {
			ch.enabled = false
		}
	}
}

// GetSamples returns interleaved stereo samples drained from the resampler.
func (a *APU) GetSamples(count int) []int16 {
	return a.resampler.Read(count)
}

// Debug helpers required by Provider.

// ToggleChannel toggles the mute state of a channel.
func (a *APU) ToggleChannel(idx int) {
	if idx < 0 || idx >= 4 {
		return
	}
	a.channels[idx].muted = !a.channels[idx].muted
}

// SoloChannel sets a channel to solo mode (only that channel is heard).
// Calling with the same channel again disables solo.
func (a *APU) SoloChannel(channel int) {
	if channel < 0 || channel >= 4 {
		return
	}

	// if the channel is already soloed, unmute all channels
	alreadySoloed := true
	for i := range a.channels {
		if a.channels[i].muted != (i != channel) {
			alreadySoloed = false
		}
	}
	if alreadySoloed {
		for i := range a.channels {
			a.channels[i].muted = false
		}
		return
	}

	for i := range a.channels {
		a.channels[i].muted = i != channel
	}
}

// SetForceDisable mutes or unmutes a channel from the mixer without
// affecting its internal state, per spec.md's force_disable debug control.
func (a *APU) SetForceDisable(channel int, muted bool) {
	if channel < 0 || channel >= 4 {
		return
	}
	a.channels[channel].muted = muted
}

// SetMasterVolume sets the 0-256 linear post-mix scale.
func (a *APU) SetMasterVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 256 {
		v = 256
	}
	a.masterVolume = v
}

// GetChannelStatus returns the enabled status of each channel.
// This reflects whether the channel is currently producing sound,
// not whether it's muted/soloed for debug purposes.
func (a *APU) GetChannelStatus() (bool, bool, bool, bool) {
	return a.channels[0].enabled, a.channels[1].enabled, a.channels[2].enabled, a.channels[3].enabled
}

// GetChannelVolumes returns the current post-envelope volume per channel.
func (a *APU) GetChannelVolumes() (ch1, ch2, ch3, ch4 uint8) {
	return a.channels[0].volume, a.channels[1].volume, a.channels[2].volume, a.channels[3].volume
}
