package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valerio/go-jeebie/jeebie/addr"
	"github.com/valerio/go-jeebie/jeebie/sched"
)

func TestAPUPowerControl(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	apu.WriteRegister(addr.NR10, 0x12)
	apu.WriteRegister(addr.NR11, 0x34)
	// NR10 bit7 reads as 1; NR11 lower 6 read as 1s
	assert.Equal(t, uint8((0x12&0x7F)|0x80), apu.ReadRegister(addr.NR10))
	assert.Equal(t, uint8((0x34&0xC0)|0x3F), apu.ReadRegister(addr.NR11))

	apu.WriteRegister(addr.NR52, 0x00)

	// When powered off, reads still apply masks: NR10 storage is cleared,
	// while on DMG NR11 keeps its value, whose readable bits are all masked
	assert.Equal(t, uint8(0x80), apu.ReadRegister(addr.NR10))
	assert.Equal(t, uint8(0x3F), apu.ReadRegister(addr.NR11))

	assert.Equal(t, uint8(0x70), apu.ReadRegister(addr.NR52))
}

func TestFrameSequencerTiming(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	initialFrame := apu.frameCounter

	apu.Tick(8191)
	assert.Equal(t, initialFrame, apu.frameCounter, "Frame counter should not advance before 8192 cycles")

	apu.Tick(1)
	expectedFrame := (initialFrame + 1) & 7
	assert.Equal(t, expectedFrame, apu.frameCounter, "Frame counter should advance after 8192 cycles")

	for i := 0; i < 7; i++ {
		apu.Tick(8192)
	}
	assert.Equal(t, initialFrame, apu.frameCounter, "Frame counter should wrap around after 8 steps")
}

func TestBasicSampleGeneration(t *testing.T) {
	apu := New()

	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR51, 0xFF)
	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR11, 0x80)
	apu.WriteRegister(addr.NR13, 0x00)
	apu.WriteRegister(addr.NR14, 0x87)

	for i := 0; i < 400; i++ {
		apu.Tick(95)
	}

	samples := apu.GetSamples(100)

	hasNonZero := false
	for _, sample := range samples {
		if sample != 0 {
			hasNonZero = true
			break
		}
	}
	assert.True(t, hasNonZero, "Should generate non-zero samples when channel is active")
}

func TestRegisterMasking(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	apu.WriteRegister(addr.NR10, 0xFF)
	assert.Equal(t, uint8(0xFF), apu.ReadRegister(addr.NR10))

	apu.WriteRegister(addr.NR52, 0xFF)
	status := apu.ReadRegister(addr.NR52)
	assert.Equal(t, uint8(0xF0), status&0xF0, "Upper bits should be readable")
	assert.Equal(t, uint8(0x70), status&0x70, "Unused bits should always read as 1")
}

func TestWaveRAMAccess(t *testing.T) {
	apu := New()

	testPattern := []uint8{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}

	for i, val := range testPattern {
		apu.WriteRegister(addr.WaveRAMStart+uint16(i), val)
	}

	for i, val := range testPattern {
		read := apu.ReadRegister(addr.WaveRAMStart + uint16(i))
		assert.Equal(t, val, read, "Wave RAM should store and return values correctly")
	}
}

func TestAPU_WritesIgnoredWhenPoweredOff(t *testing.T) {
	apu := New()

	// Power off
	apu.WriteRegister(addr.NR52, 0x00)

	// Writes to other registers should be ignored while off
	apu.WriteRegister(addr.NR11, 0xFF)
	// NR11 lower 6 read as 1s even when underlying is 0; expect masked readback
	assert.Equal(t, uint8(0x3F), apu.ReadRegister(addr.NR11), "Writes should be ignored when APU is powered off")
}

func TestWaveRAM_UnaffectedByPowerToggle(t *testing.T) {
	apu := New()

	// Write a known pattern into wave RAM (encode both nibbles by writing even+odd)
	pattern := []uint8{0x12, 0x23, 0x34, 0x45, 0x56, 0x67, 0x78, 0x89}
	for i, v := range pattern {
		apu.WriteRegister(addr.WaveRAMStart+uint16(i), v)
	}

	// Power off
	apu.WriteRegister(addr.NR52, 0x00)

	// Verify wave RAM bytes are unchanged
	for i, v := range pattern {
		got := apu.ReadRegister(addr.WaveRAMStart + uint16(i))
		assert.Equal(t, v, got, "Wave RAM must be unaffected by power off")
	}
}

func TestNR52_ChannelBitsSetOnlyOnTrigger(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80) // power on

	// CH1: enable DAC via NR12, but do NOT trigger
	apu.WriteRegister(addr.NR12, 0xF0)
	status := apu.ReadRegister(addr.NR52)
	assert.Equal(t, uint8(0), status&0x01, "CH1 status must remain off until trigger")

	// CH3: enable DAC via NR30, but do NOT trigger
	apu.WriteRegister(addr.NR30, 0x80)
	status = apu.ReadRegister(addr.NR52)
	assert.Equal(t, uint8(0), status&0x04, "CH3 status must remain off until trigger")
}

func TestNR52_StatusBitsMatchChannelEnabled(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR14, 0x80) // trigger ch1

	apu.WriteRegister(addr.NR30, 0x80)
	apu.WriteRegister(addr.NR32, 0b00100000)
	apu.WriteRegister(addr.NR34, 0x80) // trigger ch3

	status := apu.ReadRegister(addr.NR52)
	ch1, ch2, ch3, ch4 := apu.GetChannelStatus()

	var expected uint8
	if ch1 {
		expected |= 1
	}
	if ch2 {
		expected |= 2
	}
	if ch3 {
		expected |= 4
	}
	if ch4 {
		expected |= 8
	}
	assert.Equal(t, expected, status&0x0F)
}

func TestChannel1_SweepUpdatesFrequency(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	// Sweep: period=1, increase, shift=1
	apu.WriteRegister(addr.NR10, 0b00010001)

	// Set base frequency and trigger
	apu.WriteRegister(addr.NR13, 0x10)
	apu.WriteRegister(addr.NR14, 0x80)
	before := apu.channels[0].freq

	// Advance past a sweep tick (frame step 2)
	for i := 0; i < 4; i++ {
		apu.Tick(8192)
	}
	after := apu.channels[0].freq
	assert.NotEqual(t, before, after, "Sweep should update CH1 frequency at 128 Hz steps")
}

func TestChannel1_SweepDoubleCheckDisablesChannel(t *testing.T) {
	// Scenario: NR10=0x77, NR12=0xF0, NR13=0x00, NR14=0x87 (trigger, length
	// disabled so only the sweep can stop the channel). With shift=7,
	// direction=up, time=7, the frequency climbs from 0x700 by freq>>7 per
	// sweep step and the double-check overflow disables playback on the 17th
	// sweep calculation, about 476 frame-sequencer steps in.
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR10, 0x77)
	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR13, 0x00)
	apu.WriteRegister(addr.NR14, 0x87)

	for i := 0; i < 600; i++ {
		apu.Tick(8192)
		if !apu.channels[0].enabled {
			break
		}
	}

	assert.False(t, apu.channels[0].enabled, "CH1 must disable via sweep overflow double-check")
	status := apu.ReadRegister(addr.NR52)
	assert.Equal(t, uint8(0), status&0x01)
}

func TestChannel1_SweepDirectionFlipAfterOccurredDisables(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)
	// time=2, direction=down, shift=1
	apu.WriteRegister(addr.NR10, 0b0010_1001)
	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR13, 0x00)
	apu.WriteRegister(addr.NR14, 0x80)

	// let a sweep tick actually fire (sweep period=2, so it takes two
	// visits to frame steps 2/6 before the timer reaches zero)
	apu.Tick(8192 * 8)
	assert.True(t, apu.channels[0].sweepOccurred)

	// flip direction from down to up while keeping shift/time non-zero
	apu.WriteRegister(addr.NR10, 0b0010_0001)
	assert.False(t, apu.channels[0].enabled, "flipping sweep direction after an occurred sweep must disable CH1")
}

func TestEnvelope_ClampsAndGoesDeadAtSaturation(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)
	// initial volume 1, direction down, pace 1 -> should reach 0 and go dead quickly
	apu.WriteRegister(addr.NR12, 0b0001_0001)
	apu.WriteRegister(addr.NR14, 0x80)

	for i := 0; i < 16; i++ {
		apu.Tick(8192)
	}

	assert.Equal(t, uint8(0), apu.channels[0].volume)
	assert.Equal(t, envelopeSaturatedLow, apu.channels[0].envelopeDead)

	volBefore := apu.channels[0].volume
	for i := 0; i < 8; i++ {
		apu.Tick(8192)
	}
	assert.Equal(t, volBefore, apu.channels[0].volume, "no further envelope ticks once dead")
}

func TestEnvelope_WriteWithZeroStepTimeKillsOrSaturates(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	// pace=0, volume=0 -> dead=saturatedLow (kill)
	apu.WriteRegister(addr.NR12, 0x00)
	assert.Equal(t, envelopeSaturatedLow, apu.channels[0].envelopeDead)

	// pace=0, volume>0 -> dead=saturatedHigh (saturate)
	apu.WriteRegister(addr.NR12, 0xF0)
	assert.Equal(t, envelopeSaturatedHigh, apu.channels[0].envelopeDead)
}

func TestNoise_LFSRPeriodMatchesWidth(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR42, 0xF0) // max volume
	apu.WriteRegister(addr.NR43, 0x00) // shift=0, divider=0 -> shortest period
	apu.WriteRegister(addr.NR44, 0x80) // trigger, 15-bit LFSR

	seen := map[uint16]bool{0x4000: true}
	lfsr := apu.channels[3].lfsr
	count := 0
	for count < 40000 {
		apu.Tick(8)
		lfsr = apu.channels[3].lfsr
		count++
		if seen[lfsr] {
			break
		}
		seen[lfsr] = true
	}
	assert.Equal(t, 32767, len(seen))
}

func TestWave_TriggerResetsWindowToZero(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	// DAC on, 100% volume
	apu.WriteRegister(addr.NR30, 0x80)
	apu.WriteRegister(addr.NR32, 0b00100000)

	// Minimal non-zero frequency
	apu.WriteRegister(addr.NR33, 0x01)
	apu.WriteRegister(addr.NR34, 0x80) // trigger

	assert.Equal(t, uint8(0), apu.channels[2].window, "CH3 should start at window 0 immediately after trigger")
}

func TestWave_FirstSampleIsLowerNibble(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	// First wave byte = 0x12 (hi=1, lo=2); write both nibbles
	apu.WriteRegister(addr.WaveRAMStart, 0x12)
	apu.WriteRegister(addr.WaveRAMStart+1, 0x12)

	// 100% volume
	apu.WriteRegister(addr.NR32, 0b00100000)
	apu.WriteRegister(addr.NR30, 0x80) // DAC on

	// Minimal non-zero frequency and trigger
	apu.WriteRegister(addr.NR33, 0x01)
	apu.WriteRegister(addr.NR34, 0x80)

	// Advance one wave-step: window should move from 0 to 1, reading the
	// low nibble (2) of byte 0 next.
	period := apu.wavePeriodCycles(&apu.channels[2])
	apu.Tick(period)
	assert.Equal(t, uint8(1), apu.channels[2].window)
}

func TestWaveRAM_DMGCorruptionOnRetrigger(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	for i := uint16(0); i < 16; i++ {
		apu.WriteRegister(addr.WaveRAMStart+i, uint8(i))
	}

	apu.WriteRegister(addr.NR30, 0x80)
	apu.WriteRegister(addr.NR32, 0b00100000)
	apu.WriteRegister(addr.NR33, 0x00)
	apu.WriteRegister(addr.NR34, 0x87) // trigger

	// advance one wave-step so window=1 and the channel is "readable"
	period := apu.wavePeriodCycles(&apu.channels[2])
	apu.Tick(period)
	assert.Equal(t, uint8(1), apu.channels[2].window)

	// re-trigger: window(1) < 8, so byte 0 is overwritten with byte
	// window>>1 = 0 (identity in this case, since byte 0 already holds 0).
	apu.WriteRegister(addr.NR34, 0x80)
	assert.Equal(t, uint8(0), apu.waveRAM[0])

	// rewrite the pattern (while CH3 plays each write lands in the current
	// byte, so bytes 4-7 keep 4-7 from the first load) and retrigger with
	// window>=8
	for i := uint16(0); i < 16; i++ {
		apu.WriteRegister(addr.WaveRAMStart+i, uint8(i))
	}
	apu.channels[2].window = 9
	apu.channels[2].readable = true
	apu.WriteRegister(addr.NR34, 0x80)
	assert.Equal(t, []uint8{4, 5, 6, 7}, apu.waveRAM[0:4])
}

func TestPanningAndMasterVolume_AffectStereoOutput(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	// Enable CH1 with constant volume and trigger
	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR11, 0x80)
	apu.WriteRegister(addr.NR13, 0x00)
	apu.WriteRegister(addr.NR14, 0x80)

	// Route CH1 to left only; set non-zero master volumes
	apu.WriteRegister(addr.NR51, 0b00010000)
	apu.WriteRegister(addr.NR50, 0b01110111)

	frames := 200
	for i := 0; i < frames; i++ {
		apu.Tick(95)
	}
	samples := apu.GetSamples(frames)

	leftNonZero := false
	rightAllZero := true
	for i := 0; i+1 < len(samples); i += 2 {
		if samples[i] != 0 {
			leftNonZero = true
		}
		if samples[i+1] != 0 {
			rightAllZero = false
			break
		}
	}
	assert.True(t, leftNonZero && rightAllZero, "NR51/NR50 should route sound to left only with right silent")
}

func TestSetMasterVolume_ScalesOutputDown(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR11, 0x80)
	apu.WriteRegister(addr.NR14, 0x80)
	apu.WriteRegister(addr.NR51, 0xFF)
	apu.WriteRegister(addr.NR50, 0x77)

	apu.SetMasterVolume(0)
	for i := 0; i < 200; i++ {
		apu.Tick(95)
	}
	samples := apu.GetSamples(200)
	for _, s := range samples {
		assert.Equal(t, int16(0), s, "master_volume=0 must silence all output")
	}
}

func TestSetForceDisable_MutesChannelWithoutClearingState(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR14, 0x80)

	apu.SetForceDisable(0, true)
	assert.True(t, apu.channels[0].enabled, "force_disable must not change playing state")
	assert.True(t, apu.channels[0].muted)
}

func TestWaveRAM_WriteRedirectWhenActive(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80) // power on

	// Set CH3 DAC on and trigger to mark active
	apu.WriteRegister(addr.NR30, 0x80)
	apu.WriteRegister(addr.NR32, 0b00100000) // full volume
	apu.WriteRegister(addr.NR33, 0x20)
	apu.WriteRegister(addr.NR34, 0x80) // trigger

	// Force current byte index to 5 for deterministic test
	apu.ch3CurrentByteIndex = 5

	// Write to an address that maps to a different index (index 4)
	targetAddr := addr.WaveRAMStart + 4
	apu.WriteRegister(targetAddr, 0xA0)
	// Since active: write should have affected current byte (index 5) regardless of addressed offset
	got := apu.ReadRegister(addr.WaveRAMStart + 5)
	assert.Equal(t, uint8(0xA0), got)
}

func TestWriteOnlyRegisters_ReadAsFF(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	apu.WriteRegister(addr.NR13, 0x12)
	apu.WriteRegister(addr.NR23, 0x34)
	apu.WriteRegister(addr.NR33, 0x56)

	assert.Equal(t, uint8(0xFF), apu.ReadRegister(addr.NR13))
	assert.Equal(t, uint8(0xFF), apu.ReadRegister(addr.NR23))
	assert.Equal(t, uint8(0xFF), apu.ReadRegister(addr.NR33))
}

func TestLengthReloadOnNR11Write(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	// Trigger CH1 so it is active
	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR14, 0x80)

	// Write length to NR11 and ensure counter reloads immediately
	apu.WriteRegister(addr.NR11, 0x80|0x01) // duty=2, length=1 -> counter=63
	assert.Equal(t, uint16(63), apu.channels[0].lengthCounter)

	apu.WriteRegister(addr.NR11, 0x80|0x00) // length=0 -> 64
	assert.Equal(t, uint16(64), apu.channels[0].lengthCounter)
}

func TestDACDisableTurnsChannelOffImmediately(t *testing.T) {
	apu := New()
	apu.WriteRegister(addr.NR52, 0x80)

	// CH1: enable and trigger
	apu.WriteRegister(addr.NR12, 0xF0)
	apu.WriteRegister(addr.NR14, 0x80)
	assert.True(t, apu.channels[0].enabled)
	// Disable DAC -> channel should turn off
	apu.WriteRegister(addr.NR12, 0x00)
	assert.False(t, apu.channels[0].enabled)

	// CH3: enable DAC and trigger
	apu.WriteRegister(addr.NR30, 0x80)
	apu.WriteRegister(addr.NR34, 0x80)
	assert.True(t, apu.channels[2].enabled)
	// Disable DAC -> channel off
	apu.WriteRegister(addr.NR30, 0x00)
	assert.False(t, apu.channels[2].enabled)
}

func TestNR52_DMGStyleSurvivesLengthCountersOnGlobalDisable(t *testing.T) {
	apu := New(WithStyle(StyleDMG))
	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR11, 0x01) // length = 63

	apu.WriteRegister(addr.NR52, 0x00) // global disable

	assert.Equal(t, uint16(63), apu.channels[0].lengthCounter, "DMG length counters survive a global audio disable")
}

func TestNR52_GBAStyleClearsLengthCountersOnGlobalDisable(t *testing.T) {
	apu := New(WithStyle(StyleGBA))
	apu.WriteRegister(addr.NR52, 0x80)
	apu.WriteRegister(addr.NR11, 0x01)

	apu.WriteRegister(addr.NR52, 0x00)

	assert.Equal(t, uint16(0), apu.channels[0].lengthCounter)
}

func TestProcessEvents_ReturnsNeverWhenPoweredOff(t *testing.T) {
	apu := New()
	next := apu.ProcessEvents(100)
	assert.Equal(t, sched.Never, next)
}
