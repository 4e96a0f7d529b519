package audio

// Timing constants
// Reference: https://gbdev.io/pandocs/Audio_details.html
const (
	// cyclesPerStep is the number of CPU cycles per frame sequencer tick.
	// The frame sequencer runs at 512 Hz: 4194304 Hz / 512 Hz = 8192 t-cycles
	cyclesPerStep = 8192

	// defaultSampleInterval is the resampler's default stored sample
	// interval in CPU cycles (4194304 Hz / 128 = 32768 Hz). The mixer does
	// not pace itself by it: it submits one sample per ProcessEvents call.
	defaultSampleInterval = 128

	// resamplerFrameCycles is the CPU-cycle length of one resampler frame;
	// EndFrame is called whenever the submission clock crosses this.
	resamplerFrameCycles = 4096

	// ch3FadeCycles is the width of the post-read window during which CH3's
	// wave RAM is still considered "readable" for corruption purposes.
	// Source comment upstream notes uncertainty about this exact value;
	// kept at the spec's literal figure rather than guessed at.
	ch3FadeCycles = 2
)

// Channel constants
const (
	// waveRAMBankSize is one 16-byte bank of wave pattern RAM (32 nibbles).
	waveRAMBankSize = 16

	// waveRAMSize is the full internal wave RAM store: one bank on DMG,
	// two banks on GBA (the CPU-visible window is always 16 bytes; GBA
	// switches which underlying bank that window maps to).
	waveRAMSize = waveRAMBankSize * 2
)

// Style tags the console flavor an APU instance emulates. Wave-channel
// addressing and the NR52 global-disable reset behave slightly differently
// between them; modeled as a tagged field switched on at the relevant call
// sites rather than as separate implementing types.
type Style uint8

const (
	StyleDMG Style = iota
	StyleGBA
)

func (s Style) String() string {
	if s == StyleGBA {
		return "gba"
	}
	return "dmg"
}

// envelopeState mirrors spec.md's envelope `dead` field: once an envelope
// saturates in either direction it stops ticking until the channel restarts.
type envelopeState uint8

const (
	envelopeAlive envelopeState = iota
	envelopeSaturatedHigh
	envelopeSaturatedLow
)
