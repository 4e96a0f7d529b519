package audio

type Provider interface {
	// GetSamples retrieves audio samples for playback
	GetSamples(count int) []int16

	// Audio debugging controls

	ToggleChannel(channel int)
	SoloChannel(channel int)
	GetChannelStatus() (ch1, ch2, ch3, ch4 bool)

	// SetForceDisable mutes/unmutes a single channel from the mixer without
	// touching its internal playing state.
	SetForceDisable(channel int, muted bool)

	// SetMasterVolume sets the 0-256 linear post-mix scale.
	SetMasterVolume(v int)
}

var _ Provider = (*APU)(nil)
