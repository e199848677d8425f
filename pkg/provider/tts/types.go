package tts

// VoiceProfile describes how a prompt should be voiced.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. Empty selects the device
	// default voice.
	ID string

	// Language is the BCP-47 language tag (e.g., "en-US").
	Language string

	// Pitch adjusts pitch (0.5–2.0, 1.0 = default). Zero means default.
	Pitch float64

	// Rate adjusts speaking rate (0.5–2.0, 1.0 = default). Zero means default.
	Rate float64
}
