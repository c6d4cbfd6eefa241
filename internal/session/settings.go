package session

import "github.com/voicelink/voicelink/internal/config"

// VAD modes for turn detection
const (
	VADSemantic = "semantic_vad"
	VADServer   = "server_vad"
)

// Voice options for audio output
const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceBallad  = "ballad"
	VoiceCoral   = "coral"
	VoiceEcho    = "echo"
	VoiceSage    = "sage"
	VoiceShimmer = "shimmer"
	VoiceVerse   = "verse"
)

// Server VAD stability defaults, applied when the caller does not
// override them.
const (
	DefaultVADThreshold      = 0.5
	DefaultPrefixPaddingMs   = 300
	DefaultSilenceDurationMs = 500
)

// Settings is an immutable snapshot of user-selected session options.
// It is converted to a configuration payload by Build and re-sent
// idempotently whenever the user changes anything while connected.
type Settings struct {
	Voice              string  `json:"voice"`
	VADMode            string  `json:"vad_mode"`
	VADEagerness       string  `json:"vad_eagerness"`
	VADThreshold       float64 `json:"vad_threshold"`
	PrefixPaddingMs    int     `json:"prefix_padding_ms"`
	SilenceDurationMs  int     `json:"silence_duration_ms"`
	TranscriptionModel string  `json:"transcription_model"`
	NoiseReduction     string  `json:"noise_reduction"`
	InterruptResponse  bool    `json:"interrupt_response"`
	IncludeConfidence  bool    `json:"include_confidence"`
}

// SettingsFromConfig builds the initial settings snapshot from the
// configured defaults.
func SettingsFromConfig(cfg config.SessionConfig) Settings {
	return Settings{
		Voice:              cfg.Voice,
		VADMode:            cfg.VADMode,
		VADEagerness:       cfg.VADEagerness,
		VADThreshold:       cfg.VADThreshold,
		PrefixPaddingMs:    cfg.PrefixPaddingMs,
		SilenceDurationMs:  cfg.SilenceDurationMs,
		TranscriptionModel: cfg.TranscriptionModel,
		NoiseReduction:     cfg.NoiseReduction,
		InterruptResponse:  cfg.InterruptResponse,
		IncludeConfidence:  cfg.IncludeConfidence,
	}
}
