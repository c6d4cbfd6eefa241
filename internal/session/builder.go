package session

// TurnDetection is the turn_detection section of a session payload.
// The semantic and server VAD modes carry disjoint parameter sets, so
// every mode-specific field is optional on the wire.
type TurnDetection struct {
	Type              string   `json:"type"`
	Eagerness         string   `json:"eagerness,omitempty"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool     `json:"create_response"`
	InterruptResponse bool     `json:"interrupt_response"`
}

// TranscriptionConfig is the input_audio_transcription section
type TranscriptionConfig struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt,omitempty"`
	Language string `json:"language,omitempty"`
}

// NoiseReductionConfig is the input_audio_noise_reduction section
type NoiseReductionConfig struct {
	Type string `json:"type"`
}

// ConfigPayload is the session object sent in a session.update event.
// The remote protocol distinguishes absent fields from explicit nulls
// or false, so disabled options are omitted entirely.
type ConfigPayload struct {
	Instructions             string                   `json:"instructions,omitempty"`
	Voice                    string                   `json:"voice"`
	Modalities               []string                 `json:"modalities"`
	TurnDetection            *TurnDetection           `json:"turn_detection"`
	InputAudioFormat         string                   `json:"input_audio_format"`
	OutputAudioFormat        string                   `json:"output_audio_format"`
	InputAudioTranscription  *TranscriptionConfig     `json:"input_audio_transcription"`
	InputAudioNoiseReduction *NoiseReductionConfig    `json:"input_audio_noise_reduction,omitempty"`
	Include                  []string                 `json:"include,omitempty"`
	Tools                    []map[string]interface{} `json:"tools,omitempty"`
	ToolChoice               string                   `json:"tool_choice,omitempty"`
	Temperature              float64                  `json:"temperature,omitempty"`
	MaxResponseOutputTokens  int                      `json:"max_response_output_tokens,omitempty"`
}

// BuilderOptions carries the non-user-selectable parts of the payload
type BuilderOptions struct {
	Instructions      string
	Temperature       float64
	MaxResponseTokens int
	Tools             []map[string]interface{}
}

// logprobs inclusion flag understood by the transcription pipeline
const includeLogprobs = "item.input_audio_transcription.logprobs"

// whisperPrompt and gptTranscribePrompt steer the transcription model;
// the wording differs because the two model families respond to
// different prompt registers.
const (
	whisperPrompt       = "This is a clear conversation in English. The speaker is talking naturally through a device microphone. Please transcribe accurately with proper punctuation."
	gptTranscribePrompt = "Transcribe this audio clearly and accurately. The speaker is using a device microphone in a conversational setting. Include proper punctuation and natural speech patterns."
)

// Build converts a settings snapshot into the configuration payload.
// Semantic VAD emits eagerness and no threshold fields; server VAD
// always emits threshold, padding and silence duration, falling back
// to the documented stability defaults when unset.
func Build(s Settings, opts BuilderOptions) ConfigPayload {
	var td *TurnDetection
	if s.VADMode == VADSemantic {
		td = &TurnDetection{
			Type:              VADSemantic,
			Eagerness:         s.VADEagerness,
			CreateResponse:    true,
			InterruptResponse: s.InterruptResponse,
		}
	} else {
		threshold := s.VADThreshold
		if threshold <= 0 {
			threshold = DefaultVADThreshold
		}
		padding := s.PrefixPaddingMs
		if padding <= 0 {
			padding = DefaultPrefixPaddingMs
		}
		silence := s.SilenceDurationMs
		if silence <= 0 {
			silence = DefaultSilenceDurationMs
		}
		td = &TurnDetection{
			Type:              VADServer,
			Threshold:         &threshold,
			PrefixPaddingMs:   &padding,
			SilenceDurationMs: &silence,
			CreateResponse:    true,
			InterruptResponse: s.InterruptResponse,
		}
	}

	payload := ConfigPayload{
		Instructions:      opts.Instructions,
		Voice:             s.Voice,
		Modalities:        []string{"text", "audio"},
		TurnDetection:     td,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &TranscriptionConfig{
			Model:    s.TranscriptionModel,
			Prompt:   transcriptionPrompt(s.TranscriptionModel),
			Language: "en",
		},
		Temperature:             opts.Temperature,
		MaxResponseOutputTokens: opts.MaxResponseTokens,
	}

	// Absent means disabled; never send an explicit "none"
	if s.NoiseReduction != "" && s.NoiseReduction != "none" {
		payload.InputAudioNoiseReduction = &NoiseReductionConfig{Type: s.NoiseReduction}
	}

	if s.IncludeConfidence {
		payload.Include = []string{includeLogprobs}
	}

	if len(opts.Tools) > 0 {
		payload.Tools = opts.Tools
		payload.ToolChoice = "auto"
	}

	return payload
}

func transcriptionPrompt(model string) string {
	if model == "whisper-1" {
		return whisperPrompt
	}
	return gptTranscribePrompt
}
