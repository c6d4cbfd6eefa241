package realtime

import (
	"github.com/voicelink/voicelink/internal/face"
	"github.com/voicelink/voicelink/internal/transcript"
)

// VoiceStatus is the coarse conversation phase a UI indicator shows
type VoiceStatus string

const (
	// VoiceStatusListening means the session is waiting for speech
	VoiceStatusListening VoiceStatus = "listening"
	// VoiceStatusUserSpeaking means speech is being captured
	VoiceStatusUserSpeaking VoiceStatus = "user_speaking"
	// VoiceStatusProcessing means an utterance ended and a response
	// is pending
	VoiceStatusProcessing VoiceStatus = "processing"
)

// Listener receives manager notifications. Callbacks run on manager
// goroutines and must not block; implementations that fan out to slow
// consumers should buffer internally.
type Listener interface {
	// OnStatusChange fires on every state transition
	OnStatusChange(from, to State)
	// OnVoiceStatus fires as the conversation phase changes: speech
	// detected, utterance ended, response complete
	OnVoiceStatus(status VoiceStatus)
	// OnTranscript fires whenever the transcript buffer changes
	OnTranscript(side transcript.Side, entry transcript.Entry)
	// OnFace fires when the model requests an expression change
	OnFace(decision face.Decision)
	// OnSpectrum fires on each visualization tick with normalized bins
	OnSpectrum(bins []float64)
	// OnError fires for failures that do not surface through a
	// Connect or Disconnect return value
	OnError(err error)
}

// NopListener discards all notifications. Embed it to implement only
// the callbacks of interest.
type NopListener struct{}

func (NopListener) OnStatusChange(from, to State)                             {}
func (NopListener) OnVoiceStatus(status VoiceStatus)                          {}
func (NopListener) OnTranscript(side transcript.Side, entry transcript.Entry) {}
func (NopListener) OnFace(decision face.Decision)                             {}
func (NopListener) OnSpectrum(bins []float64)                                 {}
func (NopListener) OnError(err error)                                         {}
