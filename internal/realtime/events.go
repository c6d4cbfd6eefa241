package realtime

import "encoding/json"

// Client event types (sent to the server over the data channel)
const (
	EventTypeSessionUpdate = "session.update"
)

// Server event types (received over the data channel)
const (
	EventTypeError = "error"

	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeSpeechStarted   = "input_audio_buffer.speech_started"
	EventTypeSpeechStopped   = "input_audio_buffer.speech_stopped"
	EventTypeBufferCommitted = "input_audio_buffer.committed"

	EventTypeItemCreated         = "conversation.item.created"
	EventTypeTranscriptionDelta  = "conversation.item.input_audio_transcription.delta"
	EventTypeTranscriptionDone   = "conversation.item.input_audio_transcription.completed"
	EventTypeTranscriptionFailed = "conversation.item.input_audio_transcription.failed"

	EventTypeResponseCreated          = "response.created"
	EventTypeResponseDone             = "response.done"
	EventTypeResponseOutputItemAdded  = "response.output_item.added"
	EventTypeResponseContentPartAdded = "response.content_part.added"
	EventTypeResponseAudioDelta       = "response.audio.delta"
	EventTypeResponseAudioDone        = "response.audio.done"
	EventTypeAudioTranscriptDelta     = "response.audio_transcript.delta"
	EventTypeAudioTranscriptDone      = "response.audio_transcript.done"
	EventTypeResponseTextDelta        = "response.text.delta"
	EventTypeResponseTextDone         = "response.text.done"
	EventTypeFunctionCallDelta        = "response.function_call_arguments.delta"
	EventTypeFunctionCallDone         = "response.function_call_arguments.done"

	EventTypeRateLimitsUpdated = "rate_limits.updated"
)

// EventError carries the error descriptor embedded in error and
// transcription-failure events.
type EventError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

// ResponseInfo is the subset of the response resource the dispatcher
// tracks.
type ResponseInfo struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
}

// Logprob is one token's transcription confidence entry
type Logprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// RateLimit is one entry of a rate_limits.updated event
type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// ServerEvent is the tagged union of inbound data-channel messages.
// The type string discriminates; each variant populates only the
// fields relevant to it. Events are transient: consumed once by the
// dispatcher and not retained.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// session.created / session.updated
	Session json.RawMessage `json:"session,omitempty"`

	// error and transcription failure descriptors (both arrive under
	// the "error" key, on different event types)
	Error *EventError `json:"error,omitempty"`

	// transcription and response delta/done payloads
	ItemID     string    `json:"item_id,omitempty"`
	Delta      string    `json:"delta,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Text       string    `json:"text,omitempty"`
	Logprobs   []Logprob `json:"logprobs,omitempty"`

	// response lifecycle
	Response   *ResponseInfo `json:"response,omitempty"`
	ResponseID string        `json:"response_id,omitempty"`

	// function calls
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// rate_limits.updated
	RateLimits []RateLimit `json:"rate_limits,omitempty"`
}

// ParseServerEvent decodes a raw data-channel message
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// clientEvent is the envelope for outbound data-channel messages
type clientEvent struct {
	Type    string      `json:"type"`
	Session interface{} `json:"session,omitempty"`
}

func marshalClientEvent(eventType string, sessionPayload interface{}) ([]byte, error) {
	return json.Marshal(clientEvent{Type: eventType, Session: sessionPayload})
}
