package realtime

import (
	"fmt"
	"strings"
	"time"
)

// CredentialError indicates the token broker refused to mint an
// ephemeral credential.
type CredentialError struct {
	Status int
	Body   string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("session creation failed: status %d: %s", e.Status, e.Body)
}

// RateLimited reports whether the broker refused due to rate limiting
func (e *CredentialError) RateLimited() bool {
	return e.Status == 429
}

// NegotiationError indicates the SDP exchange with the remote API
// failed.
type NegotiationError struct {
	Status int
	Body   string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("SDP exchange failed: status %d: %s", e.Status, e.Body)
}

// RateLimited reports whether negotiation failed due to rate limiting
func (e *NegotiationError) RateLimited() bool {
	return e.Status == 429
}

// MicrophoneError indicates local audio capture could not be acquired
type MicrophoneError struct {
	Err error
}

func (e *MicrophoneError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *MicrophoneError) Unwrap() error { return e.Err }

// DataChannelError indicates a transport-level failure after connect
type DataChannelError struct {
	Err error
}

func (e *DataChannelError) Error() string {
	return fmt.Sprintf("data channel error: %v", e.Err)
}

func (e *DataChannelError) Unwrap() error { return e.Err }

// ServerError wraps an inbound error event from the remote API
type ServerError struct {
	Type    string
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server error: %s", e.Message)
}

// Transcription failure reason codes surfaced by the remote API
const (
	FailureTooQuiet            = "audio_too_quiet"
	FailureUnclear             = "audio_unclear"
	FailureTooShort            = "audio_too_short"
	FailureUnsupportedLanguage = "unsupported_language"
)

// TranscriptionFailure indicates an utterance could not be
// transcribed. It never corrupts transcript state; the dispatcher
// records a sentinel entry instead.
type TranscriptionFailure struct {
	Reason  string
	Message string
}

func (e *TranscriptionFailure) Error() string {
	return fmt.Sprintf("transcription failed (%s): %s", e.Reason, e.Message)
}

// Guidance returns a user-facing hint for the failure reason
func (e *TranscriptionFailure) Guidance() string {
	switch e.Reason {
	case FailureTooQuiet:
		return "Audio too quiet - try speaking louder or moving closer to the microphone"
	case FailureUnclear:
		return "Audio unclear - try speaking more clearly and reduce background noise"
	case FailureTooShort:
		return "Audio too short - try speaking for a longer duration"
	case FailureUnsupportedLanguage:
		return "Language not supported - please speak in English"
	default:
		return "Transcription failed - try speaking more clearly or check your microphone"
	}
}

// WaitError rejects a connection attempt made before the backoff delay
// has elapsed. No network traffic happens for a rejected attempt.
type WaitError struct {
	Remaining time.Duration
	Failures  int
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("wait %s before reconnecting (consecutive failures: %d)",
		e.Remaining.Round(time.Second), e.Failures)
}

// ErrConnectInProgress rejects a connect while another is in flight
var ErrConnectInProgress = fmt.Errorf("connection attempt already in progress")

// ErrNotConnected rejects operations that need an open data channel
var ErrNotConnected = fmt.Errorf("not connected")

// ErrConnectAborted reports that an in-flight connection attempt was
// abandoned by Disconnect before it completed
var ErrConnectAborted = fmt.Errorf("connection attempt aborted")

// isRateLimitText reports whether an error message or code carries a
// rate-limit signature.
func isRateLimitText(message, code string) bool {
	return strings.Contains(message, "429") ||
		strings.Contains(message, "Too Many Requests") ||
		strings.Contains(strings.ToLower(message), "rate limit") ||
		strings.Contains(code, "rate_limit")
}
