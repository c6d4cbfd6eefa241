package realtime

import (
	"math"

	"github.com/voicelink/voicelink/internal/face"
	"github.com/voicelink/voicelink/internal/transcript"
	"github.com/voicelink/voicelink/pkg/logger"
)

// sessionTools returns the function tools declared on every session
func sessionTools() []map[string]interface{} {
	return []map[string]interface{}{face.ToolDeclaration()}
}

// handleMessage parses one inbound event and dispatches it under the
// manager mutex, preserving arrival order.
func (m *Manager) handleMessage(c *conn, data []byte) {
	ev, err := ParseServerEvent(data)
	if err != nil {
		m.log.Warn("Unparseable server event", logger.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != c {
		return
	}
	m.dispatchLocked(c, ev)
}

// dispatchLocked routes one server event. Unknown types are logged
// and ignored so protocol additions never break the session.
func (m *Manager) dispatchLocked(c *conn, ev *ServerEvent) {
	switch ev.Type {

	case EventTypeSessionCreated:
		m.log.Info("Session created", logger.String("event_id", ev.EventID))

	case EventTypeSessionUpdated:
		m.log.Debug("Session configuration acknowledged")

	case EventTypeSpeechStarted:
		entry := c.user.OpenLive("")
		m.listener.OnTranscript(transcript.SideUser, entry)
		m.listener.OnVoiceStatus(VoiceStatusUserSpeaking)
		m.log.Debug("Speech started")

	case EventTypeSpeechStopped:
		m.listener.OnVoiceStatus(VoiceStatusProcessing)
		m.log.Debug("Speech stopped")

	case EventTypeTranscriptionDelta:
		if ev.Delta == "" {
			return
		}
		entry := c.user.AppendDelta(ev.Delta)
		m.listener.OnTranscript(transcript.SideUser, entry)

	case EventTypeTranscriptionDone:
		var entry transcript.Entry
		if c.settings.IncludeConfidence && len(ev.Logprobs) > 0 {
			entry = c.user.FinalizeScored(ev.Transcript, meanConfidence(ev.Logprobs))
		} else {
			entry = c.user.Finalize(ev.Transcript)
		}
		m.listener.OnTranscript(transcript.SideUser, entry)

	case EventTypeTranscriptionFailed:
		m.handleTranscriptionFailure(c, ev)

	case EventTypeResponseCreated:
		if ev.Response != nil {
			c.responseID = ev.Response.ID
		}
		entry := c.assistant.OpenLive("")
		m.listener.OnTranscript(transcript.SideAssistant, entry)

	case EventTypeAudioTranscriptDelta, EventTypeResponseTextDelta:
		if ev.Delta == "" {
			return
		}
		entry := c.assistant.AppendDelta(ev.Delta)
		m.listener.OnTranscript(transcript.SideAssistant, entry)

	case EventTypeAudioTranscriptDone:
		entry := c.assistant.Finalize(ev.Transcript)
		m.listener.OnTranscript(transcript.SideAssistant, entry)

	case EventTypeResponseTextDone:
		entry := c.assistant.Finalize(ev.Text)
		m.listener.OnTranscript(transcript.SideAssistant, entry)

	case EventTypeResponseDone:
		c.responseID = ""
		// A response can end without a *.done for its transcript;
		// whatever accumulated becomes final.
		if live, ok := c.assistant.Live(); ok {
			entry := c.assistant.Finalize(live.Text)
			m.listener.OnTranscript(transcript.SideAssistant, entry)
		}
		m.listener.OnVoiceStatus(VoiceStatusListening)
		m.log.Debug("Response complete")

	case EventTypeFunctionCallDone:
		m.handleFunctionCall(ev)

	case EventTypeRateLimitsUpdated:
		for _, rl := range ev.RateLimits {
			m.log.Debug("Rate limit updated",
				logger.String("name", rl.Name),
				logger.Int("remaining", rl.Remaining),
				logger.Float64("reset_secs", rl.ResetSeconds))
		}

	case EventTypeError:
		m.handleServerError(ev)

	case EventTypeItemCreated, EventTypeBufferCommitted,
		EventTypeResponseOutputItemAdded, EventTypeResponseContentPartAdded,
		EventTypeResponseAudioDelta, EventTypeResponseAudioDone,
		EventTypeFunctionCallDelta:
		// Acknowledged but not acted on; audio arrives via the media
		// track, not these events.

	default:
		m.log.Debug("Ignoring unknown event type", logger.String("type", ev.Type))
	}
}

// handleTranscriptionFailure records a sentinel entry for the failed
// utterance. Prior entries are never touched. A rate-limited failure
// additionally escalates the sticky delay and schedules a disconnect
// so the next attempt waits the penalty out.
func (m *Manager) handleTranscriptionFailure(c *conn, ev *ServerEvent) {
	var code, message string
	if ev.Error != nil {
		code = ev.Error.Code
		message = ev.Error.Message
	}

	if isRateLimitText(message, code) {
		m.log.Warn("Transcription rate limited, disconnecting",
			logger.String("message", message))
		m.backoff.escalate()
		entry := c.user.Fail("Rate limited - disconnecting, retry shortly")
		m.listener.OnTranscript(transcript.SideUser, entry)
		m.listener.OnError(&TranscriptionFailure{Reason: "rate_limited", Message: message})
		m.scheduleRateLimitDisconnect()
		return
	}

	failure := &TranscriptionFailure{Reason: code, Message: message}
	entry := c.user.Fail(failure.Guidance())
	m.listener.OnTranscript(transcript.SideUser, entry)
	m.listener.OnError(failure)
	m.log.Debug("Transcription failed",
		logger.String("reason", code),
		logger.String("message", message))
}

// handleFunctionCall routes completed tool calls. Only the expression
// tool is known; anything else is logged and dropped.
func (m *Manager) handleFunctionCall(ev *ServerEvent) {
	if ev.Name != face.ToolName {
		m.log.Debug("Ignoring unknown tool call", logger.String("name", ev.Name))
		return
	}
	decision, err := face.DecisionFromToolCall(ev.Name, ev.Arguments)
	if err != nil {
		m.log.Warn("Bad expression tool call", logger.Error(err))
		return
	}
	m.listener.OnFace(decision)
}

// handleServerError surfaces an inbound error event. Rate-limit
// signatures in the message or code escalate the sticky delay and
// force a disconnect; the server will keep erroring until we back off.
func (m *Manager) handleServerError(ev *ServerEvent) {
	serr := &ServerError{}
	if ev.Error != nil {
		serr.Type = ev.Error.Type
		serr.Code = ev.Error.Code
		serr.Message = ev.Error.Message
	}
	m.log.Warn("Server error",
		logger.String("code", serr.Code),
		logger.String("message", serr.Message))
	m.listener.OnError(serr)

	if isRateLimitText(serr.Message, serr.Code) {
		m.backoff.escalate()
		m.scheduleRateLimitDisconnect()
	}
}

// meanConfidence converts token logprobs to an average probability
func meanConfidence(logprobs []Logprob) float64 {
	if len(logprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range logprobs {
		sum += math.Exp(lp.Logprob)
	}
	return sum / float64(len(logprobs))
}
