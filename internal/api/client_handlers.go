package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voicelink/voicelink/internal/realtime"
	"github.com/voicelink/voicelink/internal/session"
	"github.com/voicelink/voicelink/internal/transcript"
	"github.com/voicelink/voicelink/pkg/logger"
)

// Handlers for the embedded headless client. They drive the
// connection manager; transcript updates, face decisions, and
// spectrum samples flow back over the WebSocket fan-out.

func (h *Handler) requireManager(w http.ResponseWriter) bool {
	if h.manager == nil {
		h.respondError(w, http.StatusServiceUnavailable, "client manager not enabled")
		return false
	}
	return true
}

// ConnectClient starts a connection attempt
func (h *Handler) ConnectClient(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w) {
		return
	}
	err := h.manager.Connect(r.Context())
	if err != nil {
		var wait *realtime.WaitError
		if errors.As(err, &wait) {
			h.respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":       err.Error(),
				"retry_in_ms": wait.Remaining.Milliseconds(),
				"failures":    wait.Failures,
			})
			return
		}
		if errors.Is(err, realtime.ErrConnectInProgress) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Warn("Client connect failed", logger.Error(err))
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"state": h.manager.State().String()})
}

// DisconnectClient tears the session down
func (h *Handler) DisconnectClient(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w) {
		return
	}
	if err := h.manager.Disconnect(); err != nil {
		h.logger.Warn("Client disconnect failed", logger.Error(err))
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"state": h.manager.State().String()})
}

// StartClientVoice begins streaming local audio
func (h *Handler) StartClientVoice(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w) {
		return
	}
	if err := h.manager.StartVoice(r.Context()); err != nil {
		var micErr *realtime.MicrophoneError
		if errors.As(err, &micErr) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"state": h.manager.State().String()})
}

// StopClientVoice stops local audio, keeping the session up
func (h *Handler) StopClientVoice(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w) {
		return
	}
	h.manager.StopVoice()
	h.respondJSON(w, http.StatusOK, map[string]string{"state": h.manager.State().String()})
}

// UpdateClientSettings replaces the settings snapshot, re-sending the
// session configuration when connected.
func (h *Handler) UpdateClientSettings(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w) {
		return
	}
	var s session.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid settings body")
		return
	}
	if err := h.manager.UpdateSettings(s); err != nil {
		h.logger.Warn("Settings update failed", logger.Error(err))
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, s)
}

// GetClientStatus reports the state machine and transcripts
func (h *Handler) GetClientStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireManager(w) {
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":              h.manager.State().String(),
		"next_attempt_in_ms": h.manager.NextAttemptIn().Milliseconds(),
		"settings":           h.manager.Settings(),
		"user_transcript":    h.manager.Transcripts(transcript.SideUser),
		"ai_transcript":      h.manager.Transcripts(transcript.SideAssistant),
	})
}
