package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/face"
	"github.com/voicelink/voicelink/internal/realtime"
	"github.com/voicelink/voicelink/internal/relay"
	"github.com/voicelink/voicelink/internal/ws"
	"github.com/voicelink/voicelink/pkg/logger"
)

// maxUploadBytes bounds multipart transcription uploads
const maxUploadBytes = 25 << 20

// Handler contains the HTTP handlers
type Handler struct {
	relay   *relay.Service
	hub     *ws.Hub
	manager *realtime.Manager
	config  *config.Config
	logger  *logger.Logger
}

// NewHandler creates a new API handler. The manager may be nil when
// the server runs relay-only; the client endpoints then return 503.
func NewHandler(relayService *relay.Service, hub *ws.Hub, manager *realtime.Manager, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		relay:   relayService,
		hub:     hub,
		manager: manager,
		config:  config,
		logger:  logger.Named("api-handler"),
	}
}

// respondJSON writes a JSON response with the given status
func (h *Handler) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

// respondError writes a JSON error response
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// clientIdentity derives the rate-limit key for a request. Proxied
// deployments get the original address from X-Forwarded-For.
func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type createSessionRequest struct {
	Variant string `json:"variant"`
}

type createSessionResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession mints an ephemeral realtime credential for the
// browser. Rate-limited clients get a 429 with a retry hint; upstream
// refusals pass their status through.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// An empty body selects the default variant
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	cred, err := h.relay.MintSession(r.Context(), clientIdentity(r), req.Variant)
	if err != nil {
		var rle *relay.RateLimitError
		if errors.As(err, &rle) {
			w.Header().Set("Retry-After", rle.RetryAfter.Round(time.Second).String())
			h.respondError(w, http.StatusTooManyRequests, rle.Error())
			return
		}
		var ce *realtime.CredentialError
		if errors.As(err, &ce) {
			h.respondError(w, ce.Status, "upstream session creation failed")
			return
		}
		h.logger.Error("Session mint failed", logger.Error(err))
		h.respondError(w, http.StatusBadGateway, "session creation failed")
		return
	}

	h.respondJSON(w, http.StatusOK, createSessionResponse{
		Token:     cred.Token,
		SessionID: cred.SessionID,
		Model:     cred.Model,
		ExpiresAt: cred.ExpiresAt,
	})
}

type generateImageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

// GenerateImage produces an image from a text prompt
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req generateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.relay.GenerateImage(r.Context(), req.Prompt, req.Size)
	if err != nil {
		h.logger.Warn("Image generation failed", logger.Error(err))
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

type analyzeImageRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url"`
}

// AnalyzeImage describes an uploaded or linked image
func (h *Handler) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req analyzeImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	description, err := h.relay.AnalyzeImage(r.Context(), req.Prompt, req.ImageURL)
	if err != nil {
		h.logger.Warn("Image analysis failed", logger.Error(err))
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"description": description})
}

// Transcribe runs one-shot transcription on a multipart audio upload
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer file.Close()

	text, err := h.relay.Transcribe(r.Context(), file, r.FormValue("model"))
	if err != nil {
		h.logger.Warn("Transcription failed", logger.Error(err))
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"text": text})
}

type expressionRequest struct {
	Emotion    string  `json:"emotion"`
	Intensity  float64 `json:"intensity"`
	DurationMs int     `json:"duration_ms"`
}

// SetExpression validates an expression request and fans it out to
// all connected clients. Unknown emotions normalize to neutral rather
// than erroring, matching the tool-call path.
func (h *Handler) SetExpression(w http.ResponseWriter, r *http.Request) {
	var req expressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	decision := face.Normalize(face.Decision{
		Emotion:   face.Emotion(req.Emotion),
		Intensity: req.Intensity,
		Duration:  time.Duration(req.DurationMs) * time.Millisecond,
	})
	h.hub.Broadcast(ws.MsgFace, map[string]interface{}{
		"emotion":     decision.Emotion,
		"intensity":   decision.Intensity,
		"duration_ms": decision.Duration.Milliseconds(),
	})
	h.respondJSON(w, http.StatusOK, decision)
}

// HandleWebSocket upgrades to the event stream
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.hub.HandleWebSocket(w, r)
}

// GetHealth returns service diagnostics
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.relay.Health()
	h.respondJSON(w, http.StatusOK, report)
}

// GetConfig returns the client-visible session defaults. The API key
// never leaves the server.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session":  h.config.Session,
		"audio":    h.config.Audio,
		"variants": h.config.Variants,
	})
}
