package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/realtime"
	"github.com/voicelink/voicelink/internal/relay"
	"github.com/voicelink/voicelink/internal/ws"
	"github.com/voicelink/voicelink/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(relayService *relay.Service, hub *ws.Hub, manager *realtime.Manager, config *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(relayService, hub, manager, config, logger),
		middleware: NewMiddleware(logger),
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Ephemeral session minting
		router.Post("/session", r.handler.CreateSession)

		// Auxiliary media endpoints
		router.Post("/images/generate", r.handler.GenerateImage)
		router.Post("/images/analyze", r.handler.AnalyzeImage)
		router.Post("/transcribe", r.handler.Transcribe)

		// Face expression fan-out
		router.Post("/face/expression", r.handler.SetExpression)

		// Embedded headless client
		router.Route("/client", func(router chi.Router) {
			router.Post("/connect", r.handler.ConnectClient)
			router.Post("/disconnect", r.handler.DisconnectClient)
			router.Post("/voice/start", r.handler.StartClientVoice)
			router.Post("/voice/stop", r.handler.StopClientVoice)
			router.Post("/settings", r.handler.UpdateClientSettings)
			router.Get("/status", r.handler.GetClientStatus)
		})

		// WebSocket route
		router.Get("/ws", r.handler.HandleWebSocket)

		// Health check
		router.Get("/health", r.handler.GetHealth)

		// Configuration
		router.Get("/config", r.handler.GetConfig)
	})

	// Serve static files from the configured directory
	staticHandler := NewStaticFileHandler(r.config.Server.StaticFilesDir, r.logger)
	router.Handle("/*", staticHandler)

	return router
}
