package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicelink/voicelink/internal/api"
	"github.com/voicelink/voicelink/internal/audio"
	"github.com/voicelink/voicelink/internal/broker"
	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/realtime"
	"github.com/voicelink/voicelink/internal/relay"
	"github.com/voicelink/voicelink/internal/ws"
	"github.com/voicelink/voicelink/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting voicelink",
		logger.String("addr", cfg.Server.Addr()),
		logger.String("model", cfg.Session.Model))

	if cfg.OpenAI.APIKey == "" {
		log.Warn("No API key configured; upstream calls will fail")
	}

	hub := ws.NewHub(log)
	brokerClient := broker.NewClient(cfg.OpenAI, cfg.Session.Model, log)
	relayService := relay.NewService(cfg, brokerClient, log)

	// The embedded headless client shares the broker and fans its
	// notifications out over the hub. Voice input comes from the
	// configured WAV file when one is set.
	var acquirer audio.Acquirer = &audio.FileAcquirer{
		Path: cfg.Audio.InputFile,
		Spec: audio.CaptureSpec{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        1,
			FrameDurationMs: cfg.Audio.FrameDurationMs,
		},
	}
	factory := realtime.NewWebRTCTransportFactory(nil, log)
	manager := realtime.NewManager(cfg, brokerClient, factory, acquirer, ws.NewBridge(hub), log)

	router := api.NewRouter(relayService, hub, manager, cfg, log)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("HTTP server failed", logger.Error(err))
	case sig := <-sigCh:
		log.Info("Shutting down", logger.String("signal", sig.String()))
	}

	if err := manager.Disconnect(); err != nil {
		log.Warn("Client disconnect on shutdown failed", logger.Error(err))
	}
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}
