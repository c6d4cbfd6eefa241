// Package relay implements the server-side operations behind the
// HTTP API: ephemeral session minting with per-client rate limiting,
// auxiliary image generation and analysis, one-shot audio
// transcription, and health reporting.
package relay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voicelink/voicelink/internal/broker"
	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/realtime"
	"github.com/voicelink/voicelink/internal/session"
	"github.com/voicelink/voicelink/pkg/logger"
)

// RateLimitError rejects a session mint that exceeded the per-client
// attempt budget.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many session attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// Service executes relay operations against the upstream API
type Service struct {
	cfg      *config.Config
	broker   *broker.Client
	oai      openai.Client
	attempts *realtime.AttemptLog
	logger   *logger.Logger

	startedAt time.Time
}

// NewService creates the relay service
func NewService(cfg *config.Config, brokerClient *broker.Client, log *logger.Logger) *Service {
	return &Service{
		cfg:    cfg,
		broker: brokerClient,
		oai:    openai.NewClient(option.WithAPIKey(cfg.OpenAI.APIKey)),
		attempts: realtime.NewAttemptLog(
			time.Duration(cfg.RateLimit.WindowSecs)*time.Second,
			cfg.RateLimit.MaxAttempts,
		),
		logger:    log.Named("relay"),
		startedAt: time.Now(),
	}
}

// MintSession mints an ephemeral credential for the named variant on
// behalf of a web client. Each identity gets a bounded number of
// attempts per window; exceeding it returns *RateLimitError without
// any upstream traffic.
func (s *Service) MintSession(ctx context.Context, identity, variantName string) (*realtime.Credential, error) {
	if !s.attempts.Allow(identity) {
		s.logger.Warn("Session mint rate limited",
			logger.String("identity", identity),
			logger.String("variant", variantName))
		return nil, &RateLimitError{
			RetryAfter: time.Duration(s.cfg.RateLimit.WindowSecs) * time.Second,
		}
	}

	variant := s.cfg.Variant(variantName)
	settings := session.SettingsFromConfig(s.cfg.Session)
	if variant.VADMode != "" {
		settings.VADMode = variant.VADMode
	}
	if variant.VADThreshold > 0 {
		settings.VADThreshold = variant.VADThreshold
	}
	if variant.SilenceDurationMs > 0 {
		settings.SilenceDurationMs = variant.SilenceDurationMs
	}
	if variant.TranscriptionModel != "" {
		settings.TranscriptionModel = variant.TranscriptionModel
	}
	if variant.NoiseReduction != "" {
		settings.NoiseReduction = variant.NoiseReduction
	}

	payload := session.Build(settings, session.BuilderOptions{
		Instructions:      s.cfg.Session.Instructions,
		Temperature:       s.cfg.Session.Temperature,
		MaxResponseTokens: s.cfg.Session.MaxResponseTokens,
	})

	cred, err := s.broker.CreateSessionForModel(ctx, variant.Model, &payload)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Minted session",
		logger.String("variant", variant.Name),
		logger.String("model", variant.Model),
		logger.String("session_id", cred.SessionID))
	return cred, nil
}

// ImageResult is one generated image, base64-encoded
type ImageResult struct {
	B64  string `json:"b64_json,omitempty"`
	URL  string `json:"url,omitempty"`
	Size string `json:"size"`
}

// GenerateImage produces one image for the prompt
func (s *Service) GenerateImage(ctx context.Context, prompt, size string) (*ImageResult, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModelDallE3,
		N:      openai.Int(1),
	}
	switch size {
	case "", "1024x1024":
		params.Size = openai.ImageGenerateParamsSize1024x1024
	case "1792x1024":
		params.Size = openai.ImageGenerateParamsSize1792x1024
	case "1024x1792":
		params.Size = openai.ImageGenerateParamsSize1024x1792
	default:
		return nil, fmt.Errorf("unsupported image size: %s", size)
	}

	resp, err := s.oai.Images.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("image generation returned no images")
	}
	img := resp.Data[0]
	return &ImageResult{B64: img.B64JSON, URL: img.URL, Size: string(params.Size)}, nil
}

// AnalyzeImage describes an image (data URL or remote URL) using a
// vision-capable chat model.
func (s *Service) AnalyzeImage(ctx context.Context, prompt, imageURL string) (string, error) {
	if imageURL == "" {
		return "", fmt.Errorf("image url is required")
	}
	if prompt == "" {
		prompt = "Describe this image in a couple of sentences."
	}

	resp, err := s.oai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4o,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							openai.TextContentPart(prompt),
							openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
								URL: imageURL,
							}),
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("image analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("image analysis returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe runs one-shot transcription on an uploaded audio file
func (s *Service) Transcribe(ctx context.Context, audio io.Reader, model string) (string, error) {
	if model == "" {
		model = s.cfg.Session.TranscriptionModel
	}
	resp, err := s.oai.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  audio,
		Model: openai.AudioModel(model),
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return resp.Text, nil
}

// HealthReport is the /health payload
type HealthReport struct {
	Status             string    `json:"status"`
	UptimeSecs         int64     `json:"uptime_secs"`
	UpstreamConfigured bool      `json:"upstream_configured"`
	DefaultVariant     string    `json:"default_variant"`
	Variants           []string  `json:"variants"`
	StartedAt          time.Time `json:"started_at"`
}

// Health reports service diagnostics. It never calls upstream; the
// configured flag just says whether an API key is present.
func (s *Service) Health() HealthReport {
	names := make([]string, 0, len(s.cfg.Variants))
	for _, v := range s.cfg.Variants {
		names = append(names, v.Name)
	}
	return HealthReport{
		Status:             "ok",
		UptimeSecs:         int64(time.Since(s.startedAt).Seconds()),
		UpstreamConfigured: s.cfg.OpenAI.APIKey != "",
		DefaultVariant:     s.cfg.Variant("").Name,
		Variants:           names,
		StartedAt:          s.startedAt,
	}
}
