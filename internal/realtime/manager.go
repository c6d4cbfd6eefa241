// Package realtime owns the connection lifecycle to the remote
// realtime voice API: credential fetch, WebRTC negotiation, the
// data-channel event stream, transcript accumulation, and the backoff
// policy governing reconnect attempts.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/voicelink/voicelink/internal/audio"
	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/session"
	"github.com/voicelink/voicelink/internal/transcript"
	"github.com/voicelink/voicelink/pkg/logger"
)

// State is the manager's connection state
type State int

const (
	// StateIdle means no connection exists and none is being attempted
	StateIdle State = iota
	// StateConnecting covers credential fetch and offer creation
	StateConnecting
	// StateAwaitingAnswer means the local offer was sent and the
	// remote answer is pending
	StateAwaitingAnswer
	// StateConnected means the event channel is open
	StateConnected
	// StateVoiceActive means connected with local audio streaming
	StateVoiceActive
	// StateVoiceInactive means connected after voice was stopped
	StateVoiceInactive
	// StateDisconnecting covers teardown in progress
	StateDisconnecting
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateConnected:
		return "connected"
	case StateVoiceActive:
		return "voice_active"
	case StateVoiceInactive:
		return "voice_inactive"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Credential is an ephemeral token minted for one connection attempt
type Credential struct {
	Token     string
	SessionID string
	Model     string
	ExpiresAt time.Time
}

// CredentialSource mints ephemeral credentials. The production
// implementation posts to the token relay; tests stub it.
type CredentialSource interface {
	CreateSession(ctx context.Context, payload *session.ConfigPayload) (*Credential, error)
}

// conn is the per-connection state: the transport plus everything
// that must be discarded together on disconnect. All fields except
// the transport are guarded by the owning manager's mutex.
type conn struct {
	transport Transport
	settings  session.Settings

	user       *transcript.Buffer
	assistant  *transcript.Buffer
	responseID string
	updateOnce sync.Once

	source    audio.Source
	voiceStop chan struct{}
	spectrum  *audio.Spectrum
}

// Manager drives the connection state machine. All public methods are
// safe for concurrent use; internal state is serialized behind one
// mutex, and data-channel events dispatch under that same mutex in
// arrival order.
type Manager struct {
	cfg      *config.Config
	creds    CredentialSource
	factory  TransportFactory
	acquirer audio.Acquirer
	listener Listener
	log      *logger.Logger

	httpClient *http.Client
	backoff    *backoff

	// schedule defers a function, replaceable in tests
	schedule func(d time.Duration, fn func())

	mu       sync.Mutex
	state    State
	inFlight bool
	// attempt numbers each connect; Disconnect bumps it so a stale
	// in-flight attempt can detect it was abandoned
	attempt  uint64
	settings session.Settings
	conn     *conn
}

// NewManager creates a connection manager. A nil listener is replaced
// with a no-op one.
func NewManager(
	cfg *config.Config,
	creds CredentialSource,
	factory TransportFactory,
	acquirer audio.Acquirer,
	listener Listener,
	log *logger.Logger,
) *Manager {
	if listener == nil {
		listener = NopListener{}
	}
	return &Manager{
		cfg:      cfg,
		creds:    creds,
		factory:  factory,
		acquirer: acquirer,
		listener: listener,
		log:      log.Named("realtime"),
		httpClient: &http.Client{
			Timeout: cfg.OpenAI.Timeout(),
		},
		backoff:  newBackoff(cfg.Backoff),
		schedule: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		settings: session.SettingsFromConfig(cfg.Session),
	}
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Settings returns the current settings snapshot
func (m *Manager) Settings() session.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// NextAttemptIn reports how long the backoff clock requires before
// the next connection attempt. Zero means an attempt may proceed now.
func (m *Manager) NextAttemptIn() time.Duration {
	return m.backoff.remaining()
}

// Transcripts returns a copy of the transcript entries for one side
// of the current connection. Empty when disconnected.
func (m *Manager) Transcripts(side transcript.Side) []transcript.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	if side == transcript.SideUser {
		return m.conn.user.Entries()
	}
	return m.conn.assistant.Entries()
}

// Connect establishes a new session. It rejects immediately, without
// network traffic, when another attempt is in flight
// (ErrConnectInProgress) or the backoff delay has not elapsed
// (*WaitError). A failed attempt bumps the failure counter; the
// counter and any sticky rate-limit delay reset only when the event
// channel actually opens.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	if m.state != StateIdle {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot connect while %s", st)
	}
	if wait, failures := m.backoff.check(); wait > 0 {
		m.mu.Unlock()
		return &WaitError{Remaining: wait, Failures: failures}
	}
	m.inFlight = true
	m.attempt++
	attempt := m.attempt
	settings := m.settings
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	err := m.establish(ctx, attempt, settings)

	m.mu.Lock()
	m.inFlight = false
	if m.attempt != attempt {
		// Disconnect abandoned this attempt; it already tore down
		// whatever was installed. Not a failure for backoff purposes.
		m.mu.Unlock()
		m.log.Info("Connection attempt abandoned")
		return ErrConnectAborted
	}
	if err != nil {
		m.backoff.recordFailure(rateLimitedError(err))
		m.dropLocked()
		m.setStateLocked(StateIdle)
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("Connection attempt failed", logger.Error(err))
	}
	return err
}

// establish runs the connect sequence: token, transport, offer,
// answer. The connected state is entered asynchronously when the
// event channel opens. After every suspension point the attempt
// checks it is still the current one; Disconnect invalidates it.
func (m *Manager) establish(ctx context.Context, attempt uint64, settings session.Settings) error {
	payload := session.Build(settings, m.builderOptions())
	cred, err := m.creds.CreateSession(ctx, &payload)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	c := &conn{
		settings:  settings,
		user:      transcript.NewBuffer(),
		assistant: transcript.NewBuffer(),
		spectrum:  audio.NewSpectrum(m.cfg.Audio.SpectrumBins),
	}
	t, err := m.factory(TransportHooks{
		OnOpen:    func() { m.handleOpen(c) },
		OnMessage: func(data []byte) { m.handleMessage(c, data) },
		OnClose:   func() { m.handleTransportClosed(c) },
		OnError:   func(err error) { m.handleTransportError(c, err) },
	})
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	c.transport = t

	m.mu.Lock()
	if m.attempt != attempt || m.state != StateConnecting {
		m.mu.Unlock()
		t.Close()
		return ErrConnectAborted
	}
	m.conn = c
	m.mu.Unlock()

	offer, err := t.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return ErrConnectAborted
	}
	m.setStateLocked(StateAwaitingAnswer)
	m.mu.Unlock()

	model := cred.Model
	if model == "" {
		model = m.cfg.Session.Model
	}
	answer, err := m.negotiate(ctx, cred.Token, model, offer)
	if err != nil {
		return err
	}

	m.mu.Lock()
	live := m.conn == c
	m.mu.Unlock()
	if !live {
		return ErrConnectAborted
	}

	if err := t.ApplyAnswer(answer); err != nil {
		return fmt.Errorf("failed to apply answer: %w", err)
	}
	return nil
}

// negotiate posts the local SDP to the realtime endpoint and returns
// the remote answer.
func (m *Manager) negotiate(ctx context.Context, token, model, sdp string) (string, error) {
	endpoint := fmt.Sprintf("%s?model=%s", m.cfg.OpenAI.RealtimeBaseURL, url.QueryEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(sdp))
	if err != nil {
		return "", fmt.Errorf("failed to build negotiation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("negotiation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &NegotiationError{Status: resp.StatusCode, Body: string(body)}
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return string(answer), nil
}

// Disconnect tears the connection down from any state: voice stops,
// the transport closes, and all per-connection state is discarded.
// An in-flight connect attempt is abandoned, not penalized. Always
// leaves the manager idle.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.attempt++
	c := m.conn
	if c == nil {
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateDisconnecting)
	m.stopVoiceLocked(c)
	m.conn = nil
	m.mu.Unlock()

	// Closed outside the lock: the transport's close handler re-enters
	// the manager.
	err := c.transport.Close()

	m.mu.Lock()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	m.log.Info("Disconnected")
	return err
}

// StartVoice acquires the local audio source and begins streaming
// frames to the remote peer, plus spectrum samples to the listener.
func (m *Manager) StartVoice(ctx context.Context) error {
	m.mu.Lock()
	c := m.conn
	if c == nil || (m.state != StateConnected && m.state != StateVoiceInactive) {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if c.voiceStop != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	src, err := m.acquirer.Acquire(ctx)
	if err != nil {
		return &MicrophoneError{Err: err}
	}

	m.mu.Lock()
	if m.conn != c || (m.state != StateConnected && m.state != StateVoiceInactive) {
		m.mu.Unlock()
		src.Close()
		return ErrNotConnected
	}
	c.source = src
	c.voiceStop = make(chan struct{})
	stop := c.voiceStop
	m.setStateLocked(StateVoiceActive)
	m.mu.Unlock()

	go m.pumpAudio(c, src, stop)
	go m.pumpSpectrum(c, stop)

	m.log.Info("Voice started",
		logger.Int("sample_rate", src.SampleRate()),
		logger.Int("channels", src.Channels()))
	return nil
}

// StopVoice stops local audio streaming, keeping the connection up
func (m *Manager) StopVoice() {
	m.mu.Lock()
	c := m.conn
	if c == nil || c.voiceStop == nil {
		m.mu.Unlock()
		return
	}
	m.stopVoiceLocked(c)
	if m.state == StateVoiceActive {
		m.setStateLocked(StateVoiceInactive)
	}
	m.mu.Unlock()
	m.log.Info("Voice stopped")
}

func (m *Manager) stopVoiceLocked(c *conn) {
	if c.voiceStop != nil {
		close(c.voiceStop)
		c.voiceStop = nil
	}
	c.spectrum.Reset()
}

// pumpAudio paces frames from the source onto the outbound track
func (m *Manager) pumpAudio(c *conn, src audio.Source, stop chan struct{}) {
	defer src.Close()
	frameDur := src.FrameDuration()
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := src.ReadFrame()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					m.log.Warn("Audio source read failed", logger.Error(err))
					m.listener.OnError(&MicrophoneError{Err: err})
				}
				return
			}
			c.spectrum.Feed(frame)
			if err := c.transport.WriteAudio(frame, frameDur); err != nil {
				m.log.Debug("Audio write failed", logger.Error(err))
			}
		}
	}
}

// pumpSpectrum emits visualization samples at the configured tick
func (m *Manager) pumpSpectrum(c *conn, stop chan struct{}) {
	tick := time.Duration(m.cfg.Audio.SpectrumTickMs) * time.Millisecond
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.listener.OnSpectrum(c.spectrum.Sample())
		}
	}
}

// UpdateSettings replaces the settings snapshot. When connected, the
// full configuration payload is re-sent; the update is idempotent on
// the remote side, so resending everything on any change is safe.
func (m *Manager) UpdateSettings(s session.Settings) error {
	m.mu.Lock()
	m.settings = s
	c := m.conn
	connected := m.state == StateConnected || m.state == StateVoiceActive || m.state == StateVoiceInactive
	if c != nil {
		c.settings = s
	}
	m.mu.Unlock()

	if c == nil || !connected {
		return nil
	}
	return m.sendSessionUpdate(c, s)
}

// sendSessionUpdate pushes the full session configuration over the
// event channel.
func (m *Manager) sendSessionUpdate(c *conn, s session.Settings) error {
	payload := session.Build(s, m.builderOptions())
	data, err := marshalClientEvent(EventTypeSessionUpdate, payload)
	if err != nil {
		return fmt.Errorf("failed to encode session update: %w", err)
	}
	if err := c.transport.Send(data); err != nil {
		return fmt.Errorf("failed to send session update: %w", err)
	}
	m.log.Debug("Session update sent",
		logger.String("vad_mode", s.VADMode),
		logger.String("voice", s.Voice))
	return nil
}

func (m *Manager) builderOptions() session.BuilderOptions {
	return session.BuilderOptions{
		Instructions:      m.cfg.Session.Instructions,
		Temperature:       m.cfg.Session.Temperature,
		MaxResponseTokens: m.cfg.Session.MaxResponseTokens,
		Tools:             sessionTools(),
	}
}

// handleOpen marks the connection live. The failure counter and any
// sticky rate-limit delay reset here, not at attempt time: only a
// channel that actually opened proves the remote side accepted us.
func (m *Manager) handleOpen(c *conn) {
	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return
	}
	m.backoff.recordSuccess()
	m.setStateLocked(StateConnected)
	settings := c.settings
	m.mu.Unlock()

	m.log.Info("Event channel open")

	// Exactly once per connection, even if the channel flaps open
	c.updateOnce.Do(func() {
		if err := m.sendSessionUpdate(c, settings); err != nil {
			m.log.Warn("Initial session update failed", logger.Error(err))
			m.listener.OnError(err)
		}
	})
}

// handleTransportClosed is the fail-safe path: any close not driven
// by Disconnect forces a full teardown. There is no automatic
// reconnect; the operator decides when to retry.
func (m *Manager) handleTransportClosed(c *conn) {
	m.mu.Lock()
	if m.conn != c || m.state == StateDisconnecting || m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.log.Warn("Transport closed unexpectedly")
	m.stopVoiceLocked(c)
	m.conn = nil
	m.setStateLocked(StateDisconnecting)
	m.mu.Unlock()

	c.transport.Close()

	m.mu.Lock()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	m.listener.OnError(&DataChannelError{Err: fmt.Errorf("transport closed unexpectedly")})
}

func (m *Manager) handleTransportError(c *conn, err error) {
	m.log.Warn("Transport error", logger.Error(err))
	m.listener.OnError(err)
}

// dropLocked abandons the in-progress connection attempt
func (m *Manager) dropLocked() {
	if m.conn == nil {
		return
	}
	c := m.conn
	m.conn = nil
	if c.transport != nil {
		// Close on a separate goroutine: the close handler re-enters
		// the manager and the mutex is held here.
		go c.transport.Close()
	}
}

// setStateLocked transitions the state and notifies the listener.
// Caller holds the mutex.
func (m *Manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.log.Debug("State changed",
		logger.String("from", from.String()),
		logger.String("to", to.String()))
	m.listener.OnStatusChange(from, to)
}

// scheduleRateLimitDisconnect defers a disconnect so the rate-limit
// notification reaches the listener before teardown.
func (m *Manager) scheduleRateLimitDisconnect() {
	delay := time.Duration(m.cfg.Backoff.DisconnectDelayMs) * time.Millisecond
	m.schedule(delay, func() {
		if err := m.Disconnect(); err != nil {
			m.log.Warn("Rate-limit disconnect failed", logger.Error(err))
		}
	})
}

// rateLimitedError classifies a connect-path failure as rate limiting
func rateLimitedError(err error) bool {
	var ce *CredentialError
	if errors.As(err, &ce) {
		return ce.RateLimited()
	}
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.RateLimited()
	}
	return isRateLimitText(err.Error(), "")
}
