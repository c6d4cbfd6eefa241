package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/face"
	"github.com/voicelink/voicelink/internal/session"
	"github.com/voicelink/voicelink/internal/transcript"
	"github.com/voicelink/voicelink/pkg/logger"
)

// fakeTransport is an in-memory Transport recording everything sent
// through it.
type fakeTransport struct {
	mu     sync.Mutex
	hooks  TransportHooks
	sent   [][]byte
	answer string
	closed bool
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (string, error) {
	return "v=0 fake-offer", nil
}

func (t *fakeTransport) ApplyAnswer(sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answer = sdp
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return &DataChannelError{Err: errors.New("closed")}
	}
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeTransport) WriteAudio(frame []byte, d time.Duration) error { return nil }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	hooks := t.hooks
	t.mu.Unlock()
	if hooks.OnClose != nil {
		hooks.OnClose()
	}
	return nil
}

func (t *fakeTransport) sentMessages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// stubCreds returns a fixed credential or error
type stubCreds struct {
	cred *Credential
	err  error
	// block, when non-nil, is received from before returning
	block chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *stubCreds) CreateSession(ctx context.Context, payload *session.ConfigPayload) (*Credential, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.cred, nil
}

// recordingListener captures listener callbacks
type recordingListener struct {
	NopListener
	mu          sync.Mutex
	transitions []State
	voice       []VoiceStatus
	entries     []transcript.Entry
	sides       []transcript.Side
	faces       []face.Decision
	errs        []error
}

func (l *recordingListener) OnStatusChange(from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, to)
}

func (l *recordingListener) OnVoiceStatus(status VoiceStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.voice = append(l.voice, status)
}

func (l *recordingListener) OnTranscript(side transcript.Side, entry transcript.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sides = append(l.sides, side)
	l.entries = append(l.entries, entry)
}

func (l *recordingListener) OnFace(d face.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faces = append(l.faces, d)
}

func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recordingListener) lastEntry(t *testing.T) transcript.Entry {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		t.Fatal("no transcript entries recorded")
	}
	return l.entries[len(l.entries)-1]
}

type managerFixture struct {
	mgr       *Manager
	transport *fakeTransport
	creds     *stubCreds
	listener  *recordingListener
	server    *httptest.Server
	scheduled []func()
	delays    []time.Duration
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()

	f := &managerFixture{
		creds:    &stubCreds{cred: &Credential{Token: "ek_test", SessionID: "sess_1"}},
		listener: &recordingListener{},
	}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ek_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Content-Type") != "application/sdp" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "v=0 fake-answer")
	}))
	t.Cleanup(f.server.Close)

	cfg := config.Default()
	cfg.OpenAI.RealtimeBaseURL = f.server.URL
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Session.IncludeConfidence = true

	factory := func(hooks TransportHooks) (Transport, error) {
		ft := &fakeTransport{hooks: hooks}
		f.transport = ft
		return ft, nil
	}

	f.mgr = NewManager(cfg, f.creds, factory, nil, f.listener, logger.Nop())
	f.mgr.schedule = func(d time.Duration, fn func()) {
		f.delays = append(f.delays, d)
		f.scheduled = append(f.scheduled, fn)
	}
	return f
}

// connect drives a full successful attempt including channel open
func (f *managerFixture) connect(t *testing.T) {
	t.Helper()
	if err := f.mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	f.transport.hooks.OnOpen()
	if got := f.mgr.State(); got != StateConnected {
		t.Fatalf("state after open = %v, want connected", got)
	}
}

func (f *managerFixture) dispatch(t *testing.T, raw string) {
	t.Helper()
	f.transport.hooks.OnMessage([]byte(raw))
}

func TestConnectSendsSessionUpdateOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	// A flapping open handler must not resend the configuration
	f.transport.hooks.OnOpen()

	msgs := f.transport.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want exactly 1 session update", len(msgs))
	}
	var ev struct {
		Type    string                 `json:"type"`
		Session map[string]interface{} `json:"session"`
	}
	if err := json.Unmarshal(msgs[0], &ev); err != nil {
		t.Fatalf("failed to decode sent message: %v", err)
	}
	if ev.Type != EventTypeSessionUpdate {
		t.Errorf("sent type = %q, want %q", ev.Type, EventTypeSessionUpdate)
	}
	if ev.Session["voice"] != "ballad" {
		t.Errorf("session voice = %v, want ballad", ev.Session["voice"])
	}
	if _, ok := ev.Session["tools"]; !ok {
		t.Error("session update missing tools declaration")
	}
}

func TestConnectRejectsConcurrentAttempt(t *testing.T) {
	f := newFixture(t)
	f.creds.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.mgr.Connect(context.Background()) }()

	// Wait for the first attempt to reach the credential fetch
	deadline := time.After(2 * time.Second)
	for {
		f.creds.mu.Lock()
		started := f.creds.calls > 0
		f.creds.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first attempt never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := f.mgr.Connect(context.Background()); !errors.Is(err, ErrConnectInProgress) {
		t.Errorf("second Connect() = %v, want ErrConnectInProgress", err)
	}

	close(f.creds.block)
	if err := <-done; err != nil {
		t.Fatalf("first Connect() failed: %v", err)
	}
}

func TestConnectBackoffAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.creds.err = errors.New("upstream unavailable")

	now := time.Unix(9000, 0)
	f.mgr.backoff.now = func() time.Time { return now }

	if err := f.mgr.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail when credential fetch fails")
	}
	if got := f.mgr.State(); got != StateIdle {
		t.Fatalf("state after failed attempt = %v, want idle", got)
	}

	var wait *WaitError
	err := f.mgr.Connect(context.Background())
	if !errors.As(err, &wait) {
		t.Fatalf("immediate retry = %v, want *WaitError", err)
	}
	if wait.Remaining != 4*time.Second {
		t.Errorf("WaitError.Remaining = %v, want 4s", wait.Remaining)
	}
	if f.creds.calls != 1 {
		t.Errorf("credential fetch called %d times, want 1 (no network on rejected attempt)", f.creds.calls)
	}

	// After the delay the attempt goes through and a channel open
	// clears the failure counter entirely.
	now = now.Add(5 * time.Second)
	f.creds.err = nil
	f.connect(t)
	if got := f.mgr.NextAttemptIn(); got != 0 {
		t.Errorf("NextAttemptIn() after success = %v, want 0", got)
	}
}

func TestConnectRateLimitedCredential(t *testing.T) {
	f := newFixture(t)
	f.creds.err = &CredentialError{Status: 429, Body: "Too Many Requests"}

	if err := f.mgr.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail")
	}
	if got := f.mgr.backoff.sticky; got != 120*time.Second {
		t.Errorf("sticky delay after 429 = %v, want 120s", got)
	}
}

func TestDispatchUserTranscriptDeltas(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.dispatch(t, `{"type":"input_audio_buffer.speech_started"}`)
	f.dispatch(t, `{"type":"conversation.item.input_audio_transcription.delta","delta":"Hel"}`)
	f.dispatch(t, `{"type":"conversation.item.input_audio_transcription.delta","delta":"lo"}`)

	entries := f.mgr.Transcripts(transcript.SideUser)
	if len(entries) != 1 {
		t.Fatalf("got %d user entries, want 1 live entry", len(entries))
	}
	if entries[0].Text != "Hello" || !entries[0].Live {
		t.Errorf("live entry = %+v, want live %q", entries[0], "Hello")
	}

	f.dispatch(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"Hello there.","logprobs":[{"token":"Hello","logprob":-0.1},{"token":"there","logprob":-0.3}]}`)

	entries = f.mgr.Transcripts(transcript.SideUser)
	if len(entries) != 1 {
		t.Fatalf("got %d user entries after completion, want 1", len(entries))
	}
	final := entries[0]
	if final.Live || final.Text != "Hello there." {
		t.Errorf("final entry = %+v, want finalized %q", final, "Hello there.")
	}
	if final.Confidence <= 0 || final.Confidence > 1 {
		t.Errorf("confidence = %v, want in (0, 1]", final.Confidence)
	}
}

func TestDispatchAssistantResponseLifecycle(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.dispatch(t, `{"type":"response.created","response":{"id":"resp_1"}}`)
	f.mgr.mu.Lock()
	gotID := f.mgr.conn.responseID
	f.mgr.mu.Unlock()
	if gotID != "resp_1" {
		t.Errorf("responseID = %q, want resp_1", gotID)
	}

	f.dispatch(t, `{"type":"response.audio_transcript.delta","delta":"Hi "}`)
	f.dispatch(t, `{"type":"response.audio_transcript.delta","delta":"friend"}`)
	f.dispatch(t, `{"type":"response.audio_transcript.done","transcript":"Hi friend."}`)
	f.dispatch(t, `{"type":"response.done","response":{"id":"resp_1","status":"completed"}}`)

	f.mgr.mu.Lock()
	gotID = f.mgr.conn.responseID
	f.mgr.mu.Unlock()
	if gotID != "" {
		t.Errorf("responseID after response.done = %q, want empty", gotID)
	}

	entries := f.mgr.Transcripts(transcript.SideAssistant)
	if len(entries) != 1 {
		t.Fatalf("got %d assistant entries, want 1", len(entries))
	}
	if entries[0].Live || entries[0].Text != "Hi friend." {
		t.Errorf("assistant entry = %+v, want finalized %q", entries[0], "Hi friend.")
	}
}

func TestDispatchTranscriptionFailureSentinel(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.dispatch(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"First utterance."}`)
	f.dispatch(t, `{"type":"input_audio_buffer.speech_started"}`)
	f.dispatch(t, `{"type":"conversation.item.input_audio_transcription.failed","error":{"code":"audio_too_quiet","message":"audio was too quiet"}}`)

	entries := f.mgr.Transcripts(transcript.SideUser)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want prior entry plus sentinel", len(entries))
	}
	if entries[0].Text != "First utterance." || entries[0].Sentinel {
		t.Errorf("prior entry corrupted: %+v", entries[0])
	}
	if !entries[1].Sentinel {
		t.Errorf("failure entry not a sentinel: %+v", entries[1])
	}

	f.listener.mu.Lock()
	defer f.listener.mu.Unlock()
	var failure *TranscriptionFailure
	for _, err := range f.listener.errs {
		if errors.As(err, &failure) {
			break
		}
	}
	if failure == nil || failure.Reason != FailureTooQuiet {
		t.Errorf("listener errors = %v, want TranscriptionFailure(audio_too_quiet)", f.listener.errs)
	}
}

func TestDispatchRateLimitedFailureDisconnects(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.dispatch(t, `{"type":"conversation.item.input_audio_transcription.failed","error":{"code":"rate_limit_exceeded","message":"Too Many Requests"}}`)

	if len(f.scheduled) != 1 {
		t.Fatalf("scheduled %d callbacks, want 1 deferred disconnect", len(f.scheduled))
	}
	if f.delays[0] != time.Second {
		t.Errorf("disconnect delay = %v, want 1s", f.delays[0])
	}
	if got := f.mgr.backoff.sticky; got < 60*time.Second {
		t.Errorf("sticky delay after rate-limited failure = %v, want >= 60s", got)
	}

	// Still connected until the deferred disconnect fires
	if got := f.mgr.State(); got != StateConnected {
		t.Fatalf("state before deferred disconnect = %v, want connected", got)
	}
	f.scheduled[0]()
	if got := f.mgr.State(); got != StateIdle {
		t.Errorf("state after deferred disconnect = %v, want idle", got)
	}
	if !f.transport.closed {
		t.Error("transport not closed by deferred disconnect")
	}
}

func TestDispatchRateLimitedServerError(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.dispatch(t, `{"type":"error","error":{"code":"rate_limit_exceeded","message":"Too Many Requests"}}`)

	// A single rate-limited error event must latch the full minimum
	// penalty, not a partial step
	if got := f.mgr.backoff.sticky; got < 60*time.Second {
		t.Errorf("sticky delay after rate-limited error event = %v, want >= 60s", got)
	}
	if len(f.scheduled) != 1 {
		t.Fatalf("scheduled %d callbacks, want 1 deferred disconnect", len(f.scheduled))
	}

	// Repeats climb toward the ceiling without overshooting it
	for i := 0; i < 10; i++ {
		f.dispatch(t, `{"type":"error","error":{"code":"rate_limit_exceeded","message":"Too Many Requests"}}`)
	}
	if got := f.mgr.backoff.sticky; got != 120*time.Second {
		t.Errorf("sticky delay after repeated errors = %v, want ceiling 120s", got)
	}
}

func TestDisconnectAbandonsInFlightConnect(t *testing.T) {
	f := newFixture(t)
	f.creds.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.mgr.Connect(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for {
		f.creds.mu.Lock()
		started := f.creds.calls > 0
		f.creds.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("attempt never reached the credential fetch")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := f.mgr.Disconnect(); err != nil {
		t.Fatalf("Disconnect() during connect failed: %v", err)
	}
	close(f.creds.block)

	if err := <-done; !errors.Is(err, ErrConnectAborted) {
		t.Fatalf("Connect() after Disconnect = %v, want ErrConnectAborted", err)
	}
	if got := f.mgr.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	f.mgr.mu.Lock()
	leftover := f.mgr.conn
	f.mgr.mu.Unlock()
	if leftover != nil {
		t.Error("abandoned attempt left a connection installed")
	}
	if f.transport != nil && !f.transport.closed {
		t.Error("abandoned attempt left its transport open")
	}

	// A user-initiated teardown is not a failure: no backoff penalty
	if got := f.mgr.NextAttemptIn(); got != 0 {
		t.Errorf("NextAttemptIn() after abandoned attempt = %v, want 0", got)
	}
	f.creds.block = nil
	f.connect(t)
}

func TestDispatchVoiceStatusIndicator(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.dispatch(t, `{"type":"input_audio_buffer.speech_started"}`)
	f.dispatch(t, `{"type":"input_audio_buffer.speech_stopped"}`)
	f.dispatch(t, `{"type":"response.created","response":{"id":"resp_1"}}`)
	f.dispatch(t, `{"type":"response.done","response":{"id":"resp_1","status":"completed"}}`)

	f.listener.mu.Lock()
	defer f.listener.mu.Unlock()
	want := []VoiceStatus{VoiceStatusUserSpeaking, VoiceStatusProcessing, VoiceStatusListening}
	if len(f.listener.voice) != len(want) {
		t.Fatalf("voice statuses = %v, want %v", f.listener.voice, want)
	}
	for i, w := range want {
		if f.listener.voice[i] != w {
			t.Errorf("voice status #%d = %q, want %q", i, f.listener.voice[i], w)
		}
	}
}

func TestDispatchFaceToolCall(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.dispatch(t, `{"type":"response.function_call_arguments.done","name":"set_expression","call_id":"call_1","arguments":"{\"emotion\":\"excited\",\"intensity\":1.7}"}`)
	f.dispatch(t, `{"type":"response.function_call_arguments.done","name":"other_tool","call_id":"call_2","arguments":"{}"}`)

	f.listener.mu.Lock()
	defer f.listener.mu.Unlock()
	if len(f.listener.faces) != 1 {
		t.Fatalf("got %d face decisions, want 1", len(f.listener.faces))
	}
	d := f.listener.faces[0]
	if d.Emotion != face.EmotionExcited {
		t.Errorf("emotion = %v, want excited", d.Emotion)
	}
	if d.Intensity != 1 {
		t.Errorf("intensity = %v, want clamped to 1", d.Intensity)
	}
	if d.Duration != face.DefaultDuration {
		t.Errorf("duration = %v, want default %v", d.Duration, face.DefaultDuration)
	}
}

func TestDispatchUnknownEventIgnored(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.dispatch(t, `{"type":"some.future.event","delta":"x"}`)
	f.dispatch(t, `not even json`)

	if got := f.mgr.State(); got != StateConnected {
		t.Errorf("state after unknown events = %v, want connected", got)
	}
	if len(f.mgr.Transcripts(transcript.SideUser)) != 0 {
		t.Error("unknown event should not touch transcripts")
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.dispatch(t, `{"type":"conversation.item.input_audio_transcription.delta","delta":"partial"}`)
	f.dispatch(t, `{"type":"response.created","response":{"id":"resp_9"}}`)

	if err := f.mgr.Disconnect(); err != nil {
		t.Fatalf("Disconnect() failed: %v", err)
	}
	if got := f.mgr.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if !f.transport.closed {
		t.Error("transport not closed")
	}
	if got := f.mgr.Transcripts(transcript.SideUser); got != nil {
		t.Errorf("user transcripts after disconnect = %v, want nil", got)
	}

	// Idempotent from idle
	if err := f.mgr.Disconnect(); err != nil {
		t.Errorf("second Disconnect() = %v, want nil", err)
	}
}

func TestUnexpectedTransportCloseForcesIdle(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.transport.Close()

	if got := f.mgr.State(); got != StateIdle {
		t.Errorf("state after remote close = %v, want idle", got)
	}
	f.listener.mu.Lock()
	defer f.listener.mu.Unlock()
	var dcErr *DataChannelError
	found := false
	for _, err := range f.listener.errs {
		if errors.As(err, &dcErr) {
			found = true
		}
	}
	if !found {
		t.Errorf("listener errors = %v, want DataChannelError", f.listener.errs)
	}
}

func TestUpdateSettingsResendsWhenConnected(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	s := f.mgr.Settings()
	s.VADMode = session.VADServer
	s.Voice = session.VoiceCoral
	if err := f.mgr.UpdateSettings(s); err != nil {
		t.Fatalf("UpdateSettings() failed: %v", err)
	}

	msgs := f.transport.sentMessages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want initial update plus resend", len(msgs))
	}
	var ev struct {
		Session struct {
			Voice         string `json:"voice"`
			TurnDetection struct {
				Type      string   `json:"type"`
				Threshold *float64 `json:"threshold"`
			} `json:"turn_detection"`
		} `json:"session"`
	}
	if err := json.Unmarshal(msgs[1], &ev); err != nil {
		t.Fatalf("failed to decode resend: %v", err)
	}
	if ev.Session.Voice != session.VoiceCoral {
		t.Errorf("resent voice = %q, want coral", ev.Session.Voice)
	}
	if ev.Session.TurnDetection.Type != session.VADServer || ev.Session.TurnDetection.Threshold == nil {
		t.Errorf("resent turn_detection = %+v, want server_vad with threshold", ev.Session.TurnDetection)
	}
}

func TestUpdateSettingsWhileIdle(t *testing.T) {
	f := newFixture(t)
	s := f.mgr.Settings()
	s.Voice = session.VoiceSage
	if err := f.mgr.UpdateSettings(s); err != nil {
		t.Fatalf("UpdateSettings() while idle failed: %v", err)
	}
	if got := f.mgr.Settings().Voice; got != session.VoiceSage {
		t.Errorf("stored voice = %q, want sage", got)
	}
}
