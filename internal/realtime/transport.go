package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/voicelink/voicelink/pkg/logger"
)

// dataChannelLabel is the label the server expects for the event channel
const dataChannelLabel = "oai-events"

// TransportHooks are the callbacks a transport invokes from its own
// goroutines. All fields must be set before the transport is created.
type TransportHooks struct {
	// OnOpen fires once when the event channel becomes writable
	OnOpen func()
	// OnMessage fires for every inbound event payload
	OnMessage func(data []byte)
	// OnClose fires when the event channel or peer connection closes,
	// whether locally or remotely initiated
	OnClose func()
	// OnError fires for channel-level transport errors
	OnError func(err error)
}

// Transport is the media and event pipe between the manager and the
// remote peer. The production implementation rides on WebRTC; tests
// substitute an in-memory fake.
type Transport interface {
	// CreateOffer produces the local SDP after ICE gathering completes
	CreateOffer(ctx context.Context) (string, error)
	// ApplyAnswer installs the remote SDP answer
	ApplyAnswer(sdp string) error
	// Send writes one event payload to the event channel
	Send(data []byte) error
	// WriteAudio pushes one PCM frame onto the outbound audio track
	WriteAudio(frame []byte, duration time.Duration) error
	// Close tears the transport down. Safe to call more than once.
	Close() error
}

// TransportFactory builds a fresh transport per connection attempt
type TransportFactory func(hooks TransportHooks) (Transport, error)

// webrtcTransport is the pion-backed Transport implementation. Each
// connection attempt gets a new instance; it is never reused after
// Close.
type webrtcTransport struct {
	pc    *webrtc.PeerConnection
	dc    *webrtc.DataChannel
	track *webrtc.TrackLocalStaticSample
	hooks TransportHooks
	log   *logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebRTCTransportFactory returns a factory producing WebRTC
// transports. The ICE servers default to Google's public STUN server
// when none are given.
func NewWebRTCTransportFactory(iceServers []string, log *logger.Logger) TransportFactory {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return func(hooks TransportHooks) (Transport, error) {
		return newWebRTCTransport(iceServers, hooks, log)
	}
}

func newWebRTCTransport(iceServers []string, hooks TransportHooks, log *logger.Logger) (*webrtcTransport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &webrtcTransport{
		pc:     pc,
		hooks:  hooks,
		log:    log.Named("webrtc"),
		closed: make(chan struct{}),
	}

	// Receive-only transceiver for the model's audio. The outbound
	// microphone track is added separately so attempts without a
	// capture device still negotiate.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "voicelink-mic",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create local track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add local track: %w", err)
	}
	t.track = track

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	t.dc = dc

	dc.OnOpen(func() {
		t.log.Debug("Data channel opened")
		if t.hooks.OnOpen != nil {
			t.hooks.OnOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if t.hooks.OnMessage != nil {
			t.hooks.OnMessage(msg.Data)
		}
	})
	dc.OnClose(func() {
		t.log.Debug("Data channel closed")
		if t.hooks.OnClose != nil {
			t.hooks.OnClose()
		}
	})
	dc.OnError(func(err error) {
		t.log.Warn("Data channel error", logger.Error(err))
		if t.hooks.OnError != nil {
			t.hooks.OnError(&DataChannelError{Err: err})
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Debug("Peer connection state changed", logger.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			if t.hooks.OnClose != nil {
				t.hooks.OnClose()
			}
		}
	})

	return t, nil
}

// CreateOffer builds the local SDP and blocks until ICE gathering
// completes so the offer carries all candidates.
func (t *webrtcTransport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(t.pc):
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.closed:
		return "", fmt.Errorf("transport closed during ICE gathering")
	}

	local := t.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description after ICE gathering")
	}
	return local.SDP, nil
}

func (t *webrtcTransport) ApplyAnswer(sdp string) error {
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (t *webrtcTransport) Send(data []byte) error {
	if t.dc == nil || t.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return &DataChannelError{Err: fmt.Errorf("data channel not open")}
	}
	return t.dc.Send(data)
}

func (t *webrtcTransport) WriteAudio(frame []byte, duration time.Duration) error {
	return t.track.WriteSample(media.Sample{Data: frame, Duration: duration})
}

func (t *webrtcTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.dc != nil {
			t.dc.Close()
		}
		err = t.pc.Close()
	})
	return err
}
