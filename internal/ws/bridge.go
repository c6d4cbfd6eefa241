package ws

import (
	"errors"

	"github.com/voicelink/voicelink/internal/face"
	"github.com/voicelink/voicelink/internal/realtime"
	"github.com/voicelink/voicelink/internal/transcript"
)

// Broadcast message types
const (
	MsgStatus      = "status"
	MsgVoiceStatus = "voice_status"
	MsgTranscript  = "transcript"
	MsgFace        = "face"
	MsgSpectrum    = "spectrum"
	MsgError       = "error"
)

// Bridge adapts manager notifications onto the hub so every connected
// browser sees the same session. It implements realtime.Listener.
type Bridge struct {
	hub *Hub
}

// NewBridge wraps a hub as a manager listener
func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) OnStatusChange(from, to realtime.State) {
	b.hub.Broadcast(MsgStatus, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})
}

func (b *Bridge) OnVoiceStatus(status realtime.VoiceStatus) {
	b.hub.Broadcast(MsgVoiceStatus, map[string]string{
		"status": string(status),
	})
}

func (b *Bridge) OnTranscript(side transcript.Side, entry transcript.Entry) {
	b.hub.Broadcast(MsgTranscript, map[string]interface{}{
		"side":  side.String(),
		"entry": entry,
	})
}

func (b *Bridge) OnFace(decision face.Decision) {
	b.hub.Broadcast(MsgFace, map[string]interface{}{
		"emotion":     decision.Emotion,
		"intensity":   decision.Intensity,
		"duration_ms": decision.Duration.Milliseconds(),
	})
}

func (b *Bridge) OnSpectrum(bins []float64) {
	b.hub.Broadcast(MsgSpectrum, bins)
}

func (b *Bridge) OnError(err error) {
	payload := map[string]string{"message": err.Error()}
	var tf *realtime.TranscriptionFailure
	if errors.As(err, &tf) {
		payload["guidance"] = tf.Guidance()
		payload["reason"] = tf.Reason
	}
	b.hub.Broadcast(MsgError, payload)
}
