// Package face validates emotion decisions driven by model tool calls.
// The pixel renderer itself lives in the web frontend; this package
// only guarantees that whatever reaches it is well formed.
package face

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Emotion is one of the fixed expressions the renderer understands
type Emotion string

// The full expression set. Anything else falls back to neutral.
const (
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionExcited   Emotion = "excited"
	EmotionThinking  Emotion = "thinking"
	EmotionConfused  Emotion = "confused"
	EmotionSurprised Emotion = "surprised"
	EmotionLaughing  Emotion = "laughing"
	EmotionNeutral   Emotion = "neutral"
	EmotionListening Emotion = "listening"
	EmotionSpeaking  Emotion = "speaking"
)

var validEmotions = map[Emotion]bool{
	EmotionHappy:     true,
	EmotionSad:       true,
	EmotionExcited:   true,
	EmotionThinking:  true,
	EmotionConfused:  true,
	EmotionSurprised: true,
	EmotionLaughing:  true,
	EmotionNeutral:   true,
	EmotionListening: true,
	EmotionSpeaking:  true,
}

// DefaultDuration is how long an expression holds before the renderer
// drifts back to idle behavior.
const DefaultDuration = 2 * time.Second

// Decision is a validated emotion+intensity+duration triple
type Decision struct {
	Emotion   Emotion       `json:"emotion"`
	Intensity float64       `json:"intensity"`
	Duration  time.Duration `json:"duration"`
}

// Normalize returns a decision guaranteed to be renderable: unknown
// emotions become neutral, intensity is clamped to [0,1], and a zero
// duration gets the default.
func Normalize(d Decision) Decision {
	if !validEmotions[d.Emotion] {
		d.Emotion = EmotionNeutral
	}
	if d.Intensity < 0 {
		d.Intensity = 0
	} else if d.Intensity > 1 {
		d.Intensity = 1
	}
	if d.Duration <= 0 {
		d.Duration = DefaultDuration
	}
	return d
}

// ToolName is the function name the model calls to change expression
const ToolName = "set_expression"

// toolArgs is the JSON argument shape of a set_expression call
type toolArgs struct {
	Emotion    string  `json:"emotion"`
	Intensity  float64 `json:"intensity"`
	DurationMs int     `json:"duration_ms"`
}

// DecisionFromToolCall parses the arguments of a set_expression tool
// call into a normalized decision. Malformed JSON is an error; an
// unknown emotion value is not, it just normalizes to neutral.
func DecisionFromToolCall(name, arguments string) (Decision, error) {
	if name != ToolName {
		return Decision{}, fmt.Errorf("unsupported tool call: %s", name)
	}
	var args toolArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return Decision{}, fmt.Errorf("failed to parse %s arguments: %w", ToolName, err)
	}
	return Normalize(Decision{
		Emotion:   Emotion(args.Emotion),
		Intensity: args.Intensity,
		Duration:  time.Duration(args.DurationMs) * time.Millisecond,
	}), nil
}

// ToolDeclaration is the function tool declared to the model so it can
// drive the face renderer.
func ToolDeclaration() map[string]interface{} {
	emotions := make([]string, 0, len(validEmotions))
	for e := range validEmotions {
		emotions = append(emotions, string(e))
	}
	sort.Strings(emotions)
	return map[string]interface{}{
		"type":        "function",
		"name":        ToolName,
		"description": "Update the assistant's facial expression to match the conversation.",
		"parameters": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"emotion": map[string]interface{}{
					"type": "string",
					"enum": emotions,
				},
				"intensity": map[string]interface{}{
					"type":    "number",
					"minimum": 0,
					"maximum": 1,
				},
				"duration_ms": map[string]interface{}{
					"type": "integer",
				},
			},
			"required": []string{"emotion"},
		},
	}
}
