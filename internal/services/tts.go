package services

import (
	"context"
	"strings"
)

// ---------------------------------------------------------------------------
// TTSService is the common interface for text-to-speech providers
// Both ElevenLabs and Cartesia implement this interface so the worker
// can use whichever is configured without knowing the underlying provider.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int // estimate; the worker probes the written file when it can
	Format     string
	Engine     string
	Voice      string
}

// SpeechOptions are per-request overrides. Empty fields use the provider defaults.
type SpeechOptions struct {
	Voice    string // provider voice ID
	Language string // ISO 639-1
	Style    string // human-readable delivery hint, e.g. "calm and slow"
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	GenerateSpeech(ctx context.Context, text string, opts SpeechOptions) (*TTSResponse, error)
}

// estimateAudioDuration estimates duration based on text length and speed.
// Average narration pace is ~140 words per minute at speed 1.0.
func estimateAudioDuration(text string, speed float64) int {
	if speed <= 0 {
		speed = 1.0
	}
	words := len(strings.Fields(text))
	actualWPM := 140.0 * speed

	minutes := float64(words) / actualWPM
	return int(minutes * 60 * 1000)
}
