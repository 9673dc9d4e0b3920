package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	CartesiaAPIVersion = "2024-06-10"

	DefaultCartesiaVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

	cartesiaEnglishModel      = "sonic-english"
	cartesiaMultilingualModel = "sonic-multilingual"
)

type CartesiaService struct {
	apiKey         string
	apiURL         string
	apiVersion     string
	defaultVoiceID string
	client         *http.Client
}

// Ensure CartesiaService implements TTSService at compile time.
var _ TTSService = (*CartesiaService)(nil)

// NewCartesiaService creates a Cartesia service. An empty voiceID uses the default voice.
func NewCartesiaService(apiKey, apiURL, voiceID string) *CartesiaService {
	if voiceID == "" {
		voiceID = DefaultCartesiaVoiceID
	}
	return &CartesiaService{
		apiKey:         apiKey,
		apiURL:         strings.TrimRight(apiURL, "/"),
		apiVersion:     CartesiaAPIVersion,
		defaultVoiceID: voiceID,
		client:         &http.Client{Timeout: 60 * time.Second},
	}
}

type cartesiaRequest struct {
	ModelID      string                    `json:"model_id"`
	Transcript   string                    `json:"transcript"`
	Voice        cartesiaVoiceSpecifier    `json:"voice"`
	Language     string                    `json:"language,omitempty"`
	OutputFormat cartesiaOutputFormat      `json:"output_format"`
	Config       *cartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type cartesiaVoiceSpecifier struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Volume  *float64 `json:"volume,omitempty"`  // 0.5 to 2.0
	Speed   *float64 `json:"speed,omitempty"`   // 0.6 to 1.5
	Emotion *string  `json:"emotion,omitempty"` // e.g., "neutral", "excited", "calm"
}

// GenerateSpeech generates audio from text using Cartesia TTS.
func (s *CartesiaService) GenerateSpeech(ctx context.Context, text string, opts SpeechOptions) (*TTSResponse, error) {
	voiceID := s.defaultVoiceID
	if opts.Voice != "" {
		voiceID = opts.Voice
	}

	language := opts.Language
	if language == "" {
		language = "en"
	}
	model := cartesiaEnglishModel
	if language != "en" {
		model = cartesiaMultilingualModel
	}

	speed := 0.85 // Slower pace for clear narration
	volume := 1.4 // Louder output for mobile viewing
	emotion := parseEmotionFromStyle(opts.Style)

	reqBody := cartesiaRequest{
		ModelID:    model,
		Transcript: text,
		Voice: cartesiaVoiceSpecifier{
			Mode: "id",
			ID:   voiceID,
		},
		Language: language,
		OutputFormat: cartesiaOutputFormat{
			Container:  "mp3",
			SampleRate: 44100,
			BitRate:    192000,
		},
		Config: &cartesiaGenerationConfig{
			Volume:  &volume,
			Speed:   &speed,
			Emotion: &emotion,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/tts/bytes", s.apiURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", s.apiVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cartesia returned status %d: %s", resp.StatusCode, string(body))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio")
	}

	durationMs := estimateAudioDuration(text, speed)
	log.Printf("[Cartesia] Speech generated (%s, model=%s, estimated %dms)",
		humanize.Bytes(uint64(len(audioData))), model, durationMs)

	return &TTSResponse{
		AudioData:  audioData,
		DurationMs: durationMs,
		Format:     "mp3",
		Engine:     "cartesia",
		Voice:      voiceID,
	}, nil
}

// cartesiaEmotions maps descriptive words in a delivery hint to Cartesia emotions.
var cartesiaEmotions = []struct{ keyword, emotion string }{
	{"energetic", "excited"},
	{"engaging", "enthusiastic"},
	{"mysterious", "mysterious"},
	{"serious", "calm"},
	{"authoritative", "confident"},
	{"dramatic", "intense"},
	{"calm", "calm"},
	{"peaceful", "peaceful"},
	{"excited", "excited"},
	{"happy", "happy"},
	{"sad", "sad"},
	{"confident", "confident"},
}

// parseEmotionFromStyle returns the first emotion whose keyword appears in style.
func parseEmotionFromStyle(style string) string {
	lower := strings.ToLower(style)
	for _, e := range cartesiaEmotions {
		if strings.Contains(lower, e.keyword) {
			return e.emotion
		}
	}
	return "neutral"
}
