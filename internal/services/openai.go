package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/bobarin/scenecast/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

type OpenAIService struct {
	client      *openai.Client
	scriptModel string
}

func NewOpenAIService(apiKey, scriptModel string) *OpenAIService {
	if scriptModel == "" {
		scriptModel = openai.GPT4o
	}
	return &OpenAIService{
		client:      openai.NewClient(apiKey),
		scriptModel: scriptModel,
	}
}

// ScriptRequest describes the video a script is generated for.
type ScriptRequest struct {
	Topic       string
	Type        models.JobType
	Orientation models.Orientation
	Language    string // ISO 639-1, default "en"
	SceneCount  int    // 0 = default for the job type
}

// Script is the generated plan: a title plus ordered scenes.
type Script struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Scenes      []models.Scene `json:"scenes"`
}

// DefaultSceneCount returns how many scenes a script of the given type gets.
func DefaultSceneCount(t models.JobType) int {
	switch t {
	case models.JobTypeShort:
		return 6
	case models.JobTypeLong:
		return 20
	}
	return 8
}

// GenerateScript asks the chat model for a scene-by-scene narration plan in JSON mode.
func (s *OpenAIService) GenerateScript(ctx context.Context, req ScriptRequest) (*Script, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("topic is required to generate a script")
	}
	if req.SceneCount <= 0 {
		req.SceneCount = DefaultSceneCount(req.Type)
	}
	if req.Language == "" {
		req.Language = "en"
	}
	if req.Orientation == "" {
		req.Orientation = req.Type.DefaultOrientation()
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.scriptModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildScriptSystemPrompt(req),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Create the video script for: %q", req.Topic),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	script, err := parseScript(resp.Choices[0].Message.Content, req.Orientation)
	if err != nil {
		return nil, err
	}

	if len(script.Scenes) < req.SceneCount {
		log.Printf("[OpenAI script] Warning: generated %d scenes, requested %d; using generated scenes",
			len(script.Scenes), req.SceneCount)
	}
	log.Printf("[OpenAI script] Script generated: %d scenes, title=%q", len(script.Scenes), script.Title)

	return script, nil
}

// parseScript decodes the model output, drops scenes without narration and
// renumbers the rest 1..n.
func parseScript(raw string, orientation models.Orientation) (*Script, error) {
	const maxLogLen = 2000

	var script Script
	if err := json.Unmarshal([]byte(raw), &script); err != nil {
		log.Printf("[OpenAI script] parse failed: %v", err)
		log.Printf("[OpenAI script] raw response: %s", truncateString(raw, maxLogLen))
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	scenes := script.Scenes[:0]
	for _, scene := range script.Scenes {
		if strings.TrimSpace(scene.Text) == "" {
			continue
		}
		scene.Number = len(scenes) + 1
		scene.Orientation = orientation
		scenes = append(scenes, scene)
	}
	script.Scenes = scenes

	if len(script.Scenes) == 0 {
		log.Printf("[OpenAI script] raw response: %s", truncateString(raw, maxLogLen))
		return nil, fmt.Errorf("script has no scenes")
	}
	return &script, nil
}

func buildScriptSystemPrompt(req ScriptRequest) string {
	format := "vertical 9:16 short-form video (TikTok, Reels, Shorts)"
	if req.Orientation == models.OrientationHorizontal {
		format = "horizontal 16:9 long-form YouTube video"
	}

	return fmt.Sprintf(`You are a video scriptwriter creating a %s.

Requirements:
- Create exactly %d scenes that build one cohesive narrative: hook, journey, payoff.
- speaker_text is narration read aloud by a TTS voice. Write it in the %q language, conversational, short sentences, 2-3 sentences per scene.
- visual_description is a detailed English image prompt for the scene: subject, setting, lighting, composition for the %s frame.
- duration is the approximate spoken length of the scene in seconds (4-8).

Return ONLY valid JSON in this exact format:
{
  "title": "Video title",
  "description": "One-sentence description",
  "scenes": [
    {
      "scene_number": 1,
      "duration": 6,
      "speaker_text": "Narration for the scene",
      "visual_description": "What should be shown on screen"
    }
  ]
}`, format, req.SceneCount, req.Language, format)
}

// ---------------------------------------------------------------------------
// Whisper transcription, timed segments for captions
// ---------------------------------------------------------------------------

// Transcript is the timed text recognized in one narration file.
type Transcript struct {
	Text     string
	Language string
	Duration float64
	Segments []models.CaptionSegment
}

// Transcribe sends an audio file to Whisper and returns segment-level timestamps.
// An empty language lets Whisper detect it.
func (s *OpenAIService) Transcribe(ctx context.Context, audioPath, language string) (*Transcript, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	transcript := &Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		transcript.Segments = append(transcript.Segments, models.CaptionSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  text,
		})
	}

	if len(transcript.Segments) == 0 {
		return nil, fmt.Errorf("whisper returned no segments (text: %q)", truncateString(transcript.Text, 80))
	}

	log.Printf("[Whisper] Transcribed %d segments (duration: %.1fs, text: %q)",
		len(transcript.Segments), resp.Duration, truncateString(transcript.Text, 80))

	return transcript, nil
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
