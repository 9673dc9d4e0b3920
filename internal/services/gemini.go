package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/dustin/go-humanize"
	"google.golang.org/genai"
)

const defaultImageModel = "imagen-4.0-generate-001"

// GeminiService generates scene stills through the Gemini API image models.
type GeminiService struct {
	client *genai.Client
	model  string
}

func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	if model == "" {
		model = defaultImageModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiService{client: client, model: model}, nil
}

// GeneratedImage is one encoded still.
type GeneratedImage struct {
	Data     []byte
	MIMEType string
}

// Extension returns the file extension matching the MIME type.
func (g *GeneratedImage) Extension() string {
	switch g.MIMEType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".png"
}

// GenerateImage renders a still for a scene's visual description, framed for the orientation.
func (s *GeminiService) GenerateImage(ctx context.Context, description string, orientation models.Orientation) (*GeneratedImage, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("visual description is empty")
	}

	aspectRatio := "9:16"
	if orientation == models.OrientationHorizontal {
		aspectRatio = "16:9"
	}

	config := &genai.GenerateImagesConfig{
		NumberOfImages:   1,
		AspectRatio:      aspectRatio,
		PersonGeneration: "allow_adult",
		OutputMIMEType:   "image/png",
	}

	log.Printf("[Gemini] Generating image (model=%s, aspect=%s, promptLen=%d)", s.model, aspectRatio, len(description))

	resp, err := s.client.Models.GenerateImages(ctx, s.model, composeImagePrompt(description), config)
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	if len(resp.GeneratedImages) == 0 {
		return nil, fmt.Errorf("no images in response")
	}

	generated := resp.GeneratedImages[0]
	if generated.RAIFilteredReason != "" {
		return nil, fmt.Errorf("image blocked by safety filters: %s", generated.RAIFilteredReason)
	}
	if generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
		return nil, fmt.Errorf("generated image is empty")
	}

	mimeType := generated.Image.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	log.Printf("[Gemini] Image generated (%s, %s)", humanize.Bytes(uint64(len(generated.Image.ImageBytes))), mimeType)

	return &GeneratedImage{Data: generated.Image.ImageBytes, MIMEType: mimeType}, nil
}

func composeImagePrompt(description string) string {
	return fmt.Sprintf(`%s

Cinematic, high detail, natural lighting. Leave the lower third uncluttered for captions. No text, logos or watermarks in the image.`, strings.TrimSpace(description))
}
