package services

import (
	"fmt"
	"os"
	"strings"

	"github.com/bobarin/scenecast/internal/models"
)

// ---------------------------------------------------------------------------
// ASS Subtitle Writer
//
// Captions are already split into short bursts by the caller; each burst
// becomes one Dialogue line, bottom-centered. Short-form videos get an opaque
// box behind the text by default, long-form videos only an outline.
// ---------------------------------------------------------------------------

const (
	// Must match a font installed in the Docker image.
	defaultSubtitleFont = "Noto Sans"

	defaultPrimaryColor = "#FFFFFF"
	defaultOutlineColor = "#000000"
	defaultBoxColor     = "#000000"

	// Box background is drawn at ~40% transparency
	boxAlpha = "60"
)

// ResolveSubtitleStyle fills unset fields of style with the defaults for the
// job type and orientation.
func ResolveSubtitleStyle(style *models.SubtitleStyle, jobType models.JobType, orientation models.Orientation) models.SubtitleStyle {
	var out models.SubtitleStyle
	if style != nil {
		out = *style
	}

	if out.FontName == "" {
		out.FontName = defaultSubtitleFont
	}
	if out.FontSize <= 0 {
		// Scaled to the canvas height
		_, height := Resolution(orientation)
		out.FontSize = height / 24
	}
	if out.PrimaryColor == "" {
		out.PrimaryColor = defaultPrimaryColor
	}
	if out.OutlineColor == "" {
		out.OutlineColor = defaultOutlineColor
	}
	if out.BoxColor == "" {
		out.BoxColor = defaultBoxColor
	}
	if out.Box == nil {
		box := jobType == models.JobTypeShort
		out.Box = &box
	}
	return out
}

// WriteASS writes segments as an ASS subtitle file sized for orientation.
// style should come from ResolveSubtitleStyle.
func WriteASS(segments []models.CaptionSegment, style models.SubtitleStyle, orientation models.Orientation, outputPath string) error {
	if len(segments) == 0 {
		return fmt.Errorf("no caption segments to write")
	}

	width, height := Resolution(orientation)

	borderStyle, outline, shadow := 1, 3, 0
	backColour := "&H80000000"
	if style.Box != nil && *style.Box {
		// BorderStyle 3 draws an opaque box using OutlineColour
		borderStyle, outline = 3, 12
	}

	outlineColour := assColor(style.OutlineColor, "00")
	if borderStyle == 3 {
		outlineColour = assColor(style.BoxColor, boxAlpha)
		backColour = assColor(style.BoxColor, boxAlpha)
	}

	var sb strings.Builder

	// Script header
	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", height)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	// Style definitions
	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&sb,
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,0,0,%d,%d,%d,2,60,60,%d,1\n",
		style.FontName, style.FontSize,
		assColor(style.PrimaryColor, "00"), // PrimaryColour (text)
		assColor(style.PrimaryColor, "00"), // SecondaryColour
		outlineColour,
		backColour,
		borderStyle, outline, shadow,
		height/8, // MarginV (distance from bottom)
	)
	sb.WriteString("\n")

	// Events (dialogue lines)
	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, seg := range segments {
		text := escapeASSText(strings.TrimSpace(seg.Text))
		if text == "" || seg.End <= seg.Start {
			continue
		}
		fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(seg.Start), formatASSTime(seg.End), text)
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write ASS subtitle file: %w", err)
	}

	return nil
}

// assColor converts #RRGGBB to ASS &HAABBGGRR (note: BGR, alpha 00 = opaque).
// Values already in ASS form are passed through; anything unparsable becomes white.
func assColor(hex, alpha string) string {
	if strings.HasPrefix(strings.ToUpper(hex), "&H") {
		return strings.ToUpper(hex)
	}
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) != 6 {
		h = "FFFFFF"
	}
	h = strings.ToUpper(h)
	return fmt.Sprintf("&H%s%s%s%s", alpha, h[4:6], h[2:4], h[0:2])
}

// escapeASSText keeps caption text from opening override blocks or breaking lines.
func escapeASSText(text string) string {
	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, "{", "(")
	text = strings.ReplaceAll(text, "}", ")")
	text = strings.ReplaceAll(text, "\n", "\\N")
	return text
}

// formatASSTime converts seconds to ASS timestamp format: H:MM:SS.CC (centiseconds)
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	centiseconds := int((seconds - float64(int(seconds))) * 100)

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
