package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/google/uuid"
)

// Motion is the camera movement applied to a still image.
type Motion string

const (
	MotionNone    Motion = "none"
	MotionZoomIn  Motion = "zoom_in"  // Push toward center
	MotionZoomOut Motion = "zoom_out" // Start zoomed, pull back wide
)

// MotionForScene alternates zoom in / zoom out so consecutive scenes don't feel static.
func MotionForScene(position int) Motion {
	if position%2 == 0 {
		return MotionZoomIn
	}
	return MotionZoomOut
}

// Rendering constants. Every segment shares the same audio layout so the
// concat demuxer can stream-copy them.
const (
	videoFPS        = 30
	audioSampleRate = 44100
	audioChannels   = 2
	audioBitrate    = "192k"

	// Zoom range for the motion effect (1.0 → 1.15 or back)
	zoomRange = 0.15

	placeholderColor = "0x1a1a2e"
)

// Resolution returns the output frame size for an orientation.
func Resolution(o models.Orientation) (width, height int) {
	if o == models.OrientationHorizontal {
		return 1920, 1080
	}
	return 1080, 1920
}

// SegmentSpec describes one rendered scene segment.
type SegmentSpec struct {
	ImagePath    string
	AudioPath    string
	SubtitlePath string // optional ASS file burned into the frame
	OutputPath   string
	Duration     float64 // seconds; the segment is exactly this long
	Orientation  models.Orientation
	Motion       Motion
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir string
}

func NewFFmpegService(tempDir string) (*FFmpegService, error) {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &FFmpegService{
		tempDir: tempDir,
	}, nil
}

// RenderSegment renders a still image plus narration into a video segment of
// spec.Duration seconds. Audio shorter than the segment is padded with silence.
func (s *FFmpegService) RenderSegment(ctx context.Context, spec SegmentSpec) error {
	if spec.Duration <= 0 {
		return fmt.Errorf("segment duration must be positive, got %.3f", spec.Duration)
	}

	width, height := Resolution(spec.Orientation)
	vf := buildFrameFilter(spec.Motion, spec.Duration, width, height)

	// Append ASS subtitle burn-in if a subtitle file was generated
	if spec.SubtitlePath != "" {
		vf += fmt.Sprintf(",ass='%s'", escapeFFmpegFilterPath(spec.SubtitlePath))
	}
	vf += ",format=yuv420p"

	log.Printf("[FFmpeg] Rendering segment %s (%.2fs, %dx%d, motion=%s)",
		filepath.Base(spec.OutputPath), spec.Duration, width, height, spec.Motion)

	var args []string
	if spec.Motion == "" || spec.Motion == MotionNone {
		// Static frame: loop the image for the full duration
		args = append(args, "-loop", "1")
	}
	duration := fmt.Sprintf("%.3f", spec.Duration)
	args = append(args,
		"-i", spec.ImagePath, // Input 0: still image
		"-i", spec.AudioPath, // Input 1: narration
		"-vf", vf,
		"-af", "apad", // Pad short narration so the segment keeps its length
		"-map", "0:v",
		"-map", "1:a",
		"-t", duration,
		"-r", fmt.Sprintf("%d", videoFPS),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-ar", fmt.Sprintf("%d", audioSampleRate),
		"-ac", fmt.Sprintf("%d", audioChannels),
		"-b:a", audioBitrate,
		"-y",
		spec.OutputPath,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg render segment failed: %w", err)
	}

	return nil
}

// buildFrameFilter scales and crops the image to the output size and, for the
// zoom motions, animates it with zoompan. The image is pre-scaled to twice the
// output size so the zoom has resolution headroom.
func buildFrameFilter(motion Motion, duration float64, width, height int) string {
	if motion == "" || motion == MotionNone {
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1",
			width, height, width, height)
	}

	// One second of spare frames; -t trims to the exact length
	totalFrames := int(math.Ceil(duration*videoFPS)) + videoFPS

	var zExpr string
	switch motion {
	case MotionZoomOut:
		zExpr = fmt.Sprintf("%.2f-%.2f*on/%d", 1+zoomRange, zoomRange, totalFrames)
	default:
		zExpr = fmt.Sprintf("1.0+%.2f*on/%d", zoomRange, totalFrames)
	}

	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,"+
			"zoompan=z='%s':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d,setsar=1",
		width*2, height*2, width*2, height*2,
		zExpr, totalFrames, width, height, videoFPS,
	)
}

// escapeFFmpegFilterPath escapes special characters in file paths for FFmpeg filter syntax.
// FFmpeg filter strings treat colons, backslashes, and single quotes specially.
func escapeFFmpegFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

// GenerateSilence writes a silent AAC track of the given length.
func (s *FFmpegService) GenerateSilence(ctx context.Context, seconds float64, outputPath string) error {
	if seconds <= 0 {
		return fmt.Errorf("silence duration must be positive, got %.3f", seconds)
	}

	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", audioSampleRate),
		"-t", fmt.Sprintf("%.3f", seconds),
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg generate silence failed: %w", err)
	}

	return nil
}

// RenderPlaceholderImage writes a solid frame used when no image could be produced.
func (s *FFmpegService) RenderPlaceholderImage(ctx context.Context, orientation models.Orientation, outputPath string) error {
	width, height := Resolution(orientation)

	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d", placeholderColor, width, height),
		"-frames:v", "1",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg placeholder image failed: %w", err)
	}

	return nil
}

// ConcatenateSegments joins segments in order without re-encoding.
func (s *FFmpegService) ConcatenateSegments(ctx context.Context, segmentPaths []string, outputPath string) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("no segments to concatenate")
	}

	// Create a concat list file; unique per call since jobs share the temp dir
	listPath := s.CreateTempFile(fmt.Sprintf("concat_%s.txt", uuid.NewString()))
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer s.Cleanup(listPath)

	for _, path := range segmentPaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		// Write in FFmpeg concat format
		fmt.Fprintf(f, "file '%s'\n", strings.ReplaceAll(abs, "'", "'\\''"))
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy", // Copy without re-encoding
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}

	return nil
}

// ConcatenateWithMusic joins segments and mixes a looping background track
// underneath the narration. The video stream is copied.
func (s *FFmpegService) ConcatenateWithMusic(ctx context.Context, segmentPaths []string, musicPath, outputPath string) error {
	if _, err := os.Stat(musicPath); err != nil {
		return fmt.Errorf("background music unavailable: %w", err)
	}

	joined := s.CreateTempFile(fmt.Sprintf("joined_%s.mp4", uuid.NewString()))
	defer s.Cleanup(joined)

	if err := s.ConcatenateSegments(ctx, segmentPaths, joined); err != nil {
		return err
	}
	return s.MixBackgroundMusic(ctx, joined, musicPath, outputPath)
}

// MixBackgroundMusic mixes looping background music under the narration of
// videoPath. The music loops if shorter than the video and is cut when the
// video ends.
func (s *FFmpegService) MixBackgroundMusic(ctx context.Context, videoPath, musicPath, outputPath string) error {
	log.Printf("[FFmpeg] Mixing background music from %s", musicPath)

	// [0:a] narration at full volume, [1:a] music at 30%.
	// duration=first ends the mix with the narration.
	filterComplex := "[0:a]volume=1.0[narration];[1:a]volume=0.3[music];[narration][music]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[aout]"

	args := []string{
		"-i", videoPath, // Input 0: concatenated video with narration
		"-stream_loop", "-1", // Loop the music infinitely
		"-i", musicPath, // Input 1: background music
		"-filter_complex", filterComplex,
		"-map", "0:v", // Video from the concatenated file
		"-map", "[aout]", // Mixed audio output
		"-c:v", "copy",
		"-c:a", "aac",
		"-ar", fmt.Sprintf("%d", audioSampleRate),
		"-b:a", audioBitrate,
		"-shortest",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg mix background music failed: %w", err)
	}

	return nil
}

// ProbeDuration returns the container duration of a media file in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return durationSec, nil
}

// HasVideoStream reports whether path probes as a file with a video stream.
func (s *FFmpegService) HasVideoStream(ctx context.Context, path string) bool {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	}

	output, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "video"
}

// CreateTempFile returns a path in the service's temp directory
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}
