package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/scenecast/internal/compose"
	"github.com/bobarin/scenecast/internal/models"
	"github.com/bobarin/scenecast/internal/queue"
	"github.com/bobarin/scenecast/internal/services"
	"golang.org/x/sync/errgroup"
)

// Collaborators. Any of the generators may be nil; the pipeline then relies on
// what the request carries and substitutes silence, placeholders or captions
// built from the narration text.

type ScriptGenerator interface {
	GenerateScript(ctx context.Context, req services.ScriptRequest) (*services.Script, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, description string, orientation models.Orientation) (*services.GeneratedImage, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*services.Transcript, error)
}

type Encoder interface {
	RenderSegment(ctx context.Context, spec services.SegmentSpec) error
	GenerateSilence(ctx context.Context, seconds float64, outputPath string) error
	RenderPlaceholderImage(ctx context.Context, orientation models.Orientation, outputPath string) error
	ConcatenateSegments(ctx context.Context, segmentPaths []string, outputPath string) error
	ConcatenateWithMusic(ctx context.Context, segmentPaths []string, musicPath, outputPath string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
	HasVideoStream(ctx context.Context, path string) bool
}

type ArtifactStore interface {
	OutputPath(name string) string
	Publish(ctx context.Context, localPath string) (string, error)
	Fetch(ctx context.Context, src, dir string) (string, error)
	Local(path string, extra ...string) (string, error)
}

type Config struct {
	WorkDir                  string
	MusicDir                 string
	SynthesisConcurrency     int
	TranscriptionConcurrency int
	ComposeTimeout           time.Duration
	FallbackDuration         float64 // seconds
	WordsPerBurst            int
	Motion                   bool
	Strict                   bool
}

type Deps struct {
	Script      ScriptGenerator
	Images      ImageGenerator
	TTS         services.TTSService
	Transcriber Transcriber
	Encoder     Encoder
	Storage     ArtifactStore
}

// Pipeline turns one JobRequest into a finished video. It holds no per-job
// state; every Run builds its own sub-queues and work directory.
type Pipeline struct {
	cfg         Config
	script      ScriptGenerator
	images      ImageGenerator
	tts         services.TTSService
	transcriber Transcriber
	encoder     Encoder
	storage     ArtifactStore
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.SynthesisConcurrency <= 0 {
		cfg.SynthesisConcurrency = queue.DefaultSubQueueConcurrency
	}
	if cfg.TranscriptionConcurrency <= 0 {
		cfg.TranscriptionConcurrency = 1
	}
	if cfg.ComposeTimeout <= 0 {
		cfg.ComposeTimeout = 10 * time.Minute
	}
	if cfg.FallbackDuration <= 0 {
		cfg.FallbackDuration = 5
	}
	if cfg.WordsPerBurst <= 0 {
		cfg.WordsPerBurst = compose.DefaultWordsPerBurst
	}

	return &Pipeline{
		cfg:         cfg,
		script:      deps.Script,
		images:      deps.Images,
		tts:         deps.TTS,
		transcriber: deps.Transcriber,
		encoder:     deps.Encoder,
		storage:     deps.Storage,
	}
}

// Task adapts a request to the job queue.
func (p *Pipeline) Task(req models.JobRequest) queue.Task {
	return func(ctx context.Context, progress queue.ProgressFunc) (*models.JobResult, error) {
		return p.Run(ctx, req, progress)
	}
}

// job carries the per-run working state.
type job struct {
	req         models.JobRequest
	dir         string
	orientation models.Orientation
	language    string
	scenes      []models.Scene
	progress    queue.ProgressFunc
}

// Run executes the whole pipeline for req.
func (p *Pipeline) Run(ctx context.Context, req models.JobRequest, progress queue.ProgressFunc) (*models.JobResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	if !models.ValidJobID(req.ID) {
		return nil, fmt.Errorf("invalid job id %q", req.ID)
	}

	start := time.Now()
	if err := os.MkdirAll(p.cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(p.cfg.WorkDir, "job-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create job dir: %w", err)
	}
	defer os.RemoveAll(dir)

	j := &job{
		req:         req,
		dir:         dir,
		orientation: req.Orientation,
		progress:    progress,
	}
	if j.orientation == "" {
		j.orientation = req.Type.DefaultOrientation()
	}

	progress(5, "preparing scenes")
	scenes, err := p.prepareScenes(ctx, j)
	if err != nil {
		return nil, err
	}
	j.scenes = scenes

	j.language = req.Language
	if j.language == "" {
		j.language = services.DetectLanguage(joinedText(scenes), "en")
	}
	log.Printf("[Pipeline] Job %s: %d scenes, orientation=%s, language=%s", req.ID, len(scenes), j.orientation, j.language)

	// Narration and captions run alongside image preparation.
	var (
		audioResults   []*models.AudioAsset
		captionResults []*models.CaptionAsset
		images         []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		audioResults, err = p.collectAudio(gctx, j)
		if err != nil {
			return err
		}
		captionResults, err = p.collectCaptions(gctx, j, audioResults)
		return err
	})
	g.Go(func() error {
		var err error
		images, err = p.prepareImages(gctx, j)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	progress(60, "resolving assets")
	plans := p.planScenes(j, audioResults, captionResults)

	progress(65, "rendering segments")
	output := p.storage.OutputPath(fmt.Sprintf("%s-video-%s.mp4", req.Type, req.ID))
	composed, err := p.composeWithTimeout(ctx, j, plans, images, output)
	if err != nil {
		return nil, err
	}

	progress(95, "publishing")
	duration := composed
	if probed, err := p.encoder.ProbeDuration(ctx, output); err == nil && probed > 0 {
		duration = probed
	}

	videoURL, err := p.storage.Publish(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("failed to publish video: %w", err)
	}

	width, height := services.Resolution(j.orientation)
	log.Printf("[Pipeline] Job %s completed in %s (%.1fs video)", req.ID, time.Since(start).Round(time.Millisecond), duration)

	return &models.JobResult{
		VideoURL:    videoURL,
		Duration:    duration,
		ScenesCount: len(scenes),
		Resolution:  fmt.Sprintf("%dx%d", width, height),
		Status:      models.JobStatusCompleted,
	}, nil
}

// prepareScenes returns the request's scenes, or generates them from the topic.
// Numbers and orientation are filled in; the caller's slice is not modified.
func (p *Pipeline) prepareScenes(ctx context.Context, j *job) ([]models.Scene, error) {
	source := j.req.Scenes
	if len(source) == 0 {
		if p.script == nil || strings.TrimSpace(j.req.Topic) == "" {
			return nil, fmt.Errorf("job has no scenes and no topic to generate them from")
		}
		j.progress(5, "generating script")
		script, err := p.script.GenerateScript(ctx, services.ScriptRequest{
			Topic:       j.req.Topic,
			Type:        j.req.Type,
			Orientation: j.orientation,
			Language:    j.req.Language,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate script: %w", err)
		}
		source = script.Scenes
	}

	scenes := make([]models.Scene, len(source))
	for i, scene := range source {
		if scene.Number <= 0 {
			scene.Number = i + 1
		}
		if scene.Orientation == "" {
			scene.Orientation = j.orientation
		}
		scenes[i] = scene
	}
	return scenes, nil
}

// collectAudio returns the request's audio results or synthesizes narration
// through a bounded sub-queue. Results are recorded in completion order;
// failed calls leave a nil entry.
func (p *Pipeline) collectAudio(ctx context.Context, j *job) ([]*models.AudioAsset, error) {
	if len(j.req.AudioResults) > 0 {
		return j.req.AudioResults, nil
	}
	if p.tts == nil {
		log.Printf("[Pipeline] Warning: no speech synthesizer configured, scenes will be silent")
		return nil, nil
	}

	sq := queue.NewSubQueue[*models.AudioAsset]("synthesis", p.cfg.SynthesisConcurrency)

	var (
		mu      sync.Mutex
		results []*models.AudioAsset
		done    int
	)
	var handles []*queue.Handle[*models.AudioAsset]
	total := 0
	for _, scene := range j.scenes {
		if strings.TrimSpace(scene.Text) != "" {
			total++
		}
	}

	for _, scene := range j.scenes {
		if strings.TrimSpace(scene.Text) == "" {
			continue
		}
		scene := scene
		handles = append(handles, sq.Submit(ctx, func(ctx context.Context) (*models.AudioAsset, error) {
			asset, err := p.synthesize(ctx, j, scene)

			mu.Lock()
			if err != nil {
				log.Printf("[Pipeline] Warning: synthesis failed for scene %d: %v", scene.Number, err)
				results = append(results, nil)
			} else {
				results = append(results, asset)
			}
			done++
			j.progress(10+30*done/total, fmt.Sprintf("synthesizing audio %d/%d", done, total))
			mu.Unlock()

			return asset, err
		}))
	}

	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil && ctx.Err() != nil {
			sq.Clear()
			return nil, fmt.Errorf("synthesis interrupted: %w", ctx.Err())
		}
	}

	status := sq.Status()
	log.Printf("[Pipeline] Synthesis finished: %d ok, %d failed (peak concurrency %d)", status.Processed, status.Failed, status.PeakActive)

	mu.Lock()
	defer mu.Unlock()
	return results, nil
}

func (p *Pipeline) synthesize(ctx context.Context, j *job, scene models.Scene) (*models.AudioAsset, error) {
	resp, err := p.tts.GenerateSpeech(ctx, scene.Text, services.SpeechOptions{
		Voice:    j.req.Voice,
		Language: j.language,
	})
	if err != nil {
		return nil, err
	}

	format := resp.Format
	if format == "" {
		format = "mp3"
	}
	path := filepath.Join(j.dir, fmt.Sprintf("audio_%03d.%s", scene.Number, format))
	if err := os.WriteFile(path, resp.AudioData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}

	duration := float64(resp.DurationMs) / 1000
	if probed, err := p.encoder.ProbeDuration(ctx, path); err == nil && probed > 0 {
		duration = probed
	}

	number := scene.Number
	return &models.AudioAsset{
		Ref:      models.SceneRef{ID: scene.ID, Index: scene.Index, Number: &number},
		URL:      path,
		Text:     scene.Text,
		Duration: duration,
		Provenance: models.Provenance{
			Engine: resp.Engine,
			Voice:  resp.Voice,
		},
	}, nil
}

// collectCaptions returns the request's caption results or transcribes each
// produced narration file through its own single-slot sub-queue.
func (p *Pipeline) collectCaptions(ctx context.Context, j *job, audio []*models.AudioAsset) ([]*models.CaptionAsset, error) {
	if len(j.req.CaptionResults) > 0 {
		return j.req.CaptionResults, nil
	}
	if p.transcriber == nil || len(audio) == 0 {
		return nil, nil
	}

	j.progress(40, "transcribing audio")
	sq := queue.NewSubQueue[*models.CaptionAsset]("transcription", p.cfg.TranscriptionConcurrency)

	var (
		mu      sync.Mutex
		results []*models.CaptionAsset
	)
	var handles []*queue.Handle[*models.CaptionAsset]

	for _, a := range audio {
		if !a.Valid() {
			continue
		}
		a := a
		handles = append(handles, sq.Submit(ctx, func(ctx context.Context) (*models.CaptionAsset, error) {
			local, err := p.storage.Fetch(ctx, a.URL, j.dir)
			if err != nil {
				return nil, err
			}
			transcript, err := p.transcriber.Transcribe(ctx, local, j.language)
			if err != nil {
				log.Printf("[Pipeline] Warning: transcription failed for %s: %v", a.Ref, err)
				return nil, err
			}

			caption := &models.CaptionAsset{
				Ref:        a.Ref,
				Text:       a.Text,
				Segments:   transcript.Segments,
				Provenance: models.Provenance{Engine: "whisper"},
			}
			mu.Lock()
			results = append(results, caption)
			mu.Unlock()
			return caption, nil
		}))
	}

	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil && ctx.Err() != nil {
			sq.Clear()
			return nil, fmt.Errorf("transcription interrupted: %w", ctx.Err())
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return results, nil
}

// prepareImages returns one local image path per scene. Scene images are
// fetched, missing ones generated, and failures replaced by a placeholder frame.
func (p *Pipeline) prepareImages(ctx context.Context, j *job) ([]string, error) {
	paths := make([]string, len(j.scenes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, scene := range j.scenes {
		i, scene := i, scene
		g.Go(func() error {
			paths[i] = p.sceneImage(gctx, j, i, scene)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("image preparation interrupted: %w", err)
	}
	return paths, nil
}

func (p *Pipeline) sceneImage(ctx context.Context, j *job, position int, scene models.Scene) string {
	if scene.ImageURL != "" {
		path, err := p.storage.Fetch(ctx, scene.ImageURL, j.dir)
		if err == nil {
			return path
		}
		log.Printf("[Pipeline] Warning: scene %d image unavailable, regenerating: %v", scene.Number, err)
	}

	if p.images != nil && strings.TrimSpace(scene.VisualDescription) != "" {
		img, err := p.images.GenerateImage(ctx, scene.VisualDescription, j.orientation)
		if err == nil {
			path := filepath.Join(j.dir, fmt.Sprintf("image_%03d%s", position, img.Extension()))
			if err := os.WriteFile(path, img.Data, 0644); err == nil {
				return path
			}
		} else {
			log.Printf("[Pipeline] Warning: image generation failed for scene %d: %v", scene.Number, err)
		}
	}

	// The placeholder is rendered lazily by the segment builder.
	return ""
}

// composeWithTimeout renders the segments and the final video under the
// compose timeout. When the deadline hits after the encoder already wrote a
// valid output, the job still succeeds.
func (p *Pipeline) composeWithTimeout(ctx context.Context, j *job, plans []scenePlan, images []string, output string) (float64, error) {
	composeCtx, cancel := context.WithTimeout(ctx, p.cfg.ComposeTimeout)
	defer cancel()

	duration, err := p.compose(composeCtx, j, plans, images, output)
	if err == nil {
		return duration, nil
	}

	if errors.Is(composeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if _, statErr := os.Stat(output); statErr == nil && p.encoder.HasVideoStream(ctx, output) {
			log.Printf("[Pipeline] Warning: composition timed out after %s but %s is a valid video, keeping it",
				p.cfg.ComposeTimeout, filepath.Base(output))
			return duration, nil
		}
		return 0, fmt.Errorf("composition timed out after %s: %w", p.cfg.ComposeTimeout, err)
	}
	return 0, err
}

func (p *Pipeline) compose(ctx context.Context, j *job, plans []scenePlan, images []string, output string) (float64, error) {
	segments := make([]string, 0, len(plans))
	var total float64

	for i, plan := range plans {
		path, duration, err := p.buildSegment(ctx, j, plan, images[i])
		if err != nil {
			return total, fmt.Errorf("scene %d: %w", plan.scene.Number, err)
		}
		segments = append(segments, path)
		total += duration
		j.progress(65+25*(i+1)/len(plans), fmt.Sprintf("rendered segment %d/%d", i+1, len(plans)))
	}

	j.progress(90, "concatenating")
	if err := p.concatenate(ctx, j, segments, output); err != nil {
		return total, err
	}
	return total, nil
}

func joinedText(scenes []models.Scene) string {
	parts := make([]string, 0, len(scenes))
	for _, s := range scenes {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}
