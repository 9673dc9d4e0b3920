package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/bobarin/scenecast/internal/queue"
	"github.com/bobarin/scenecast/internal/services"
	"github.com/bobarin/scenecast/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder writes each artifact's duration into the file so durations can
// be checked end to end without ffmpeg.
type fakeEncoder struct {
	mu        sync.Mutex
	segments  []services.SegmentSpec
	music     string
	mixErr    error
	hangAfter bool // concatenation writes its output, then waits for the deadline
	skipWrite bool // with hangAfter: never write the output
}

func writeSeconds(path string, seconds float64) error {
	return os.WriteFile(path, []byte(strconv.FormatFloat(seconds, 'f', 3, 64)), 0644)
}

func (e *fakeEncoder) RenderSegment(_ context.Context, spec services.SegmentSpec) error {
	e.mu.Lock()
	e.segments = append(e.segments, spec)
	e.mu.Unlock()
	return writeSeconds(spec.OutputPath, spec.Duration)
}

func (e *fakeEncoder) GenerateSilence(_ context.Context, seconds float64, out string) error {
	return writeSeconds(out, seconds)
}

func (e *fakeEncoder) RenderPlaceholderImage(_ context.Context, _ models.Orientation, out string) error {
	return os.WriteFile(out, []byte("placeholder"), 0644)
}

func (e *fakeEncoder) ConcatenateSegments(ctx context.Context, paths []string, out string) error {
	var total float64
	for _, p := range paths {
		d, err := e.ProbeDuration(ctx, p)
		if err != nil {
			return err
		}
		total += d
	}
	if !e.skipWrite {
		if err := writeSeconds(out, total); err != nil {
			return err
		}
	}
	if e.hangAfter {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (e *fakeEncoder) ConcatenateWithMusic(ctx context.Context, paths []string, music, out string) error {
	if e.mixErr != nil {
		return e.mixErr
	}
	e.mu.Lock()
	e.music = music
	e.mu.Unlock()
	return e.ConcatenateSegments(ctx, paths, out)
}

func (e *fakeEncoder) ProbeDuration(_ context.Context, path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
}

func (e *fakeEncoder) HasVideoStream(_ context.Context, path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (e *fakeEncoder) recorded() []services.SegmentSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]services.SegmentSpec(nil), e.segments...)
}

// fakeTTS answers in reverse scene order and reports the scene number as its duration.
type fakeTTS struct {
	fail    map[string]bool
	current atomic.Int32
	peak    atomic.Int32
}

func (f *fakeTTS) GenerateSpeech(ctx context.Context, text string, _ services.SpeechOptions) (*services.TTSResponse, error) {
	now := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		old := f.peak.Load()
		if now <= old || f.peak.CompareAndSwap(old, now) {
			break
		}
	}

	if f.fail[text] {
		return nil, errors.New("voice unavailable")
	}

	// "Scene 3 ..." sleeps least, so completion order is reversed
	n, _ := strconv.Atoi(strings.Fields(text)[1])
	time.Sleep(time.Duration(5-n) * 15 * time.Millisecond)

	return &services.TTSResponse{
		AudioData: []byte(fmt.Sprintf("%d", n)),
		Format:    "mp3",
		Engine:    "fake",
	}, nil
}

type fakeTranscriber struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path, _ string) (*services.Transcript, error) {
	now := f.current.Add(1)
	defer f.current.Add(-1)
	if now > f.peak.Load() {
		f.peak.Store(now)
	}
	time.Sleep(5 * time.Millisecond)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, _ := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	return &services.Transcript{Segments: []models.CaptionSegment{{Start: 0, End: d, Text: "transcribed words here"}}}, nil
}

type fakeScript struct{}

func (fakeScript) GenerateScript(_ context.Context, req services.ScriptRequest) (*services.Script, error) {
	return &services.Script{Title: req.Topic, Scenes: []models.Scene{
		{Text: "First generated line.", Duration: 3},
		{Text: "Second generated line.", Duration: 2},
	}}, nil
}

func newTestPipeline(t *testing.T, cfg Config, deps Deps) (*Pipeline, *fakeEncoder) {
	t.Helper()
	enc, ok := deps.Encoder.(*fakeEncoder)
	if !ok {
		enc = &fakeEncoder{}
		deps.Encoder = enc
	}
	if deps.Storage == nil {
		store, err := storage.New(storage.Options{OutputDir: t.TempDir(), InputDirs: []string{os.TempDir()}})
		require.NoError(t, err)
		deps.Storage = store
	}
	cfg.WorkDir = t.TempDir()
	return New(cfg, deps), enc
}

func threeScenes() []models.Scene {
	return []models.Scene{
		{Number: 1, Text: "Scene 1 opens the story.", Duration: 4},
		{Number: 2, Text: "Scene 2 builds the tension.", Duration: 4},
		{Number: 3, Text: "Scene 3 resolves it.", Duration: 4},
	}
}

func fourSecondAudio(t *testing.T, scenes []models.Scene) []*models.AudioAsset {
	t.Helper()
	dir := t.TempDir()
	var out []*models.AudioAsset
	for _, s := range scenes {
		n := s.Number
		path := filepath.Join(dir, fmt.Sprintf("narration_%d.mp3", n))
		require.NoError(t, writeSeconds(path, 4))
		out = append(out, &models.AudioAsset{Ref: models.SceneRef{Number: &n}, URL: path, Text: s.Text, Duration: 4})
	}
	return out
}

func TestPipeline_ThreeScenesOfFourSeconds(t *testing.T) {
	musicDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(musicDir, "calm.mp3"), []byte("music"), 0644))

	tests := []struct {
		name      string
		music     string
		mixErr    error
		wantMusic string
	}{
		{name: "no background track"},
		{name: "background track by name", music: "calm.mp3", wantMusic: filepath.Join(musicDir, "calm.mp3")},
		{name: "unresolvable track", music: "missing.mp3"},
		{name: "failed mix falls back", music: "calm.mp3", mixErr: errors.New("amix exploded")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := &fakeEncoder{mixErr: tt.mixErr}
			p, _ := newTestPipeline(t, Config{MusicDir: musicDir, Motion: true}, Deps{Encoder: enc})

			scenes := threeScenes()
			req := models.JobRequest{
				ID:              "job-e2e",
				Type:            models.JobTypeShort,
				Scenes:          scenes,
				AudioResults:    fourSecondAudio(t, scenes),
				BackgroundMusic: tt.music,
			}

			result, err := p.Run(context.Background(), req, nil)
			require.NoError(t, err)

			assert.InDelta(t, 12.0, result.Duration, 1e-6)
			assert.Equal(t, 3, result.ScenesCount)
			assert.Equal(t, "1080x1920", result.Resolution)
			assert.Equal(t, models.JobStatusCompleted, result.Status)
			assert.Equal(t, "/v1/videos/files/short-video-job-e2e.mp4", result.VideoURL)
			assert.Equal(t, tt.wantMusic, enc.music)

			segments := enc.recorded()
			require.Len(t, segments, 3)
			for i, seg := range segments {
				assert.InDelta(t, 4.0, seg.Duration, 1e-6)
				assert.NotEmpty(t, seg.SubtitlePath, "fallback captions are burned in")
				assert.Equal(t, services.MotionForScene(i), seg.Motion)
			}
		})
	}
}

func TestPipeline_SynthesisOutOfOrderStillMatchesScenes(t *testing.T) {
	tts := &fakeTTS{}
	tr := &fakeTranscriber{}
	p, enc := newTestPipeline(t, Config{SynthesisConcurrency: 2}, Deps{TTS: tts, Transcriber: tr})

	var steps []int
	var mu sync.Mutex
	progress := func(pct int, _ string) {
		mu.Lock()
		steps = append(steps, pct)
		mu.Unlock()
	}

	result, err := p.Run(context.Background(), models.JobRequest{
		ID:       "job-synth",
		Type:     models.JobTypeLong,
		Language: "en",
		Scenes:   threeScenes(),
	}, progress)
	require.NoError(t, err)

	segments := enc.recorded()
	require.Len(t, segments, 3)
	for i, seg := range segments {
		// Scene n narration lasts n seconds regardless of completion order
		assert.InDelta(t, float64(i+1), seg.Duration, 1e-6, "scene %d", i+1)
		assert.Equal(t, fmt.Sprintf("audio_%03d.mp3", i+1), filepath.Base(seg.AudioPath))
		assert.NotEmpty(t, seg.SubtitlePath)
	}
	assert.InDelta(t, 6.0, result.Duration, 1e-6)
	assert.Equal(t, "1920x1080", result.Resolution)

	assert.LessOrEqual(t, tts.peak.Load(), int32(2))
	assert.Equal(t, int32(1), tr.peak.Load())
	assert.NotEmpty(t, steps)
}

func TestPipeline_FailedSynthesisBecomesSilence(t *testing.T) {
	scenes := threeScenes()
	scenes[1].Duration = 0
	tts := &fakeTTS{fail: map[string]bool{scenes[1].Text: true}}
	p, enc := newTestPipeline(t, Config{FallbackDuration: 2.5}, Deps{TTS: tts})

	result, err := p.Run(context.Background(), models.JobRequest{ID: "job-silence", Type: models.JobTypeShort, Language: "en", Scenes: scenes}, nil)
	require.NoError(t, err)

	segments := enc.recorded()
	require.Len(t, segments, 3)
	assert.Equal(t, "silence_001.m4a", filepath.Base(segments[1].AudioPath))
	assert.InDelta(t, 2.5, segments[1].Duration, 1e-6)
	assert.InDelta(t, 1+2.5+3, result.Duration, 1e-6)
}

func TestPipeline_GeneratesScriptFromTopic(t *testing.T) {
	p, enc := newTestPipeline(t, Config{}, Deps{Script: fakeScript{}})

	result, err := p.Run(context.Background(), models.JobRequest{ID: "job-topic", Type: models.JobTypeCustom, Topic: "tides"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ScenesCount)
	assert.InDelta(t, 5.0, result.Duration, 1e-6)
	segments := enc.recorded()
	require.Len(t, segments, 2)
	assert.Contains(t, filepath.Base(segments[0].ImagePath), "placeholder")
}

func TestPipeline_NoScenesNoTopic(t *testing.T) {
	p, _ := newTestPipeline(t, Config{}, Deps{Script: fakeScript{}})
	_, err := p.Run(context.Background(), models.JobRequest{ID: "job-empty", Type: models.JobTypeShort}, nil)
	assert.Error(t, err)
}

func TestPipeline_RejectsUnsafeJobID(t *testing.T) {
	root := t.TempDir()
	victim := filepath.Join(root, "victim")
	require.NoError(t, os.MkdirAll(victim, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(victim, "keep.txt"), []byte("x"), 0644))

	out, err := storage.New(storage.Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	p := New(Config{WorkDir: filepath.Join(root, "work")}, Deps{Encoder: &fakeEncoder{}, Storage: out})

	for _, id := range []string{"x/../../victim", "../victim", "", "a b"} {
		_, err := p.Run(context.Background(), models.JobRequest{ID: id, Type: models.JobTypeShort, Scenes: threeScenes()}, nil)
		assert.Error(t, err, "id %q", id)
	}
	assert.FileExists(t, filepath.Join(victim, "keep.txt"))
}

func TestPipeline_JobDirRemoved(t *testing.T) {
	p, _ := newTestPipeline(t, Config{}, Deps{})
	scenes := threeScenes()

	_, err := p.Run(context.Background(), models.JobRequest{
		ID: "job-cleanup", Type: models.JobTypeShort, Scenes: scenes, AudioResults: fourSecondAudio(t, scenes),
	}, nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(p.cfg.WorkDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "job-"), "leftover %s", e.Name())
	}
}

func TestPipeline_LocalInputsOutsideAllowedDirsAreIgnored(t *testing.T) {
	allowed := t.TempDir()
	out, err := storage.New(storage.Options{OutputDir: t.TempDir(), InputDirs: []string{allowed}})
	require.NoError(t, err)
	p, enc := newTestPipeline(t, Config{}, Deps{Storage: out})

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.png")
	require.NoError(t, os.WriteFile(secret, []byte("not for you"), 0644))
	track := filepath.Join(outside, "bed.mp3")
	require.NoError(t, writeSeconds(track, 2))

	scenes := threeScenes()
	scenes[0].ImageURL = secret
	audio := fourSecondAudio(t, scenes)
	inside := filepath.Join(allowed, "narration_3.mp3")
	require.NoError(t, writeSeconds(inside, 4))
	audio[2].URL = inside

	result, err := p.Run(context.Background(), models.JobRequest{
		ID: "job-confined", Type: models.JobTypeShort, Scenes: scenes, AudioResults: audio, BackgroundMusic: track,
	}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, result.Duration, 1e-6)

	segments := enc.recorded()
	require.Len(t, segments, 3)
	assert.NotEqual(t, secret, segments[0].ImagePath)
	assert.Equal(t, "silence_000.m4a", filepath.Base(segments[0].AudioPath))
	assert.Equal(t, "silence_001.m4a", filepath.Base(segments[1].AudioPath))
	assert.Equal(t, inside, segments[2].AudioPath)
	assert.Empty(t, enc.music, "music outside the allowed dirs is not mixed in")
}

func TestPipeline_ComposeTimeoutReconciliation(t *testing.T) {
	t.Run("valid output survives the deadline", func(t *testing.T) {
		enc := &fakeEncoder{hangAfter: true}
		p, _ := newTestPipeline(t, Config{ComposeTimeout: 100 * time.Millisecond}, Deps{Encoder: enc})

		scenes := threeScenes()
		result, err := p.Run(context.Background(), models.JobRequest{
			ID: "job-slow", Type: models.JobTypeShort, Scenes: scenes, AudioResults: fourSecondAudio(t, scenes),
		}, nil)
		require.NoError(t, err)
		assert.InDelta(t, 12.0, result.Duration, 1e-6)
	})

	t.Run("missing output fails", func(t *testing.T) {
		enc := &fakeEncoder{hangAfter: true, skipWrite: true}
		p, _ := newTestPipeline(t, Config{ComposeTimeout: 100 * time.Millisecond}, Deps{Encoder: enc})

		scenes := threeScenes()
		_, err := p.Run(context.Background(), models.JobRequest{
			ID: "job-stuck", Type: models.JobTypeShort, Scenes: scenes, AudioResults: fourSecondAudio(t, scenes),
		}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})
}

func TestPipeline_RunsThroughJobQueue(t *testing.T) {
	p, _ := newTestPipeline(t, Config{}, Deps{})
	q := queue.NewJobQueue(queue.Options{})

	scenes := threeScenes()
	req := models.JobRequest{ID: "job-queued", Type: models.JobTypeShort, Scenes: scenes, AudioResults: fourSecondAudio(t, scenes)}
	h, err := q.Submit(queue.JobSpec{ID: req.ID, Type: req.Type}, p.Task(req))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, result.Duration, 1e-6)

	history := q.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, models.JobStatusCompleted, history[0].Status)
}
