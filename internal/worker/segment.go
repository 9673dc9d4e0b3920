package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/bobarin/scenecast/internal/compose"
	"github.com/bobarin/scenecast/internal/models"
	"github.com/bobarin/scenecast/internal/services"
)

// scenePlan is everything the segment builder needs for one scene.
type scenePlan struct {
	position int
	scene    models.Scene
	audio    compose.Match[*models.AudioAsset]
	caption  compose.Alignment
}

// planScenes binds audio and captions to scenes and validates each caption
// against the narration it will be shown with.
func (p *Pipeline) planScenes(j *job, audio []*models.AudioAsset, captions []*models.CaptionAsset) []scenePlan {
	opts := compose.ResolveOptions{Strict: p.cfg.Strict}

	audioLookup := compose.BuildLookup("audio", audio)
	captionLookup := compose.BuildLookup("caption", captions)

	audioMatches := compose.ResolveAll(j.scenes, audioLookup, opts)
	captionMatches := compose.ResolveAll(j.scenes, captionLookup, opts)
	alignments := compose.AlignAll(j.scenes, audioMatches, audioLookup, captionMatches, captionLookup, p.sceneDuration)

	plans := make([]scenePlan, len(j.scenes))
	for i, scene := range j.scenes {
		if audioMatches[i].Found() && !audioMatches[i].Rule.Confident() {
			log.Printf("[Pipeline] Scene %d audio bound by %s", scene.Number, audioMatches[i].Rule)
		}

		plans[i] = scenePlan{
			position: i,
			scene:    scene,
			audio:    audioMatches[i],
			caption:  alignments[i],
		}
	}
	return plans
}

// sceneDuration is the length a scene without narration gets.
func (p *Pipeline) sceneDuration(scene models.Scene) float64 {
	if scene.Duration > 0 {
		return scene.Duration
	}
	return p.cfg.FallbackDuration
}

// buildSegment renders one scene and returns the segment path and its length.
func (p *Pipeline) buildSegment(ctx context.Context, j *job, plan scenePlan, imagePath string) (string, float64, error) {
	n := plan.scene.Number
	duration := p.sceneDuration(plan.scene)

	audioPath := ""
	if audio := plan.audio.Asset; plan.audio.Found() {
		local, err := p.storage.Fetch(ctx, audio.URL, j.dir)
		if err != nil {
			log.Printf("[Pipeline] Warning: scene %d audio unavailable, using silence: %v", n, err)
		} else {
			audioPath = local
			switch {
			case audio.Duration > 0:
				duration = audio.Duration
			default:
				if probed, err := p.encoder.ProbeDuration(ctx, local); err == nil && probed > 0 {
					duration = probed
				}
			}
		}
	}

	if audioPath == "" {
		audioPath = filepath.Join(j.dir, fmt.Sprintf("silence_%03d.m4a", plan.position))
		if err := p.encoder.GenerateSilence(ctx, duration, audioPath); err != nil {
			return "", 0, fmt.Errorf("failed to generate silence: %w", err)
		}
	}

	if imagePath == "" {
		imagePath = filepath.Join(j.dir, fmt.Sprintf("placeholder_%03d.png", plan.position))
		if err := p.encoder.RenderPlaceholderImage(ctx, j.orientation, imagePath); err != nil {
			return "", 0, fmt.Errorf("failed to render placeholder image: %w", err)
		}
	}

	subtitlePath := ""
	if caption := plan.caption.Caption; caption.Valid() {
		bursts := compose.ClampCaptions(compose.ChunkCaptions(caption.Segments, p.cfg.WordsPerBurst), duration)
		if len(bursts) > 0 {
			style := services.ResolveSubtitleStyle(j.req.SubtitleStyle, j.req.Type, j.orientation)
			subtitlePath = filepath.Join(j.dir, fmt.Sprintf("captions_%03d.ass", plan.position))
			if err := services.WriteASS(bursts, style, j.orientation, subtitlePath); err != nil {
				log.Printf("[Pipeline] Warning: scene %d captions skipped: %v", n, err)
				subtitlePath = ""
			}
		}
	}

	motion := services.MotionNone
	if p.cfg.Motion {
		motion = services.MotionForScene(plan.position)
	}

	segmentPath := filepath.Join(j.dir, fmt.Sprintf("segment_%03d.mp4", plan.position))
	err := p.encoder.RenderSegment(ctx, services.SegmentSpec{
		ImagePath:    imagePath,
		AudioPath:    audioPath,
		SubtitlePath: subtitlePath,
		OutputPath:   segmentPath,
		Duration:     duration,
		Orientation:  j.orientation,
		Motion:       motion,
	})
	if err != nil {
		return "", 0, err
	}

	log.Printf("[Pipeline] Scene %d segment ready (%.2fs, audio=%s, captions=%s)",
		n, duration, plan.audio.Rule, plan.caption.Outcome)
	return segmentPath, duration, nil
}

// concatenate joins segments into output, mixing the background track when
// one resolves. A missing track or a failed mix falls back to a plain join.
func (p *Pipeline) concatenate(ctx context.Context, j *job, segments []string, output string) error {
	if music := p.resolveMusic(j.req.BackgroundMusic); music != "" {
		err := p.encoder.ConcatenateWithMusic(ctx, segments, music, output)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		log.Printf("[Pipeline] Warning: background music mixing failed, using video without music: %v", err)
	}

	if err := p.encoder.ConcatenateSegments(ctx, segments, output); err != nil {
		return fmt.Errorf("failed to concatenate segments: %w", err)
	}
	return nil
}

// resolveMusic returns a readable path for the requested background track:
// the value itself when it is an allowed local file, else the same name
// under the music dir.
func (p *Pipeline) resolveMusic(name string) string {
	if name == "" {
		return ""
	}
	if local, err := p.storage.Local(name, p.cfg.MusicDir); err == nil {
		return local
	}
	if p.cfg.MusicDir != "" {
		candidate := filepath.Join(p.cfg.MusicDir, filepath.Base(name))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	log.Printf("[Pipeline] Warning: background music %q not found, continuing without it", name)
	return ""
}
