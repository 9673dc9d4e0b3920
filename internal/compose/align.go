package compose

import (
	"log"
	"strings"

	"github.com/bobarin/scenecast/internal/models"
)

type AlignOutcome string

const (
	AlignKept        AlignOutcome = "kept"        // candidate text matched
	AlignRealigned   AlignOutcome = "realigned"   // a better caption was found elsewhere in the lookup
	AlignSynthesized AlignOutcome = "synthesized" // no caption existed, one was built from the text
	AlignMismatched  AlignOutcome = "mismatched"  // candidate kept although its text differs
	AlignNone        AlignOutcome = "none"        // nothing to show
)

// AlignInput describes one scene's caption candidate and the audio it must agree with.
type AlignInput struct {
	Scene            models.Scene
	Position         int // scene's position in the scene list
	Candidate        *models.CaptionAsset
	Audio            Match[*models.AudioAsset]
	AudioLookup      *Lookup[*models.AudioAsset]
	FallbackDuration float64 // seconds, used when neither audio nor scene carry a duration

	// Claimed holds caption positions bound to other scenes; the search skips them.
	Claimed map[int]bool
}

type Alignment struct {
	Caption  *models.CaptionAsset
	Outcome  AlignOutcome
	Position int // lookup position of a realigned caption, -1 otherwise
}

// AlignCaption checks that a caption candidate matches the text of its paired
// audio (or the scene narration). A mismatching candidate is replaced by the
// first caption in the lookup whose text matches; when no caption exists at
// all a single segment spanning the audio is synthesized.
func AlignCaption(in AlignInput, captions *Lookup[*models.CaptionAsset]) Alignment {
	audio := in.Audio.Asset
	expected := normalizeText(in.Scene.Text)
	if audio.Valid() && strings.TrimSpace(audio.Text) != "" {
		expected = normalizeText(audio.Text)
	}

	if in.Candidate.Valid() && (expected == "" || textMatches(in.Candidate.AssetText(), expected)) {
		return Alignment{Caption: in.Candidate, Outcome: AlignKept, Position: -1}
	}

	if expected != "" {
		if found, pos := searchCaption(in, captions, expected); found != nil {
			log.Printf("[Align] Scene %d: realigned caption to position %d (was %s)",
				in.Scene.Number, pos, describeCandidate(in.Candidate))
			return Alignment{Caption: found, Outcome: AlignRealigned, Position: pos}
		}
	}

	if in.Candidate.Valid() {
		log.Printf("[Align] Warning: scene %d caption text does not match its audio, keeping it (caption=%q)",
			in.Scene.Number, truncate(in.Candidate.AssetText(), 60))
		return Alignment{Caption: in.Candidate, Outcome: AlignMismatched, Position: -1}
	}

	text := strings.TrimSpace(in.Scene.Text)
	if audio.Valid() && strings.TrimSpace(audio.Text) != "" {
		text = strings.TrimSpace(audio.Text)
	}
	if text == "" {
		return Alignment{Outcome: AlignNone, Position: -1}
	}

	duration := in.FallbackDuration
	switch {
	case audio.Valid() && audio.Duration > 0:
		duration = audio.Duration
	case !audio.Valid() && in.Scene.Duration > 0:
		duration = in.Scene.Duration
	}

	log.Printf("[Align] Scene %d: no caption found, synthesized fallback [0, %.2f]", in.Scene.Number, duration)
	return Alignment{
		Caption: &models.CaptionAsset{
			Ref:        sceneRef(in.Scene, in.Position),
			Text:       text,
			Segments:   []models.CaptionSegment{{Start: 0, End: duration, Text: text}},
			Provenance: models.Provenance{Engine: "fallback", Fallback: true},
		},
		Outcome:  AlignSynthesized,
		Position: -1,
	}
}

// AlignAll aligns the caption of every scene in order. A caption bound by id
// or index, or already chosen for an earlier scene, is never handed to
// another scene.
func AlignAll(
	scenes []models.Scene,
	audio []Match[*models.AudioAsset],
	audioLookup *Lookup[*models.AudioAsset],
	candidates []Match[*models.CaptionAsset],
	captions *Lookup[*models.CaptionAsset],
	fallbackDuration func(models.Scene) float64,
) []Alignment {
	claimed := make(map[int]bool, len(scenes))
	for _, m := range candidates {
		if m.Found() && m.Rule.Confident() {
			claimed[m.Position] = true
		}
	}

	out := make([]Alignment, len(scenes))
	for i, scene := range scenes {
		cand := candidates[i]
		candidate := cand.Asset
		if cand.Found() && !cand.Rule.Confident() && claimed[cand.Position] {
			candidate = nil
		}

		out[i] = AlignCaption(AlignInput{
			Scene:            scene,
			Position:         i,
			Candidate:        candidate,
			Audio:            audio[i],
			AudioLookup:      audioLookup,
			FallbackDuration: fallbackDuration(scene),
			Claimed:          claimed,
		}, captions)

		switch out[i].Outcome {
		case AlignRealigned:
			if candidate != nil && cand.Rule.Confident() {
				delete(claimed, cand.Position)
			}
			claimed[out[i].Position] = true
		case AlignKept, AlignMismatched:
			claimed[cand.Position] = true
		}
	}
	return out
}

// searchCaption walks the lookup in priority order: the audio's own id and
// index, the scene's id and declared index, the scene position, then every entry.
func searchCaption(in AlignInput, captions *Lookup[*models.CaptionAsset], expected string) (*models.CaptionAsset, int) {
	if captions == nil {
		return nil, -1
	}

	try := func(c *models.CaptionAsset, pos int, ok bool) bool {
		return ok && c.Valid() && c != in.Candidate && !in.Claimed[pos] && textMatches(c.AssetText(), expected)
	}

	if audio := in.Audio.Asset; audio.Valid() {
		if c, pos, ok := captions.ByID(audio.Ref.ID); try(c, pos, ok) {
			return c, pos
		}
		idx, explicit := audio.Ref.ExplicitIndex()
		if !explicit && in.Audio.Position >= 0 {
			idx, explicit = in.AudioLookup.NormalizedIndex(in.Audio.Position), true
		}
		if explicit {
			if c, pos, ok := captions.ByIndex(idx); try(c, pos, ok) {
				return c, pos
			}
		}
	}

	if c, pos, ok := captions.ByID(in.Scene.ID); try(c, pos, ok) {
		return c, pos
	}
	if idx, ok := sceneRef(in.Scene, -1).ExplicitIndex(); ok {
		if c, pos, ok := captions.ByIndex(idx); try(c, pos, ok) {
			return c, pos
		}
	}
	if c, pos, ok := captions.ByIndex(in.Position); try(c, pos, ok) {
		return c, pos
	}

	for pos, c := range captions.Ordered {
		if try(c, pos, true) {
			return c, pos
		}
	}
	return nil, -1
}

// sceneRef builds the identity a scene would carry as an asset. A negative
// position leaves Index unset unless the scene declares one.
func sceneRef(scene models.Scene, position int) models.SceneRef {
	ref := models.SceneRef{ID: scene.ID, Index: scene.Index}
	if scene.Number >= 1 {
		n := scene.Number
		ref.Number = &n
	}
	if ref.Index == nil && ref.Number == nil && position >= 0 {
		p := position
		ref.Index = &p
	}
	return ref
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// textMatches compares normalized texts, tolerating truncation on either side.
func textMatches(candidate, expected string) bool {
	a := normalizeText(candidate)
	b := normalizeText(expected)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func describeCandidate(c *models.CaptionAsset) string {
	if !c.Valid() {
		return "missing"
	}
	return c.Ref.String()
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
