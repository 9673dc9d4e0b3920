package compose

import (
	"testing"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captionFor(ref models.SceneRef, text string) *models.CaptionAsset {
	return &models.CaptionAsset{
		Ref:      ref,
		Segments: []models.CaptionSegment{{Start: 0, End: 4, Text: text}},
	}
}

func TestAlignCaption_ShuffledCaptionsFollowTheirAudio(t *testing.T) {
	lines := []string{
		"Coffee was first brewed in Yemen.",
		"Traders carried it across the Red Sea.",
		"Within a century, Europe was hooked.",
	}
	scenes := numberedScenes(3)
	for i := range scenes {
		scenes[i].Text = lines[i]
	}

	audio := make([]*models.AudioAsset, 3)
	for i, line := range lines {
		audio[i] = audioAt(models.SceneRef{Index: intPtr(i)}, line)
	}
	// Captions come back in a different order and carry wrong indices
	captions := []*models.CaptionAsset{
		captionFor(models.SceneRef{Index: intPtr(0)}, lines[2]),
		captionFor(models.SceneRef{Index: intPtr(1)}, lines[0]),
		captionFor(models.SceneRef{Index: intPtr(2)}, lines[1]),
	}

	audioLookup := BuildLookup("audio", audio)
	captionLookup := BuildLookup("caption", captions)
	audioMatches := ResolveAll(scenes, audioLookup, ResolveOptions{})
	captionMatches := ResolveAll(scenes, captionLookup, ResolveOptions{})

	for i, scene := range scenes {
		out := AlignCaption(AlignInput{
			Scene:       scene,
			Position:    i,
			Candidate:   captionMatches[i].Asset,
			Audio:       audioMatches[i],
			AudioLookup: audioLookup,
		}, captionLookup)

		require.NotNil(t, out.Caption, "scene %d", i)
		assert.Equal(t, AlignRealigned, out.Outcome)
		assert.Equal(t, audioMatches[i].Asset.Text, out.Caption.AssetText())
	}
}

func TestAlignCaption_FallbackSynthesis(t *testing.T) {
	scene := models.Scene{Number: 1, Text: "Scene narration"}
	audio := audioAt(models.SceneRef{Index: intPtr(0)}, "Test line")

	out := AlignCaption(AlignInput{
		Scene: scene,
		Audio: Match[*models.AudioAsset]{Asset: audio, Position: 0, Rule: MatchSceneNumber},
	}, BuildLookup[*models.CaptionAsset]("caption", nil))

	require.Equal(t, AlignSynthesized, out.Outcome)
	require.Len(t, out.Caption.Segments, 1)
	assert.Equal(t, models.CaptionSegment{Start: 0, End: 4, Text: "Test line"}, out.Caption.Segments[0])
	assert.True(t, out.Caption.Provenance.Fallback)
}

func TestAlignCaption_KeepsMatchingAndTruncatedCandidates(t *testing.T) {
	audio := audioAt(models.SceneRef{}, "The  Quick brown fox jumps")
	in := AlignInput{
		Scene: models.Scene{Number: 1},
		Audio: Match[*models.AudioAsset]{Asset: audio, Position: 0, Rule: MatchPosition},
	}

	in.Candidate = captionFor(models.SceneRef{}, "the quick brown fox jumps")
	assert.Equal(t, AlignKept, AlignCaption(in, nil).Outcome)

	in.Candidate = captionFor(models.SceneRef{}, "THE QUICK brown")
	assert.Equal(t, AlignKept, AlignCaption(in, nil).Outcome, "truncated captions still match")
}

func TestAlignCaption_MismatchedCandidateKept(t *testing.T) {
	candidate := captionFor(models.SceneRef{}, "something else entirely")
	out := AlignCaption(AlignInput{
		Scene:     models.Scene{Number: 1},
		Candidate: candidate,
		Audio:     Match[*models.AudioAsset]{Asset: audioAt(models.SceneRef{}, "expected words"), Position: 0},
	}, BuildLookup("caption", []*models.CaptionAsset{candidate}))

	assert.Equal(t, AlignMismatched, out.Outcome)
	assert.Same(t, candidate, out.Caption)
}

func TestAlignCaption_PrefersAudioIdentity(t *testing.T) {
	// Two captions share the text; the one keyed by the audio's id wins over the scan.
	captions := []*models.CaptionAsset{
		captionFor(models.SceneRef{ID: "other"}, "Same words"),
		captionFor(models.SceneRef{ID: "voice-7"}, "Same words"),
	}
	audio := audioAt(models.SceneRef{ID: "voice-7"}, "same words")

	out := AlignCaption(AlignInput{
		Scene:     models.Scene{Number: 1},
		Candidate: captionFor(models.SceneRef{}, "wrong"),
		Audio:     Match[*models.AudioAsset]{Asset: audio, Position: 3},
	}, BuildLookup("caption", captions))

	require.Equal(t, AlignRealigned, out.Outcome)
	assert.Same(t, captions[1], out.Caption)
}

func TestAlignCaption_NoAudio(t *testing.T) {
	out := AlignCaption(AlignInput{
		Scene:            models.Scene{Number: 2, Text: "Silent scene"},
		Position:         1,
		Audio:            Match[*models.AudioAsset]{Position: -1},
		FallbackDuration: 5,
	}, nil)

	require.Equal(t, AlignSynthesized, out.Outcome)
	assert.Equal(t, 5.0, out.Caption.Segments[0].End)
	assert.Equal(t, "Silent scene", out.Caption.Text)

	out = AlignCaption(AlignInput{Scene: models.Scene{Number: 3}, Audio: Match[*models.AudioAsset]{Position: -1}}, nil)
	assert.Equal(t, AlignNone, out.Outcome)
	assert.Nil(t, out.Caption)
}

func TestTextMatches(t *testing.T) {
	assert.True(t, textMatches("Hello   World", "hello world"))
	assert.True(t, textMatches("hello", "hello world"))
	assert.False(t, textMatches("", "hello"))
	assert.False(t, textMatches("goodbye", "hello"))
}

func noAudio(n int) []Match[*models.AudioAsset] {
	out := make([]Match[*models.AudioAsset], n)
	for i := range out {
		out[i] = Match[*models.AudioAsset]{Position: -1}
	}
	return out
}

func fixedDuration(d float64) func(models.Scene) float64 {
	return func(models.Scene) float64 { return d }
}

func TestAlignAll_IndexedCaptionIsNotReused(t *testing.T) {
	scenes := []models.Scene{
		{Index: intPtr(0), Text: "Hello"},
		{Index: intPtr(1), Text: "Hello world again"},
	}
	captions := []*models.CaptionAsset{captionFor(models.SceneRef{Index: intPtr(0)}, "Hello")}
	captionLookup := BuildLookup("caption", captions)
	candidates := ResolveAll(scenes, captionLookup, ResolveOptions{})

	out := AlignAll(scenes, noAudio(2), nil, candidates, captionLookup, fixedDuration(3))

	assert.Equal(t, AlignKept, out[0].Outcome)
	assert.Same(t, captions[0], out[0].Caption)

	require.Equal(t, AlignSynthesized, out[1].Outcome, "scene 1 must not reuse scene 0's caption")
	assert.NotSame(t, captions[0], out[1].Caption)
	assert.Equal(t, "Hello world again", out[1].Caption.Text)
	assert.Equal(t, 3.0, out[1].Caption.Segments[0].End)
}

func TestAlignAll_ShuffledCaptionsEachUsedOnce(t *testing.T) {
	lines := []string{"First line here", "Second line here", "Third line here"}
	scenes := numberedScenes(3)
	audio := make([]*models.AudioAsset, 3)
	for i, line := range lines {
		scenes[i].Text = line
		audio[i] = audioAt(models.SceneRef{Index: intPtr(i)}, line)
	}
	captions := []*models.CaptionAsset{
		captionFor(models.SceneRef{Index: intPtr(0)}, lines[2]),
		captionFor(models.SceneRef{Index: intPtr(1)}, lines[0]),
		captionFor(models.SceneRef{Index: intPtr(2)}, lines[1]),
	}

	audioLookup := BuildLookup("audio", audio)
	captionLookup := BuildLookup("caption", captions)
	out := AlignAll(scenes,
		ResolveAll(scenes, audioLookup, ResolveOptions{}), audioLookup,
		ResolveAll(scenes, captionLookup, ResolveOptions{}), captionLookup,
		fixedDuration(3))

	seen := map[*models.CaptionAsset]int{}
	for i, a := range out {
		require.NotNil(t, a.Caption, "scene %d", i)
		assert.Equal(t, AlignRealigned, a.Outcome)
		assert.Equal(t, lines[i], a.Caption.AssetText())
		prev, dup := seen[a.Caption]
		assert.False(t, dup, "scenes %d and %d share a caption", prev, i)
		seen[a.Caption] = i
	}
}

func TestAlignAll_KeptCaptionNotTakenByLaterScene(t *testing.T) {
	// both scenes narrate text that prefixes the single caption
	scenes := []models.Scene{{Number: 1, Text: "Rain"}, {Number: 2, Text: "Rain again"}}
	captions := []*models.CaptionAsset{captionFor(models.SceneRef{}, "Rain")}
	captionLookup := BuildLookup("caption", captions)

	out := AlignAll(scenes, noAudio(2), nil, ResolveAll(scenes, captionLookup, ResolveOptions{}), captionLookup, fixedDuration(3))

	assert.Equal(t, AlignKept, out[0].Outcome)
	assert.Equal(t, AlignSynthesized, out[1].Outcome)
	assert.Equal(t, "Rain again", out[1].Caption.Text)
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := "سلام دنیا، این یک آزمایش است"
	got := truncate(s, 4)
	assert.Equal(t, "سلام...", got)
	assert.Equal(t, s, truncate(s, 100))
}
