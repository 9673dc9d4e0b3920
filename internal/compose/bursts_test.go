package compose

import (
	"testing"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCaptions_ProportionalBursts(t *testing.T) {
	segments := []models.CaptionSegment{
		{Start: 0, End: 3, Text: "one two three four five six seven"},
		{Start: 3, End: 4, Text: "eight"},
	}

	bursts := ChunkCaptions(segments, 3)

	require.Len(t, bursts, 4)
	assert.Equal(t, "one two three", bursts[0].Text)
	assert.Equal(t, "four five six", bursts[1].Text)
	assert.Equal(t, "seven", bursts[2].Text)
	assert.InDelta(t, 0.0, bursts[0].Start, 1e-9)
	assert.InDelta(t, 1.0, bursts[0].End, 1e-9)
	assert.InDelta(t, 2.0, bursts[2].Start, 1e-9)
	assert.Equal(t, 3.0, bursts[2].End, "last burst ends exactly on its parent")
	assert.Equal(t, models.CaptionSegment{Start: 3, End: 4, Text: "eight"}, bursts[3])
}

func TestChunkCaptions_SkipsEmptyAndDefaults(t *testing.T) {
	segments := []models.CaptionSegment{
		{Start: 0, End: 2, Text: "   "},
		{Start: 2, End: 2, Text: "zero length"},
		{Start: 2, End: 4, Text: "a b c d"},
	}

	bursts := ChunkCaptions(segments, 0)

	require.Len(t, bursts, 2)
	assert.Equal(t, "a b c", bursts[0].Text)
	assert.Equal(t, "d", bursts[1].Text)
}

func TestClampCaptions(t *testing.T) {
	segments := []models.CaptionSegment{
		{Start: 0, End: 2, Text: "a"},
		{Start: 2, End: 5, Text: "b"},
		{Start: 5, End: 6, Text: "c"},
	}

	out := ClampCaptions(segments, 4)

	require.Len(t, out, 2)
	assert.Equal(t, 4.0, out[1].End)
	assert.Equal(t, 5.0, segments[1].End, "input is not modified")
}
