package compose

import (
	"strings"

	"github.com/bobarin/scenecast/internal/models"
)

// DefaultWordsPerBurst is how many words stay on screen at once.
const DefaultWordsPerBurst = 3

// ChunkCaptions splits each caption segment into bursts of at most
// wordsPerBurst words. A segment's time window is divided evenly between its
// bursts, so bursts stay short however coarse the source segments are.
func ChunkCaptions(segments []models.CaptionSegment, wordsPerBurst int) []models.CaptionSegment {
	if wordsPerBurst <= 0 {
		wordsPerBurst = DefaultWordsPerBurst
	}

	var bursts []models.CaptionSegment
	for _, seg := range segments {
		words := strings.Fields(seg.Text)
		if len(words) == 0 || seg.End <= seg.Start {
			continue
		}

		count := (len(words) + wordsPerBurst - 1) / wordsPerBurst
		step := (seg.End - seg.Start) / float64(count)

		for k := 0; k < count; k++ {
			lo := k * wordsPerBurst
			hi := min(lo+wordsPerBurst, len(words))

			end := seg.Start + float64(k+1)*step
			if k == count-1 {
				end = seg.End
			}
			bursts = append(bursts, models.CaptionSegment{
				Start: seg.Start + float64(k)*step,
				End:   end,
				Text:  strings.Join(words[lo:hi], " "),
			})
		}
	}
	return bursts
}

// ClampCaptions drops bursts starting at or after limit and trims the rest to end by it.
func ClampCaptions(segments []models.CaptionSegment, limit float64) []models.CaptionSegment {
	if limit <= 0 {
		return segments
	}
	out := make([]models.CaptionSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.Start >= limit {
			continue
		}
		if seg.End > limit {
			seg.End = limit
		}
		out = append(out, seg)
	}
	return out
}
