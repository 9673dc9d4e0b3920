package services

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// DetectLanguage returns the ISO 639-1 code of text, or fallback when the
// text is too short or the detection is unreliable.
func DetectLanguage(text, fallback string) string {
	text = strings.TrimSpace(text)
	if len(strings.Fields(text)) < 3 {
		return fallback
	}

	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return fallback
	}

	code := info.Lang.Iso6391()
	if code == "" {
		return fallback
	}
	return code
}
