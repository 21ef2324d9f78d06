package gateway

import "strings"

const (
	maxDisplayRunes = 300
	minSentenceCut  = 200
	ellipsis        = "..."
)

// ProcessResponse makes completion text fit a small head-up display:
// emphasis markers are stripped, and text longer than 300 characters is cut
// after the last period in the window if that period lies beyond 200,
// otherwise hard-cut at 300 with an ellipsis.
func ProcessResponse(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "*", "")

	runes := []rune(text)
	if len(runes) <= maxDisplayRunes {
		return text
	}

	cut := -1
	for i := maxDisplayRunes; i >= 0; i-- {
		if runes[i] == '.' {
			cut = i
			break
		}
	}
	if cut > minSentenceCut {
		return string(runes[:cut+1])
	}
	return string(runes[:maxDisplayRunes]) + ellipsis
}
