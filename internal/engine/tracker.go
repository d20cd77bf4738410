package engine

import "strings"

// regressionTracker implements the anti-regression policy for engines that
// re-evaluate partials mid-stream: a new partial is only displayed if it is
// at least as long as the previously displayed one. The longest partial ever
// seen is retained separately for the stop-and-finalize promotion step, which
// must never promote the last partial (it may be a shorter re-evaluation).
type regressionTracker struct {
	displayed string
	longest   string
}

// observe records a raw partial and returns the text to display plus whether
// the displayed value changed.
func (t *regressionTracker) observe(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return t.displayed, false
	}
	if len(text) > len(t.longest) {
		t.longest = text
	}
	if len(text) < len(t.displayed) {
		// Shorter re-evaluation: suppress from the published value.
		return t.displayed, false
	}
	changed := text != t.displayed
	t.displayed = text
	return t.displayed, changed
}

// best returns the longest partial observed during the episode.
func (t *regressionTracker) best() string {
	return t.longest
}

func (t *regressionTracker) reset() {
	t.displayed = ""
	t.longest = ""
}
