// File: internal/agent/compactor.go
package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// LargeContentClassifier decides whether an action result payload counts as
// "large structured content" eligible for truncation. The rule is pluggable;
// the default looks for page-markup indicators.
type LargeContentClassifier func(content string) bool

// markupIndicators are substrings that signal a full page-source dump.
var markupIndicators = []string{"<!DOCTYPE", "<html", "<head>", "<body>", "<div", "<script", "<span"}

// ContainsMarkup is the default classifier: true when the content carries
// common HTML patterns indicating a page-source capture.
func ContainsMarkup(content string) bool {
	for _, indicator := range markupIndicators {
		if strings.Contains(content, indicator) {
			return true
		}
	}
	return false
}

// Compactor bounds the size of long conversation histories before each
// decision call. It rewrites superseded large action results to a head+tail
// digest while always preserving the most recent one verbatim, keeping the
// request/result pairing intact. It is a pure view transform: the
// authoritative history is never modified, and the view is recomputed fresh
// each iteration.
type Compactor struct {
	logger   *zap.Logger
	classify LargeContentClassifier
	// keep is the number of characters preserved at each end of a
	// truncated payload. Measured in runes, never bytes, so multibyte
	// page content survives truncation intact.
	keep int
	// minLength is the character count below which payloads are left alone.
	minLength int
}

// NewCompactor creates a compactor with the default markup classifier,
// keeping the first and last 100 characters of truncated payloads.
func NewCompactor(logger *zap.Logger) *Compactor {
	return &Compactor{
		logger:    logger.Named("compactor"),
		classify:  ContainsMarkup,
		keep:      100,
		minLength: 300,
	}
}

// WithClassifier replaces the large-content classifier.
func (c *Compactor) WithClassifier(classify LargeContentClassifier) *Compactor {
	c.classify = classify
	return c
}

// Compact returns a same-length, same-order copy of history where all but
// the most recent large action result have been truncated. Re-running it on
// its own output yields the same result.
func (c *Compactor) Compact(history []Message) []Message {
	lastLarge := -1
	for i, msg := range history {
		if msg.Role == RoleActionResult && c.classify(msg.Content) {
			lastLarge = i
		}
	}

	out := make([]Message, len(history))
	copy(out, history)
	if lastLarge < 0 {
		return out
	}

	truncated := 0
	for i := range out {
		if i == lastLarge {
			continue
		}
		msg := out[i]
		if msg.Role != RoleActionResult || !c.classify(msg.Content) {
			continue
		}
		if utf8.RuneCountInString(msg.Content) <= c.minLength {
			continue
		}
		out[i].Content = c.digest(msg.Content)
		truncated++
	}

	if truncated > 0 {
		c.logger.Info("Truncated large action results, kept latest at full length",
			zap.Int("truncated", truncated))
	}
	return out
}

// digest reduces content to its first and last keep characters around an
// explicit marker stating how many characters were elided. Cuts land on
// rune boundaries so the digest is always valid UTF-8.
func (c *Compactor) digest(content string) string {
	runes := []rune(content)
	elided := len(runes) - 2*c.keep
	return string(runes[:c.keep]) +
		fmt.Sprintf("\n... [truncated %d characters] ...\n", elided) +
		string(runes[len(runes)-c.keep:])
}
