// File: internal/agent/compactor_test.go
package agent

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// markupPayload builds an action result whose content trips the markup
// classifier and exceeds the truncation threshold.
func markupPayload(filler int) string {
	return "<html><body>" + strings.Repeat("x", filler) + "</body></html>"
}

func TestCompactTruncatesAllButLastLargeResult(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	// Five action results, three of which carry markup above the threshold.
	history := []Message{
		ActionResultMessage(markupPayload(500), "id-1"),
		ActionResultMessage("clicked ok", "id-2"),
		ActionResultMessage(markupPayload(600), "id-3"),
		ActionResultMessage("slept 1s", "id-4"),
		ActionResultMessage(markupPayload(700), "id-5"),
	}

	out := c.Compact(history)
	require.Len(t, out, 5)

	assert.Contains(t, out[0].Content, "[truncated")
	assert.Equal(t, "clicked ok", out[1].Content)
	assert.Contains(t, out[2].Content, "[truncated")
	assert.Equal(t, "slept 1s", out[3].Content)
	// The most recent markup payload stays verbatim.
	assert.Equal(t, history[4].Content, out[4].Content)
}

func TestCompactDigestShape(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	big := markupPayload(1000)
	history := []Message{
		ActionResultMessage(big, "id-1"),
		ActionResultMessage(markupPayload(400), "id-2"),
	}

	out := c.Compact(history)
	digest := out[0].Content

	assert.True(t, strings.HasPrefix(digest, big[:100]))
	assert.True(t, strings.HasSuffix(digest, big[len(big)-100:]))
	assert.Contains(t, digest, "[truncated")
	assert.Less(t, len(digest), len(big))
}

func TestCompactDigestMultibyteContent(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	// Superseded page captures full of multibyte runes must truncate on
	// character boundaries, never mid-rune.
	big := "<html><body>" + strings.Repeat("日", 400) + "</body></html>"
	history := []Message{
		ActionResultMessage(big, "id-1"),
		ActionResultMessage(big, "id-2"),
	}

	out := c.Compact(history)
	digest := out[0].Content

	require.NotEqual(t, big, digest)
	assert.True(t, utf8.ValidString(digest))

	runes := []rune(big)
	assert.True(t, strings.HasPrefix(digest, string(runes[:100])))
	assert.True(t, strings.HasSuffix(digest, string(runes[len(runes)-100:])))
	// The marker counts characters, not bytes.
	assert.Contains(t, digest, fmt.Sprintf("[truncated %d characters]", len(runes)-200))
}

func TestCompactThresholdCountsCharacters(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	// 250 characters but well over 300 bytes: under the threshold, so it
	// stays untouched even when superseded.
	small := "<div>" + strings.Repeat("日", 240) + "</div>"
	history := []Message{
		ActionResultMessage(small, "id-1"),
		ActionResultMessage(markupPayload(500), "id-2"),
	}

	out := c.Compact(history)
	assert.Equal(t, small, out[0].Content)
}

func TestCompactIsIdempotent(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	history := []Message{
		ActionResultMessage(markupPayload(500), "id-1"),
		ActionResultMessage(markupPayload(500), "id-2"),
		ActionResultMessage(markupPayload(500), "id-3"),
	}

	once := c.Compact(history)
	twice := c.Compact(once)
	assert.Equal(t, once, twice)
}

func TestCompactLeavesSmallAndNonMarkupAlone(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	// Under the threshold, markup or not, nothing changes. Long plain text
	// without markup indicators also survives.
	history := []Message{
		ActionResultMessage("<div>tiny</div>", "id-1"),
		ActionResultMessage(strings.Repeat("plain text ", 100), "id-2"),
		ActionResultMessage("<div>tiny again</div>", "id-3"),
	}

	out := c.Compact(history)
	assert.Equal(t, history, out)
}

func TestCompactDoesNotMutateInput(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	original := markupPayload(500)
	history := []Message{
		ActionResultMessage(original, "id-1"),
		ActionResultMessage(markupPayload(500), "id-2"),
	}

	out := c.Compact(history)
	require.NotEqual(t, original, out[0].Content)
	assert.Equal(t, original, history[0].Content)
}

func TestCompactIgnoresNonResultRoles(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	// A human message full of markup is context, not a superseded capture.
	history := []Message{
		HumanMessage(markupPayload(800)),
		ActionResultMessage(markupPayload(500), "id-1"),
	}

	out := c.Compact(history)
	assert.Equal(t, history[0].Content, out[0].Content)
	assert.Equal(t, history[1].Content, out[1].Content)
}

func TestCompactPreservesPairing(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t))

	history := []Message{
		AssistantMessage("", ActionRequest{Name: "get_page_html", ID: "id-1", Arguments: map[string]any{}}),
		ActionResultMessage(markupPayload(500), "id-1"),
		AssistantMessage("", ActionRequest{Name: "get_page_html", ID: "id-2", Arguments: map[string]any{}}),
		ActionResultMessage(markupPayload(500), "id-2"),
	}

	out := c.Compact(history)
	require.Len(t, out, 4)
	assert.Equal(t, "id-1", out[1].ActionRequestID)
	assert.Equal(t, "id-2", out[3].ActionRequestID)
}

func TestWithClassifier(t *testing.T) {
	c := NewCompactor(zaptest.NewLogger(t)).WithClassifier(func(content string) bool {
		return strings.HasPrefix(content, "CAPTURE:")
	})

	history := []Message{
		ActionResultMessage("CAPTURE:"+strings.Repeat("a", 400), "id-1"),
		ActionResultMessage(markupPayload(500), "id-2"),
		ActionResultMessage("CAPTURE:"+strings.Repeat("b", 400), "id-3"),
	}

	out := c.Compact(history)
	assert.Contains(t, out[0].Content, "[truncated")
	// Markup no longer classifies as large content under the custom rule.
	assert.Equal(t, history[1].Content, out[1].Content)
	assert.Equal(t, history[2].Content, out[2].Content)
}

func TestContainsMarkup(t *testing.T) {
	assert.True(t, ContainsMarkup("<!DOCTYPE html><html></html>"))
	assert.True(t, ContainsMarkup("some <div class='x'>"))
	assert.False(t, ContainsMarkup("logged in: true"))
	assert.False(t, ContainsMarkup(""))
}
