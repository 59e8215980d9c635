// File: internal/flow/flow.go
package flow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lukerm/parallellm-qa/internal/browser"
)

// Run types, used for artefact subfolders and trace tagging.
const (
	RunTypeLogin = "run_login"
	RunTypeChat  = "run_chats"
)

// Result is the outcome contract of one flow run.
type Result struct {
	Success      bool
	ArtefactsDir string
}

// Credentials carries the secret material substituted into typed text.
type Credentials struct {
	Email    string
	Password string
}

// placeholders maps the reserved tokens the agent is allowed to emit to the
// credential field they stand for. Raw secrets never appear in action
// arguments or logs.
func (c Credentials) placeholders() map[string]string {
	return map[string]string{
		"<EMAIL>":    c.Email,
		"<PASSWORD>": c.Password,
	}
}

// Substitute replaces reserved placeholder tokens with their secret values
// immediately before use, returning the substituted text and the names of
// the placeholders used (for redacted logging).
func (c Credentials) Substitute(text string) (string, []string) {
	var used []string
	for placeholder, value := range c.placeholders() {
		if strings.Contains(text, placeholder) {
			text = strings.ReplaceAll(text, placeholder, value)
			used = append(used, placeholder)
		}
	}
	return text, used
}

// EnsureArtefactsDir creates and returns artefacts/<ts>/<subfolder>. The
// timestamp is shared across the flows of one invocation so their artefacts
// sit side by side.
func EnsureArtefactsDir(base, ts, subfolder string) (string, error) {
	if ts == "" {
		ts = time.Now().UTC().Format("20060102-150405")
	}
	dir := filepath.Join(base, ts, subfolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artefacts directory: %w", err)
	}
	return dir, nil
}

// SaveHTML captures the current page markup to <dir>/<name>.html.
func SaveHTML(ctx context.Context, s browser.Session, dir, name string) (string, error) {
	html, err := s.PageHTML(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".html")
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("failed to save html capture: %w", err)
	}
	return path, nil
}

// SaveScreenshot captures the current viewport to <dir>/<name>.png.
func SaveScreenshot(ctx context.Context, s browser.Session, dir, name string) (string, error) {
	png, err := s.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("failed to save screenshot: %w", err)
	}
	return path, nil
}

var scriptTagRegex = regexp.MustCompile(`(?is)<script\b[^>]*>[\s\S]*?</script>`)

// StripScripts removes <script> blocks from page markup before it is handed
// to the decision function, cutting prompt size without losing structure.
func StripScripts(html string) string {
	return scriptTagRegex.ReplaceAllString(html, "")
}
