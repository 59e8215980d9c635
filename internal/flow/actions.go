// File: internal/flow/actions.go
package flow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/agent"
	"github.com/lukerm/parallellm-qa/internal/browser"
)

// submitButtonSelectors are the candidates probed by
// check_submit_button_present; any match means responses have finished
// generating.
var submitButtonSelectors = []string{
	"button[type='submit']", "button.submit", "input[type='submit']",
}

// commonActions registers the browser capabilities shared by both flows.
func commonActions(r *agent.Registry, logger *zap.Logger, s browser.Session, creds Credentials) {
	log := logger.Named("actions")

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name:        "get_page_html",
			Description: "Return the current page HTML with all <script>...</script> tags removed.",
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			html, err := s.PageHTML(ctx)
			if err != nil {
				return "", err
			}
			cleaned := StripScripts(html)
			log.Info("get_page_html", zap.Int("sanitized_html_length", len(cleaned)))
			return cleaned, nil
		},
	})

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name: "type_text",
			Description: "Type text into an element identified by a selector. " +
				"Never include raw secrets: use the placeholders <EMAIL> and <PASSWORD>, " +
				"which are substituted with secure values at execution time.",
			Parameters: []agent.ParamSpec{
				{Name: "selector", Type: "string", Description: "element selector"},
				{Name: "by", Type: "string", Description: "selector strategy: css, id, name or xpath"},
				{Name: "text", Type: "string", Description: "text to type (placeholders allowed)"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			selector := agent.StringArg(args, "selector")
			by := agent.StringArg(args, "by")
			text, used := creds.Substitute(agent.StringArg(args, "text"))

			if err := s.Type(ctx, selector, by, text); err != nil {
				return "", err
			}
			if len(used) > 0 {
				// Redacted: only the placeholder names are logged.
				log.Info("type_text", zap.String("selector", selector),
					zap.String("by", by), zap.Strings("substituted", used))
			} else {
				log.Info("type_text", zap.String("selector", selector),
					zap.String("by", by), zap.Int("text_len", len(text)))
			}
			return "OK", nil
		},
	})

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name:        "click",
			Description: "Click an element identified by a selector.",
			Parameters: []agent.ParamSpec{
				{Name: "selector", Type: "string", Description: "element selector"},
				{Name: "by", Type: "string", Description: "selector strategy: css, id, name or xpath"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			selector := agent.StringArg(args, "selector")
			by := agent.StringArg(args, "by")
			if err := s.Click(ctx, selector, by); err != nil {
				return "", err
			}
			log.Info("click", zap.String("selector", selector), zap.String("by", by))
			return "OK", nil
		},
	})

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name:        "sleep",
			Description: "Sleep for a number of seconds to allow the page to update.",
			Parameters: []agent.ParamSpec{
				{Name: "seconds", Type: "number", Description: "duration to sleep"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			seconds := agent.FloatArg(args, "seconds")
			select {
			case <-time.After(time.Duration(seconds * float64(time.Second))):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			log.Info("sleep", zap.Float64("seconds", seconds))
			return "OK", nil
		},
	})
}

// LoginRegistry builds the capability set for the login flow.
func LoginRegistry(logger *zap.Logger, s browser.Session, creds Credentials, isLoggedIn agent.CompletionPredicate, artefactsDir string) *agent.Registry {
	r := agent.NewRegistry(logger)
	commonActions(r, logger, s, creds)
	log := logger.Named("actions")

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name:        "check_is_logged_in",
			Description: "Return true if the user appears to be logged in on the current page.",
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			loggedIn, err := isLoggedIn(ctx)
			if err != nil {
				return "", err
			}
			log.Info("check_is_logged_in", zap.Bool("result", loggedIn))
			return fmt.Sprintf("%t", loggedIn), nil
		},
	})

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name:        "navigate",
			Description: "Navigate the browser to a URL and return the resulting location.",
			Parameters: []agent.ParamSpec{
				{Name: "url", Type: "string", Description: "absolute URL"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			url := agent.StringArg(args, "url")
			location, err := s.Navigate(ctx, url)
			if err != nil {
				return "", err
			}
			log.Info("navigate", zap.String("url", url))
			return location, nil
		},
	})

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name:        "post_login_capture",
			Description: "Save HTML and a screenshot after login to the artefacts directory.",
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if _, err := SaveHTML(ctx, s, artefactsDir, "post_login"); err != nil {
				return "", err
			}
			if _, err := SaveScreenshot(ctx, s, artefactsDir, "post_login"); err != nil {
				return "", err
			}
			log.Info("post_login_capture", zap.String("dir", artefactsDir))
			return artefactsDir, nil
		},
	})

	return r
}

// ChatRegistry builds the capability set for the chat flow.
func ChatRegistry(logger *zap.Logger, s browser.Session, artefactsDir string) *agent.Registry {
	r := agent.NewRegistry(logger)
	// No credential material: the chat flow types no secrets.
	commonActions(r, logger, s, Credentials{})
	log := logger.Named("actions")

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name:        "check_submit_button_present",
			Description: "Check if the submit button is present. This indicates responses are complete.",
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			for _, selector := range submitButtonSelectors {
				found, err := s.ElementExists(ctx, selector)
				if err != nil {
					continue
				}
				if found {
					log.Info("check_submit_button_present", zap.String("selector", selector))
					return "true", nil
				}
			}
			log.Info("check_submit_button_present", zap.Bool("found", false))
			return "false", nil
		},
	})

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name:        "save_chat_capture",
			Description: "Save HTML and a screenshot to the artefacts directory under the given name.",
			Parameters: []agent.ParamSpec{
				{Name: "name", Type: "string", Description: "capture base name"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			name := agent.StringArg(args, "name")
			if name == "" {
				return "", fmt.Errorf("save_chat_capture requires a name")
			}
			if _, err := SaveHTML(ctx, s, artefactsDir, name); err != nil {
				return "", err
			}
			if _, err := SaveScreenshot(ctx, s, artefactsDir, name); err != nil {
				return "", err
			}
			log.Info("save_chat_capture", zap.String("name", name), zap.String("dir", artefactsDir))
			return artefactsDir, nil
		},
	})

	r.Register(&agent.Action{
		ActionSchema: agent.ActionSchema{
			Name: agent.ReportCompletionAction,
			Description: "Report task completion with health status. " +
				"health is 'OK' if the system is healthy or 'ERROR' if issues were detected; " +
				"health_description briefly explains what was found.",
			Parameters: []agent.ParamSpec{
				{Name: "health", Type: "string", Description: "OK or ERROR"},
				{Name: "health_description", Type: "string", Description: "brief explanation"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			health := agent.StringArg(args, "health")
			description := agent.StringArg(args, "health_description")
			log.Info("report_completion", zap.String("health", health), zap.String("description", description))
			return fmt.Sprintf("Completion reported: health=%s, description=%s", health, description), nil
		},
	})

	return r
}
