// File: internal/llmclient/gemini_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/agent"
	"github.com/lukerm/parallellm-qa/internal/config"
)

// GeminiClient implements agent.DecisionClient against the Google Gemini
// generateContent API. The conversation history and action schemas are
// rendered into the request, and the model is forced into JSON output mode
// carrying the next message plus any requested actions.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
}

// -- Gemini API request/response structures (internal to this file) --

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	TopP             float32 `json:"topP,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	SafetySettings    []geminiSafetySetting    `json:"safetySettings,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// decisionPayload is the JSON contract the model must answer with.
type decisionPayload struct {
	Message string `json:"message"`
	Actions []struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"args"`
	} `json:"actions"`
}

// NewGeminiClient initializes the client.
func NewGeminiClient(cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set PLLM_LLM_API_KEY)")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// Decide sends the history and action schemas to the model and returns the
// next assistant message, with fresh correlation ids assigned to any
// requested actions.
func (c *GeminiClient) Decide(ctx context.Context, history []agent.Message, schemas []agent.ActionSchema) (agent.Message, error) {
	payload := c.buildRequestPayload(history, schemas)

	body, err := json.Marshal(payload)
	if err != nil {
		return agent.Message{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseText string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)
		if err != nil {
			c.logger.Warn("Network error during decision request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)
		}

		c.logger.Info("Decision generation complete",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
			zap.Int("total_tokens", responsePayload.UsageMetadata.TotalTokenCount),
		)

		responseText = candidate.Content.Parts[0].Text
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return agent.Message{}, err
	}

	return ParseDecision(responseText)
}

var jsonBlockRegex = regexp.MustCompile("(?s)(?:```json\\s*|)(\\{.*\\})(?:```|)")

// ParseDecision unmarshals the model's JSON answer (optionally fenced) into
// an assistant message, assigning a unique correlation id to each requested
// action.
func ParseDecision(response string) (agent.Message, error) {
	response = strings.TrimSpace(response)

	jsonText := response
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		jsonText = matches[1]
	}

	var decision decisionPayload
	if err := json.Unmarshal([]byte(jsonText), &decision); err != nil {
		return agent.Message{}, fmt.Errorf("failed to unmarshal decision response: %w", err)
	}

	requests := make([]agent.ActionRequest, 0, len(decision.Actions))
	for _, a := range decision.Actions {
		if a.Name == "" {
			return agent.Message{}, fmt.Errorf("decision response carries an action without a name")
		}
		args := a.Arguments
		if args == nil {
			args = map[string]any{}
		}
		requests = append(requests, agent.ActionRequest{
			Name:      a.Name,
			Arguments: args,
			ID:        uuid.NewString(),
		})
	}

	return agent.AssistantMessage(decision.Message, requests...), nil
}

// buildRequestPayload renders the history and schemas into a Gemini request.
// System messages become the system instruction together with the decision
// protocol; assistant turns are replayed as model turns, everything else as
// user turns.
func (c *GeminiClient) buildRequestPayload(history []agent.Message, schemas []agent.ActionSchema) geminiRequestPayload {
	var system strings.Builder
	var contents []geminiContent

	for _, msg := range history {
		switch msg.Role {
		case agent.RoleSystem:
			system.WriteString(msg.Content)
			system.WriteString("\n\n")
		case agent.RoleAssistant:
			contents = append(contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: renderAssistantTurn(msg)}},
			})
		case agent.RoleHuman:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		case agent.RoleActionResult:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: fmt.Sprintf("[action result %s]\n%s", msg.ActionRequestID, msg.Content)}},
			})
		}
	}

	system.WriteString(renderProtocol(schemas))

	genConfig := geminiGenerationConfig{
		Temperature:      float64(c.config.Temperature),
		ResponseMimeType: "application/json",
		TopP:             c.config.TopP,
		TopK:             c.config.TopK,
		MaxOutputTokens:  c.config.MaxTokens,
	}

	return geminiRequestPayload{
		Contents:          contents,
		SystemInstruction: &geminiSystemInstruction{Parts: []geminiPart{{Text: system.String()}}},
		GenerationConfig:  genConfig,
		SafetySettings:    c.getSafetySettings(),
	}
}

// renderAssistantTurn replays a prior assistant message in the same JSON
// shape the model answered with, so the conversation stays consistent.
func renderAssistantTurn(msg agent.Message) string {
	decision := map[string]any{"message": msg.Content}
	if len(msg.ActionRequests) > 0 {
		actions := make([]map[string]any, 0, len(msg.ActionRequests))
		for _, req := range msg.ActionRequests {
			actions = append(actions, map[string]any{"name": req.Name, "args": req.Arguments})
		}
		decision["actions"] = actions
	}
	rendered, err := json.Marshal(decision)
	if err != nil {
		return msg.Content
	}
	return string(rendered)
}

// renderProtocol describes the available actions and the required response
// shape.
func renderProtocol(schemas []agent.ActionSchema) string {
	var b strings.Builder
	b.WriteString("Available actions:\n")
	for _, schema := range schemas {
		b.WriteString(fmt.Sprintf("- %s: %s\n", schema.Name, schema.Description))
		for _, p := range schema.Parameters {
			b.WriteString(fmt.Sprintf("    %s (%s): %s\n", p.Name, p.Type, p.Description))
		}
	}
	b.WriteString("\nRespond ONLY with a single JSON object of the form ")
	b.WriteString(`{"message": "<your reasoning>", "actions": [{"name": "<action>", "args": {...}}]}. `)
	b.WriteString("Omit \"actions\" or leave it empty when no action is needed.")
	return b.String()
}

func (c *GeminiClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Gemini API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient, retry.
	default:
		return backoff.Permanent(err)
	}
}

func (c *GeminiClient) getSafetySettings() []geminiSafetySetting {
	settings := make([]geminiSafetySetting, 0, len(c.config.SafetyFilters))
	for category, threshold := range c.config.SafetyFilters {
		settings = append(settings, geminiSafetySetting{
			Category:  category,
			Threshold: threshold,
		})
	}
	return settings
}
