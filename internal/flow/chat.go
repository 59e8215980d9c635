// File: internal/flow/chat.go
package flow

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/agent"
	"github.com/lukerm/parallellm-qa/internal/browser"
	"github.com/lukerm/parallellm-qa/internal/config"
)

const chatSystemPromptFormat = "You are an automation agent controlling a browser to test a multi-LLM chat interface. " +
	"Your task is to conduct a SMALL chat conversation to verify it's working correctly. " +
	"You must complete exactly %d turn(s) of conversation. " +
	"Use get_page_html to understand the page structure after carrying out any actions, as the page may update. " +
	"Each turn: 1) type a message, 2) click submit, 3) wait for ALL responses to complete.\n\n" +
	"IMPORTANT: The submit button may not appear until you have started typing your message. " +
	"Re-fetch the HTML after entering text to see the appropriate button. " +
	"IMPORTANT: After submitting, it takes a few seconds for all LLM responses to return. " +
	"While generating, the text area becomes disabled and an extra generating spinner appears. " +
	"Use check_submit_button_present and your best judgment to determine when all responses are complete.\n" +
	"Keep the conversation SMALL and simple - brief pleasantries like 'Hi', 'What's your name?', 'Tell me a joke'.\n\n" +
	"After completing all turns:\n" +
	"1. Inspect the final HTML using get_page_html to examine responses\n" +
	"2. Check if responses look reasonable (not empty, not error messages)\n" +
	"3. Use the report_completion action to report health status:\n" +
	"   - health: 'OK' if all responses appear normal\n" +
	"   - health: 'ERROR' if you detect issues (empty, missing or error responses)\n" +
	"   - health_description: brief explanation of what you found\n\n" +
	"Use save_chat_capture to save screenshots after each turn for debugging.\n" +
	"Only use actions; be systematic and thorough."

// ChatFlow conducts a short conversation against the chat interface and
// judges its health. Completion is solely the agent's self-reported
// report_completion signal; the turn count never implies completion.
type ChatFlow struct {
	logger  *zap.Logger
	session browser.Session
	client  agent.DecisionClient
	cfg     *config.Config
	// turns overrides the randomized turn count when positive.
	turns int
}

// NewChatFlow wires a chat flow against a live, already logged-in session.
func NewChatFlow(logger *zap.Logger, session browser.Session, client agent.DecisionClient, cfg *config.Config) *ChatFlow {
	return &ChatFlow{
		logger:  logger.Named("chat_flow"),
		session: session,
		client:  client,
		cfg:     cfg,
	}
}

// WithTurns pins the conversation length, mainly for tests.
func (f *ChatFlow) WithTurns(n int) *ChatFlow {
	f.turns = n
	return f
}

func (f *ChatFlow) numTurns() int {
	if f.turns > 0 {
		return f.turns
	}
	min, max := f.cfg.Flows.Chat.MinTurns, f.cfg.Flows.Chat.MaxTurns
	return min + rand.Intn(max-min+1)
}

// Run executes the chat flow and reports (success, artefacts dir). Success
// means the agent reported health OK.
func (f *ChatFlow) Run(ctx context.Context, runTS string) (Result, error) {
	artefactsDir, err := EnsureArtefactsDir(f.cfg.Flows.ArtefactsDir, runTS, RunTypeChat)
	if err != nil {
		return Result{}, err
	}
	f.logger.Info("Artefacts directory ready", zap.String("dir", artefactsDir))

	// The session is already logged in and at the chat interface; capture
	// the starting state before the agent touches anything.
	if _, err := SaveHTML(ctx, f.session, artefactsDir, "initial"); err != nil {
		f.logger.Warn("Initial HTML capture failed", zap.Error(err))
	}
	if _, err := SaveScreenshot(ctx, f.session, artefactsDir, "initial"); err != nil {
		f.logger.Warn("Initial screenshot capture failed", zap.Error(err))
	}

	initialHTML, err := f.session.PageHTML(ctx)
	if err != nil {
		return Result{ArtefactsDir: artefactsDir}, fmt.Errorf("failed to read initial page: %w", err)
	}

	turns := f.numTurns()
	f.logger.Info("Conducting conversation", zap.Int("turns", turns))

	goal := f.cfg.Flows.Chat.Instructions
	registry := ChatRegistry(f.logger, f.session, artefactsDir)
	recorder := agent.NewRecorder(RunTypeChat, artefactsDir, f.logger)

	state := agent.NewRunState(goal, artefactsDir,
		agent.SystemMessage(fmt.Sprintf(chatSystemPromptFormat, turns)),
		agent.HumanMessage(fmt.Sprintf("Instructions: %s\nNumber of turns to complete: %d\nInitial HTML (cleaned): %s",
			goal, turns, StripScripts(initialHTML))),
	)

	loop := agent.NewLoop(f.logger, f.client, registry, agent.NewCompactor(f.logger), recorder, agent.LoopConfig{
		MaxIterations: f.cfg.Flows.Chat.MaxIterations,
		SettleDelay:   f.cfg.Agent.SettleDelay,
	})

	f.logger.Info("Beginning chat loop", zap.String("run_id", recorder.RunID()))
	if err := loop.Run(ctx, state); err != nil {
		return Result{ArtefactsDir: artefactsDir}, fmt.Errorf("chat run aborted: %w", err)
	}

	if _, err := recorder.Write(); err != nil {
		return Result{ArtefactsDir: artefactsDir}, err
	}

	f.logger.Info("Chat run finished",
		zap.String("health", string(state.Health)),
		zap.String("description", state.HealthDescription))

	if _, err := SaveHTML(ctx, f.session, artefactsDir, "final"); err != nil {
		f.logger.Warn("Final HTML capture failed", zap.Error(err))
	}
	if _, err := SaveScreenshot(ctx, f.session, artefactsDir, "final"); err != nil {
		f.logger.Warn("Final screenshot capture failed", zap.Error(err))
	}

	return Result{Success: state.Health == agent.HealthOK, ArtefactsDir: artefactsDir}, nil
}
