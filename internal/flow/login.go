// File: internal/flow/login.go
package flow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/agent"
	"github.com/lukerm/parallellm-qa/internal/browser"
	"github.com/lukerm/parallellm-qa/internal/config"
)

const loginSystemPrompt = "You are an automation agent controlling a headless browser via actions. " +
	"It is your task to interpret the HTML to infer next steps. " +
	"If you do not see any HTML, use the get_page_html action to fetch it. " +
	"Goal: log in to the target website. Use navigate to go to the login page, " +
	"use get_page_html to understand the form, then type_text and click to submit. " +
	"Use check_is_logged_in to check progress. Keep iterating until logged in. " +
	"Policy: never include raw secrets in action arguments. Use these placeholders: " +
	"<EMAIL> for email fields, <PASSWORD> for password fields. " +
	"Placeholders will be substituted with secure values at execution time. " +
	"Only use actions; do not fabricate steps."

// LoginFlow drives the browser through the login sequence. Completion is
// judged solely by the authenticated-session predicate, never by agent
// self-report.
type LoginFlow struct {
	logger  *zap.Logger
	session browser.Session
	client  agent.DecisionClient
	creds   Credentials
	cfg     *config.Config
}

// NewLoginFlow wires a login flow against a live session.
func NewLoginFlow(logger *zap.Logger, session browser.Session, client agent.DecisionClient, creds Credentials, cfg *config.Config) (*LoginFlow, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, fmt.Errorf("no login credentials configured (set PLLM_LOGIN_EMAIL and PLLM_LOGIN_PASSWORD)")
	}
	return &LoginFlow{
		logger:  logger.Named("login_flow"),
		session: session,
		client:  client,
		creds:   creds,
		cfg:     cfg,
	}, nil
}

// IsLoggedIn is the environment predicate for login completion: not on a
// login/signin URL and no password input present.
func (f *LoginFlow) IsLoggedIn(ctx context.Context) (bool, error) {
	url, err := f.session.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	lowered := strings.ToLower(url)
	if strings.Contains(lowered, "login") || strings.Contains(lowered, "signin") {
		return false, nil
	}
	hasPassword, err := f.session.ElementExists(ctx, "input[type='password']")
	if err != nil {
		return false, err
	}
	return !hasPassword, nil
}

// Run executes the login flow and reports (success, artefacts dir). A
// decision-function failure aborts the run without writing a trace.
func (f *LoginFlow) Run(ctx context.Context, runTS string) (Result, error) {
	artefactsDir, err := EnsureArtefactsDir(f.cfg.Flows.ArtefactsDir, runTS, RunTypeLogin)
	if err != nil {
		return Result{}, err
	}
	f.logger.Info("Artefacts directory ready", zap.String("dir", artefactsDir))

	f.logger.Info("Navigating to base URL", zap.String("url", f.cfg.Flows.BaseURL))
	if _, err := f.session.Navigate(ctx, f.cfg.Flows.BaseURL); err != nil {
		return Result{ArtefactsDir: artefactsDir}, fmt.Errorf("failed to open base URL: %w", err)
	}

	initialHTML, err := f.session.PageHTML(ctx)
	if err != nil {
		return Result{ArtefactsDir: artefactsDir}, fmt.Errorf("failed to read initial page: %w", err)
	}

	goal := f.cfg.Flows.Login.Instructions
	registry := LoginRegistry(f.logger, f.session, f.creds, f.IsLoggedIn, artefactsDir)
	recorder := agent.NewRecorder(RunTypeLogin, artefactsDir, f.logger)

	state := agent.NewRunState(goal, artefactsDir,
		agent.SystemMessage(loginSystemPrompt),
		agent.HumanMessage(fmt.Sprintf("Instructions: %s\nInitial HTML (cleaned): %s", goal, StripScripts(initialHTML))),
	)

	loop := agent.NewLoop(f.logger, f.client, registry, agent.NewCompactor(f.logger), recorder, agent.LoopConfig{
		MaxIterations: f.cfg.Flows.Login.MaxIterations,
		Completed:     f.IsLoggedIn,
	})

	f.logger.Info("Beginning login loop", zap.String("run_id", recorder.RunID()))
	if err := loop.Run(ctx, state); err != nil {
		return Result{ArtefactsDir: artefactsDir}, fmt.Errorf("login run aborted: %w", err)
	}

	if _, err := recorder.Write(); err != nil {
		return Result{ArtefactsDir: artefactsDir}, err
	}

	success, err := f.IsLoggedIn(ctx)
	if err != nil {
		f.logger.Warn("Final login check failed", zap.Error(err))
		success = false
	}
	f.logger.Info("Login run finished", zap.Bool("success", success))

	if success {
		if _, err := SaveHTML(ctx, f.session, artefactsDir, "post_login"); err != nil {
			f.logger.Warn("Post-login HTML capture failed", zap.Error(err))
		}
		if _, err := SaveScreenshot(ctx, f.session, artefactsDir, "post_login"); err != nil {
			f.logger.Warn("Post-login screenshot capture failed", zap.Error(err))
		}
	}

	return Result{Success: success, ArtefactsDir: artefactsDir}, nil
}
