// File: cmd/run.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/browser"
	"github.com/lukerm/parallellm-qa/internal/escalation"
	"github.com/lukerm/parallellm-qa/internal/flow"
	"github.com/lukerm/parallellm-qa/internal/llmclient"
	"github.com/lukerm/parallellm-qa/internal/observability"
)

// newRunCmd creates and configures the `run` command, which executes the
// login flow followed by the chat flow against the live service.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the login and chat QA flows against the target service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so that command-line values override the config
			// file and environment variables.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			skipChat, _ := cmd.Flags().GetBool("skip-chat")

			mgr, err := browser.NewManager(ctx, logger, cfg.Browser)
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			defer mgr.Close()

			client, err := llmclient.NewClient(cfg.Agent.LLM, logger)
			if err != nil {
				return err
			}

			creds := flow.Credentials{
				Email:    cfg.Credentials.Email,
				Password: cfg.Credentials.Password,
			}

			// Both flows share one timestamped artefact root so that a
			// run's login and chat outputs sit side by side.
			runTS := time.Now().UTC().Format("20060102-150405")

			login, err := flow.NewLoginFlow(logger, mgr, client, creds, cfg)
			if err != nil {
				return err
			}

			loginResult, err := login.Run(ctx, runTS)
			if err != nil {
				return fmt.Errorf("login flow aborted: %w", err)
			}
			if !loginResult.Success {
				logger.Error("Login flow failed, staging artefacts for escalation",
					zap.String("artefacts_dir", loginResult.ArtefactsDir))
				stage(logger, loginResult.ArtefactsDir)
				return fmt.Errorf("login flow did not reach an authenticated state")
			}
			logger.Info("Login flow succeeded", zap.String("artefacts_dir", loginResult.ArtefactsDir))

			if skipChat {
				logger.Info("Skipping chat flow")
				return nil
			}

			chat := flow.NewChatFlow(logger, mgr, client, cfg)
			chatResult, err := chat.Run(ctx, runTS)
			if err != nil {
				return fmt.Errorf("chat flow aborted: %w", err)
			}
			if !chatResult.Success {
				logger.Error("Chat flow failed, staging artefacts for escalation",
					zap.String("artefacts_dir", chatResult.ArtefactsDir))
				stage(logger, chatResult.ArtefactsDir)
				return fmt.Errorf("chat flow ended with unhealthy status")
			}
			logger.Info("Chat flow succeeded", zap.String("artefacts_dir", chatResult.ArtefactsDir))
			return nil
		},
	}

	runCmd.Flags().Bool("headless", true, "run the browser headless")
	runCmd.Flags().Bool("skip-chat", false, "run only the login flow")
	return runCmd
}

// stage copies a failed run's artefacts into the error-folder namespace so
// the monitor command picks them up on its next sweep. Staging failures are
// logged but never mask the run failure itself.
func stage(logger *zap.Logger, artefactsDir string) {
	staged, err := escalation.Stage(logger, artefactsDir, cfg.Escalation.ErrorDir)
	if err != nil {
		logger.Error("Failed to stage error artefacts", zap.Error(err))
		return
	}
	logger.Info("Error artefacts staged", zap.String("dir", staged))
}
