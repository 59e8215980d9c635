// File: cmd/monitor.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/escalation"
	"github.com/lukerm/parallellm-qa/internal/observability"
)

// newMonitorCmd creates and configures the `monitor` command, which sweeps
// the error-folder namespace and escalates staged failures.
func newMonitorCmd() *cobra.Command {
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Uploads staged error folders to S3 and notifies via SNS",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("escalation.retain", cmd.Flags().Lookup("retain")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			esc := cfg.Escalation
			// A missing bucket fails fast; a missing topic only degrades
			// escalation to upload-only.
			if err := esc.Validate(); err != nil {
				return err
			}

			uploader, err := escalation.NewS3Uploader(ctx, esc.Region, esc.Bucket, logger)
			if err != nil {
				return fmt.Errorf("failed to build S3 uploader: %w", err)
			}

			var notifier escalation.Notifier
			if esc.TopicARN != "" {
				n, err := escalation.NewSNSNotifier(ctx, esc.Region, esc.TopicARN, logger)
				if err != nil {
					return fmt.Errorf("failed to build SNS notifier: %w", err)
				}
				notifier = n
			}

			monitor := escalation.NewMonitor(logger, uploader, notifier,
				esc.ErrorDir, esc.Bucket, esc.Prefix, esc.Retain)
			processed, err := monitor.Run(ctx)
			if err != nil {
				return err
			}
			logger.Info("Monitor sweep complete", zap.Int("folders_processed", processed))
			return nil
		},
	}

	monitorCmd.Flags().Bool("retain", false, "keep local error folders after a successful upload")
	return monitorCmd
}
