// File: internal/escalation/stage.go
package escalation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/agent"
)

// Stage copies a failed run's trace document and capture files into the
// error-folder namespace, keyed by the trace's run id so folders never
// collide. The trace is written first and the capture files after it; the
// scanner tolerates files it cannot read as file-level failures, so no
// stronger visibility ordering is needed.
func Stage(logger *zap.Logger, artefactsDir, errorDir string) (string, error) {
	log := logger.Named("escalation")

	tracePath := filepath.Join(artefactsDir, agent.TraceFileName)
	data, err := os.ReadFile(tracePath)
	if err != nil {
		return "", fmt.Errorf("execution trace not found at %s: %w", tracePath, err)
	}

	runID := runIDFromTrace(data)
	stagedDir := filepath.Join(errorDir, runID)
	if err := os.MkdirAll(stagedDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create error folder: %w", err)
	}

	if err := os.WriteFile(filepath.Join(stagedDir, agent.TraceFileName), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to stage execution trace: %w", err)
	}
	log.Info("Staged execution trace", zap.String("dir", stagedDir))

	captures, err := filepath.Glob(filepath.Join(artefactsDir, "*.png"))
	if err != nil {
		return stagedDir, nil
	}
	for _, capture := range captures {
		dest := filepath.Join(stagedDir, filepath.Base(capture))
		if err := copyFile(capture, dest); err != nil {
			log.Warn("Failed to stage capture file", zap.String("file", capture), zap.Error(err))
			continue
		}
		log.Info("Staged capture file", zap.String("file", dest))
	}

	return stagedDir, nil
}

// runIDFromTrace extracts the run id from a trace document, falling back to
// a fresh id when the document is unreadable.
func runIDFromTrace(data []byte) string {
	var trace struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(data, &trace); err == nil && trace.RunID != "" {
		return trace.RunID
	}
	return uuid.NewString()
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
