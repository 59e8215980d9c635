// File: internal/escalation/stage_test.go
package escalation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lukerm/parallellm-qa/internal/agent"
)

// writeArtefacts populates a fake run directory with a trace and captures.
func writeArtefacts(t *testing.T, dir, runID string, captures ...string) {
	t.Helper()
	trace := `{"run_id": "` + runID + `", "run_type": "run_chats", "final_health": "ERROR", "final_health_description": "empty responses"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, agent.TraceFileName), []byte(trace), 0o644))
	for _, name := range captures {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("png-bytes"), 0o644))
	}
}

func TestStageCopiesTraceAndCaptures(t *testing.T) {
	artefacts := t.TempDir()
	errorDir := t.TempDir()
	writeArtefacts(t, artefacts, "runid123", "initial.png", "final.png")

	staged, err := Stage(zaptest.NewLogger(t), artefacts, errorDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(errorDir, "runid123"), staged)
	assert.FileExists(t, filepath.Join(staged, agent.TraceFileName))
	assert.FileExists(t, filepath.Join(staged, "initial.png"))
	assert.FileExists(t, filepath.Join(staged, "final.png"))

	// Staging copies, it does not move: the run directory is untouched.
	assert.FileExists(t, filepath.Join(artefacts, agent.TraceFileName))
	assert.FileExists(t, filepath.Join(artefacts, "initial.png"))
}

func TestStageRequiresTrace(t *testing.T) {
	artefacts := t.TempDir()
	errorDir := t.TempDir()

	_, err := Stage(zaptest.NewLogger(t), artefacts, errorDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution trace not found")
}

func TestStageFallsBackToFreshRunID(t *testing.T) {
	artefacts := t.TempDir()
	errorDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(artefacts, agent.TraceFileName), []byte("not json"), 0o644))

	staged, err := Stage(zaptest.NewLogger(t), artefacts, errorDir)
	require.NoError(t, err)
	assert.NotEmpty(t, filepath.Base(staged))
	assert.FileExists(t, filepath.Join(staged, agent.TraceFileName))
}

func TestStageFoldersDoNotCollide(t *testing.T) {
	errorDir := t.TempDir()

	first := t.TempDir()
	writeArtefacts(t, first, "run-a")
	second := t.TempDir()
	writeArtefacts(t, second, "run-b")

	stagedA, err := Stage(zaptest.NewLogger(t), first, errorDir)
	require.NoError(t, err)
	stagedB, err := Stage(zaptest.NewLogger(t), second, errorDir)
	require.NoError(t, err)

	assert.NotEqual(t, stagedA, stagedB)
}
