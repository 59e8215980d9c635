// File: internal/agent/trace.go
package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TraceFileName is the trace document name within an artefacts directory.
const TraceFileName = "execution_trace.json"

// NodeSnapshot captures the audit-relevant subset of the run state as it
// stood after one node executed: never the full internal object, so the
// artefact stays stable under field additions. Messages holds only the
// messages that node appended.
type NodeSnapshot struct {
	Status            string    `json:"status"`
	Health            string    `json:"health,omitempty"`
	HealthDescription string    `json:"health_description,omitempty"`
	Goal              string    `json:"goal,omitempty"`
	Messages          []Message `json:"messages"`
	ArtefactsDir      string    `json:"artefacts_dir"`
}

// StepSnapshot maps each node executed in one loop iteration to its snapshot.
type StepSnapshot map[string]NodeSnapshot

// Trace is the ordered, append-only record of one run. It is created at run
// start with a globally unique run id, appended to during the run, and
// persisted once at run end.
type Trace struct {
	RunID                  string         `json:"run_id"`
	RunType                string         `json:"run_type"`
	Timestamp              string         `json:"timestamp"`
	Steps                  []StepSnapshot `json:"steps"`
	FinalStatus            string         `json:"final_status,omitempty"`
	FinalHealth            string         `json:"final_health,omitempty"`
	FinalHealthDescription string         `json:"final_health_description,omitempty"`
	TotalSteps             int            `json:"total_steps"`
}

// nodeOrder fixes the precedence used when deriving summary fields from the
// last snapshot: later nodes overwrite earlier ones (last-writer-wins).
var nodeOrder = []string{NodeDecide, NodeAct, NodeCheck}

// Recorder serializes loop iterations into a Trace and persists the result.
// Record must be called synchronously, in iteration order.
type Recorder struct {
	logger       *zap.Logger
	trace        Trace
	artefactsDir string
	finalized    bool
}

// NewRecorder creates a recorder for one run. The run id is generated here,
// once, so that it can be correlated across partial logs and any later
// error-escalation copy.
func NewRecorder(runType, artefactsDir string, logger *zap.Logger) *Recorder {
	return &Recorder{
		logger: logger.Named("trace"),
		trace: Trace{
			RunID:     uuid.NewString(),
			RunType:   runType,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Steps:     []StepSnapshot{},
		},
		artefactsDir: artefactsDir,
	}
}

// RunID returns the run identifier generated at trace creation.
func (r *Recorder) RunID() string {
	return r.trace.RunID
}

// Record appends one step snapshot, preserving iteration order.
func (r *Recorder) Record(step StepSnapshot) {
	r.trace.Steps = append(r.trace.Steps, step)
	r.logger.Debug("Captured step", zap.Int("step", len(r.trace.Steps)))
}

// Snapshot builds a NodeSnapshot from the run state plus the messages the
// node appended.
func Snapshot(st *RunState, appended []Message) NodeSnapshot {
	return NodeSnapshot{
		Status:            string(st.Status),
		Health:            string(st.Health),
		HealthDescription: st.HealthDescription,
		Goal:              st.Goal,
		Messages:          appended,
		ArtefactsDir:      st.ArtefactsDir,
	}
}

// Finalize closes the trace, deriving the summary fields from the last
// recorded snapshot only. Calling it again returns the same trace.
func (r *Recorder) Finalize() *Trace {
	if r.finalized {
		return &r.trace
	}
	r.finalized = true
	r.trace.TotalSteps = len(r.trace.Steps)

	if len(r.trace.Steps) == 0 {
		return &r.trace
	}
	last := r.trace.Steps[len(r.trace.Steps)-1]
	for _, node := range nodeOrder {
		snap, ok := last[node]
		if !ok {
			continue
		}
		if snap.Status != "" {
			r.trace.FinalStatus = snap.Status
		}
		if snap.Health != "" {
			r.trace.FinalHealth = snap.Health
		}
		if snap.HealthDescription != "" {
			r.trace.FinalHealthDescription = snap.HealthDescription
		}
	}
	return &r.trace
}

// Write finalizes the trace and persists it as pretty-printed JSON under the
// run's artefacts directory. This write is the run's durability boundary: a
// crash before it loses the trace.
func (r *Recorder) Write() (string, error) {
	trace := r.Finalize()

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution trace: %w", err)
	}

	path := filepath.Join(r.artefactsDir, TraceFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write execution trace: %w", err)
	}

	r.logger.Info("Execution trace saved", zap.String("path", path),
		zap.String("run_id", trace.RunID), zap.Int("total_steps", trace.TotalSteps))
	return path, nil
}
