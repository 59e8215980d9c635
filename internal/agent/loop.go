// File: internal/agent/loop.go
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Status is the loop-level progress marker threaded through the run state.
type Status string

const (
	StatusStart     Status = "start"
	StatusContinue  Status = "continue"
	StatusCompleted Status = "completed"
)

// Health is the agent's judgement of the system under test.
type Health string

const (
	HealthUnknown Health = "UNKNOWN"
	HealthOK      Health = "OK"
	HealthError   Health = "ERROR"
)

// Node names as they appear in step snapshots.
const (
	NodeDecide = "decide"
	NodeAct    = "act"
	NodeCheck  = "check"
)

// ReportCompletionAction is the designated action whose invocation carries
// the agent's self-reported completion signal.
const ReportCompletionAction = "report_completion"

// RunState is the mutable record threaded through one run of the loop. It is
// owned exclusively by that run and never shared.
type RunState struct {
	History           []Message
	Goal              string
	Status            Status
	Health            Health
	HealthDescription string
	ArtefactsDir      string
}

// NewRunState seeds the state for a fresh run.
func NewRunState(goal, artefactsDir string, initial ...Message) *RunState {
	return &RunState{
		History:      initial,
		Goal:         goal,
		Status:       StatusStart,
		Health:       HealthUnknown,
		ArtefactsDir: artefactsDir,
	}
}

// DecisionClient is the boundary to the language model: given the
// conversation history and the available action schemas, it produces the
// next assistant message, optionally carrying action requests. There is no
// other output channel.
type DecisionClient interface {
	Decide(ctx context.Context, history []Message, schemas []ActionSchema) (Message, error)
}

// CompletionPredicate is an idempotent environment query deciding whether
// the goal has been reached independently of agent self-report (e.g. "the
// session is authenticated").
type CompletionPredicate func(ctx context.Context) (bool, error)

// LoopConfig bounds and tunes one loop instance.
type LoopConfig struct {
	// MaxIterations hard-caps the run; exceeding it ends the run as a
	// non-fatal failure with whatever status and health were last set.
	MaxIterations int
	// SettleDelay is an optional pause before each decision call, letting
	// the environment settle after mutating actions.
	SettleDelay time.Duration
	// Completed, when set, is evaluated by the check node. When nil,
	// completion comes solely from the agent's report_completion action.
	Completed CompletionPredicate
}

// Loop drives an LLM-directed sequence of action invocations against the
// environment until the completion condition holds or the iteration bound is
// reached. Three node kinds cycle: decide, act, check. Routing: decide goes
// to act when the assistant requested actions, otherwise to check; act
// always goes to check; check terminates on completion, otherwise loops back
// to decide. Execution is single-threaded: one iteration runs to completion
// before the next begins.
type Loop struct {
	logger    *zap.Logger
	client    DecisionClient
	registry  *Registry
	compactor *Compactor
	recorder  *Recorder
	cfg       LoopConfig
}

// NewLoop assembles a loop from its collaborators.
func NewLoop(
	logger *zap.Logger,
	client DecisionClient,
	registry *Registry,
	compactor *Compactor,
	recorder *Recorder,
	cfg LoopConfig,
) *Loop {
	return &Loop{
		logger:    logger.Named("loop"),
		client:    client,
		registry:  registry,
		compactor: compactor,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// Run executes the state machine to completion, recording one step snapshot
// per iteration. A decision-function failure is fatal and aborts the run
// without finalizing the trace; action-level failures are delivered back
// into history as results and never abort.
func (l *Loop) Run(ctx context.Context, st *RunState) error {
	for iteration := 1; ; iteration++ {
		if iteration > l.cfg.MaxIterations {
			l.logger.Warn("Iteration bound reached, ending run",
				zap.Int("max_iterations", l.cfg.MaxIterations),
				zap.String("status", string(st.Status)),
				zap.String("health", string(st.Health)))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}

		step := StepSnapshot{}

		// decide
		assistant, err := l.decide(ctx, st)
		if err != nil {
			return fmt.Errorf("decision function failed: %w", err)
		}
		st.History = append(st.History, assistant)
		step[NodeDecide] = Snapshot(st, []Message{assistant})

		// act, only when the assistant requested actions
		if assistant.HasActionRequests() {
			results := l.act(ctx, st, assistant.ActionRequests)
			st.History = append(st.History, results...)
			step[NodeAct] = Snapshot(st, results)
		}

		// check
		l.check(ctx, st)
		step[NodeCheck] = Snapshot(st, nil)

		l.recorder.Record(step)
		l.logger.Debug("Iteration complete",
			zap.Int("iteration", iteration), zap.String("status", string(st.Status)))

		if st.Status == StatusCompleted {
			return nil
		}
	}
}

// decide compacts the history view and invokes the decision function. The
// compacted view is used for this call only; the authoritative history is
// left intact.
func (l *Loop) decide(ctx context.Context, st *RunState) (Message, error) {
	if l.cfg.SettleDelay > 0 {
		select {
		case <-time.After(l.cfg.SettleDelay):
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}

	view := l.compactor.Compact(st.History)
	return l.client.Decide(ctx, view, l.registry.Schemas())
}

// act executes each requested action in order, producing exactly one result
// message per request. A report_completion request additionally folds its
// arguments into the run state as the completion signal.
func (l *Loop) act(ctx context.Context, st *RunState, requests []ActionRequest) []Message {
	results := make([]Message, 0, len(requests))
	for _, req := range requests {
		results = append(results, l.registry.Execute(ctx, req))

		if req.Name == ReportCompletionAction {
			st.Status = StatusCompleted
			st.Health = reportedHealth(req.Arguments)
			st.HealthDescription = StringArg(req.Arguments, "health_description")
			l.logger.Info("Completion reported",
				zap.String("health", string(st.Health)),
				zap.String("description", st.HealthDescription))
		}
	}
	return results
}

// check evaluates the completion condition. A failing environment query is
// treated as "not complete" and logged, never as a crash.
func (l *Loop) check(ctx context.Context, st *RunState) {
	if st.Status == StatusCompleted {
		return
	}
	if l.cfg.Completed != nil {
		done, err := l.cfg.Completed(ctx)
		if err != nil {
			l.logger.Warn("Completion predicate failed", zap.Error(err))
		} else if done {
			st.Status = StatusCompleted
			return
		}
	}
	st.Status = StatusContinue
}

func reportedHealth(args map[string]any) Health {
	switch Health(StringArg(args, "health")) {
	case HealthOK:
		return HealthOK
	case HealthError:
		return HealthError
	}
	return HealthUnknown
}
