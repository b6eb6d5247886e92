package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/observe"
	"fieldtriage/internal/ports"
)

var (
	ErrBlankIntake        = errors.New("intake text is blank")
	ErrSubmissionInFlight = errors.New("a case is already being analyzed")
	ErrSessionClosed      = errors.New("session is closed")
)

// IntakeOrchestrator runs the idle/submitting/done/failed state machine around
// case analysis. It is the only writer of OrchestratorState and allows one
// analysis in flight.
type IntakeOrchestrator struct {
	analyzer ports.CaseAnalyzer
	narrator ports.Narrator
	metrics  *observe.Metrics
	logger   *slog.Logger

	mu    sync.Mutex
	state domain.OrchestratorState
	gen   generation
}

func NewIntakeOrchestrator(analyzer ports.CaseAnalyzer, narrator ports.Narrator, metrics *observe.Metrics, logger *slog.Logger) *IntakeOrchestrator {
	return &IntakeOrchestrator{
		analyzer: analyzer,
		narrator: narrator,
		metrics:  metrics,
		logger:   logging.Component(logger, "orchestrator"),
		state:    domain.OrchestratorState{Phase: domain.PhaseIdle},
	}
}

// Submit analyzes text and blocks until the request resolves. Blank text and
// submissions while another is in flight are rejected without touching state
// or narration. An analysis failure is recorded in state and also returned.
func (o *IntakeOrchestrator) Submit(ctx context.Context, text string) (domain.OrchestratorState, error) {
	trimmed := strings.TrimSpace(text)

	o.mu.Lock()
	seen, closed := o.gen.current()
	switch {
	case closed:
		o.mu.Unlock()
		return domain.OrchestratorState{}, ErrSessionClosed
	case trimmed == "":
		state := o.snapshotLocked()
		o.mu.Unlock()
		o.metrics.RecordSubmission(ctx, "rejected")
		return state, ErrBlankIntake
	case o.state.Phase == domain.PhaseSubmitting:
		state := o.snapshotLocked()
		o.mu.Unlock()
		o.metrics.RecordSubmission(ctx, "rejected")
		return state, ErrSubmissionInFlight
	}
	o.state = domain.OrchestratorState{Phase: domain.PhaseSubmitting}
	o.narrator.Append("Agent A: Transcribing and normalizing intake…")
	o.mu.Unlock()

	result, err := o.analyzer.Analyze(ctx, trimmed)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen.stale(seen) {
		o.logger.Debug("discarding analysis for closed session", slog.Bool("failed", err != nil))
		return domain.OrchestratorState{}, ErrSessionClosed
	}

	if err != nil {
		detail := err.Error()
		o.state = domain.OrchestratorState{Phase: domain.PhaseFailed, Error: detail}
		o.narrator.Append(fmt.Sprintf("Agent C: Case analysis failed (%s).", detail))
		o.metrics.RecordSubmission(ctx, string(domain.PhaseFailed))
		o.logger.Info("case analysis failed", slog.String("detail", detail))
		return o.snapshotLocked(), err
	}

	if result.CaseID == "" {
		result.CaseID = uuid.NewString()
	}
	o.state = domain.OrchestratorState{Phase: domain.PhaseDone, Result: &result}
	o.narrator.Append("Agent B: Retrieved guideline context and matched rural scenarios.")
	o.narrator.Append("Agent C: Completed risk classification and generated case summary.")
	o.metrics.RecordSubmission(ctx, string(domain.PhaseDone))
	o.logger.Info("case analyzed",
		slog.String("case_id", result.CaseID),
		slog.String("risk", string(result.RiskLevel)),
		slog.Bool("urgent", result.UrgentAlert),
	)
	return o.snapshotLocked(), nil
}

// State returns a snapshot safe to read without further locking.
func (o *IntakeOrchestrator) State() domain.OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Busy reports whether an analysis is in flight.
func (o *IntakeOrchestrator) Busy() bool {
	return o.State().Phase == domain.PhaseSubmitting
}

// Close makes any in-flight response stale and rejects later submissions.
func (o *IntakeOrchestrator) Close() {
	o.gen.close()
}

func (o *IntakeOrchestrator) snapshotLocked() domain.OrchestratorState {
	state := o.state
	if state.Result != nil {
		result := *state.Result
		state.Result = &result
	}
	return state
}
