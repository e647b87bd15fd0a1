// Package decision models the human-in-the-loop checkpoint: a
// proposed decision against a backtested strategy version that a user
// must accept, modify, or reject before anything is executed. Terminal
// transitions are irreversible and exactly one ever wins.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/lifecycle"
	"strategy-advisor-lab/internal/storage"
)

// Machine is the decision state machine. It is the only writer of
// Decision and ExecutionTrace records.
type Machine struct {
	decisions storage.DecisionStore
	traces    storage.ExecutionTraceStore
	lifecycle *lifecycle.Manager

	newID  func() string
	nowMs  func() int64
	logger zerolog.Logger
}

// NewMachine creates a decision state machine.
func NewMachine(
	decisions storage.DecisionStore,
	traces storage.ExecutionTraceStore,
	lm *lifecycle.Manager,
	logger zerolog.Logger,
) *Machine {
	return &Machine{
		decisions: decisions,
		traces:    traces,
		lifecycle: lm,
		newID:     func() string { return uuid.NewString() },
		nowMs:     func() int64 { return time.Now().UnixMilli() },
		logger:    logger.With().Str("component", "decision").Logger(),
	}
}

// WithClock overrides the wall clock, for deterministic tests.
func (m *Machine) WithClock(nowMs func() int64) *Machine {
	m.nowMs = nowMs
	return m
}

// WithIDSource overrides decision/trace id generation, for tests.
func (m *Machine) WithIDSource(newID func() string) *Machine {
	m.newID = newID
	return m
}

// Propose creates a proposed decision against a strategy version. The
// strategy must be proposable: a version whose backtest failed can
// never reach a user.
func (m *Machine) Propose(ctx context.Context, userID, strategyID string, version int) (*domain.Decision, error) {
	strat, err := m.lifecycle.GetVersion(ctx, userID, strategyID, version)
	if err != nil {
		return nil, fmt.Errorf("propose decision: %w", err)
	}
	if strat.Status != domain.StrategyStatusProposable {
		return nil, &InvalidTransitionError{
			StrategyID: strategyID,
			Version:    version,
			From:       strat.Status,
			To:         domain.DecisionProposed,
		}
	}

	d := &domain.Decision{
		DecisionID: m.newID(),
		Strategy:   domain.VersionRef{StrategyID: strategyID, Version: version},
		UserID:     userID,
		State:      domain.DecisionProposed,
		CreatedAt:  m.nowMs(),
	}

	if err := m.decisions.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}

	m.logger.Info().
		Str("decision_id", d.DecisionID).
		Str("strategy_id", strategyID).
		Int("version", version).
		Msg("decision proposed")

	return d, nil
}

// Payload carries the outcome-specific data of a Decide call.
type Payload struct {
	// ReasonCode is required for rejections.
	ReasonCode string

	// Modification is required for the modified outcome.
	Modification *lifecycle.Modification
}

// Result is what a terminal transition produced.
type Result struct {
	Decision *domain.Decision

	// Trace is the execution trace created by an accepted decision.
	Trace *domain.ExecutionTrace

	// Fork and Next are set by a modified decision: the new strategy
	// version and the proposed decision against it.
	Fork *domain.Strategy
	Next *domain.Decision
}

// Decide applies the single terminal transition of a decision.
// Concurrent attempts race on the store's compare-and-set; the loser
// gets InvalidTransitionError and must not retry.
func (m *Machine) Decide(ctx context.Context, userID, decisionID, outcome string, payload Payload) (*Result, error) {
	d, err := m.decisions.GetByID(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}
	if d.UserID != userID {
		return nil, &storage.NotFoundError{Entity: "decision", ID: decisionID}
	}
	if d.Terminal() {
		return nil, &InvalidTransitionError{DecisionID: decisionID, From: d.State, To: outcome}
	}

	switch outcome {
	case domain.DecisionAccepted:
		return m.accept(ctx, d)
	case domain.DecisionRejected:
		return m.reject(ctx, d, payload.ReasonCode)
	case domain.DecisionModified:
		return m.modify(ctx, d, payload.Modification)
	default:
		return nil, &InvalidTransitionError{DecisionID: decisionID, From: d.State, To: outcome}
	}
}

// accept transitions proposed -> accepted and creates the single
// execution trace container, empty until the execution boundary
// populates it.
func (m *Machine) accept(ctx context.Context, d *domain.Decision) (*Result, error) {
	term := *d
	term.State = domain.DecisionAccepted
	term.DecidedAt = m.nowMs()

	if err := m.markDecided(ctx, &term); err != nil {
		return nil, err
	}

	trace := &domain.ExecutionTrace{
		TraceID:    m.newID(),
		DecisionID: d.DecisionID,
		StartedAt:  term.DecidedAt,
	}
	if err := m.traces.Insert(ctx, trace); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// The decision already has its trace; fetch it so the
			// exactly-one guarantee holds for the caller too.
			existing, getErr := m.traces.GetByDecision(ctx, d.DecisionID)
			if getErr != nil {
				return nil, fmt.Errorf("load existing trace: %w", getErr)
			}
			trace = existing
		} else {
			return nil, fmt.Errorf("create execution trace: %w", err)
		}
	}

	m.logger.Info().
		Str("decision_id", d.DecisionID).
		Str("trace_id", trace.TraceID).
		Msg("decision accepted, execution trace created")

	return &Result{Decision: &term, Trace: trace}, nil
}

// reject transitions proposed -> rejected. No trace is created; the
// reason code feeds the learning signal.
func (m *Machine) reject(ctx context.Context, d *domain.Decision, reasonCode string) (*Result, error) {
	if reasonCode == "" {
		return nil, fmt.Errorf("reject decision %s: reason code required: %w", d.DecisionID, storage.ErrInvalidInput)
	}

	term := *d
	term.State = domain.DecisionRejected
	term.ReasonCode = reasonCode
	term.DecidedAt = m.nowMs()

	if err := m.markDecided(ctx, &term); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("decision_id", d.DecisionID).
		Str("reason", reasonCode).
		Msg("decision rejected")

	return &Result{Decision: &term}, nil
}

// modify forks the strategy, terminates the original decision as
// modified, and proposes a fresh decision against the fork. The fork
// happens before the transition so a version conflict leaves the
// decision proposed and retryable.
func (m *Machine) modify(ctx context.Context, d *domain.Decision, mod *lifecycle.Modification) (*Result, error) {
	if mod == nil {
		return nil, fmt.Errorf("modify decision %s: modification payload required: %w", d.DecisionID, storage.ErrInvalidInput)
	}

	fork, err := m.lifecycle.Fork(ctx, d.UserID, d.Strategy.StrategyID, d.Strategy.Version, *mod)
	if err != nil {
		return nil, fmt.Errorf("fork strategy for decision %s: %w", d.DecisionID, err)
	}
	if fork.Status != domain.StrategyStatusProposable {
		// The fork is durable but cannot be decided on; the original
		// decision stays proposed so the user can retry later.
		return nil, &InvalidTransitionError{
			StrategyID: fork.StrategyID,
			Version:    fork.Version,
			From:       fork.Status,
			To:         domain.DecisionProposed,
		}
	}

	next := &domain.Decision{
		DecisionID: m.newID(),
		Strategy:   domain.VersionRef{StrategyID: fork.StrategyID, Version: fork.Version},
		UserID:     d.UserID,
		State:      domain.DecisionProposed,
		CreatedAt:  m.nowMs(),
	}

	term := *d
	term.State = domain.DecisionModified
	term.Modified = &domain.VersionRef{StrategyID: fork.StrategyID, Version: fork.Version}
	term.NextID = next.DecisionID
	term.DecidedAt = m.nowMs()

	if err := m.markDecided(ctx, &term); err != nil {
		return nil, err
	}

	if err := m.decisions.Insert(ctx, next); err != nil {
		return nil, fmt.Errorf("propose decision against fork: %w", err)
	}

	m.logger.Info().
		Str("decision_id", d.DecisionID).
		Str("fork_strategy", fork.StrategyID).
		Int("fork_version", fork.Version).
		Str("next_decision", next.DecisionID).
		Msg("decision modified, fork proposed")

	return &Result{Decision: &term, Fork: fork, Next: next}, nil
}

func (m *Machine) markDecided(ctx context.Context, term *domain.Decision) error {
	if err := m.decisions.MarkDecided(ctx, term); err != nil {
		if errors.Is(err, storage.ErrAlreadyDecided) {
			current, getErr := m.decisions.GetByID(ctx, term.DecisionID)
			from := "terminal"
			if getErr == nil {
				from = current.State
			}
			return &InvalidTransitionError{DecisionID: term.DecisionID, From: from, To: term.State}
		}
		return fmt.Errorf("mark decision %s decided: %w", term.DecisionID, err)
	}
	return nil
}

// AppendAction appends an execution action to a trace on behalf of the
// execution boundary. Corrections arrive as compensating entries.
func (m *Machine) AppendAction(ctx context.Context, traceID string, a domain.ActionRecord) (int, error) {
	if a.Timestamp == 0 {
		a.Timestamp = m.nowMs()
	}
	return m.traces.AppendAction(ctx, traceID, a)
}

// CompleteTrace closes a trace once execution has finished.
func (m *Machine) CompleteTrace(ctx context.Context, traceID string) error {
	return m.traces.Complete(ctx, traceID, m.nowMs())
}

// GetTrace retrieves a trace with its actions.
func (m *Machine) GetTrace(ctx context.Context, traceID string) (*domain.ExecutionTrace, error) {
	return m.traces.GetByID(ctx, traceID)
}
