package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"strategy-advisor-lab/internal/decision"
	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/learning"
	"strategy-advisor-lab/internal/lifecycle"
	"strategy-advisor-lab/internal/policy"
	"strategy-advisor-lab/internal/reporting"
	"strategy-advisor-lab/internal/storage"
)

// Handler wires the engine components behind the HTTP API.
type Handler struct {
	lifecycle  *lifecycle.Manager
	machine    *decision.Machine
	aggregator *learning.Aggregator
	ranker     policy.Ranker
	reports    *reporting.Generator

	backtests    storage.BacktestStore
	learningRepo storage.LearningMetricsStore

	log zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	lm *lifecycle.Manager,
	machine *decision.Machine,
	aggregator *learning.Aggregator,
	ranker policy.Ranker,
	reports *reporting.Generator,
	backtests storage.BacktestStore,
	learningRepo storage.LearningMetricsStore,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		lifecycle:    lm,
		machine:      machine,
		aggregator:   aggregator,
		ranker:       ranker,
		reports:      reports,
		backtests:    backtests,
		learningRepo: learningRepo,
		log:          log.With().Str("handler", "api").Logger(),
	}
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type proposeRequest struct {
	UserID          string `json:"user_id"`
	GoalID          string `json:"goal_id"`
	GoalVersion     int    `json:"goal_version"`
	Family          string `json:"family"`
	MarketContextID string `json:"market_context_id,omitempty"`
}

// HandlePropose creates strategy version 1 for a goal, backtested
// before it is surfaced.
func (h *Handler) HandlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w: %s", storage.ErrInvalidInput, err))
		return
	}

	// The policy feedback loop: the latest learning snapshot for the
	// family shapes the generated hypothesis. Eventual consistency is
	// fine here; no snapshot yet means no history.
	var metrics *domain.LearningMetrics
	if req.Family != "" {
		m, err := h.learningRepo.GetLatest(r.Context(), req.Family)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, err)
			return
		}
		metrics = m
	}

	strat, err := h.lifecycle.Propose(r.Context(), lifecycle.ProposeRequest{
		UserID:          req.UserID,
		Goal:            domain.GoalRef{GoalID: req.GoalID, Version: req.GoalVersion},
		Family:          req.Family,
		MarketContextID: req.MarketContextID,
		Learning:        metrics,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, strat)
}

type forkRequest struct {
	UserID       string                 `json:"user_id"`
	Modification lifecycle.Modification `json:"modification"`
}

// HandleFork creates version N+1 of a strategy.
func (h *Handler) HandleFork(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyID")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		h.writeError(w, fmt.Errorf("bad version: %w", storage.ErrInvalidInput))
		return
	}

	var req forkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w: %s", storage.ErrInvalidInput, err))
		return
	}

	fork, err := h.lifecycle.Fork(r.Context(), req.UserID, strategyID, version, req.Modification)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, fork)
}

// HandleLineage returns every version of a strategy, oldest first.
func (h *Handler) HandleLineage(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyID")
	userID := r.URL.Query().Get("user_id")

	lineage, err := h.lifecycle.Lineage(r.Context(), userID, strategyID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy_id": strategyID,
		"versions":    lineage,
	})
}

// HandleReport renders the explainability report for a lineage.
// format=md (default) or format=csv for the performance series.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyID")
	userID := r.URL.Query().Get("user_id")

	report, err := h.reports.Generate(r.Context(), userID, strategyID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(reporting.RenderCSV(report.Performance)))
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(reporting.RenderMarkdown(report)))
}

type proposeDecisionRequest struct {
	UserID     string `json:"user_id"`
	StrategyID string `json:"strategy_id"`
	Version    int    `json:"version"`
}

// HandleProposeDecision opens the human checkpoint for a strategy version.
func (h *Handler) HandleProposeDecision(w http.ResponseWriter, r *http.Request) {
	var req proposeDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w: %s", storage.ErrInvalidInput, err))
		return
	}

	d, err := h.machine.Propose(r.Context(), req.UserID, req.StrategyID, req.Version)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, d)
}

type decideRequest struct {
	UserID       string                  `json:"user_id"`
	Outcome      string                  `json:"outcome"`
	ReasonCode   string                  `json:"reason_code,omitempty"`
	Modification *lifecycle.Modification `json:"modification,omitempty"`
}

// HandleDecide applies the terminal transition of a decision.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	decisionID := chi.URLParam(r, "decisionID")

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w: %s", storage.ErrInvalidInput, err))
		return
	}

	res, err := h.machine.Decide(r.Context(), req.UserID, decisionID, req.Outcome, decision.Payload{
		ReasonCode:   req.ReasonCode,
		Modification: req.Modification,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// HandleGetTrace returns a trace with its actions.
func (h *Handler) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	trace, err := h.machine.GetTrace(r.Context(), chi.URLParam(r, "traceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trace)
}

type appendActionRequest struct {
	ActionType  string  `json:"action_type"`
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	Compensates int     `json:"compensates,omitempty"`
}

// HandleAppendAction records one execution action from the brokerage
// boundary. Corrections arrive as compensating entries.
func (h *Handler) HandleAppendAction(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")

	var req appendActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w: %s", storage.ErrInvalidInput, err))
		return
	}

	seq, err := h.machine.AppendAction(r.Context(), traceID, domain.ActionRecord{
		ActionType:  req.ActionType,
		Symbol:      req.Symbol,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Compensates: req.Compensates,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"trace_id": traceID, "seq": seq})
}

// HandleCompleteTrace closes a trace.
func (h *Handler) HandleCompleteTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	if err := h.machine.CompleteTrace(r.Context(), traceID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"trace_id": traceID, "status": "completed"})
}

type evaluateRequest struct {
	WindowStart      int64            `json:"window_start"`
	WindowEnd        int64            `json:"window_end"`
	PortfolioReturns []float64        `json:"portfolio_returns"`
	BenchmarkReturns []float64        `json:"benchmark_returns"`
	Feedback         *domain.Feedback `json:"feedback,omitempty"`
}

// HandleEvaluate scores a trace against a realized market outcome.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w: %s", storage.ErrInvalidInput, err))
		return
	}

	perf, err := h.aggregator.Evaluate(r.Context(), traceID, domain.MarketOutcome{
		WindowStart:      req.WindowStart,
		WindowEnd:        req.WindowEnd,
		PortfolioReturns: req.PortfolioReturns,
		BenchmarkReturns: req.BenchmarkReturns,
	}, req.Feedback)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, perf)
}

type rankRequest struct {
	UserID string `json:"user_id"`
	GoalID string `json:"goal_id"`
}

type rankedCandidate struct {
	Strategy *domain.Strategy       `json:"strategy"`
	Backtest *domain.BacktestResult `json:"backtest"`
}

// HandleRank orders the goal's proposable strategies using the latest
// learning snapshots.
func (h *Handler) HandleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w: %s", storage.ErrInvalidInput, err))
		return
	}

	strats, err := h.lifecycle.ListByGoal(r.Context(), req.UserID, req.GoalID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var candidates []policy.Candidate
	for _, s := range strats {
		if s.Status != domain.StrategyStatusProposable {
			continue
		}
		bt, err := h.backtests.GetByStrategyVersion(r.Context(), s.StrategyID, s.Version)
		if err != nil {
			h.writeError(w, err)
			return
		}
		candidates = append(candidates, policy.Candidate{Strategy: s, Backtest: bt})
	}

	metrics, err := h.learningRepo.GetAllLatest(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	ranked := h.ranker.Rank(candidates, metrics)

	out := make([]rankedCandidate, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, rankedCandidate{Strategy: c.Strategy, Backtest: c.Backtest})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": out})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, resp := toErrorResponse(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, resp)
}
