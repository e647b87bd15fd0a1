package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"strategy-advisor-lab/internal/backtest"
	"strategy-advisor-lab/internal/decision"
	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/learning"
	"strategy-advisor-lab/internal/lifecycle"
	"strategy-advisor-lab/internal/policy"
	"strategy-advisor-lab/internal/reporting"
	"strategy-advisor-lab/internal/storage/memory"
)

// newTestServer wires the full engine over memory stores and seeds one
// user, one goal, and nSnapshots weekly market snapshots.
func newTestServer(t *testing.T, nSnapshots int) http.Handler {
	t.Helper()
	ctx := context.Background()

	strategies := memory.NewStrategyStore()
	backtests := memory.NewBacktestStore()
	goals := memory.NewGoalStore()
	users := memory.NewUserProfileStore()
	contexts := memory.NewMarketContextStore()
	decisions := memory.NewDecisionStore()
	traces := memory.NewExecutionTraceStore()
	performances := memory.NewPerformanceStore()
	learningRepo := memory.NewLearningMetricsStore()

	engine := backtest.NewEngine(contexts, zerolog.Nop())
	manager := lifecycle.NewManager(strategies, backtests, goals, users, contexts, engine, 1337, zerolog.Nop())
	machine := decision.NewMachine(decisions, traces, manager, zerolog.Nop())
	aggregator := learning.NewAggregator(performances, learningRepo, decisions, traces, strategies, zerolog.Nop())
	reports := reporting.NewGenerator(strategies, backtests, decisions, traces, performances)
	ranker := policy.NewWeightedRanker(policy.DefaultWeights())

	if err := users.Insert(ctx, &domain.UserProfile{
		UserID: "user-1",
		Risk:   domain.RiskProfile{RiskTolerance: domain.RiskBalanced},
	}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := goals.Insert(ctx, &domain.Goal{
		GoalID: "goal-1", Version: 1, UserID: "user-1", HorizonMonths: 3,
	}); err != nil {
		t.Fatalf("insert goal: %v", err)
	}
	for i := 0; i < nSnapshots; i++ {
		if err := contexts.Insert(ctx, &domain.MarketContext{
			ContextID: fmt.Sprintf("ctx-%03d", i),
			Timestamp: 1690000000000 + int64(i)*7*24*3600*1000,
			Symbols:   []string{"SPY", "TLT"},
			Signals: []domain.Signal{
				{Name: "SPY", Value: 0.5, Confidence: 0.9},
				{Name: "TLT", Value: 0.2, Confidence: 0.8},
			},
		}); err != nil {
			t.Fatalf("insert snapshot: %v", err)
		}
	}

	handler := NewHandler(manager, machine, aggregator, ranker, reports, backtests, learningRepo, zerolog.Nop())
	srv := New(Config{Addr: ":0", Log: zerolog.Nop(), Handler: handler})
	return srv.Router()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	fields := map[string]json.RawMessage{}
	ct := rec.Header().Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
			t.Fatalf("decode response %s: %v", rec.Body.String(), err)
		}
	}
	return rec, fields
}

func fieldString(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if raw, ok := fields[key]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Fatalf("field %s: %v", key, err)
		}
	}
	return s
}

func proposeStrategy(t *testing.T, router http.Handler) (strategyID string) {
	t.Helper()
	rec, fields := doJSON(t, router, http.MethodPost, "/api/strategies", map[string]interface{}{
		"user_id":      "user-1",
		"goal_id":      "goal-1",
		"goal_version": 1,
		"family":       domain.FamilyMomentum,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("propose status = %d: %s", rec.Code, rec.Body.String())
	}
	return fieldString(t, fields, "StrategyID")
}

func TestHealth(t *testing.T) {
	router := newTestServer(t, 24)
	rec, _ := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPropose_BacktestedBeforeSurfacing(t *testing.T) {
	router := newTestServer(t, 24)
	rec, fields := doJSON(t, router, http.MethodPost, "/api/strategies", map[string]interface{}{
		"user_id":      "user-1",
		"goal_id":      "goal-1",
		"goal_version": 1,
		"family":       domain.FamilyMomentum,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := fieldString(t, fields, "Status"); got != domain.StrategyStatusProposable {
		t.Errorf("Status = %s, want proposable", got)
	}
	if fieldString(t, fields, "BacktestID") == "" {
		t.Error("proposable strategy has no backtest reference")
	}
}

func TestPropose_InsufficientHistoryIsDurable(t *testing.T) {
	router := newTestServer(t, 3)
	rec, fields := doJSON(t, router, http.MethodPost, "/api/strategies", map[string]interface{}{
		"user_id":      "user-1",
		"goal_id":      "goal-1",
		"goal_version": 1,
		"family":       domain.FamilyMomentum,
	})
	// The failed attempt is recorded, not dropped.
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := fieldString(t, fields, "Status"); got != domain.StrategyStatusBacktestFailed {
		t.Errorf("Status = %s, want backtest_failed", got)
	}
	if fieldString(t, fields, "FailureReason") == "" {
		t.Error("failure reason not recorded")
	}
}

func TestDecisionFlow_AcceptEvaluateReport(t *testing.T) {
	router := newTestServer(t, 24)
	strategyID := proposeStrategy(t, router)

	rec, fields := doJSON(t, router, http.MethodPost, "/api/decisions", map[string]interface{}{
		"user_id": "user-1", "strategy_id": strategyID, "version": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("propose decision status = %d: %s", rec.Code, rec.Body.String())
	}
	decisionID := fieldString(t, fields, "DecisionID")

	rec, _ = doJSON(t, router, http.MethodPost, "/api/decisions/"+decisionID+"/decide", map[string]interface{}{
		"user_id": "user-1", "outcome": domain.DecisionAccepted,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decide status = %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Trace *domain.ExecutionTrace
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || result.Trace == nil {
		t.Fatalf("decide result missing trace: %v %s", err, rec.Body.String())
	}

	// Re-deciding a terminal decision is a conflict, never retried.
	rec, fields = doJSON(t, router, http.MethodPost, "/api/decisions/"+decisionID+"/decide", map[string]interface{}{
		"user_id": "user-1", "outcome": domain.DecisionRejected, "reason_code": domain.ReasonOther,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-decide status = %d, want 409", rec.Code)
	}
	if got := fieldString(t, fields, "code"); got != "invalid_transition" {
		t.Errorf("code = %s, want invalid_transition", got)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/api/traces/"+result.Trace.TraceID+"/actions", map[string]interface{}{
		"action_type": domain.TraceActionBuy, "symbol": "SPY", "quantity": 10, "price": 500,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("append action status = %d: %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/api/traces/"+result.Trace.TraceID+"/evaluate", map[string]interface{}{
		"window_start":      1000,
		"window_end":        2000,
		"portfolio_returns": []float64{0.05, -0.01},
		"benchmark_returns": []float64{0.01, 0.01},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("evaluate status = %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/strategies/"+strategyID+"/report?user_id=user-1", nil)
	recReport := httptest.NewRecorder()
	router.ServeHTTP(recReport, req)
	if recReport.Code != http.StatusOK {
		t.Fatalf("report status = %d", recReport.Code)
	}
	if !strings.Contains(recReport.Body.String(), "# Strategy Report") {
		t.Error("markdown report missing header")
	}
}

func TestDecide_UnknownDecisionIs404(t *testing.T) {
	router := newTestServer(t, 24)
	rec, fields := doJSON(t, router, http.MethodPost, "/api/decisions/nope/decide", map[string]interface{}{
		"user_id": "user-1", "outcome": domain.DecisionAccepted,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := fieldString(t, fields, "code"); got != "not_found" {
		t.Errorf("code = %s, want not_found", got)
	}
}

func TestFork_StaleVersionIs409(t *testing.T) {
	router := newTestServer(t, 24)
	strategyID := proposeStrategy(t, router)

	entry := 0.4
	body := map[string]interface{}{
		"user_id":      "user-1",
		"modification": map[string]interface{}{"EntryThreshold": entry},
	}
	rec, _ := doJSON(t, router, http.MethodPost, "/api/strategies/"+strategyID+"/versions/1/fork", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("fork status = %d: %s", rec.Code, rec.Body.String())
	}

	// Forking the now-stale v1 again collides with v2.
	rec, fields := doJSON(t, router, http.MethodPost, "/api/strategies/"+strategyID+"/versions/1/fork", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale fork status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if got := fieldString(t, fields, "code"); got != "concurrent_modification" {
		t.Errorf("code = %s, want concurrent_modification", got)
	}
}

func TestRank_OrdersCandidates(t *testing.T) {
	router := newTestServer(t, 24)
	proposeStrategy(t, router)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/rank", map[string]interface{}{
		"user_id": "user-1", "goal_id": "goal-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("rank status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Candidates []struct {
			Strategy *domain.Strategy `json:"strategy"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rank response: %v", err)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].Strategy.Status != domain.StrategyStatusProposable {
		t.Errorf("candidates = %+v", resp.Candidates)
	}
}

func TestPropose_BadBodyIs400(t *testing.T) {
	router := newTestServer(t, 24)
	req := httptest.NewRequest(http.MethodPost, "/api/strategies", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPropose_UnknownFamilyIs400(t *testing.T) {
	router := newTestServer(t, 24)
	rec, _ := doJSON(t, router, http.MethodPost, "/api/strategies", map[string]interface{}{
		"user_id":      "user-1",
		"goal_id":      "goal-1",
		"goal_version": 1,
		"family":       "arbitrage",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}
