// Package main runs the strategy advisory server: the HTTP API, the
// optional market-data websocket feed, and the scheduled learning
// recompute.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"strategy-advisor-lab/internal/backtest"
	"strategy-advisor-lab/internal/config"
	"strategy-advisor-lab/internal/decision"
	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/ingestion"
	"strategy-advisor-lab/internal/learning"
	"strategy-advisor-lab/internal/lifecycle"
	"strategy-advisor-lab/internal/policy"
	"strategy-advisor-lab/internal/reporting"
	"strategy-advisor-lab/internal/server"
	"strategy-advisor-lab/internal/storage"
	chstore "strategy-advisor-lab/internal/storage/clickhouse"
	"strategy-advisor-lab/internal/storage/memory"
	"strategy-advisor-lab/internal/storage/migrations"
	pgstore "strategy-advisor-lab/internal/storage/postgres"
)

// stores bundles every store behind the engine, regardless of backend.
type stores struct {
	users        storage.UserProfileStore
	goals        storage.GoalStore
	contexts     storage.MarketContextStore
	strategies   storage.StrategyStore
	backtests    storage.BacktestStore
	decisions    storage.DecisionStore
	traces       storage.ExecutionTraceStore
	performances storage.PerformanceStore
	learning     storage.LearningMetricsStore

	close func()
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer st.close()

	engine := backtest.NewEngine(st.contexts, log)
	manager := lifecycle.NewManager(st.strategies, st.backtests, st.goals, st.users, st.contexts, engine, cfg.BacktestSeed, log)
	machine := decision.NewMachine(st.decisions, st.traces, manager, log)
	aggregator := learning.NewAggregator(st.performances, st.learning, st.decisions, st.traces, st.strategies, log)
	ranker := policy.NewWeightedRanker(cfg.RankingWeights)
	reports := reporting.NewGenerator(st.strategies, st.backtests, st.decisions, st.traces, st.performances)

	sched := cron.New()
	_, err = sched.AddFunc(cfg.LearningRefreshCron, func() {
		recomputeLearning(ctx, aggregator, cfg.LearningWindow, log)
	})
	if err != nil {
		log.Fatal().Err(err).Str("spec", cfg.LearningRefreshCron).Msg("Failed to schedule learning refresh")
	}
	sched.Start()
	defer sched.Stop()

	if cfg.MarketFeedURL != "" {
		feed := ingestion.NewFeedClient(cfg.MarketFeedURL, st.contexts, nil, log)
		go func() {
			if err := feed.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Market feed stopped")
			}
		}()
	}

	handler := server.NewHandler(manager, machine, aggregator, ranker, reports, st.backtests, st.learning, log)
	srv := server.New(server.Config{
		Addr:    cfg.HTTPAddr,
		Log:     log,
		Handler: handler,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("Advisory server started")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
}

// openStores wires either the in-memory backend or the
// Postgres+ClickHouse pair, running migrations for the latter.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.UseMemory {
		log.Warn().Msg("Using in-memory stores; data is not persisted")
		return &stores{
			users:        memory.NewUserProfileStore(),
			goals:        memory.NewGoalStore(),
			contexts:     memory.NewMarketContextStore(),
			strategies:   memory.NewStrategyStore(),
			backtests:    memory.NewBacktestStore(),
			decisions:    memory.NewDecisionStore(),
			traces:       memory.NewExecutionTraceStore(),
			performances: memory.NewPerformanceStore(),
			learning:     memory.NewLearningMetricsStore(),
			close:        func() {},
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &stores{
		users:        pgstore.NewUserProfileStore(pool),
		goals:        pgstore.NewGoalStore(pool),
		contexts:     chstore.NewMarketContextStore(conn),
		strategies:   pgstore.NewStrategyStore(pool),
		backtests:    pgstore.NewBacktestStore(pool),
		decisions:    pgstore.NewDecisionStore(pool),
		traces:       pgstore.NewExecutionTraceStore(pool),
		performances: chstore.NewPerformanceStore(conn),
		learning:     pgstore.NewLearningMetricsStore(pool),
		close: func() {
			conn.Close()
			pool.Close()
		},
	}, nil
}

// recomputeLearning rolls up the trailing window for every strategy
// family. Empty families still write a neutral snapshot so readers can
// tell "no data" from "never computed".
func recomputeLearning(ctx context.Context, aggregator *learning.Aggregator, window time.Duration, log zerolog.Logger) {
	end := time.Now().UnixMilli()
	start := end - window.Milliseconds()

	for _, family := range domain.Families {
		m, err := aggregator.RecomputeWindow(ctx, family, start, end)
		if err != nil {
			log.Error().Err(err).Str("family", family).Msg("Learning recompute failed")
			continue
		}
		log.Info().
			Str("family", family).
			Int64("version", m.Version).
			Int("samples", m.SampleCount).
			Float64("trust", m.TrustScore).
			Msg("Learning metrics refreshed")
	}
}
