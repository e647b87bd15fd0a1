package memory

import (
	"context"
	"errors"
	"testing"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

func makeMetrics(family string, version int64) *domain.LearningMetrics {
	return &domain.LearningMetrics{
		Family:      family,
		WindowStart: 0,
		WindowEnd:   10000,
		Version:     version,
		SampleCount: 5,
		Acceptance:  0.6,
		TrustScore:  0.7,
		ComputedAt:  1000,
	}
}

func TestLearningMetricsStore_VersionsMoveForward(t *testing.T) {
	ctx := context.Background()
	store := NewLearningMetricsStore()

	if err := store.Insert(ctx, makeMetrics("momentum", 1)); err != nil {
		t.Fatalf("Insert v1 failed: %v", err)
	}
	if err := store.Insert(ctx, makeMetrics("momentum", 2)); err != nil {
		t.Fatalf("Insert v2 failed: %v", err)
	}

	// Stale version must be rejected, not merged.
	if err := store.Insert(ctx, makeMetrics("momentum", 2)); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("stale insert: got %v, want ErrVersionConflict", err)
	}
	if err := store.Insert(ctx, makeMetrics("momentum", 1)); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("older insert: got %v, want ErrVersionConflict", err)
	}

	latest, err := store.GetLatest(ctx, "momentum")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.Version != 2 {
		t.Errorf("latest.Version = %d, want 2", latest.Version)
	}
}

func TestLearningMetricsStore_GetAllLatest(t *testing.T) {
	ctx := context.Background()
	store := NewLearningMetricsStore()

	for _, m := range []*domain.LearningMetrics{
		makeMetrics("momentum", 1),
		makeMetrics("momentum", 2),
		makeMetrics("macro_rotation", 1),
	} {
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	all, err := store.GetAllLatest(ctx)
	if err != nil {
		t.Fatalf("GetAllLatest failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("families = %d, want 2", len(all))
	}
	if all["momentum"].Version != 2 {
		t.Errorf("momentum latest = v%d, want v2", all["momentum"].Version)
	}

	if _, err := store.GetLatest(ctx, "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown family: got %v, want ErrNotFound", err)
	}
}
