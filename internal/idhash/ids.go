package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeStrategyID computes a deterministic strategy_id using SHA256.
// Formula: SHA256(user_id|goal_id|goal_version|family|created_at)
// The id is stable across versions of the same strategy; versions are
// distinguished by the (strategy_id, version) pair.
// Returns hex-encoded hash (64 characters).
func ComputeStrategyID(
	userID string,
	goalID string,
	goalVersion int,
	family string,
	createdAt int64,
) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%d",
		userID,
		goalID,
		goalVersion,
		family,
		createdAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeBacktestID computes a deterministic backtest_id using SHA256.
// Formula: SHA256(strategy_id|version|context_id|seed)
// Identical inputs always produce the same id, so a reproduced run maps
// to the same record.
// Returns hex-encoded hash (64 characters).
func ComputeBacktestID(
	strategyID string,
	version int,
	contextID string,
	seed int64,
) string {
	data := fmt.Sprintf("%s|%d|%s|%d",
		strategyID,
		version,
		contextID,
		seed,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputePerformanceID computes a deterministic performance_id using SHA256.
// Formula: SHA256(trace_id|as_of)
// Returns hex-encoded hash (64 characters).
func ComputePerformanceID(traceID string, asOf int64) string {
	data := fmt.Sprintf("%s|%d", traceID, asOf)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
