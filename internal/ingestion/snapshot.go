package ingestion

import (
	"encoding/json"
	"fmt"

	"strategy-advisor-lab/internal/domain"
)

// snapshotMessage is the feed's wire format for one market snapshot.
type snapshotMessage struct {
	ContextID string   `json:"context_id"`
	Timestamp int64    `json:"timestamp"`
	Symbols   []string `json:"symbols"`
	Signals   []struct {
		Name       string  `json:"name"`
		Value      float64 `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"signals"`
	Events []struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Timestamp   int64  `json:"timestamp"`
	} `json:"events"`
}

// ParseSnapshot decodes and validates one feed message.
func ParseSnapshot(payload []byte) (*domain.MarketContext, error) {
	var msg snapshotMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if msg.ContextID == "" {
		return nil, fmt.Errorf("snapshot missing context_id")
	}
	if msg.Timestamp <= 0 {
		return nil, fmt.Errorf("snapshot %s: missing timestamp", msg.ContextID)
	}
	if len(msg.Signals) == 0 {
		return nil, fmt.Errorf("snapshot %s: no signals", msg.ContextID)
	}

	mc := &domain.MarketContext{
		ContextID: msg.ContextID,
		Timestamp: msg.Timestamp,
		Symbols:   msg.Symbols,
	}
	for _, s := range msg.Signals {
		if s.Name == "" {
			return nil, fmt.Errorf("snapshot %s: unnamed signal", msg.ContextID)
		}
		mc.Signals = append(mc.Signals, domain.Signal{
			Name:       s.Name,
			Value:      s.Value,
			Confidence: s.Confidence,
		})
	}
	for _, e := range msg.Events {
		mc.Events = append(mc.Events, domain.MarketEvent{
			EventType:   e.Type,
			Description: e.Description,
			Timestamp:   e.Timestamp,
		})
	}
	return mc, nil
}
