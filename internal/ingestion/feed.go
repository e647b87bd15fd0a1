// Package ingestion consumes market-context snapshots from the
// market-data collaborator over WebSocket and persists them as an
// append-only time series. Snapshots are immutable once stored;
// redeliveries are dropped as duplicates.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"strategy-advisor-lab/internal/storage"
)

// FeedConfig configures feed client behavior.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// FeedClient subscribes to the market-context feed and writes every
// snapshot it receives.
type FeedClient struct {
	endpoint string
	config   FeedConfig
	contexts storage.MarketContextStore
	logger   zerolog.Logger
}

// NewFeedClient creates a feed client. A nil config uses defaults.
func NewFeedClient(endpoint string, contexts storage.MarketContextStore, config *FeedConfig, logger zerolog.Logger) *FeedClient {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}
	return &FeedClient{
		endpoint: endpoint,
		config:   cfg,
		contexts: contexts,
		logger:   logger.With().Str("component", "ingestion").Logger(),
	}
}

// Run consumes the feed until the context is cancelled, reconnecting
// with exponential backoff on connection loss. Returns nil on
// cancellation; dial and read errors are retried, not returned.
func (c *FeedClient) Run(ctx context.Context) error {
	delay := c.config.ReconnectDelay
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("feed connection lost")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// consume dials the feed and reads snapshots until the connection
// drops or the context is cancelled.
func (c *FeedClient) consume(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("feed dial: %w", err)
	}
	defer conn.Close()

	c.logger.Info().Str("endpoint", c.endpoint).Msg("market feed connected")

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if c.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read: %w", err)
		}
		c.handleMessage(ctx, payload)
	}
}

func (c *FeedClient) handleMessage(ctx context.Context, payload []byte) {
	snapshot, err := ParseSnapshot(payload)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed snapshot")
		return
	}

	err = c.contexts.Insert(ctx, snapshot)
	switch {
	case err == nil:
		c.logger.Debug().
			Str("context_id", snapshot.ContextID).
			Int64("timestamp", snapshot.Timestamp).
			Int("signals", len(snapshot.Signals)).
			Msg("market snapshot stored")
	case errors.Is(err, storage.ErrDuplicateKey):
		// Feed redelivery, already stored.
	default:
		c.logger.Error().Err(err).Str("context_id", snapshot.ContextID).Msg("snapshot insert failed")
	}
}
