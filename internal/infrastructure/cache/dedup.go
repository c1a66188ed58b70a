package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TradeDeduper tracks recently mirrored source trades per session in Redis
// so redelivered events are recognized across instances and restarts. Keys
// expire after the dedup window.
type TradeDeduper struct {
	client RedisClient
	window time.Duration
}

// NewTradeDeduper creates a deduper with the given window.
func NewTradeDeduper(client RedisClient, window time.Duration) *TradeDeduper {
	return &TradeDeduper{client: client, window: window}
}

func dedupKey(sessionID uuid.UUID, txHash string) string {
	return fmt.Sprintf("copytrade:dedup:%s:%s", sessionID, txHash)
}

// Seen reports whether the trade was already mirrored within the window.
func (d *TradeDeduper) Seen(ctx context.Context, sessionID uuid.UUID, txHash string) (bool, error) {
	exists, err := d.client.Exists(ctx, dedupKey(sessionID, txHash))
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return exists, nil
}

// Mark records the trade for the dedup window.
func (d *TradeDeduper) Mark(ctx context.Context, sessionID uuid.UUID, txHash string) error {
	if err := d.client.Set(ctx, dedupKey(sessionID, txHash), 1, d.window); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}
