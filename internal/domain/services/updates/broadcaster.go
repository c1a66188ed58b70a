// Package updates fans CopyTradeUpdate events out to subscribers.
package updates

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
)

// Broadcaster delivers updates to any number of subscribers. Publishing
// never blocks: a subscriber whose buffer is full misses the update, so
// ordering is guaranteed only among the updates a subscriber receives.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan entities.CopyTradeUpdate
	bufSize int
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(bufSize int, logger *zap.Logger) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broadcaster{
		subs:    make(map[int]chan entities.CopyTradeUpdate),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the channel.
func (b *Broadcaster) Subscribe() (<-chan entities.CopyTradeUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan entities.CopyTradeUpdate, b.bufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the update to every subscriber with buffer room.
func (b *Broadcaster) Publish(update entities.CopyTradeUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- update:
		default:
			b.logger.Debug("subscriber buffer full, dropping update",
				zap.Int("subscriber", id),
				zap.String("type", string(update.Type)),
				zap.String("session_id", update.SessionID.String()),
			)
		}
	}
}
