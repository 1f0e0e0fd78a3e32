package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

// DefaultIdempotencyTTL is how long a processed marker is kept when none is configured.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStore records which messages were already processed, per queue.
type IdempotencyStore struct {
	store domain.Store
	ttl   time.Duration
	now   domain.Clock
}

// NewIdempotencyStore creates a store whose markers expire after ttl.
func NewIdempotencyStore(store domain.Store, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{store: store, ttl: ttl, now: time.Now}
}

func (s *IdempotencyStore) record(queue, messageID string, metadata map[string]string) (string, error) {
	raw, err := json.Marshal(domain.IdempotencyRecord{
		Queue:       queue,
		MessageID:   messageID,
		ProcessedAt: s.now().UTC(),
		Metadata:    metadata,
	})
	return string(raw), err
}

// IsProcessed reports whether messageID was marked on queue and has not expired.
func (s *IdempotencyStore) IsProcessed(ctx context.Context, queue, messageID string) (bool, error) {
	_, ok, err := s.store.Get(ctx, idempotencyKey(queue, messageID))
	if err != nil {
		utils.Logger.Error("idempotency lookup failed", "queue", queue, "message", messageID, "err", err)
		return false, err
	}
	return ok, nil
}

// MarkAsProcessed unconditionally marks messageID, refreshing the TTL.
func (s *IdempotencyStore) MarkAsProcessed(ctx context.Context, queue, messageID string, metadata map[string]string) error {
	raw, err := s.record(queue, messageID, metadata)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, idempotencyKey(queue, messageID), raw, s.ttl); err != nil {
		utils.Logger.Error("mark processed failed", "queue", queue, "message", messageID, "err", err)
		return err
	}
	return nil
}

// TryMarkAsProcessed marks messageID only if it is not marked yet and reports whether this
// call won. Concurrent callers racing on the same id see exactly one true.
func (s *IdempotencyStore) TryMarkAsProcessed(ctx context.Context, queue, messageID string, metadata map[string]string) (bool, error) {
	raw, err := s.record(queue, messageID, metadata)
	if err != nil {
		return false, err
	}
	won, err := s.store.SetNX(ctx, idempotencyKey(queue, messageID), raw, s.ttl)
	if err != nil {
		utils.Logger.Error("try mark processed failed", "queue", queue, "message", messageID, "err", err)
		return false, err
	}
	if !won {
		utils.Logger.Debug("duplicate message skipped", "queue", queue, "message", messageID)
	}
	return won, nil
}

// GetProcessedMetadata returns the stored record of a processed message.
func (s *IdempotencyStore) GetProcessedMetadata(ctx context.Context, queue, messageID string) (domain.IdempotencyRecord, bool, error) {
	raw, ok, err := s.store.Get(ctx, idempotencyKey(queue, messageID))
	if err != nil || !ok {
		return domain.IdempotencyRecord{}, false, err
	}
	var rec domain.IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.IdempotencyRecord{}, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return rec, true, nil
}

// RemoveProcessed forgets messageID so it can be processed again.
func (s *IdempotencyStore) RemoveProcessed(ctx context.Context, queue, messageID string) error {
	return s.store.Delete(ctx, idempotencyKey(queue, messageID))
}
