package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TopicFactionTotals is the cross-shard faction totals channel.
const TopicFactionTotals = "FactionTotalsUpdateV1"

// ShardBus is a best-effort cross-shard pub/sub built on Postgres
// LISTEN/NOTIFY. Delivery is at-most-once; consumers must tolerate loss
// (the totals flush loop converges through the KV row regardless).
type ShardBus struct {
	db  *DB
	log *zap.Logger
}

func NewShardBus(db *DB, log *zap.Logger) *ShardBus {
	return &ShardBus{db: db, log: log}
}

// Publish sends a JSON payload to every shard listening on topic,
// including this one.
func (b *ShardBus) Publish(ctx context.Context, topic string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	if _, err := b.db.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, topic, string(encoded)); err != nil {
		return fmt.Errorf("notify %s: %w", topic, err)
	}
	return nil
}

// Subscribe blocks on a dedicated connection delivering topic payloads to
// fn until ctx is cancelled. Reconnects with a flat delay on connection
// loss; missed notifications during a gap are acceptable (see Publish).
func (b *ShardBus) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) error {
	for {
		if err := b.listenOnce(ctx, topic, fn); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("shard bus listener lost, reconnecting",
				zap.String("topic", topic), zap.Error(err))
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (b *ShardBus) listenOnce(ctx context.Context, topic string, fn func(payload []byte)) error {
	conn, err := b.db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf(`LISTEN %q`, topic)); err != nil {
		return fmt.Errorf("listen %s: %w", topic, err)
	}
	for {
		note, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("wait notification: %w", err)
		}
		fn([]byte(note.Payload))
	}
}
