package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// ErrNotFound reports a key miss on Load.
var ErrNotFound = errors.New("persist: key not found")

// Mutator transforms the latest stored value into the value to commit.
// old is nil when the key does not exist yet. Returning an error aborts the
// update without retrying (mutator errors are never transient).
type Mutator func(old map[string]any) (map[string]any, error)

// KV is the remote durable key-value contract every profile and totals
// write goes through. The pgx-backed Store is the only production
// implementation; tests substitute MemoryKV.
type KV interface {
	Load(ctx context.Context, key string) (map[string]any, error)
	Update(ctx context.Context, key string, mutate Mutator) (map[string]any, error)
}

// StoreErrorKind splits failures into transient and permanent.
type StoreErrorKind int

const (
	// KindTransient failures were retried up to the budget and may succeed
	// later; callers keep state dirty.
	KindTransient StoreErrorKind = iota
	// KindPermanent failures (malformed value, mutator rejection) will not
	// succeed on retry.
	KindPermanent
)

// StoreError is the typed failure surfaced after the retry budget is spent.
type StoreError struct {
	Kind StoreErrorKind
	Key  string
	Err  error
}

func (e *StoreError) Error() string {
	kind := "transient"
	if e.Kind == KindPermanent {
		kind = "permanent"
	}
	return fmt.Sprintf("store %s failure on %q: %v", kind, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store implements KV on the kv_store table. Update runs the mutator inside
// a transaction holding a row lock, which makes the read-modify-write atomic
// across shards sharing the database.
type Store struct {
	db          *DB
	log         *zap.Logger
	maxAttempts int
	backoffBase time.Duration
}

func NewStore(db *DB, log *zap.Logger, maxAttempts int, backoffBase time.Duration) *Store {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &Store{db: db, log: log, maxAttempts: maxAttempts, backoffBase: backoffBase}
}

func (s *Store) Load(ctx context.Context, key string) (map[string]any, error) {
	var raw []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key = $1`, key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Kind: KindTransient, Key: key, Err: err}
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &StoreError{Kind: KindPermanent, Key: key, Err: err}
	}
	return value, nil
}

func (s *Store) Update(ctx context.Context, key string, mutate Mutator) (map[string]any, error) {
	var committed map[string]any

	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.NewExponential(s.backoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		value, err := s.updateOnce(ctx, key, mutate)
		if err != nil {
			var se *StoreError
			if errors.As(err, &se) && se.Kind == KindTransient {
				s.log.Warn("store update attempt failed",
					zap.String("key", key), zap.Error(se.Err))
				return retry.RetryableError(err)
			}
			return err
		}
		committed = value
		return nil
	})
	if err != nil {
		var se *StoreError
		if !errors.As(err, &se) {
			se = &StoreError{Kind: KindTransient, Key: key, Err: err}
		}
		return nil, se
	}
	return committed, nil
}

func (s *Store) updateOnce(ctx context.Context, key string, mutate Mutator) (map[string]any, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, &StoreError{Kind: KindTransient, Key: key, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback(ctx)

	var raw []byte
	var old map[string]any
	err = tx.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key = $1 FOR UPDATE`, key,
	).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// first write for this key
	case err != nil:
		return nil, &StoreError{Kind: KindTransient, Key: key, Err: fmt.Errorf("lock row: %w", err)}
	default:
		if err := json.Unmarshal(raw, &old); err != nil {
			return nil, &StoreError{Kind: KindPermanent, Key: key, Err: fmt.Errorf("decode stored value: %w", err)}
		}
	}

	next, err := mutate(old)
	if err != nil {
		return nil, &StoreError{Kind: KindPermanent, Key: key, Err: fmt.Errorf("mutator: %w", err)}
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, &StoreError{Kind: KindPermanent, Key: key, Err: fmt.Errorf("encode value: %w", err)}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, encoded,
	); err != nil {
		return nil, &StoreError{Kind: KindTransient, Key: key, Err: fmt.Errorf("upsert: %w", err)}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &StoreError{Kind: KindTransient, Key: key, Err: fmt.Errorf("commit: %w", err)}
	}
	return next, nil
}
