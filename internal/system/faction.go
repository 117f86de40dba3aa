package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/persist"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/transport"
	"go.uber.org/zap"
)

// EventFactionTotals is the client-bound broadcast carrying a faction's
// refreshed global total.
const EventFactionTotals = "FactionTotalsUpdate"

// TotalsPublisher fans an update out to the other shards. The LISTEN/NOTIFY
// bus implements it; NopPublisher keeps single-shard deployments simple.
type TotalsPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// CoinCrediter credits an attributed payout to a player profile. The
// profile cache implements it; NopCrediter drops the credit.
type CoinCrediter interface {
	IncrementCoins(userID int64, delta int64) int64
	SaveNowAndWait(userID int64, timeout time.Duration, opts profile.SaveOptions) (bool, bool)
}

type NopCrediter struct{}

func (NopCrediter) IncrementCoins(int64, int64) int64 { return 0 }
func (NopCrediter) SaveNowAndWait(int64, time.Duration, profile.SaveOptions) (bool, bool) {
	return true, false
}

// TotalsUpdate is the cross-shard wire format on TopicFactionTotals.
type TotalsUpdate struct {
	Faction string `json:"faction"`
	Total   int64  `json:"total"`
	ShardID int    `json:"shard"`
	TS      int64  `json:"ts"`
}

// TotalKey is the remote store key holding a faction's global total.
func TotalKey(faction string) string {
	return "FactionTotal_" + faction
}

// FactionTotals keeps the shard-local view of each faction's global coin
// total, accumulates unflushed deltas, and converges with the remote
// store. Remote announcements apply monotonic-max so a stale shard can
// never drag the displayed total backwards.
type FactionTotals struct {
	kv       persist.KV
	pub      TotalsPublisher
	tx       transport.Sender
	crediter CoinCrediter
	factions *data.FactionTable
	cfg      config.FactionsConfig
	shardID  int
	wait     time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	totals map[string]int64
	dirty  map[string]int64
}

// NewFactionTotals builds the tracker. kv should carry the totals retry
// budget, not the profile one.
func NewFactionTotals(kv persist.KV, pub TotalsPublisher, crediter CoinCrediter, factions *data.FactionTable, cfg config.FactionsConfig, shardID int, verifiedWait time.Duration, log *zap.Logger) *FactionTotals {
	if pub == nil {
		pub = NopPublisher{}
	}
	if crediter == nil {
		crediter = NopCrediter{}
	}
	return &FactionTotals{
		kv:       kv,
		pub:      pub,
		tx:       transport.NopSender{},
		crediter: crediter,
		factions: factions,
		cfg:      cfg,
		shardID:  shardID,
		wait:     verifiedWait,
		log:      log,
		totals:   make(map[string]int64),
		dirty:    make(map[string]int64),
	}
}

// SetSender wires the client transport after construction. Every totals
// change broadcasts to the shard's connected clients through it.
func (f *FactionTotals) SetSender(tx transport.Sender) {
	if tx != nil {
		f.tx = tx
	}
}

// broadcastLocal pushes a refreshed total to everyone on this shard.
func (f *FactionTotals) broadcastLocal(faction string, total int64) {
	f.tx.Broadcast(EventFactionTotals, map[string]any{
		"faction": faction,
		"total":   total,
	})
}

// Warm seeds the local view from the remote store at boot.
func (f *FactionTotals) Warm(ctx context.Context) {
	for _, name := range f.factions.Names() {
		rec, err := f.kv.Load(ctx, TotalKey(name))
		if err != nil {
			if !errors.Is(err, persist.ErrNotFound) {
				f.log.Warn("faction total load failed", zap.String("faction", name), zap.Error(err))
			}
			continue
		}
		f.mu.Lock()
		f.totals[name] = totalFrom(rec)
		f.mu.Unlock()
	}
}

// AddPayout records a sale payout against a faction. userID attributes the
// payout to a player whose coins still need crediting; pass 0 when the
// caller already credited (the sale pipeline does). Returns (ok, reason).
func (f *FactionTotals) AddPayout(ctx context.Context, faction string, amount int64, userID int64) (bool, string) {
	if f.factions.Get(faction) == nil {
		return false, fmt.Sprintf("unknown faction %q", faction)
	}
	if amount <= 0 {
		return false, "amount must be positive"
	}

	f.mu.Lock()
	f.totals[faction] += amount
	f.dirty[faction] += amount
	total := f.totals[faction]
	needsFlush := f.dirty[faction] >= f.cfg.MaxUnflushedDelta
	f.mu.Unlock()

	if err := f.pub.Publish(ctx, persist.TopicFactionTotals, TotalsUpdate{
		Faction: faction,
		Total:   total,
		ShardID: f.shardID,
		TS:      time.Now().Unix(),
	}); err != nil {
		f.log.Warn("totals publish failed", zap.String("faction", faction), zap.Error(err))
	}
	f.broadcastLocal(faction, total)

	if userID != 0 {
		f.crediter.IncrementCoins(userID, amount)
		go f.crediter.SaveNowAndWait(userID, f.wait, profile.SaveOptions{Verified: true})
	}

	if needsFlush {
		go func() {
			if err := f.Flush(context.Background(), faction); err != nil {
				f.log.Warn("threshold flush failed", zap.String("faction", faction), zap.Error(err))
			}
		}()
	}
	return true, ""
}

// Total returns the shard-local view of a faction's global total.
func (f *FactionTotals) Total(faction string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totals[faction]
}

// totalFrom reads the "total" attribute of a stored record, tolerating
// the numeric types the JSON decoder produces.
func totalFrom(rec map[string]any) int64 {
	switch v := rec["total"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Flush pushes this shard's unflushed delta for one faction into the
// remote total and converges the local view to the committed result.
// Payouts that arrive mid-flight stay dirty for the next round.
func (f *FactionTotals) Flush(ctx context.Context, faction string) error {
	f.mu.Lock()
	delta := f.dirty[faction]
	f.mu.Unlock()
	if delta == 0 {
		return nil
	}

	var committed int64
	_, err := f.kv.Update(ctx, TotalKey(faction), func(old map[string]any) (map[string]any, error) {
		committed = totalFrom(old) + delta
		return map[string]any{
			"total": committed,
			"ts":    time.Now().Unix(),
		}, nil
	})
	if err != nil {
		return fmt.Errorf("flush faction %s: %w", faction, err)
	}

	f.mu.Lock()
	f.dirty[faction] -= delta
	if committed > f.totals[faction] {
		f.totals[faction] = committed
	}
	f.mu.Unlock()

	f.log.Debug("faction total flushed",
		zap.String("faction", faction),
		zap.Int64("delta", delta),
		zap.Int64("total", committed))
	return nil
}

// FlushAll flushes every faction with a pending delta.
func (f *FactionTotals) FlushAll(ctx context.Context) {
	for _, name := range f.factions.Names() {
		if err := f.Flush(ctx, name); err != nil {
			f.log.Warn("faction flush failed", zap.String("faction", name), zap.Error(err))
		}
	}
}

// HandleRemote applies a cross-shard announcement: monotonic max only, so
// out-of-order or stale updates cannot regress the local view.
func (f *FactionTotals) HandleRemote(payload []byte) {
	var upd TotalsUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		f.log.Warn("bad totals announcement", zap.Error(err))
		return
	}
	if upd.ShardID == f.shardID || f.factions.Get(upd.Faction) == nil {
		return
	}
	f.mu.Lock()
	raised := upd.Total > f.totals[upd.Faction]
	if raised {
		f.totals[upd.Faction] = upd.Total
	}
	f.mu.Unlock()
	if raised {
		f.broadcastLocal(upd.Faction, upd.Total)
	}
}

// Run drives the periodic flush loop until ctx is canceled. A final flush
// runs on the way out so shutdown loses nothing under the budget.
func (f *FactionTotals) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			f.FlushAll(flushCtx)
			cancel()
			return
		case <-ticker.C:
			f.FlushAll(ctx)
		}
	}
}
