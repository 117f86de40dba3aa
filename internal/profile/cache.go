package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/persist"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// longKeyAlias maps the long attribute names callers may pass to
// RemoveInventoryItem onto the short wire keys entries actually carry.
var longKeyAlias = map[string]string{
	"ToolUniqueId": KeyToolUID,
	"ToolUid":      KeyToolUID,
	"SlimeId":      KeySlimeID,
	"EggId":        KeyEggID,
}

type waitResult struct {
	ok     bool
	reason string
}

type waiter struct {
	ch chan waitResult // buffered 1, written exactly once
}

// saveJob is one enqueued save plus everything coalesced into it.
type saveJob struct {
	reasons  []string
	override bool
	verified bool // at least one waiter demands a real remote write
	waiters  []*waiter
}

func (j *saveJob) merge(other *saveJob) {
	j.reasons = append(j.reasons, other.reasons...)
	j.override = j.override || other.override
	j.verified = j.verified || other.verified
	j.waiters = append(j.waiters, other.waiters...)
}

// slot is the per-user unit of isolation: one profile, one save queue.
// At most one save is in flight; everything else coalesces into pending.
type slot struct {
	userID int64

	mu            sync.Mutex
	profile       *Profile
	dirty         bool
	spendRecorded bool // any coin debit since load; disarms coin-zero guard
	saving        bool
	pending       *saveJob
	debounce      *time.Timer
	drains        []chan struct{} // released when the queue empties
}

// Cache owns the in-memory profile table and the per-user save pipeline.
// All profile mutation goes through it; the store adapter is its only
// remote dependency.
type Cache struct {
	kv       persist.KV
	log      *zap.Logger
	cfg      config.PersistenceConfig
	factions []string // seeded standings for first-join profiles

	mu    sync.Mutex
	slots map[int64]*slot

	loads  singleflight.Group
	wg     sync.WaitGroup // in-flight saver goroutines
	closed atomic.Bool
}

func NewCache(kv persist.KV, cfg config.PersistenceConfig, factions []string, log *zap.Logger) *Cache {
	return &Cache{
		kv:       kv,
		log:      log,
		cfg:      cfg,
		factions: factions,
		slots:    make(map[int64]*slot),
	}
}

func (c *Cache) slotFor(userID int64) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[userID]
	if !ok {
		s = &slot{userID: userID}
		c.slots[userID] = s
	}
	return s
}

func (c *Cache) peekSlot(userID int64) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[userID]
}

// Loaded reports whether the user's profile is resident.
func (c *Cache) Loaded(userID int64) bool {
	s := c.peekSlot(userID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile != nil
}

// GetProfile returns the cached profile, loading it from the store on
// demand. Concurrent loads for the same user collapse into one remote
// read; a store miss seeds a fresh profile.
func (c *Cache) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	s := c.slotFor(userID)
	s.mu.Lock()
	if s.profile != nil {
		p := s.profile
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	v, err, _ := c.loads.Do(Key(userID), func() (any, error) {
		value, err := c.kv.Load(ctx, Key(userID))
		if err != nil && !errors.Is(err, persist.ErrNotFound) {
			return nil, fmt.Errorf("load profile %d: %w", userID, err)
		}

		var p *Profile
		if value == nil {
			p = Seed(c.factions)
			c.log.Info("seeded new profile", zap.Int64("user", userID))
		} else {
			p, err = FromMap(value)
			if err != nil {
				return nil, fmt.Errorf("load profile %d: %w", userID, err)
			}
		}

		s.mu.Lock()
		if s.profile == nil {
			s.profile = p
			s.spendRecorded = false
		}
		p = s.profile
		s.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

// MarkDirty flags the slot and schedules a coalesced save after the
// debounce window. A no-op for users whose profile is not resident.
func (c *Cache) MarkDirty(userID int64, reason string) {
	s := c.peekSlot(userID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	c.markDirtyLocked(s, reason)
}

// markDirtyLocked arms the debounce timer; callers hold s.mu.
func (c *Cache) markDirtyLocked(s *slot, reason string) {
	s.dirty = true
	if s.debounce != nil || c.closed.Load() {
		return
	}
	s.debounce = time.AfterFunc(c.cfg.SaveDebounce, func() {
		s.mu.Lock()
		s.debounce = nil
		stillDirty := s.dirty
		s.mu.Unlock()
		if stillDirty {
			c.enqueue(s, &saveJob{reasons: []string{reason}})
		}
	})
}

// SaveNow enqueues a non-blocking save.
func (c *Cache) SaveNow(userID int64, reason string) {
	s := c.peekSlot(userID)
	if s == nil {
		return
	}
	c.enqueue(s, &saveJob{reasons: []string{reason}})
}

// SaveOptions tunes SaveNowAndWait.
type SaveOptions struct {
	// Verified waits for a confirmed remote write, never a coalesced skip.
	Verified bool
	// OverrideEmptyGuard propagates to the commit-time merge rules.
	OverrideEmptyGuard bool
}

// SaveNowAndWait enqueues a save and blocks until it completes or the
// timeout expires. Returns (done, ok): done=false means the wait timed out
// (the save itself keeps running); ok reports remote success.
func (c *Cache) SaveNowAndWait(userID int64, timeout time.Duration, opts SaveOptions) (bool, bool) {
	s := c.peekSlot(userID)
	if s == nil {
		return true, false
	}
	w := &waiter{ch: make(chan waitResult, 1)}
	c.enqueue(s, &saveJob{
		reasons:  []string{"save_now_and_wait"},
		override: opts.OverrideEmptyGuard,
		verified: opts.Verified,
		waiters:  []*waiter{w},
	})
	select {
	case res := <-w.ch:
		return true, res.ok
	case <-time.After(timeout):
		return false, false
	}
}

// AwaitSaveQueue blocks until the user's save queue is empty or the
// timeout expires. An armed debounce timer is flushed into the queue
// first so "empty" means durably settled.
func (c *Cache) AwaitSaveQueue(userID int64, timeout time.Duration) bool {
	s := c.peekSlot(userID)
	if s == nil {
		return true
	}
	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
		if s.dirty {
			s.mu.Unlock()
			c.enqueue(s, &saveJob{reasons: []string{"await_flush"}})
			s.mu.Lock()
		}
	}
	if !s.saving && s.pending == nil {
		s.mu.Unlock()
		return true
	}
	drain := make(chan struct{})
	s.drains = append(s.drains, drain)
	s.mu.Unlock()

	select {
	case <-drain:
		return true
	case <-time.After(timeout):
		return false
	}
}

// enqueue adds a job to the user's save queue, coalescing into the pending
// follow-up when a save is already in flight.
func (c *Cache) enqueue(s *slot, job *saveJob) {
	s.mu.Lock()
	if s.profile == nil {
		s.mu.Unlock()
		for _, w := range job.waiters {
			w.ch <- waitResult{ok: false, reason: "profile not loaded"}
		}
		return
	}
	if s.saving {
		if s.pending == nil {
			s.pending = job
		} else {
			s.pending.merge(job)
		}
		s.mu.Unlock()
		return
	}
	s.saving = true
	s.mu.Unlock()

	c.wg.Add(1)
	go c.runSaves(s, job)
}

// runSaves executes the given job, then any follow-ups that coalesced
// while it ran, until the queue drains.
func (c *Cache) runSaves(s *slot, job *saveJob) {
	defer c.wg.Done()
	for {
		s.mu.Lock()
		// Clean slot: nothing changed since the last commit, so the save
		// resolves without a remote round-trip. A verified waiter or an
		// empty-guard override always forces the write.
		if !s.dirty && !job.verified && !job.override {
			if next := c.finishJobLocked(s, job, waitResult{ok: true, reason: "coalesced"}); next != nil {
				job = next
				continue
			}
			return
		}
		snapshot := s.profile.Clone()
		spend := s.spendRecorded
		s.dirty = false
		s.mu.Unlock()

		opts := MergeOptions{OverrideEmptyGuard: job.override, SpendRecorded: spend}
		var merged *Profile
		var report MergeReport

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := c.kv.Update(ctx, Key(s.userID), func(old map[string]any) (map[string]any, error) {
			prior, perr := FromMap(old)
			if perr != nil {
				return nil, perr
			}
			merged, report = Merge(s.userID, prior, snapshot, opts, c.log)
			return merged.ToMap()
		})
		cancel()

		res := waitResult{ok: err == nil}
		s.mu.Lock()
		if err == nil {
			c.adoptCommitLocked(s, merged, report)
			c.log.Debug("profile saved",
				zap.Int64("user", s.userID),
				zap.Strings("reasons", job.reasons),
				zap.Int64("dataVersion", merged.Meta.DataVersion))
		} else {
			// Keep the slot dirty so a later save retries; never evict here.
			s.dirty = true
			res.reason = err.Error()
			c.log.Error("profile save failed",
				zap.Int64("user", s.userID),
				zap.Strings("reasons", job.reasons),
				zap.Error(err))
		}
		if next := c.finishJobLocked(s, job, res); next != nil {
			job = next
			continue
		}
		return
	}
}

// finishJobLocked resolves a job's waiters and pops the next coalesced
// job, releasing the queue when none is pending. Called with s.mu held;
// releases it. Returns nil once the queue drained.
func (c *Cache) finishJobLocked(s *slot, job *saveJob, res waitResult) *saveJob {
	waiters := job.waiters
	next := s.pending
	s.pending = nil
	var drains []chan struct{}
	if next == nil {
		s.saving = false
		drains = s.drains
		s.drains = nil
	}
	s.mu.Unlock()

	for _, w := range waiters {
		w.ch <- res
	}
	for _, d := range drains {
		close(d)
	}
	return next
}

// adoptCommitLocked folds commit-time guard corrections back into the
// in-memory profile, without clobbering mutations that landed while the
// save was in flight. Callers hold s.mu.
func (c *Cache) adoptCommitLocked(s *slot, merged *Profile, report MergeReport) {
	s.profile.Meta.DataVersion = merged.Meta.DataVersion
	if report.CoinsRestored && s.profile.Core.Coins == 0 {
		s.profile.Core.Coins = merged.Core.Coins
	}
	for _, field := range report.FieldsRestored {
		if cur := s.profile.Field(field); len(*cur) == 0 {
			*cur = cloneEntries(*merged.Field(field))
		}
	}
}

// AddInventoryItem appends an entry, deduplicating by durable id, and
// marks the slot dirty.
func (c *Cache) AddInventoryItem(ctx context.Context, userID int64, field string, entry Entry) error {
	if _, err := c.GetProfile(ctx, userID); err != nil {
		return err
	}
	id := entry.ID(field)
	if id == "" {
		return fmt.Errorf("add to %s: entry missing durable id %q", field, IDKey(field))
	}
	s := c.slotFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile.FindEntry(field, id) != nil {
		return nil
	}
	fp := s.profile.Field(field)
	if fp == nil {
		return fmt.Errorf("unknown inventory field %q", field)
	}
	*fp = append(*fp, entry.Clone())
	c.markDirtyLocked(s, "inventory_add")
	return nil
}

// RemoveInventoryItem removes every entry in field whose keyName attribute
// equals keyValue. Long attribute names (ToolUniqueId, SlimeId, …) are
// accepted and mapped to their short keys. Returns the removal count.
func (c *Cache) RemoveInventoryItem(userID int64, field, keyName, keyValue string) int {
	s := c.peekSlot(userID)
	if s == nil {
		return 0
	}
	if short, ok := longKeyAlias[keyName]; ok {
		keyName = short
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return 0
	}
	fp := s.profile.Field(field)
	if fp == nil {
		return 0
	}
	kept := (*fp)[:0]
	removed := 0
	for _, e := range *fp {
		if e.String(keyName) == keyValue && keyValue != "" {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	*fp = kept
	if removed > 0 {
		c.markDirtyLocked(s, "inventory_remove")
	}
	return removed
}

// SetInventoryField replaces a whole field, honoring the empty-overwrite
// guard unless overridden. Returns true when the guard blocked the
// replacement.
func (c *Cache) SetInventoryField(userID int64, field string, entries []Entry, override bool) bool {
	s := c.peekSlot(userID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return false
	}
	fp := s.profile.Field(field)
	if fp == nil {
		return false
	}
	adopted, guarded := EmptyGuard(*fp, entries, override)
	if guarded {
		c.log.Warn("empty-overwrite guard kept in-memory field",
			zap.Int64("user", userID),
			zap.String("field", field),
			zap.Int("kept", len(adopted)))
	} else {
		*fp = cloneEntries(adopted)
		c.markDirtyLocked(s, "inventory_set")
	}
	return guarded
}

// EnsureEntryHasID is the idempotent reconciliation primitive: absent
// entries are added whole; present entries gain only their missing keys.
func (c *Cache) EnsureEntryHasID(ctx context.Context, userID int64, field, id string, payload Entry) error {
	if id == "" {
		return fmt.Errorf("ensure entry in %s: empty id", field)
	}
	if _, err := c.GetProfile(ctx, userID); err != nil {
		return err
	}
	s := c.slotFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.profile.FindEntry(field, id)
	if existing == nil {
		entry := payload.Clone()
		entry[IDKey(field)] = id
		fp := s.profile.Field(field)
		if fp == nil {
			return fmt.Errorf("unknown inventory field %q", field)
		}
		*fp = append(*fp, entry)
		c.markDirtyLocked(s, "inventory_ensure")
		return nil
	}
	changed := false
	for k, v := range payload {
		if _, ok := existing[k]; !ok {
			existing[k] = v
			changed = true
		}
	}
	if changed {
		c.markDirtyLocked(s, "inventory_ensure")
	}
	return nil
}

// IncrementCoins applies a coin delta under the slot lock, clamping at
// zero on underflow. Negative deltas arm the spend record. Returns the new
// balance.
func (c *Cache) IncrementCoins(userID int64, delta int64) int64 {
	s := c.peekSlot(userID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return 0
	}
	s.profile.Core.Coins += delta
	if s.profile.Core.Coins < 0 {
		s.profile.Core.Coins = 0
	}
	if delta < 0 {
		s.spendRecorded = true
	}
	c.markDirtyLocked(s, "coins")
	return s.profile.Core.Coins
}

// TrySpendCoins atomically checks and debits; no partial effect on
// failure.
func (c *Cache) TrySpendCoins(userID int64, amount int64) (bool, string) {
	if amount <= 0 {
		return false, "invalid amount"
	}
	s := c.peekSlot(userID)
	if s == nil {
		return false, "profile not loaded"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return false, "profile not loaded"
	}
	if s.profile.Core.Coins < amount {
		return false, "insufficient coins"
	}
	s.profile.Core.Coins -= amount
	s.spendRecorded = true
	c.markDirtyLocked(s, "coins_spend")
	return true, ""
}

// SetCoins sets the absolute balance, clamped at zero. A lowering set
// counts as a spend so the coin-zero guard does not resurrect it.
func (c *Cache) SetCoins(userID int64, amount int64) {
	s := c.peekSlot(userID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return
	}
	if amount < 0 {
		amount = 0
	}
	if amount < s.profile.Core.Coins {
		s.spendRecorded = true
	}
	s.profile.Core.Coins = amount
	c.markDirtyLocked(s, "coins_set")
}

// Coins returns the cached balance (0 when not loaded).
func (c *Cache) Coins(userID int64) int64 {
	s := c.peekSlot(userID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return 0
	}
	return s.profile.Core.Coins
}

// Standing returns the user's standing with a faction (0.5 default when
// the faction was never seeded).
func (c *Cache) Standing(userID int64, faction string) float64 {
	s := c.peekSlot(userID)
	if s == nil {
		return 0.5
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return 0.5
	}
	if v, ok := s.profile.Stats.Standing[faction]; ok {
		return v
	}
	return 0.5
}

// AdjustStanding applies a standing delta, clamped to [0,1].
func (c *Cache) AdjustStanding(userID int64, faction string, delta float64) float64 {
	s := c.peekSlot(userID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return 0
	}
	if s.profile.Stats.Standing == nil {
		s.profile.Stats.Standing = make(map[string]float64)
	}
	v, ok := s.profile.Stats.Standing[faction]
	if !ok {
		v = 0.5
	}
	v += delta
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.profile.Stats.Standing[faction] = v
	c.markDirtyLocked(s, "standing")
	return v
}

// ApplySale is the atomic sale primitive: coin credit plus inventory
// removal under one slot lock. Returns the number of entries removed.
func (c *Cache) ApplySale(userID int64, soldSlimeIDs, soldToolUIDs []string, payout int64, reason string) int {
	s := c.peekSlot(userID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return 0
	}
	s.profile.Core.Coins += payout
	removed := 0
	sids := make(map[string]bool, len(soldSlimeIDs))
	for _, id := range soldSlimeIDs {
		sids[id] = true
	}
	uids := make(map[string]bool, len(soldToolUIDs))
	for _, id := range soldToolUIDs {
		uids[id] = true
	}
	for _, field := range Fields {
		fp := s.profile.Field(field)
		kept := (*fp)[:0]
		for _, e := range *fp {
			if (sids[e.String(KeySlimeID)] && e.String(KeySlimeID) != "") ||
				(uids[e.String(KeyToolUID)] && e.String(KeyToolUID) != "") {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		*fp = kept
	}
	c.markDirtyLocked(s, reason)
	return removed
}

// Mutate runs fn on the profile under the slot lock and marks it dirty.
func (c *Cache) Mutate(ctx context.Context, userID int64, reason string, fn func(*Profile)) error {
	if _, err := c.GetProfile(ctx, userID); err != nil {
		return err
	}
	s := c.slotFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.profile)
	s.profile.Clamp()
	c.markDirtyLocked(s, reason)
	return nil
}

// View runs fn on the profile under the slot lock without dirtying it.
func (c *Cache) View(userID int64, fn func(*Profile)) bool {
	s := c.peekSlot(userID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return false
	}
	fn(s.profile)
	return true
}

// OnlineUsers lists users with a resident profile.
func (c *Cache) OnlineUsers() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]int64, 0, len(c.slots))
	for id, s := range c.slots {
		s.mu.Lock()
		loaded := s.profile != nil
		s.mu.Unlock()
		if loaded {
			users = append(users, id)
		}
	}
	return users
}

// Evict drops a settled slot. Refused while the queue is busy or dirty;
// callers evict only after a verified final save.
func (c *Cache) Evict(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[userID]
	if !ok {
		return true
	}
	s.mu.Lock()
	busy := s.saving || s.pending != nil || s.dirty
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.mu.Unlock()
	if busy {
		return false
	}
	delete(c.slots, userID)
	return true
}

// Close flushes every slot under the shutdown deadline, then forces one
// final save per user. Exceeding the deadline logs a warning but leaves
// state intact.
func (c *Cache) Close(ctx context.Context) {
	c.closed.Store(true)

	c.mu.Lock()
	slots := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.Unlock()

	deadline := c.cfg.ShutdownDeadline
	if d, ok := ctx.Deadline(); ok {
		if remain := time.Until(d); remain < deadline {
			deadline = remain
		}
	}

	g, _ := errgroup.WithContext(ctx)
	for _, s := range slots {
		s := s
		s.mu.Lock()
		if s.debounce != nil {
			s.debounce.Stop()
			s.debounce = nil
		}
		loaded := s.profile != nil
		s.mu.Unlock()
		if !loaded {
			continue
		}
		g.Go(func() error {
			c.AwaitSaveQueue(s.userID, deadline)
			done, ok := c.SaveNowAndWait(s.userID, deadline, SaveOptions{Verified: true})
			if !done || !ok {
				c.log.Warn("final shutdown save incomplete",
					zap.Int64("user", s.userID),
					zap.Bool("done", done), zap.Bool("ok", ok))
			}
			return nil
		})
	}
	_ = g.Wait()

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(deadline):
		c.log.Warn("shutdown deadline exceeded with saves in flight")
	}
}
