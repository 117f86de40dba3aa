package system

import (
	"context"
	"time"

	"github.com/slimekeep/server/internal/config"
	coresys "github.com/slimekeep/server/internal/core/system"
	"github.com/slimekeep/server/internal/core/event"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// StageHooks receives growth-stage crossings; the Lua engine implements it.
type StageHooks interface {
	OnGrowthStage(userID int64, slimeID string, stage int)
}

// NopStageHooks is the null implementation used when scripting is disabled.
type NopStageHooks struct{}

func (NopStageHooks) OnGrowthStage(int64, string, int) {}

// growthBuckets are the stage thresholds reported to scripting hooks.
var growthBuckets = []float64{0.25, 0.5, 0.75, 1.0}

// GrowthSystem advances slime growth each tick and keeps the durable
// stamps fresh. First touch of a slime replays its offline window; after
// that it accrues per-tick. Phase 1 (Update).
type GrowthSystem struct {
	world *world.State
	cache *profile.Cache
	bus   *event.Bus
	hooks StageHooks
	cfg   config.GrowthConfig
	wait  time.Duration // verified-save budget for dirty stamps
	log   *zap.Logger

	lastMicroStamp map[int64]time.Time // per-user micro-stamp spacing
	lastDirtyStamp map[int64]time.Time // per-user GrowthStampDirty spacing
}

func NewGrowthSystem(ws *world.State, cache *profile.Cache, bus *event.Bus, cfg config.GrowthConfig, verifiedWait time.Duration, log *zap.Logger) *GrowthSystem {
	g := &GrowthSystem{
		world:          ws,
		cache:          cache,
		bus:            bus,
		hooks:          NopStageHooks{},
		cfg:            cfg,
		wait:           verifiedWait,
		log:            log,
		lastMicroStamp: make(map[int64]time.Time),
		lastDirtyStamp: make(map[int64]time.Time),
	}
	event.Subscribe(bus, g.onStampDirty)
	return g
}

// SetStageHooks wires the scripting engine after construction.
func (g *GrowthSystem) SetStageHooks(h StageHooks) {
	if h != nil {
		g.hooks = h
	}
}

func (g *GrowthSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (g *GrowthSystem) Update(dt time.Duration) {
	now := time.Now()
	g.world.AllSlimes(func(sl *world.Slime) {
		// Skip players mid pre-exit: their state is being finalized.
		if p := g.world.GetPlayer(sl.OwnerID); p != nil && p.SyncActive {
			return
		}
		if !sl.OfflineApplied {
			g.applyOffline(sl, now)
			return
		}
		g.tick(sl, dt.Seconds(), now)
	})
}

// applyOffline replays the time a slime spent unloaded, in two segments:
// the remaining feed buffer at feed-boosted speed, then the rest at the
// base hunger speed. Progress is capped at 1; age advances by the full
// window; the durable floor rises to the replayed progress.
func (g *GrowthSystem) applyOffline(sl *world.Slime, now time.Time) {
	defer func() {
		sl.OfflineApplied = true
		sl.OfflineAppliedAt = now
		sl.LastStampAt = now
		sl.LastBucket = bucketOf(sl.GrowthProgress)
	}()

	if sl.LastGrowthUpdate == 0 {
		sl.LastGrowthUpdate = now.Unix()
		return
	}
	delta := float64(now.Unix() - sl.LastGrowthUpdate)
	if delta <= 0 {
		return
	}
	if delta > g.cfg.MaxOfflineSeconds {
		g.log.Info("offline window clamped",
			zap.String("slime", sl.SlimeID),
			zap.Float64("delta", delta),
			zap.Float64("max", g.cfg.MaxOfflineSeconds))
		delta = g.cfg.MaxOfflineSeconds
	}

	ugd := sl.UnfedGrowthDuration
	if ugd <= 0 {
		ugd = 1
	}
	hm := sl.HungerSpeedMultiplier
	if hm == 0 {
		hm = 1
	}
	fm := sl.FeedSpeedMultiplier
	if fm == 0 {
		fm = 1
	}

	buffered := sl.FeedBufferSeconds
	if buffered > delta {
		buffered = delta
	}
	progress := sl.GrowthProgress
	progress += buffered * fm * hm / ugd
	progress += (delta - buffered) * hm / ugd
	if progress > 1 {
		progress = 1
	}

	sl.GrowthProgress = progress
	sl.FeedBufferSeconds -= buffered
	if sl.FeedBufferSeconds < 0 {
		sl.FeedBufferSeconds = 0
	}
	sl.AgeSeconds += delta
	if sl.GrowthProgress > sl.PersistedGrowthProgress {
		sl.PersistedGrowthProgress = sl.GrowthProgress
	}
	sl.Scale = scaleFor(sl)
	sl.LastGrowthUpdate = now.Unix()

	g.stampSlime(sl, now, "offline_replay")
}

func (g *GrowthSystem) tick(sl *world.Slime, dtSec float64, now time.Time) {
	before := sl.GrowthProgress

	speed := sl.GrowthSpeed()
	if sl.FeedBufferSeconds > 0 {
		sl.FeedBufferSeconds -= dtSec
		if sl.FeedBufferSeconds < 0 {
			sl.FeedBufferSeconds = 0
		}
	}

	ugd := sl.UnfedGrowthDuration
	if ugd <= 0 {
		ugd = 1
	}
	if sl.GrowthProgress < 1 {
		sl.GrowthProgress += dtSec * speed / ugd
		if sl.GrowthProgress > 1 {
			sl.GrowthProgress = 1
		}
	}
	sl.AgeSeconds += dtSec

	// The durable floor beats a lagging live value for a short window
	// after replay: a restore may have raced the stamp.
	if sl.GrowthProgress < sl.PersistedGrowthProgress &&
		now.Sub(sl.OfflineAppliedAt) <= g.cfg.SecondPassWindow {
		sl.GrowthProgress = sl.PersistedGrowthProgress
	}

	sl.Scale = scaleFor(sl)

	if b := bucketOf(sl.GrowthProgress); b > sl.LastBucket {
		sl.LastBucket = b
		g.hooks.OnGrowthStage(sl.OwnerID, sl.SlimeID, b)
	}

	sl.ProgressSinceStamp += sl.GrowthProgress - before

	if now.Sub(sl.LastStampAt) >= g.cfg.StampInterval {
		g.stampSlime(sl, now, "growth_periodic")
		return
	}
	if sl.ProgressSinceStamp >= g.cfg.MicroThreshold &&
		now.Sub(g.lastMicroStamp[sl.OwnerID]) >= g.cfg.MicroDebounce {
		g.lastMicroStamp[sl.OwnerID] = now
		g.stampSlime(sl, now, "growth_micro")
	}
}

// stampSlime writes the durable growth stamp into the cached profile. The
// entry is created minimal if the slime was never serialized; the next
// full sweep fills in the rest.
func (g *GrowthSystem) stampSlime(sl *world.Slime, now time.Time, reason string) {
	if sl.GrowthProgress > sl.PersistedGrowthProgress {
		sl.PersistedGrowthProgress = sl.GrowthProgress
	}
	sl.LastStampAt = now
	sl.ProgressSinceStamp = 0
	sl.LastGrowthUpdate = now.Unix()

	err := g.cache.Mutate(context.Background(), sl.OwnerID, reason, func(p *profile.Profile) {
		e := p.FindEntry(profile.FieldWorldSlimes, sl.SlimeID)
		if e == nil {
			e = profile.Entry{profile.KeySlimeID: sl.SlimeID, "sp": sl.Species}
			p.Inventory.WorldSlimes = append(p.Inventory.WorldSlimes, e)
		}
		e[profile.KeyGrowth] = sl.GrowthProgress
		if sl.PersistedGrowthProgress > e.Float(profile.KeyGrowthFloor) {
			e[profile.KeyGrowthFloor] = sl.PersistedGrowthProgress
		}
		e["age"] = sl.AgeSeconds
		e["fb"] = sl.FeedBufferSeconds
		e["sc"] = sl.Scale
		e[profile.KeyLastGrowthUpd] = now.Unix()
	})
	if err != nil {
		g.log.Warn("growth stamp skipped, profile not loaded",
			zap.Int64("user", sl.OwnerID), zap.String("slime", sl.SlimeID))
	}
}

// FlushPlayerSlimes stamps all of a user's live slimes immediately. Called
// by the pre-exit barrier and by the inventory finalizer.
func (g *GrowthSystem) FlushPlayerSlimes(userID int64) {
	now := time.Now()
	for _, sl := range g.world.SlimesByOwner(userID) {
		if !sl.OfflineApplied {
			g.applyOffline(sl, now)
			continue
		}
		g.stampSlime(sl, now, "pre_leave_flush")
	}
	event.Emit(g.bus, event.PreLeaveFlush{UserID: userID})
}

// onStampDirty services GrowthStampDirty requests: stamp plus a verified
// save, debounced per user so hot paths cannot flood the store.
func (g *GrowthSystem) onStampDirty(ev event.GrowthStampDirty) {
	now := time.Now()
	if now.Sub(g.lastDirtyStamp[ev.UserID]) < g.cfg.StampDirtyDebounce {
		return
	}
	g.lastDirtyStamp[ev.UserID] = now

	for _, sl := range g.world.SlimesByOwner(ev.UserID) {
		if sl.OfflineApplied {
			g.stampSlime(sl, now, ev.Reason)
		}
	}
	// Off the game loop: the stamp must land remotely, not coalesce away.
	go g.cache.SaveNowAndWait(ev.UserID, g.wait, profile.SaveOptions{Verified: true})
}

// bucketOf maps progress to the highest crossed stage index (1-based), 0
// when below the first threshold.
func bucketOf(progress float64) int {
	stage := 0
	for i, th := range growthBuckets {
		if progress >= th {
			stage = i + 1
		}
	}
	return stage
}

// scaleFor eases the visual scale between start and max with a smoothstep
// over growth progress.
func scaleFor(sl *world.Slime) float64 {
	lo, hi := sl.StartScale, sl.MaxScale
	if hi <= lo {
		return sl.Scale
	}
	t := sl.GrowthProgress
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	s := t * t * (3 - 2*t)
	return lo + (hi-lo)*s
}
