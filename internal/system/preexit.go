package system

import (
	"time"

	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/core/event"
	"github.com/slimekeep/server/internal/inventory"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/serialize"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// PreExitSync is the disconnect barrier: it drains pending saves, runs the
// final growth flush and inventory sync, and releases the player's cache
// slot once the write is confirmed. Runs on the game loop via the
// PlayerRemoving event; the waits are bounded by the persistence budgets.
type PreExitSync struct {
	world *world.State
	cache *profile.Cache
	inv   *inventory.Service
	ser   *serialize.Serializer
	cfg   config.PersistenceConfig
	log   *zap.Logger
}

func NewPreExitSync(ws *world.State, cache *profile.Cache, inv *inventory.Service, ser *serialize.Serializer, bus *event.Bus, cfg config.PersistenceConfig, log *zap.Logger) *PreExitSync {
	p := &PreExitSync{
		world: ws,
		cache: cache,
		inv:   inv,
		ser:   ser,
		cfg:   cfg,
		log:   log,
	}
	event.Subscribe(bus, func(ev event.PlayerRemoving) {
		p.Run(ev.UserID)
	})
	return p
}

// Run executes the full barrier for one departing player.
func (p *PreExitSync) Run(userID int64) {
	start := time.Now()
	pl := p.world.GetPlayer(userID)
	if pl != nil {
		if pl.SyncActive {
			p.log.Warn("pre-exit sync already active", zap.Int64("user", userID))
			return
		}
		pl.SyncActive = true
		defer func() { pl.SyncActive = false }()
	}

	if !p.cache.Loaded(userID) {
		p.world.RemovePlayer(userID)
		return
	}

	// Let any queued or debounced save settle before the final snapshot,
	// so the merge sees the freshest committed dataVersion.
	if !p.cache.AwaitSaveQueue(userID, p.cfg.VerifiedWait) {
		p.log.Warn("save queue did not drain before pre-exit snapshot",
			zap.Int64("user", userID))
	}

	// Growth flush, final serialize, volatile/conservative merge and the
	// verified save all happen inside the finalizer.
	done, ok := p.inv.FinalizePlayer(userID, "pre_exit")

	if done && ok {
		p.tagSaved(userID, time.Now().Unix())
		if !p.cache.Evict(userID) {
			p.log.Warn("cache slot busy after confirmed final save",
				zap.Int64("user", userID))
		}
		p.ser.DropCache(userID)
	} else {
		// Keep the slot resident; the autosave sweep retries until the
		// store recovers or shutdown forces the issue.
		p.log.Warn("final save unconfirmed, retaining profile",
			zap.Int64("user", userID), zap.Bool("done", done), zap.Bool("ok", ok))
	}

	p.world.RemovePlayer(userID)
	p.log.Info("pre-exit sync finished",
		zap.Int64("user", userID),
		zap.Bool("confirmed", done && ok),
		zap.Duration("took", time.Since(start)))
}

// tagSaved grants every owned live object the post-save grace window so
// world cleanup cannot race a confirmed save.
func (p *PreExitSync) tagSaved(userID, now int64) {
	for _, sl := range p.world.SlimesByOwner(userID) {
		sl.RecentlyPlacedSaved = now
	}
	for _, kind := range []world.ToolKind{world.ToolFood, world.ToolEgg, world.ToolCaptured} {
		for _, t := range p.world.ToolsByOwner(userID, kind) {
			t.RecentlyPlacedSaved = now
		}
	}
}
