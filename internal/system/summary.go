package system

import (
	"time"

	"github.com/slimekeep/server/internal/config"
	coresys "github.com/slimekeep/server/internal/core/system"
	"github.com/slimekeep/server/internal/profile"
	"go.uber.org/zap"
)

// SummarySystem periodically logs a one-line economy snapshot per resident
// profile. Phase 2 (Persist).
type SummarySystem struct {
	cache *profile.Cache
	cfg   config.PersistenceConfig
	log   *zap.Logger

	lastRun time.Time
}

func NewSummarySystem(cache *profile.Cache, cfg config.PersistenceConfig, log *zap.Logger) *SummarySystem {
	return &SummarySystem{cache: cache, cfg: cfg, log: log, lastRun: time.Now()}
}

func (s *SummarySystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *SummarySystem) Update(_ time.Duration) {
	now := time.Now()
	if now.Sub(s.lastRun) < s.cfg.SummaryInterval {
		return
	}
	s.lastRun = now

	for _, id := range s.cache.OnlineUsers() {
		s.cache.View(id, func(p *profile.Profile) {
			s.log.Info("profile summary",
				zap.Int64("user", id),
				zap.Int64("coins", p.Core.Coins),
				zap.Int64("dataVersion", p.Meta.DataVersion),
				zap.Int("worldSlimes", len(p.Inventory.WorldSlimes)),
				zap.Int("worldEggs", len(p.Inventory.WorldEggs)),
				zap.Int("eggTools", len(p.Inventory.EggTools)),
				zap.Int("foodTools", len(p.Inventory.FoodTools)),
				zap.Int("capturedSlimes", len(p.Inventory.CapturedSlimes)))
		})
	}
}
