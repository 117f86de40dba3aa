package system

import (
	"time"

	"github.com/slimekeep/server/internal/config"
	coresys "github.com/slimekeep/server/internal/core/system"
	"github.com/slimekeep/server/internal/profile"
	"go.uber.org/zap"
)

// AutosaveSystem is the safety sweep behind the debounce saver: every
// interval it enqueues a save for each resident profile. Clean profiles
// resolve without a remote write; profiles retained after a failed final
// save get their retry here. Phase 2 (Persist).
type AutosaveSystem struct {
	cache *profile.Cache
	cfg   config.PersistenceConfig
	log   *zap.Logger

	lastSweep time.Time
}

func NewAutosaveSystem(cache *profile.Cache, cfg config.PersistenceConfig, log *zap.Logger) *AutosaveSystem {
	return &AutosaveSystem{cache: cache, cfg: cfg, log: log, lastSweep: time.Now()}
}

func (s *AutosaveSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *AutosaveSystem) Update(_ time.Duration) {
	now := time.Now()
	if now.Sub(s.lastSweep) < s.cfg.AutosaveInterval {
		return
	}
	s.lastSweep = now

	users := s.cache.OnlineUsers()
	for _, id := range users {
		s.cache.SaveNow(id, "autosave")
	}
	if len(users) > 0 {
		s.log.Debug("autosave sweep", zap.Int("profiles", len(users)))
	}
}
