package system

import (
	"time"

	"github.com/slimekeep/server/internal/config"
	coresys "github.com/slimekeep/server/internal/core/system"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// StageManager gives tools a server-side holding area during teardown and
// restore. A staged tool sits in server custody for a short hold, then is
// handed back to the owner's backpack; parent-locked hand-offs retry with
// backoff and finally fall back to a clone carrying the durable ids.
// Phase 3 (Cleanup).
type StageManager struct {
	world *world.State
	cfg   config.StageConfig
	log   *zap.Logger

	attempts     map[string]int
	backoffUntil map[string]time.Time
	releasedAt   map[string]time.Time
}

func NewStageManager(ws *world.State, cfg config.StageConfig, log *zap.Logger) *StageManager {
	return &StageManager{
		world:        ws,
		cfg:          cfg,
		log:          log,
		attempts:     make(map[string]int),
		backoffUntil: make(map[string]time.Time),
		releasedAt:   make(map[string]time.Time),
	}
}

func (m *StageManager) Phase() coresys.Phase { return coresys.PhaseCleanup }

// StageTool moves a tool into server custody and arms the preserve flags
// that protect it through teardown.
func (m *StageManager) StageTool(t *world.Tool) {
	now := time.Now()
	t.PreserveOnServer = true
	t.ServerRestore = true
	t.RestoreStamp = now.Unix()
	t.StagedAt = now
	if err := t.SetContainer(world.ContainerServer); err != nil {
		// Custody is flagged either way; the hand-off path sorts out the
		// locked parent.
		m.log.Warn("stage reparent deferred", zap.String("uid", t.UID), zap.Error(err))
	}
	delete(m.attempts, t.UID)
	delete(m.backoffUntil, t.UID)
	delete(m.releasedAt, t.UID)
}

func (m *StageManager) Update(_ time.Duration) {
	now := time.Now()

	var staged, settled []*world.Tool
	m.world.AllTools(func(t *world.Tool) {
		if t.PreserveOnServer && !t.StagedAt.IsZero() {
			staged = append(staged, t)
			return
		}
		settled = append(settled, t)
	})

	for _, t := range settled {
		if t.SettleFrames < world.SettleThreshold {
			t.SettleFrames++
		}
		if rt, ok := m.releasedAt[t.UID]; ok && now.Sub(rt) >= m.cfg.FinalDelay+m.cfg.GraceSeconds {
			t.ServerRestore = false
			t.RestoreStamp = 0
			delete(m.releasedAt, t.UID)
		}
	}

	for _, t := range staged {
		held := now.Sub(t.StagedAt)
		switch {
		case held > m.cfg.AbandonedCleanup:
			m.log.Warn("destroying abandoned staged tool",
				zap.String("uid", t.UID), zap.Duration("held", held))
			m.world.RemoveTool(t.UID)
			m.forget(t.UID)
		case held >= m.cfg.StageTime:
			m.tryRelease(t, now)
		}
	}
}

// tryRelease hands a staged tool back to the backpack, backing off on a
// locked parent and cloning once the attempt budget is spent.
func (m *StageManager) tryRelease(t *world.Tool, now time.Time) {
	if until, ok := m.backoffUntil[t.UID]; ok && now.Before(until) {
		return
	}
	if err := t.SetContainer(world.ContainerBackpack); err == nil {
		m.finishRelease(t, now)
		return
	}

	m.attempts[t.UID]++
	n := m.attempts[t.UID]
	if n < m.cfg.ReparentAttempts {
		m.backoffUntil[t.UID] = now.Add(time.Duration(n) * m.cfg.ReparentBackoff)
		return
	}

	// Attempt budget spent: replace the locked instance with a clone that
	// carries the same durable ids, so persistence never notices the swap.
	clone := t.CloneForRestage()
	clone.Container = world.ContainerBackpack
	m.world.RemoveTool(t.UID)
	m.world.AddTool(clone)
	m.log.Warn("replaced parent-locked tool with clone",
		zap.String("uid", t.UID), zap.Int("attempts", n))
	m.finishRelease(clone, now)
}

func (m *StageManager) finishRelease(t *world.Tool, now time.Time) {
	t.PreserveOnServer = false
	t.StagedAt = time.Time{}
	t.SettleFrames = 0
	delete(m.attempts, t.UID)
	delete(m.backoffUntil, t.UID)
	m.releasedAt[t.UID] = now
}

func (m *StageManager) forget(uid string) {
	delete(m.attempts, uid)
	delete(m.backoffUntil, uid)
	delete(m.releasedAt, uid)
}
