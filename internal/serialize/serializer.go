// Package serialize translates between live world objects and the
// profile's five inventory entry lists, and back. It is the only place
// that knows the short-key wire projection.
package serialize

import (
	"sync"
	"time"

	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// HatchRestorePolicy selects how a restored egg's hatch-at is chosen.
type HatchRestorePolicy string

const (
	// HatchPreserve keeps the original hatch-at (offline progress counts).
	HatchPreserve HatchRestorePolicy = "preserve"
	// HatchRemaining restarts the clock from the snapshot's remaining time.
	HatchRemaining HatchRestorePolicy = "remaining"
	// HatchReady marks the egg hatchable immediately.
	HatchReady HatchRestorePolicy = "ready"
)

// Per-field maximum entry counts; excess is truncated with a warning on
// both serialize and restore.
var fieldCaps = map[string]int{
	profile.FieldWorldSlimes:    60,
	profile.FieldWorldEggs:      40,
	profile.FieldEggTools:       60,
	profile.FieldFoodTools:      120,
	profile.FieldCapturedSlimes: 120,
}

// Snapshot is one full inventory sweep of a user's live objects.
type Snapshot struct {
	WorldSlimes    []profile.Entry
	WorldEggs      []profile.Entry
	EggTools       []profile.Entry
	FoodTools      []profile.Entry
	CapturedSlimes []profile.Entry
}

// Field returns the snapshot list for a profile inventory field name.
func (sn *Snapshot) Field(field string) []profile.Entry {
	switch field {
	case profile.FieldWorldSlimes:
		return sn.WorldSlimes
	case profile.FieldWorldEggs:
		return sn.WorldEggs
	case profile.FieldEggTools:
		return sn.EggTools
	case profile.FieldFoodTools:
		return sn.FoodTools
	case profile.FieldCapturedSlimes:
		return sn.CapturedSlimes
	}
	return nil
}

// Serializer sweeps live objects into snapshots and rebuilds live objects
// from profile entries. Translation itself is stateless; the only held
// state is the per-user last-snapshot cache backing the final-serialize
// fallback.
type Serializer struct {
	world  *world.State
	slimes *data.SlimeTable
	eggs   *data.EggTable
	foods  *data.FoodTable
	policy HatchRestorePolicy
	log    *zap.Logger

	mu   sync.Mutex
	last map[int64]map[string][]profile.Entry
}

func New(ws *world.State, slimes *data.SlimeTable, eggs *data.EggTable, foods *data.FoodTable, policy HatchRestorePolicy, log *zap.Logger) *Serializer {
	if policy == "" {
		policy = HatchPreserve
	}
	return &Serializer{
		world:  ws,
		slimes: slimes,
		eggs:   eggs,
		foods:  foods,
		policy: policy,
		log:    log,
		last:   make(map[int64]map[string][]profile.Entry),
	}
}

// Serialize sweeps all five fields. With isFinal set (pre-exit), a field
// whose live enumeration came back empty falls back to the cached
// last snapshot when one exists.
func (s *Serializer) Serialize(userID int64, isFinal bool) *Snapshot {
	now := time.Now().Unix()
	sn := &Snapshot{
		WorldSlimes:    s.serializeWorldSlimes(userID, now),
		WorldEggs:      s.serializeWorldEggs(userID, now),
		EggTools:       s.serializeEggTools(userID),
		FoodTools:      s.serializeFoodTools(userID),
		CapturedSlimes: s.serializeCapturedSlimes(userID),
	}
	for _, field := range profile.Fields {
		entries := sn.Field(field)
		entries = s.finish(userID, field, entries, isFinal)
		switch field {
		case profile.FieldWorldSlimes:
			sn.WorldSlimes = entries
		case profile.FieldWorldEggs:
			sn.WorldEggs = entries
		case profile.FieldEggTools:
			sn.EggTools = entries
		case profile.FieldFoodTools:
			sn.FoodTools = entries
		case profile.FieldCapturedSlimes:
			sn.CapturedSlimes = entries
		}
	}
	return sn
}

// Restore rebuilds a user's live objects from the profile, five fields in
// fixed order.
func (s *Serializer) Restore(userID int64, p *profile.Profile) {
	s.restoreWorldSlimes(userID, s.prepare(userID, profile.FieldWorldSlimes, p.Inventory.WorldSlimes))
	s.restoreWorldEggs(userID, s.prepare(userID, profile.FieldWorldEggs, p.Inventory.WorldEggs))
	s.restoreEggTools(userID, s.prepare(userID, profile.FieldEggTools, p.Inventory.EggTools))
	s.restoreFoodTools(userID, s.prepare(userID, profile.FieldFoodTools, p.Inventory.FoodTools))
	s.restoreCapturedSlimes(userID, s.prepare(userID, profile.FieldCapturedSlimes, p.Inventory.CapturedSlimes))
}

// finish applies dedupe, the cap, and the last-snapshot fallback, then
// refreshes the snapshot cache.
func (s *Serializer) finish(userID int64, field string, entries []profile.Entry, isFinal bool) []profile.Entry {
	entries = dedupe(field, entries)
	entries = s.truncate(userID, field, entries)

	if isFinal && len(entries) == 0 {
		if cached := s.cachedSnapshot(userID, field); len(cached) > 0 {
			s.log.Warn("final serialize empty, using last snapshot",
				zap.Int64("user", userID),
				zap.String("field", field),
				zap.Int("cached", len(cached)))
			return cached
		}
	}
	if len(entries) > 0 {
		s.cacheSnapshot(userID, field, entries)
	}
	return entries
}

// prepare applies dedupe and the cap to entries about to be restored.
func (s *Serializer) prepare(userID int64, field string, entries []profile.Entry) []profile.Entry {
	entries = dedupe(field, entries)
	return s.truncate(userID, field, entries)
}

func (s *Serializer) truncate(userID int64, field string, entries []profile.Entry) []profile.Entry {
	limit := fieldCaps[field]
	if limit > 0 && len(entries) > limit {
		s.log.Warn("inventory field over cap, truncating",
			zap.Int64("user", userID),
			zap.String("field", field),
			zap.Int("count", len(entries)),
			zap.Int("cap", limit))
		entries = entries[:limit]
	}
	return entries
}

// dedupe drops entries repeating an id after its first occurrence. The
// result is a fresh slice; the caller's backing array is never rewritten
// (Restore hands in slices still owned by the cached profile).
func dedupe(field string, entries []profile.Entry) []profile.Entry {
	if len(entries) < 2 {
		return entries
	}
	key := profile.IDKey(field)
	seen := make(map[string]bool, len(entries))
	out := make([]profile.Entry, 0, len(entries))
	for _, e := range entries {
		id := e.String(key)
		if id != "" && seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	return out
}

func (s *Serializer) cacheSnapshot(userID int64, field string, entries []profile.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byField, ok := s.last[userID]
	if !ok {
		byField = make(map[string][]profile.Entry, len(profile.Fields))
		s.last[userID] = byField
	}
	copied := make([]profile.Entry, len(entries))
	for i, e := range entries {
		copied[i] = e.Clone()
	}
	byField[field] = copied
}

func (s *Serializer) cachedSnapshot(userID int64, field string) []profile.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[userID][field]
}

// DropCache forgets a user's snapshot cache (after eviction).
func (s *Serializer) DropCache(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, userID)
}

// poseKeys writes the absolute and plot-local position short keys.
func (s *Serializer) poseKeys(userID int64, pos world.Vec3, e profile.Entry) {
	e["px"], e["py"], e["pz"] = pos.X, pos.Y, pos.Z
	if origin, ok := s.world.PlotOriginFor(userID); ok {
		local := pos.Sub(origin)
		e["lx"], e["ly"], e["lz"] = local.X, local.Y, local.Z
	}
}

// restorePose picks plot-local coords when the plot origin exists and the
// entry carries them, falling back to absolute.
func (s *Serializer) restorePose(userID int64, e profile.Entry) world.Vec3 {
	if origin, ok := s.world.PlotOriginFor(userID); ok {
		if _, has := e["lx"]; has {
			return origin.Add(world.Vec3{X: e.Float("lx"), Y: e.Float("ly"), Z: e.Float("lz")})
		}
	}
	return world.Vec3{X: e.Float("px"), Y: e.Float("py"), Z: e.Float("pz")}
}

func entryColor(e profile.Entry, key string, fallback world.Color) world.Color {
	if c, ok := world.ParseColor(e[key]); ok {
		return c
	}
	return fallback
}
