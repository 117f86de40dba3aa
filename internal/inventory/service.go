// Package inventory mediates between the serializer and the profile
// cache: runtime membership of persistent tools and entities, snapshot
// application with the empty-overwrite guard, and the pre-exit
// finalization composition.
package inventory

import (
	"context"
	"time"

	"github.com/slimekeep/server/internal/core/event"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/serialize"
	"go.uber.org/zap"
)

// GrowthFlusher stamps all of a user's live slimes before finalization.
// The growth engine implements it; a null implementation keeps the
// service usable without one.
type GrowthFlusher interface {
	FlushPlayerSlimes(userID int64)
}

// NopGrowthFlusher is the null collaborator.
type NopGrowthFlusher struct{}

func (NopGrowthFlusher) FlushPlayerSlimes(int64) {}

// UpdateOptions tunes UpdateProfileInventory.
type UpdateOptions struct {
	OverrideEmptyGuard bool
}

type Service struct {
	cache        *profile.Cache
	ser          *serialize.Serializer
	bus          *event.Bus
	growth       GrowthFlusher
	verifiedWait time.Duration
	log          *zap.Logger
}

func New(cache *profile.Cache, ser *serialize.Serializer, bus *event.Bus, verifiedWait time.Duration, log *zap.Logger) *Service {
	return &Service{
		cache:        cache,
		ser:          ser,
		bus:          bus,
		growth:       NopGrowthFlusher{},
		verifiedWait: verifiedWait,
		log:          log,
	}
}

// SetGrowthFlusher wires the growth engine after construction (the engine
// itself depends on the cache, so this breaks the cycle at composition
// time).
func (s *Service) SetGrowthFlusher(g GrowthFlusher) {
	if g != nil {
		s.growth = g
	}
}

// AddInventoryItem registers a persistent entry, deduplicating by id.
func (s *Service) AddInventoryItem(ctx context.Context, userID int64, field string, entry profile.Entry) error {
	return s.cache.AddInventoryItem(ctx, userID, field, entry)
}

// RemoveInventoryItem removes all entries in field matching keyName ==
// keyValue. Returns the removal count.
func (s *Service) RemoveInventoryItem(userID int64, field, keyName, keyValue string) int {
	return s.cache.RemoveInventoryItem(userID, field, keyName, keyValue)
}

// EnsureEntryHasID is the idempotent reconciliation primitive used by all
// grant paths.
func (s *Service) EnsureEntryHasID(ctx context.Context, userID int64, field, id string, payload profile.Entry) error {
	return s.cache.EnsureEntryHasID(ctx, userID, field, id, payload)
}

// UpdateProfileInventory sweeps live state and applies each field to the
// profile, honoring the empty-overwrite guard unless overridden.
func (s *Service) UpdateProfileInventory(userID int64, opts UpdateOptions) {
	sn := s.ser.Serialize(userID, false)
	for _, field := range profile.Fields {
		guarded := s.cache.SetInventoryField(userID, field, sn.Field(field), opts.OverrideEmptyGuard)
		if guarded {
			s.log.Warn("snapshot field blocked by empty-overwrite guard",
				zap.Int64("user", userID), zap.String("field", field))
		}
	}
}

// RestorePlayer rehydrates live objects from the profile and announces
// completion on the bus.
func (s *Service) RestorePlayer(ctx context.Context, userID int64) error {
	p, err := s.cache.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	s.ser.Restore(userID, p)
	event.Emit(s.bus, event.PersistInventoryRestored{UserID: userID})
	return nil
}

// FinalizePlayer is the end-to-end pre-exit composition: flush growth,
// final-serialize, merge into the profile, verified save. The merge
// overwrites the volatile growth/hunger/pose fields of matching world
// slimes from live state and conservatively unions everything else, so
// items in transit (staged tools) survive a miss in the live enumeration.
// Returns (done, ok) with saveNowAndWait semantics.
func (s *Service) FinalizePlayer(userID int64, reason string) (bool, bool) {
	s.growth.FlushPlayerSlimes(userID)

	sn := s.ser.Serialize(userID, true)
	now := time.Now().Unix()
	err := s.cache.Mutate(context.Background(), userID, reason, func(p *profile.Profile) {
		mergeFinal(p, sn)
		p.Meta.LastPreExitSnapshot = now
		p.Meta.LastPreExitSync = now
	})
	if err != nil {
		s.log.Error("finalize merge failed", zap.Int64("user", userID), zap.Error(err))
		return true, false
	}

	done, ok := s.cache.SaveNowAndWait(userID, s.verifiedWait, profile.SaveOptions{
		Verified:           true,
		OverrideEmptyGuard: true,
	})
	if !done || !ok {
		s.log.Warn("finalize save incomplete",
			zap.Int64("user", userID), zap.String("reason", reason),
			zap.Bool("done", done), zap.Bool("ok", ok))
	}
	return done, ok
}

// Volatile worldSlimes keys whose live values are authoritative over any
// cached copy at finalization.
var volatileSlimeKeys = []string{
	"gp", "hg", "fb", "sc", "age", "lg",
	"px", "py", "pz", "lx", "ly", "lz",
}

func mergeFinal(p *profile.Profile, sn *serialize.Snapshot) {
	// World slimes: overwrite volatile fields, raise the floor, append new.
	for _, live := range sn.WorldSlimes {
		sid := live.String(profile.KeySlimeID)
		if sid == "" {
			continue
		}
		existing := p.FindEntry(profile.FieldWorldSlimes, sid)
		if existing == nil {
			p.Inventory.WorldSlimes = append(p.Inventory.WorldSlimes, live.Clone())
			continue
		}
		for _, k := range volatileSlimeKeys {
			if v, ok := live[k]; ok {
				existing[k] = v
			}
		}
		if live.Float(profile.KeyGrowthFloor) > existing.Float(profile.KeyGrowthFloor) {
			existing[profile.KeyGrowthFloor] = live.Float(profile.KeyGrowthFloor)
		}
	}

	// Other fields: conservative union. Empty profile adopts live; both
	// non-empty appends unseen ids; empty live keeps profile.
	for _, field := range profile.Fields {
		if field == profile.FieldWorldSlimes {
			continue
		}
		live := sn.Field(field)
		if len(live) == 0 {
			continue
		}
		fp := p.Field(field)
		if len(*fp) == 0 {
			*fp = cloneEntries(live)
			continue
		}
		key := profile.IDKey(field)
		for _, e := range live {
			id := e.String(key)
			if id == "" || p.FindEntry(field, id) != nil {
				continue
			}
			*fp = append(*fp, e.Clone())
		}
	}
}

func cloneEntries(in []profile.Entry) []profile.Entry {
	out := make([]profile.Entry, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
