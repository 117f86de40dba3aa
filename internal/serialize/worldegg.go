package serialize

import (
	"time"

	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
)

func (s *Serializer) serializeWorldEggs(userID int64, now int64) []profile.Entry {
	var entries []profile.Entry
	for _, egg := range s.world.EggsByOwner(userID) {
		remaining := float64(egg.HatchAt - now)
		if remaining < 0 {
			remaining = 0
		}
		e := profile.Entry{
			"eid": egg.EggID,
			"sp":  egg.Species,
			"ht":  egg.HatchTotalSeconds,
			"ha":  egg.HatchAt,
			"trm": remaining,
			"pa":  egg.PlacedAt,
			"rr":  egg.Rarity,
			"vb":  egg.ValueBase,
			"cv":  egg.CurrentValue,
		}
		s.poseKeys(userID, egg.Pos, e)
		entries = append(entries, e)
	}
	return entries
}

func (s *Serializer) restoreWorldEggs(userID int64, entries []profile.Entry) {
	now := time.Now().Unix()
	for _, e := range entries {
		eid := e.String("eid")
		if eid == "" {
			continue
		}
		if live := s.world.GetEgg(eid); live != nil {
			live.Pos = s.restorePose(userID, e)
			continue
		}
		egg := &world.Egg{
			EggID:             eid,
			OwnerID:           userID,
			Species:           e.String("sp"),
			HatchTotalSeconds: e.Float("ht"),
			TimeRemaining:     e.Float("trm"),
			PlacedAt:          e.Int("pa"),
			Rarity:            e.String("rr"),
			ValueBase:         e.Float("vb"),
			CurrentValue:      e.Float("cv"),
			Pos:               s.restorePose(userID, e),
		}
		switch s.policy {
		case HatchRemaining:
			egg.HatchAt = now + int64(e.Float("trm"))
		case HatchReady:
			egg.HatchAt = now
		default: // HatchPreserve: offline progress applies
			egg.HatchAt = e.Int("ha")
		}
		s.world.AddEgg(egg)
	}
}
