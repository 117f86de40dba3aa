package serialize

import (
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

func (s *Serializer) serializeFoodTools(userID int64) []profile.Entry {
	var entries []profile.Entry
	for _, t := range s.world.ToolsByOwner(userID, world.ToolFood) {
		entries = append(entries, profile.Entry{
			"uid": t.UID,
			"fid": t.FoodID,
			"rf":  t.RestoreFraction,
			"bb":  t.BufferBonusSeconds,
			"cs":  t.Consumable,
			"ch":  t.Charges,
			"cd":  t.CooldownOverride,
			"ow":  t.OwnerID,
		})
	}
	return entries
}

// restoreFoodTools builds tools from the food template when the id is
// known, else a minimal fallback with a unit-size handle. Every restored
// tool restarts its stability counter and must settle before it is
// trusted by the sweeper.
func (s *Serializer) restoreFoodTools(userID int64, entries []profile.Entry) {
	for _, e := range entries {
		uid := e.String("uid")
		if uid == "" {
			continue
		}
		if live := s.world.GetTool(uid); live != nil {
			live.SettleFrames = 0
			continue
		}
		t := &world.Tool{
			UID:                uid,
			Kind:               world.ToolFood,
			OwnerID:            userID,
			Container:          world.ContainerBackpack,
			FoodID:             e.String("fid"),
			RestoreFraction:    e.Float("rf"),
			BufferBonusSeconds: e.Float("bb"),
			Consumable:         e.Bool("cs"),
			Charges:            int(e.Int("ch")),
			CooldownOverride:   e.Float("cd"),
		}
		if item := s.foods.Get(t.FoodID); item != nil {
			if t.RestoreFraction == 0 {
				t.RestoreFraction = item.RestoreFraction
			}
			if t.BufferBonusSeconds == 0 {
				t.BufferBonusSeconds = item.BufferBonusSeconds
			}
			if t.CooldownOverride == 0 {
				t.CooldownOverride = item.CooldownSeconds
			}
		} else {
			// Unknown food id: keep the entry alive as a bare handle.
			t.Placeholder = true
			s.log.Warn("food template missing, building fallback tool",
				zap.Int64("user", userID),
				zap.String("uid", uid),
				zap.String("food", t.FoodID))
		}
		s.world.AddTool(t)
	}
}
