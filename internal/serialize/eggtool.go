package serialize

import (
	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

func (s *Serializer) serializeEggTools(userID int64) []profile.Entry {
	var entries []profile.Entry
	for _, t := range s.world.ToolsByOwner(userID, world.ToolEgg) {
		entries = append(entries, profile.Entry{
			"uid": t.UID,
			"eid": t.EggID,
			"sp":  t.Species,
			"ht":  t.HatchTotalSeconds,
			"rr":  t.Rarity,
			"vb":  t.ValueBase,
		})
	}
	return entries
}

// restoreEggTools rebuilds unplaced egg tools, repairing placeholders: a
// live tool that is a single unit-size part with no content gets its
// attributes rebuilt from the egg template.
func (s *Serializer) restoreEggTools(userID int64, entries []profile.Entry) {
	for _, e := range entries {
		uid := e.String("uid")
		if uid == "" {
			continue
		}
		species := e.String("sp")
		tmpl := s.eggs.Get(species)

		if live := s.world.GetTool(uid); live != nil {
			if live.Placeholder {
				s.log.Warn("repairing placeholder egg tool",
					zap.Int64("user", userID), zap.String("uid", uid))
				fillEggTool(live, e, tmpl)
				live.Placeholder = false
			}
			live.SettleFrames = 0
			continue
		}
		t := &world.Tool{
			UID:       uid,
			Kind:      world.ToolEgg,
			OwnerID:   userID,
			Container: world.ContainerBackpack,
		}
		fillEggTool(t, e, tmpl)
		s.world.AddTool(t)
	}
}

func fillEggTool(t *world.Tool, e profile.Entry, tmpl *data.EggTemplate) {
	t.EggID = e.String("eid")
	t.Species = e.String("sp")
	t.HatchTotalSeconds = e.Float("ht")
	t.Rarity = e.String("rr")
	t.ValueBase = e.Float("vb")
	if tmpl != nil {
		if t.HatchTotalSeconds == 0 {
			t.HatchTotalSeconds = tmpl.HatchTotalSeconds
		}
		if t.Rarity == "" {
			t.Rarity = tmpl.Rarity
		}
		if t.ValueBase == 0 {
			t.ValueBase = tmpl.ValueBase
		}
	}
}
