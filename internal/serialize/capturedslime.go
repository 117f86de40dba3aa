package serialize

import (
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// serializeCapturedSlimes projects captured-pet tools. Entries dedupe by
// SlimeId: two tools holding the same pet would otherwise duplicate it on
// the next restore.
func (s *Serializer) serializeCapturedSlimes(userID int64) []profile.Entry {
	var entries []profile.Entry
	for _, t := range s.world.ToolsByOwner(userID, world.ToolCaptured) {
		c := t.Captured
		if c == nil {
			continue
		}
		entries = append(entries, profile.Entry{
			"uid": t.UID,
			"sid": c.SlimeID,
			"sp":  c.Species,
			"gp":  c.GrowthProgress,
			"pgf": c.PersistedGrowthProgress,
			"sc":  c.Scale,
			"ssc": c.StartScale,
			"msc": c.MaxScale,
			"hg":  c.Hunger,
			"c1":  c.BodyColor.Hex(),
			"c2":  c.AccentColor.Hex(),
			"tr":  c.Tier,
			"rr":  c.Rarity,
			"vb":  c.ValueBase,
			"vg":  c.ValuePerGrowth,
			"cv":  c.CurrentValue,
			"age": c.AgeSeconds,
		})
	}
	return entries
}

func (s *Serializer) restoreCapturedSlimes(userID int64, entries []profile.Entry) {
	for _, e := range entries {
		uid := e.String("uid")
		sid := e.String("sid")
		if uid == "" || sid == "" {
			continue
		}
		if live := s.world.GetTool(uid); live != nil {
			live.SettleFrames = 0
			continue
		}
		tmpl := s.slimes.Get(e.String("sp"))
		if tmpl == nil {
			s.log.Warn("unknown slime species in captured entry, skipping",
				zap.Int64("user", userID),
				zap.String("slime", sid),
				zap.String("species", e.String("sp")))
			continue
		}
		t := &world.Tool{
			UID:       uid,
			Kind:      world.ToolCaptured,
			OwnerID:   userID,
			Container: world.ContainerBackpack,
			Captured: &world.CapturedAttrs{
				SlimeID:                 sid,
				Species:                 tmpl.Species,
				GrowthProgress:          e.Float("gp"),
				PersistedGrowthProgress: e.Float("pgf"),
				Scale:                   e.Float("sc"),
				StartScale:              e.Float("ssc"),
				MaxScale:                e.Float("msc"),
				Hunger:                  e.Float("hg"),
				BodyColor:               entryColor(e, "c1", tmpl.BodyColor),
				AccentColor:             entryColor(e, "c2", tmpl.AccentColor),
				Tier:                    int(e.Int("tr")),
				Rarity:                  e.String("rr"),
				ValueBase:               e.Float("vb"),
				ValuePerGrowth:          e.Float("vg"),
				CurrentValue:            e.Float("cv"),
				AgeSeconds:              e.Float("age"),
			},
		}
		s.world.AddTool(t)
	}
}
