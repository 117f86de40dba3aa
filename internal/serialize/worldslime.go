package serialize

import (
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// serializeWorldSlimes projects every live world slime of the user into
// its short-key entry. Growth fields plus pose are the volatile set the
// pre-exit sync later overwrites from live state.
func (s *Serializer) serializeWorldSlimes(userID int64, now int64) []profile.Entry {
	var entries []profile.Entry
	for _, sl := range s.world.SlimesByOwner(userID) {
		lg := sl.LastGrowthUpdate
		if lg == 0 {
			lg = now
		}
		e := profile.Entry{
			"sid": sl.SlimeID,
			"sp":  sl.Species,
			"gp":  sl.GrowthProgress,
			"pgf": sl.PersistedGrowthProgress,
			"sc":  sl.Scale,
			"ssc": sl.StartScale,
			"msc": sl.MaxScale,
			"hg":  sl.Hunger,
			"fb":  sl.FeedBufferSeconds,
			"fm":  sl.FeedSpeedMultiplier,
			"hm":  sl.HungerSpeedMultiplier,
			"ugd": sl.UnfedGrowthDuration,
			"c1":  sl.BodyColor.Hex(),
			"c2":  sl.AccentColor.Hex(),
			"tr":  sl.Tier,
			"rr":  sl.Rarity,
			"vb":  sl.ValueBase,
			"vg":  sl.ValuePerGrowth,
			"cv":  sl.CurrentValue,
			"age": sl.AgeSeconds,
			"lg":  lg,
		}
		s.poseKeys(userID, sl.Pos, e)
		entries = append(entries, e)
	}
	return entries
}

// restoreWorldSlimes rebuilds live slimes. A live instance with the same
// id only gets its pose and colors refreshed; anything else is built from
// the species template and parented to the owner's plot.
func (s *Serializer) restoreWorldSlimes(userID int64, entries []profile.Entry) {
	for _, e := range entries {
		sid := e.String("sid")
		if sid == "" {
			continue
		}
		if live := s.world.GetSlime(sid); live != nil {
			live.Pos = s.restorePose(userID, e)
			live.BodyColor = entryColor(e, "c1", live.BodyColor)
			live.AccentColor = entryColor(e, "c2", live.AccentColor)
			continue
		}
		tmpl := s.slimes.Get(e.String("sp"))
		if tmpl == nil {
			s.log.Warn("unknown slime species in snapshot, skipping",
				zap.Int64("user", userID),
				zap.String("slime", sid),
				zap.String("species", e.String("sp")))
			continue
		}
		sl := &world.Slime{
			SlimeID:                 sid,
			OwnerID:                 userID,
			Species:                 tmpl.Species,
			GrowthProgress:          e.Float("gp"),
			PersistedGrowthProgress: e.Float("pgf"),
			Scale:                   e.Float("sc"),
			StartScale:              e.Float("ssc"),
			MaxScale:                e.Float("msc"),
			Hunger:                  e.Float("hg"),
			FeedBufferSeconds:       e.Float("fb"),
			FeedSpeedMultiplier:     e.Float("fm"),
			HungerSpeedMultiplier:   e.Float("hm"),
			UnfedGrowthDuration:     e.Float("ugd"),
			BodyColor:               entryColor(e, "c1", tmpl.BodyColor),
			AccentColor:             entryColor(e, "c2", tmpl.AccentColor),
			Tier:                    int(e.Int("tr")),
			Rarity:                  e.String("rr"),
			ValueBase:               e.Float("vb"),
			ValuePerGrowth:          e.Float("vg"),
			CurrentValue:            e.Float("cv"),
			AgeSeconds:              e.Float("age"),
			LastGrowthUpdate:        e.Int("lg"),
			Pos:                     s.restorePose(userID, e),
		}
		// Template backfill for snapshots written before a key existed.
		if sl.StartScale == 0 {
			sl.StartScale = tmpl.StartScale
		}
		if sl.MaxScale == 0 {
			sl.MaxScale = tmpl.MaxScale
		}
		if sl.UnfedGrowthDuration == 0 {
			sl.UnfedGrowthDuration = tmpl.UnfedGrowthDuration
		}
		if sl.FeedSpeedMultiplier == 0 {
			sl.FeedSpeedMultiplier = tmpl.FeedSpeedMultiplier
		}
		if sl.HungerSpeedMultiplier == 0 {
			sl.HungerSpeedMultiplier = tmpl.HungerSpeedMultiplier
		}
		if sl.Scale == 0 {
			sl.Scale = sl.StartScale
		}
		if sl.GrowthProgress < sl.PersistedGrowthProgress {
			// A stale snapshot must not regress past the durable floor.
			sl.GrowthProgress = sl.PersistedGrowthProgress
		}
		s.world.AddSlime(sl)
		s.log.Debug("restored world slime",
			zap.Int64("user", userID), zap.String("slime", sid))
	}
}
