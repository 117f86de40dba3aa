package handler

import (
	"context"

	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// HandleSlimePickup converts an owned world slime into a captured-slime
// tool. The profile moves the entry between fields in one mutation so a
// crash can never drop the pet in neither field.
func HandleSlimePickup(ctx context.Context, deps *Deps, userID int64, slimeID string) {
	sl := deps.World.GetSlime(slimeID)
	if sl == nil {
		deps.Tx.Send(userID, "SlimePickupResult", result(false, "slime not found", nil))
		return
	}
	if sl.OwnerID != userID {
		deps.Log.Warn("pickup rejected, ownership mismatch",
			zap.Int64("user", userID), zap.Int64("owner", sl.OwnerID), zap.String("slime", slimeID))
		deps.Tx.Send(userID, "SlimePickupResult", result(false, "not your slime", nil))
		return
	}

	t := &world.Tool{
		UID:       world.NewToolUID(),
		Kind:      world.ToolCaptured,
		OwnerID:   userID,
		Container: world.ContainerBackpack,
		Captured: &world.CapturedAttrs{
			SlimeID:                 sl.SlimeID,
			Species:                 sl.Species,
			GrowthProgress:          sl.GrowthProgress,
			PersistedGrowthProgress: sl.PersistedGrowthProgress,
			Scale:                   sl.Scale,
			StartScale:              sl.StartScale,
			MaxScale:                sl.MaxScale,
			Hunger:                  sl.Hunger,
			BodyColor:               sl.BodyColor,
			AccentColor:             sl.AccentColor,
			Tier:                    sl.Tier,
			Rarity:                  sl.Rarity,
			ValueBase:               sl.ValueBase,
			ValuePerGrowth:          sl.ValuePerGrowth,
			CurrentValue:            sl.CurrentValue,
			AgeSeconds:              sl.AgeSeconds,
		},
	}

	err := deps.Cache.Mutate(ctx, userID, "pickup", func(p *profile.Profile) {
		kept := p.Inventory.WorldSlimes[:0]
		for _, e := range p.Inventory.WorldSlimes {
			if e.String(profile.KeySlimeID) != slimeID {
				kept = append(kept, e)
			}
		}
		p.Inventory.WorldSlimes = kept
		p.Inventory.CapturedSlimes = append(p.Inventory.CapturedSlimes, profile.Entry{
			"uid": t.UID,
			"sid": sl.SlimeID,
			"sp":  sl.Species,
			"gp":  sl.GrowthProgress,
			"pgf": sl.PersistedGrowthProgress,
			"sc":  sl.Scale,
			"ssc": sl.StartScale,
			"msc": sl.MaxScale,
			"hg":  sl.Hunger,
			"c1":  sl.BodyColor.Hex(),
			"c2":  sl.AccentColor.Hex(),
			"tr":  sl.Tier,
			"rr":  sl.Rarity,
			"vb":  sl.ValueBase,
			"vg":  sl.ValuePerGrowth,
			"cv":  sl.CurrentValue,
			"age": sl.AgeSeconds,
		})
	})
	if err != nil {
		deps.Tx.Send(userID, "SlimePickupResult", result(false, "profile not loaded", nil))
		return
	}

	deps.World.RemoveSlime(slimeID)
	deps.World.AddTool(t)
	deps.Cache.SaveNow(userID, "pickup")

	deps.Log.Info("slime picked up",
		zap.Int64("user", userID),
		zap.String("slime", slimeID),
		zap.String("tool", t.UID))
	deps.Tx.Send(userID, "SlimePickupResult", result(true, "", map[string]any{
		"slimeId": slimeID,
		"toolUid": t.UID,
	}))
}
