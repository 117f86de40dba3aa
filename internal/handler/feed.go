package handler

import (
	"context"
	"time"

	"github.com/slimekeep/server/internal/core/event"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// HandleFeedSlime processes a feed request: restore hunger, extend the
// feed buffer, consume a charge. Ownership of both the tool and the slime
// is validated server-side.
func HandleFeedSlime(deps *Deps, userID int64, slimeID, toolUID string) {
	sl := deps.World.GetSlime(slimeID)
	if sl == nil || sl.OwnerID != userID {
		deps.Tx.Send(userID, "FeedSlimeResult", result(false, "slime not found", nil))
		return
	}
	t := deps.World.GetTool(toolUID)
	if t == nil || t.Kind != world.ToolFood || t.OwnerID != userID {
		deps.Tx.Send(userID, "FeedSlimeResult", result(false, "food not found", nil))
		return
	}
	if t.Placeholder {
		deps.Tx.Send(userID, "FeedSlimeResult", result(false, "food unusable", nil))
		return
	}
	if t.Consumable && t.Charges <= 0 {
		deps.Tx.Send(userID, "FeedSlimeResult", result(false, "food spent", nil))
		return
	}
	if cd := t.CooldownOverride; cd > 0 && !t.LastUsedAt.IsZero() && time.Since(t.LastUsedAt).Seconds() < cd {
		deps.Tx.Send(userID, "FeedSlimeResult", result(false, "food on cooldown", nil))
		return
	}

	// Persist the charge spend before touching the slime, so a failed
	// write leaves nothing half-applied and the client hears about it.
	spent := false
	if t.Consumable {
		remaining := t.Charges - 1
		if remaining <= 0 {
			spent = true
		} else {
			err := deps.Cache.Mutate(context.Background(), userID, "feed", func(p *profile.Profile) {
				if e := p.FindEntry(profile.FieldFoodTools, t.UID); e != nil {
					e["ch"] = remaining
				}
			})
			if err != nil {
				deps.Log.Error("feed charge update failed",
					zap.Int64("user", userID),
					zap.String("tool", t.UID),
					zap.Error(err))
				deps.Tx.Send(userID, "FeedSlimeResult", result(false, "inventory update failed", nil))
				return
			}
		}
		t.Charges = remaining
	}

	sl.Hunger += t.RestoreFraction
	if sl.Hunger > 1 {
		sl.Hunger = 1
	}
	sl.FeedBufferSeconds += t.BufferBonusSeconds
	t.LastUsedAt = time.Now()

	if spent {
		deps.World.RemoveTool(t.UID)
		deps.Cache.RemoveInventoryItem(userID, profile.FieldFoodTools, "uid", t.UID)
	}

	// The growth speedup matters enough to stamp promptly.
	event.Emit(deps.Bus, event.GrowthStampDirty{UserID: userID, Reason: "feed"})
	deps.Cache.MarkDirty(userID, "feed")

	deps.Log.Debug("slime fed",
		zap.Int64("user", userID),
		zap.String("slime", slimeID),
		zap.String("tool", toolUID),
		zap.Bool("spent", spent))
	deps.Tx.Send(userID, "FeedSlimeResult", result(true, "", map[string]any{
		"slimeId": slimeID,
		"hunger":  sl.Hunger,
		"buffer":  sl.FeedBufferSeconds,
		"spent":   spent,
	}))
}
