package handler

import (
	"context"

	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// HandlePurchaseEgg processes an egg shop purchase: spend first, then
// grant. A grant failure rolls back by refunding the coins and destroying
// anything already created, so the player never pays for nothing.
func HandlePurchaseEgg(ctx context.Context, deps *Deps, userID int64, species string, qty int) {
	if deps.World.GetPlayer(userID) == nil {
		deps.Tx.Send(userID, "PurchaseEggResult", result(false, "not in world", nil))
		return
	}
	if qty <= 0 || qty > 10 {
		deps.Tx.Send(userID, "PurchaseEggResult", result(false, "invalid quantity", nil))
		return
	}
	tmpl := deps.Eggs.Get(species)
	if tmpl == nil {
		deps.Tx.Send(userID, "PurchaseEggResult", result(false, "unknown egg", nil))
		return
	}
	if tmpl.Price <= 0 {
		deps.Tx.Send(userID, "PurchaseEggResult", result(false, "not for sale", nil))
		return
	}

	cost := tmpl.Price * int64(qty)
	if ok, reason := deps.Cache.TrySpendCoins(userID, cost); !ok {
		deps.Tx.Send(userID, "PurchaseEggResult", result(false, reason, nil))
		return
	}

	granted := make([]string, 0, qty)
	for i := 0; i < qty; i++ {
		t := &world.Tool{
			UID:               world.NewToolUID(),
			Kind:              world.ToolEgg,
			OwnerID:           userID,
			Container:         world.ContainerBackpack,
			EggID:             world.NewToolUID(),
			Species:           tmpl.Species,
			HatchTotalSeconds: tmpl.HatchTotalSeconds,
			Rarity:            tmpl.Rarity,
			ValueBase:         tmpl.ValueBase,
		}
		deps.World.AddTool(t)
		err := deps.Inv.AddInventoryItem(ctx, userID, profile.FieldEggTools, profile.Entry{
			"uid": t.UID,
			"eid": t.EggID,
			"sp":  t.Species,
			"ht":  t.HatchTotalSeconds,
			"rr":  t.Rarity,
			"vb":  t.ValueBase,
		})
		if err != nil {
			deps.World.RemoveTool(t.UID)
			rollbackPurchase(deps, userID, cost, granted)
			deps.Log.Error("egg grant failed, purchase rolled back",
				zap.Int64("user", userID), zap.String("species", species), zap.Error(err))
			deps.Tx.Send(userID, "PurchaseEggResult", result(false, "grant failed", nil))
			return
		}
		granted = append(granted, t.UID)
	}

	deps.Cache.SaveNow(userID, "egg_purchase")
	deps.Log.Info("egg purchase",
		zap.Int64("user", userID),
		zap.String("species", species),
		zap.Int("qty", qty),
		zap.Int64("cost", cost))
	deps.Tx.Send(userID, "PurchaseEggResult", result(true, "", map[string]any{
		"species": species,
		"qty":     qty,
		"cost":    cost,
		"coins":   deps.Cache.Coins(userID),
	}))
}

// rollbackPurchase refunds the full cost and destroys partially granted
// tools, profile entries included.
func rollbackPurchase(deps *Deps, userID int64, cost int64, granted []string) {
	deps.Cache.IncrementCoins(userID, cost)
	for _, uid := range granted {
		deps.World.RemoveTool(uid)
		deps.Cache.RemoveInventoryItem(userID, profile.FieldEggTools, "uid", uid)
	}
	deps.Cache.SaveNow(userID, "purchase_rollback")
}
