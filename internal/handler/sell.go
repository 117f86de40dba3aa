package handler

import (
	"context"

	"go.uber.org/zap"
)

// HandleSellSlimes processes a sell request: the player offers a batch of
// captured-slime tools to a faction. The pipeline prices, commits and
// destroys; the handler validates the envelope and reports the outcome.
func HandleSellSlimes(ctx context.Context, deps *Deps, userID int64, faction string, toolUIDs []string) {
	if deps.World.GetPlayer(userID) == nil {
		deps.Tx.Send(userID, "SellSlimesResult", result(false, "not in world", nil))
		return
	}
	if len(toolUIDs) == 0 || len(toolUIDs) > 50 {
		deps.Tx.Send(userID, "SellSlimesResult", result(false, "invalid batch size", nil))
		return
	}

	res := deps.Sale.Sell(ctx, userID, faction, toolUIDs)
	if !res.OK {
		deps.Tx.Send(userID, "SellSlimesResult", result(false, res.Reason, nil))
		return
	}

	deps.Log.Info("sell request completed",
		zap.Int64("user", userID),
		zap.String("faction", faction),
		zap.Int64("payout", res.TotalPayout))
	deps.Tx.Send(userID, "SellSlimesResult", result(true, "", map[string]any{
		"payout":   res.TotalPayout,
		"sold":     len(res.Items),
		"standing": res.NewStanding,
		"coins":    deps.Cache.Coins(userID),
	}))
}
