package handler

import (
	"github.com/slimekeep/server/internal/config"
	"github.com/slimekeep/server/internal/core/event"
	"github.com/slimekeep/server/internal/data"
	"github.com/slimekeep/server/internal/inventory"
	"github.com/slimekeep/server/internal/profile"
	"github.com/slimekeep/server/internal/system"
	"github.com/slimekeep/server/internal/transport"
	"github.com/slimekeep/server/internal/world"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all request handlers.
type Deps struct {
	Config  *config.Config
	Log     *zap.Logger
	Bus     *event.Bus
	World   *world.State
	Cache   *profile.Cache
	Inv     *inventory.Service
	Sale    *system.SalePipeline
	Totals  *system.FactionTotals
	Slimes  *data.SlimeTable
	Eggs    *data.EggTable
	Foods   *data.FoodTable
	Faction *data.FactionTable
	Tx      transport.Sender
}

// result builds the uniform success/message payload every handler replies
// with.
func result(success bool, message string, extra map[string]any) map[string]any {
	payload := map[string]any{
		"success": success,
		"message": message,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}
