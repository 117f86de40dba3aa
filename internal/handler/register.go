package handler

import (
	"context"

	"github.com/slimekeep/server/internal/core/event"
)

// RegisterAll subscribes every request handler to the event bus. Requests
// are queued by the transport front-end and run on the game loop during
// event dispatch.
func RegisterAll(bus *event.Bus, deps *Deps) {
	event.Subscribe(bus, func(ev event.SellSlimesRequest) {
		HandleSellSlimes(context.Background(), deps, ev.UserID, ev.Faction, ev.ToolUIDs)
	})
	event.Subscribe(bus, func(ev event.PurchaseEggRequest) {
		HandlePurchaseEgg(context.Background(), deps, ev.UserID, ev.Species, ev.Qty)
	})
	event.Subscribe(bus, func(ev event.FeedSlimeRequest) {
		HandleFeedSlime(deps, ev.UserID, ev.SlimeID, ev.ToolUID)
	})
	event.Subscribe(bus, func(ev event.SlimePickupRequest) {
		HandleSlimePickup(context.Background(), deps, ev.UserID, ev.SlimeID)
	})
}
