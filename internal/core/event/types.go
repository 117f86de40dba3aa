package event

// GameServicesReady fires once after the init sequence completes.
type GameServicesReady struct{}

// PlayerJoined fires when a player's profile finished loading and their
// live objects were restored.
type PlayerJoined struct {
	UserID int64
}

// PlayerRemoving fires when a player starts disconnecting. The pre-exit
// sync barrier consumes it.
type PlayerRemoving struct {
	UserID int64
}

// GrowthStampDirty requests a growth stamp plus a verified save for one
// user. Debounced per user by the growth engine.
type GrowthStampDirty struct {
	UserID int64
	Reason string
}

// PreLeaveFlush fires after FlushPlayerSlimes stamped all of a user's live
// slimes; the pre-exit barrier waits for it before resampling the world.
type PreLeaveFlush struct {
	UserID int64
}

// PersistInventoryRestored fires after Restore rebuilt a user's live
// objects; shop/inventory UI refresh consumes it.
type PersistInventoryRestored struct {
	UserID int64
}

// Client requests, queued by the transport front-end and dispatched to
// handlers on the game loop.

type SellSlimesRequest struct {
	UserID   int64
	Faction  string
	ToolUIDs []string
}

type PurchaseEggRequest struct {
	UserID  int64
	Species string
	Qty     int
}

type FeedSlimeRequest struct {
	UserID  int64
	SlimeID string
	ToolUID string
}

type SlimePickupRequest struct {
	UserID  int64
	SlimeID string
}
