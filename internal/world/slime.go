package world

import "time"

// Vec3 is a world position.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Slime is a live world pet. Accessed only from the game loop goroutine;
// the profile cache keeps its own copy behind its own locks.
type Slime struct {
	SlimeID string
	OwnerID int64
	Species string

	GrowthProgress          float64 // 0..1
	PersistedGrowthProgress float64 // durable non-regressing floor
	Scale                   float64
	StartScale              float64
	MaxScale                float64

	Hunger                float64 // 0..1, 1 = full
	FeedBufferSeconds     float64
	FeedSpeedMultiplier   float64
	HungerSpeedMultiplier float64
	UnfedGrowthDuration   float64 // seconds of unfed growth from 0 to 1

	BodyColor   Color
	AccentColor Color

	Tier   int
	Rarity string

	ValueBase      float64
	ValuePerGrowth float64
	CurrentValue   float64

	AgeSeconds       float64
	LastGrowthUpdate int64 // unix seconds of the last durable stamp

	Pos Vec3

	// Growth engine bookkeeping, never persisted.
	OfflineApplied     bool
	OfflineAppliedAt   time.Time
	LastStampAt        time.Time
	ProgressSinceStamp float64
	LastBucket         int

	// RecentlyPlacedSaved grants a world-cleanup grace window after a
	// successful pre-exit save (unix seconds, 0 = unset).
	RecentlyPlacedSaved int64
}

// GrowthSpeed returns the current accrual speed multiplier: the feed
// buffer doubles down with the feed multiplier while it lasts.
func (s *Slime) GrowthSpeed() float64 {
	speed := s.HungerSpeedMultiplier
	if speed == 0 {
		speed = 1
	}
	if s.FeedBufferSeconds > 0 {
		fm := s.FeedSpeedMultiplier
		if fm == 0 {
			fm = 1
		}
		speed *= fm
	}
	return speed
}
