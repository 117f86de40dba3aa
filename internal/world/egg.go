package world

// Egg is a live world egg with a running hatch timer.
type Egg struct {
	EggID   string
	OwnerID int64
	Species string

	HatchTotalSeconds float64
	HatchAt           int64   // unix seconds the egg hatches
	TimeRemaining     float64 // seconds left at last snapshot
	PlacedAt          int64   // unix seconds it was placed

	Rarity       string
	ValueBase    float64
	CurrentValue float64

	Pos Vec3
}
