package world

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrParentLocked reports a transiently failed reparent; the engine locks
// instances mid-transit. Callers retry with backoff (see the stage
// manager).
var ErrParentLocked = errors.New("world: tool parent locked")

// ToolKind distinguishes the three persistent tool families.
type ToolKind int

const (
	ToolFood ToolKind = iota
	ToolEgg
	ToolCaptured
)

func (k ToolKind) String() string {
	switch k {
	case ToolFood:
		return "food"
	case ToolEgg:
		return "egg"
	case ToolCaptured:
		return "captured"
	}
	return "unknown"
}

// Container is a tool's owning parent.
type Container int

const (
	ContainerNone Container = iota
	ContainerBackpack
	ContainerCharacter
	ContainerServer // stage-manager custody
)

// CapturedAttrs is the full attribute set a captured-slime tool carries so
// the pet's visuals can be reconstructed on placement.
type CapturedAttrs struct {
	SlimeID                 string
	Species                 string
	GrowthProgress          float64
	PersistedGrowthProgress float64
	Scale                   float64
	StartScale              float64
	MaxScale                float64
	Hunger                  float64
	BodyColor               Color
	AccentColor             Color
	Tier                    int
	Rarity                  string
	ValueBase               float64
	ValuePerGrowth          float64
	CurrentValue            float64
	AgeSeconds              float64
}

// Tool is a live backpack/character tool instance.
type Tool struct {
	UID       string
	Kind      ToolKind
	OwnerID   int64
	Container Container

	// Locked simulates engine parent-locking; SetContainer fails while
	// set.
	Locked bool

	// Food attributes.
	FoodID             string
	RestoreFraction    float64
	BufferBonusSeconds float64
	Consumable         bool
	Charges            int
	CooldownOverride   float64
	// LastUsedAt gates the per-tool feed cooldown; never persisted.
	LastUsedAt time.Time

	// Unplaced-egg attributes.
	EggID             string
	Species           string
	HatchTotalSeconds float64
	Rarity            string
	ValueBase         float64

	Captured *CapturedAttrs

	// Placeholder marks a degenerate tool (single unit-size handle, no
	// content) that restore must rebuild from its template.
	Placeholder bool

	// SettleFrames counts consecutive sweeps the tool survived intact;
	// it is "settled" once the counter crosses SettleThreshold.
	SettleFrames int

	// Preserve/stage flags.
	PreserveOnServer    bool
	ServerRestore       bool
	RestoreStamp        int64
	RecentlyPlacedSaved int64
	StagedAt            time.Time
}

// SettleThreshold is the consecutive-sweep count after which a restored
// tool is considered settled.
const SettleThreshold = 3

// NewToolUID mints a durable tool id.
func NewToolUID() string {
	return uuid.NewString()
}

// Settled reports whether the stability counter crossed the threshold.
func (t *Tool) Settled() bool {
	return t.SettleFrames >= SettleThreshold
}

// SetContainer reparents the tool. Fails with ErrParentLocked while the
// engine holds the instance.
func (t *Tool) SetContainer(c Container) error {
	if t.Locked {
		return ErrParentLocked
	}
	t.Container = c
	return nil
}

// CloneForRestage copies the durable id attributes into a fresh instance
// so a parent-locked original can be replaced. Runtime counters reset.
func (t *Tool) CloneForRestage() *Tool {
	clone := *t
	clone.Locked = false
	clone.Container = ContainerNone
	clone.SettleFrames = 0
	if t.Captured != nil {
		captured := *t.Captured
		clone.Captured = &captured
	}
	return &clone
}
