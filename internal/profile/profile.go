package profile

import (
	"encoding/json"
	"fmt"
)

// The five inventory fields. Order matters for deterministic logging and
// restore; membership is the serialization contract.
const (
	FieldWorldSlimes    = "worldSlimes"
	FieldWorldEggs      = "worldEggs"
	FieldEggTools       = "eggTools"
	FieldFoodTools      = "foodTools"
	FieldCapturedSlimes = "capturedSlimes"
)

// Fields lists every inventory field in restore order.
var Fields = []string{
	FieldWorldSlimes,
	FieldWorldEggs,
	FieldEggTools,
	FieldFoodTools,
	FieldCapturedSlimes,
}

// Short-key attribute names shared by the serializer and the merge rules.
const (
	KeySlimeID       = "sid"
	KeyEggID         = "eid"
	KeyToolUID       = "uid"
	KeyGrowth        = "gp"
	KeyGrowthFloor   = "pgf"
	KeyLastGrowthUpd = "lg"
)

// IDKey returns the durable-id attribute key for an inventory field.
func IDKey(field string) string {
	switch field {
	case FieldWorldSlimes, FieldCapturedSlimes:
		return KeySlimeID
	case FieldWorldEggs:
		return KeyEggID
	default:
		return KeyToolUID
	}
}

// Entry is one persistent inventory item: short attribute keys mapped to
// primitive values. Entries are the sole unit of add/remove.
type Entry map[string]any

// ID returns the entry's durable id under the given field's id key.
func (e Entry) ID(field string) string {
	return e.String(IDKey(field))
}

// String reads a string attribute ("" when absent or not a string).
func (e Entry) String(key string) string {
	if s, ok := e[key].(string); ok {
		return s
	}
	return ""
}

// Float reads a numeric attribute, coercing the types JSON decoding and
// live-attribute writes produce.
func (e Entry) Float(key string) float64 {
	switch v := e[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Int reads a numeric attribute truncated to int64.
func (e Entry) Int(key string) int64 {
	return int64(e.Float(key))
}

// Bool reads a boolean attribute.
func (e Entry) Bool(key string) bool {
	b, _ := e[key].(bool)
	return b
}

// Clone deep-copies the entry (values are primitives, so a shallow map copy
// is a deep copy).
func (e Entry) Clone() Entry {
	c := make(Entry, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}

type Core struct {
	Coins int64 `json:"coins"`
}

type Stats struct {
	Standing map[string]float64 `json:"standing"`
}

type Inventory struct {
	WorldSlimes    []Entry `json:"worldSlimes"`
	WorldEggs      []Entry `json:"worldEggs"`
	EggTools       []Entry `json:"eggTools"`
	FoodTools      []Entry `json:"foodTools"`
	CapturedSlimes []Entry `json:"capturedSlimes"`
}

type Meta struct {
	DataVersion         int64 `json:"dataVersion"`
	LastPreExitSnapshot int64 `json:"lastPreExitSnapshot"`
	LastPreExitSync     int64 `json:"lastPreExitSync"`
}

// Profile is the persistent per-user record, keyed by numeric user id in
// the remote store under "inventory/{userId}".
type Profile struct {
	Core      Core      `json:"core"`
	Stats     Stats     `json:"stats"`
	Inventory Inventory `json:"inventory"`
	Meta      Meta      `json:"meta"`
}

// Key returns the remote-store key for a user's profile.
func Key(userID int64) string {
	return fmt.Sprintf("inventory/%d", userID)
}

// Seed returns a fresh profile with default standings, zero coins and empty
// inventories, created on a user's first join.
func Seed(factions []string) *Profile {
	standing := make(map[string]float64, len(factions))
	for _, f := range factions {
		standing[f] = 0.5
	}
	return &Profile{
		Stats: Stats{Standing: standing},
	}
}

// Field returns a pointer to the named inventory field slice.
func (p *Profile) Field(field string) *[]Entry {
	switch field {
	case FieldWorldSlimes:
		return &p.Inventory.WorldSlimes
	case FieldWorldEggs:
		return &p.Inventory.WorldEggs
	case FieldEggTools:
		return &p.Inventory.EggTools
	case FieldFoodTools:
		return &p.Inventory.FoodTools
	case FieldCapturedSlimes:
		return &p.Inventory.CapturedSlimes
	}
	return nil
}

// FindEntry returns the first entry in field whose id-key equals id.
func (p *Profile) FindEntry(field, id string) Entry {
	fp := p.Field(field)
	if fp == nil || id == "" {
		return nil
	}
	key := IDKey(field)
	for _, e := range *fp {
		if e.String(key) == id {
			return e
		}
	}
	return nil
}

// Clamp enforces the value invariants: coins >= 0, standing in [0,1].
func (p *Profile) Clamp() {
	if p.Core.Coins < 0 {
		p.Core.Coins = 0
	}
	for f, v := range p.Stats.Standing {
		if v < 0 {
			p.Stats.Standing[f] = 0
		} else if v > 1 {
			p.Stats.Standing[f] = 1
		}
	}
}

// Clone deep-copies the profile so a save snapshot is isolated from
// further in-memory mutation.
func (p *Profile) Clone() *Profile {
	c := &Profile{Core: p.Core, Meta: p.Meta}
	c.Stats.Standing = make(map[string]float64, len(p.Stats.Standing))
	for k, v := range p.Stats.Standing {
		c.Stats.Standing[k] = v
	}
	c.Inventory.WorldSlimes = cloneEntries(p.Inventory.WorldSlimes)
	c.Inventory.WorldEggs = cloneEntries(p.Inventory.WorldEggs)
	c.Inventory.EggTools = cloneEntries(p.Inventory.EggTools)
	c.Inventory.FoodTools = cloneEntries(p.Inventory.FoodTools)
	c.Inventory.CapturedSlimes = cloneEntries(p.Inventory.CapturedSlimes)
	return c
}

func cloneEntries(in []Entry) []Entry {
	if in == nil {
		return nil
	}
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// ToMap projects the profile into the JSON-like map shape the remote store
// persists.
func (p *Profile) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("reshape profile: %w", err)
	}
	return m, nil
}

// FromMap rebuilds a profile from the remote map shape. Unknown top-level
// keys are dropped; missing sections get zero values.
func FromMap(m map[string]any) (*Profile, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("reshape stored profile: %w", err)
	}
	p := &Profile{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode stored profile: %w", err)
	}
	if p.Stats.Standing == nil {
		p.Stats.Standing = make(map[string]float64)
	}
	return p, nil
}
