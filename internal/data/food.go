package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FoodItem describes one food tool template.
type FoodItem struct {
	FoodID             string
	RestoreFraction    float64 // hunger restored per use, 0..1
	BufferBonusSeconds float64 // feed buffer granted per use
	Consumable         bool
	Charges            int     // uses before the tool is spent (0 = infinite)
	CooldownSeconds    float64 // per-slime feed cooldown
	Price              int64
}

// FoodTable holds food items indexed by id.
type FoodTable struct {
	items map[string]*FoodItem
}

func (t *FoodTable) Get(foodID string) *FoodItem {
	return t.items[foodID]
}

func (t *FoodTable) Count() int {
	return len(t.items)
}

type foodYAMLEntry struct {
	FoodID             string  `yaml:"food_id"`
	RestoreFraction    float64 `yaml:"restore_fraction"`
	BufferBonusSeconds float64 `yaml:"buffer_bonus_seconds"`
	Consumable         bool    `yaml:"consumable"`
	Charges            int     `yaml:"charges"`
	CooldownSeconds    float64 `yaml:"cooldown_seconds"`
	Price              int64   `yaml:"price"`
}

type foodListFile struct {
	Foods []foodYAMLEntry `yaml:"foods"`
}

// LoadFoodTable loads food items from a YAML file.
func LoadFoodTable(path string) (*FoodTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read food_list: %w", err)
	}
	var f foodListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse food_list: %w", err)
	}

	t := &FoodTable{items: make(map[string]*FoodItem, len(f.Foods))}
	for i := range f.Foods {
		e := f.Foods[i]
		t.items[e.FoodID] = &FoodItem{
			FoodID:             e.FoodID,
			RestoreFraction:    e.RestoreFraction,
			BufferBonusSeconds: e.BufferBonusSeconds,
			Consumable:         e.Consumable,
			Charges:            e.Charges,
			CooldownSeconds:    e.CooldownSeconds,
			Price:              e.Price,
		}
	}
	return t, nil
}
