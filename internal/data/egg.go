package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EggTemplate describes one purchasable/hatchable egg type.
type EggTemplate struct {
	Species           string // slime species that hatches out
	HatchTotalSeconds float64
	Rarity            string
	ValueBase         float64
	Price             int64 // shop price in coins
}

// EggTable holds egg templates indexed by species.
type EggTable struct {
	templates map[string]*EggTemplate
}

func (t *EggTable) Get(species string) *EggTemplate {
	return t.templates[species]
}

func (t *EggTable) Count() int {
	return len(t.templates)
}

type eggYAMLEntry struct {
	Species           string  `yaml:"species"`
	HatchTotalSeconds float64 `yaml:"hatch_total_seconds"`
	Rarity            string  `yaml:"rarity"`
	ValueBase         float64 `yaml:"value_base"`
	Price             int64   `yaml:"price"`
}

type eggListFile struct {
	Eggs []eggYAMLEntry `yaml:"eggs"`
}

// LoadEggTable loads egg templates from a YAML file.
func LoadEggTable(path string) (*EggTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read egg_list: %w", err)
	}
	var f eggListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse egg_list: %w", err)
	}

	t := &EggTable{templates: make(map[string]*EggTemplate, len(f.Eggs))}
	for i := range f.Eggs {
		e := f.Eggs[i]
		tmpl := &EggTemplate{
			Species:           e.Species,
			HatchTotalSeconds: e.HatchTotalSeconds,
			Rarity:            e.Rarity,
			ValueBase:         e.ValueBase,
			Price:             e.Price,
		}
		if tmpl.HatchTotalSeconds <= 0 {
			tmpl.HatchTotalSeconds = 300
		}
		t.templates[e.Species] = tmpl
	}
	return t, nil
}
