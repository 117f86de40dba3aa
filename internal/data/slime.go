package data

import (
	"fmt"
	"os"

	"github.com/slimekeep/server/internal/world"
	"gopkg.in/yaml.v3"
)

// SlimeTemplate is the named template a world slime is constructed from on
// restore or hatch.
type SlimeTemplate struct {
	Species               string
	StartScale            float64
	MaxScale              float64
	BodyColor             world.Color
	AccentColor           world.Color
	Tier                  int
	Rarity                string
	ValueBase             float64
	ValuePerGrowth        float64
	UnfedGrowthDuration   float64
	FeedSpeedMultiplier   float64
	HungerSpeedMultiplier float64
}

// SlimeTable holds all slime templates indexed by species.
type SlimeTable struct {
	templates map[string]*SlimeTemplate
	fallback  *SlimeTemplate
}

// Get returns a template by species, or the fallback template when the
// species is unknown (restore must never fail on a renamed species).
func (t *SlimeTable) Get(species string) *SlimeTemplate {
	if tmpl, ok := t.templates[species]; ok {
		return tmpl
	}
	return t.fallback
}

// Count returns the number of templates loaded.
func (t *SlimeTable) Count() int {
	return len(t.templates)
}

type slimeYAMLEntry struct {
	Species               string  `yaml:"species"`
	StartScale            float64 `yaml:"start_scale"`
	MaxScale              float64 `yaml:"max_scale"`
	BodyColor             string  `yaml:"body_color"`
	AccentColor           string  `yaml:"accent_color"`
	Tier                  int     `yaml:"tier"`
	Rarity                string  `yaml:"rarity"`
	ValueBase             float64 `yaml:"value_base"`
	ValuePerGrowth        float64 `yaml:"value_per_growth"`
	UnfedGrowthDuration   float64 `yaml:"unfed_growth_duration"`
	FeedSpeedMultiplier   float64 `yaml:"feed_speed_multiplier"`
	HungerSpeedMultiplier float64 `yaml:"hunger_speed_multiplier"`
}

type slimeListFile struct {
	Slimes []slimeYAMLEntry `yaml:"slimes"`
}

// LoadSlimeTable loads slime templates from a YAML file.
func LoadSlimeTable(path string) (*SlimeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read slime_list: %w", err)
	}
	var f slimeListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse slime_list: %w", err)
	}

	t := &SlimeTable{templates: make(map[string]*SlimeTemplate, len(f.Slimes))}
	for i := range f.Slimes {
		e := f.Slimes[i]
		tmpl := &SlimeTemplate{
			Species:               e.Species,
			StartScale:            e.StartScale,
			MaxScale:              e.MaxScale,
			Tier:                  e.Tier,
			Rarity:                e.Rarity,
			ValueBase:             e.ValueBase,
			ValuePerGrowth:        e.ValuePerGrowth,
			UnfedGrowthDuration:   e.UnfedGrowthDuration,
			FeedSpeedMultiplier:   e.FeedSpeedMultiplier,
			HungerSpeedMultiplier: e.HungerSpeedMultiplier,
		}
		if c, ok := world.ParseColor(e.BodyColor); ok {
			tmpl.BodyColor = c
		}
		if c, ok := world.ParseColor(e.AccentColor); ok {
			tmpl.AccentColor = c
		}
		if tmpl.StartScale <= 0 {
			tmpl.StartScale = 0.5
		}
		if tmpl.MaxScale <= tmpl.StartScale {
			tmpl.MaxScale = tmpl.StartScale * 2
		}
		if tmpl.UnfedGrowthDuration <= 0 {
			tmpl.UnfedGrowthDuration = 600
		}
		if tmpl.FeedSpeedMultiplier <= 0 {
			tmpl.FeedSpeedMultiplier = 2
		}
		if tmpl.HungerSpeedMultiplier <= 0 {
			tmpl.HungerSpeedMultiplier = 1
		}
		t.templates[e.Species] = tmpl
	}

	t.fallback = &SlimeTemplate{
		Species:               "common",
		StartScale:            0.5,
		MaxScale:              1.0,
		BodyColor:             world.Color{R: 0x7F, G: 0xD0, B: 0x5A},
		AccentColor:           world.Color{R: 0x3C, G: 0x8A, B: 0x2E},
		Tier:                  1,
		Rarity:                "common",
		ValueBase:             10,
		ValuePerGrowth:        2,
		UnfedGrowthDuration:   600,
		FeedSpeedMultiplier:   2,
		HungerSpeedMultiplier: 1,
	}
	if tmpl, ok := t.templates["common"]; ok {
		t.fallback = tmpl
	}
	return t, nil
}
