package data

import (
	"fmt"
	"os"

	"github.com/slimekeep/server/internal/world"
	"gopkg.in/yaml.v3"
)

// Faction is one buyer faction: a palette of preferred colors drives the
// sale color multiplier, an empty palette means no color preference.
type Faction struct {
	Name    string
	Palette []world.Color
}

// FactionTable holds all factions indexed by name.
type FactionTable struct {
	factions map[string]*Faction
	names    []string
}

func (t *FactionTable) Get(name string) *Faction {
	return t.factions[name]
}

// Names returns all faction names in file order.
func (t *FactionTable) Names() []string {
	return t.names
}

func (t *FactionTable) Count() int {
	return len(t.factions)
}

type factionYAMLEntry struct {
	Name    string   `yaml:"name"`
	Palette []string `yaml:"palette"`
}

type factionListFile struct {
	Factions []factionYAMLEntry `yaml:"factions"`
}

// LoadFactionTable loads faction definitions from a YAML file.
func LoadFactionTable(path string) (*FactionTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read faction_list: %w", err)
	}
	var f factionListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse faction_list: %w", err)
	}

	t := &FactionTable{factions: make(map[string]*Faction, len(f.Factions))}
	for i := range f.Factions {
		e := f.Factions[i]
		fac := &Faction{Name: e.Name}
		for _, hex := range e.Palette {
			if c, ok := world.ParseColor(hex); ok {
				fac.Palette = append(fac.Palette, c)
			}
		}
		t.factions[e.Name] = fac
		t.names = append(t.names, e.Name)
	}
	return t, nil
}
