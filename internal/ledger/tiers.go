// Package ledger owns the tiered pollen quota: tier definitions, the
// bulk refill operation, and its idempotency marker.
package ledger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hivegate/hivegate/internal/domain"
)

// DefaultTier is assigned when an account carries an unknown tier name.
const DefaultTier = "spore"

// DefaultTiers is the built-in quota ladder.
func DefaultTiers() []domain.TierDefinition {
	return []domain.TierDefinition{
		{Name: "microbe", Pollen: 0, Cadence: domain.CadenceWeekly, Rank: 0},
		{Name: "spore", Pollen: 1.5, Cadence: domain.CadenceWeekly, Rank: 1},
		{Name: "seed", Pollen: 3, Cadence: domain.CadenceDaily, Rank: 2},
		{Name: "flower", Pollen: 10, Cadence: domain.CadenceDaily, Rank: 3},
		{Name: "nectar", Pollen: 20, Cadence: domain.CadenceDaily, Rank: 4},
		{Name: "router", Pollen: 500, Cadence: domain.CadenceDaily, Rank: 5},
	}
}

// TierSet is an immutable lookup over tier definitions.
type TierSet struct {
	byName  map[string]domain.TierDefinition
	ordered []domain.TierDefinition
}

func NewTierSet(defs []domain.TierDefinition) (*TierSet, error) {
	set := &TierSet{byName: make(map[string]domain.TierDefinition, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tier definition with empty name")
		}
		if _, exists := set.byName[def.Name]; exists {
			return nil, fmt.Errorf("duplicate tier %q", def.Name)
		}
		if def.Cadence != domain.CadenceDaily && def.Cadence != domain.CadenceWeekly {
			return nil, fmt.Errorf("tier %q has unknown cadence %q", def.Name, def.Cadence)
		}
		set.byName[def.Name] = def
		set.ordered = append(set.ordered, def)
	}
	if _, ok := set.byName[DefaultTier]; !ok {
		return nil, fmt.Errorf("tier set is missing the default tier %q", DefaultTier)
	}
	return set, nil
}

// Get returns the definition for a tier name, falling back to the default
// tier for unknown names.
func (s *TierSet) Get(name string) domain.TierDefinition {
	if def, ok := s.byName[name]; ok {
		return def
	}
	return s.byName[DefaultTier]
}

// Valid reports whether the name is a known tier.
func (s *TierSet) Valid(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// WithCadence returns the pollen grants for all tiers of one cadence,
// skipping zero-pollen tiers: granting zero would only churn rows.
func (s *TierSet) WithCadence(cadence domain.Cadence) map[string]float64 {
	grants := make(map[string]float64)
	for _, def := range s.ordered {
		if def.Cadence == cadence && def.Pollen > 0 {
			grants[def.Name] = def.Pollen
		}
	}
	return grants
}

// All returns every definition in rank order.
func (s *TierSet) All() []domain.TierDefinition {
	out := make([]domain.TierDefinition, len(s.ordered))
	copy(out, s.ordered)
	return out
}

type tierFile struct {
	Tiers []struct {
		Name    string  `yaml:"name"`
		Pollen  float64 `yaml:"pollen"`
		Cadence string  `yaml:"cadence"`
		Rank    int     `yaml:"rank"`
	} `yaml:"tiers"`
}

// LoadTiers reads a YAML tier ladder, replacing the defaults entirely.
func LoadTiers(path string) ([]domain.TierDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier file: %w", err)
	}

	var file tierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tier file: %w", err)
	}

	defs := make([]domain.TierDefinition, 0, len(file.Tiers))
	for _, t := range file.Tiers {
		defs = append(defs, domain.TierDefinition{
			Name:    t.Name,
			Pollen:  t.Pollen,
			Cadence: domain.Cadence(t.Cadence),
			Rank:    t.Rank,
		})
	}
	return defs, nil
}
