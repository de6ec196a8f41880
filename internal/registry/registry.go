// Package registry holds the immutable model catalog. It is built once at
// startup and shared read-only across all requests.
package registry

import (
	"fmt"

	"github.com/hivegate/hivegate/internal/domain"
)

type Registry struct {
	byName  map[string]*domain.ServiceDefinition
	byAlias map[string]string
	ordered []string
}

// New builds a registry from service definitions. Every alias must map to
// exactly one canonical id; duplicates are a configuration error.
func New(defs []domain.ServiceDefinition) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]*domain.ServiceDefinition, len(defs)),
		byAlias: make(map[string]string),
	}

	for i := range defs {
		def := defs[i]
		if def.Name == "" {
			return nil, fmt.Errorf("service definition %d has no name", i)
		}
		if _, exists := r.byName[def.Name]; exists {
			return nil, fmt.Errorf("duplicate model id %q", def.Name)
		}
		r.byName[def.Name] = &def
		r.ordered = append(r.ordered, def.Name)

		for _, alias := range def.Aliases {
			if _, exists := r.byName[alias]; exists {
				return nil, fmt.Errorf("alias %q collides with model id", alias)
			}
			if prev, exists := r.byAlias[alias]; exists && prev != def.Name {
				return nil, fmt.Errorf("alias %q maps to both %q and %q", alias, prev, def.Name)
			}
			r.byAlias[alias] = def.Name
		}
	}

	return r, nil
}

// Resolve looks up a model by canonical id first, then by alias. Both are
// case-sensitive exact matches.
func (r *Registry) Resolve(name string) (*domain.ServiceDefinition, error) {
	if def, ok := r.byName[name]; ok {
		return def, nil
	}
	if canonical, ok := r.byAlias[name]; ok {
		return r.byName[canonical], nil
	}
	return nil, domain.ErrModelNotFound
}

// ListFilter narrows the catalog for one caller.
type ListFilter struct {
	// AllowedModels restricts the listing to the caller's permitted set.
	// Empty means no restriction.
	AllowedModels []string

	// HidePaidOnly removes paid-only definitions, used when the caller
	// has no paid balance.
	HidePaidOnly bool
}

// List returns catalog entries in registration order, filtered.
func (r *Registry) List(filter ListFilter) []domain.ModelInfo {
	var allowed map[string]bool
	if len(filter.AllowedModels) > 0 {
		allowed = make(map[string]bool, len(filter.AllowedModels))
		for _, m := range filter.AllowedModels {
			allowed[m] = true
		}
	}

	infos := make([]domain.ModelInfo, 0, len(r.ordered))
	for _, name := range r.ordered {
		def := r.byName[name]
		if allowed != nil && !allowed[def.Name] {
			continue
		}
		if filter.HidePaidOnly && def.PaidOnly {
			continue
		}
		infos = append(infos, domain.ModelInfo{
			ID:         def.Name,
			Object:     "model",
			Aliases:    def.Aliases,
			Modalities: def.Modalities,
			PaidOnly:   def.PaidOnly,
		})
	}
	return infos
}

// Len reports the number of canonical definitions.
func (r *Registry) Len() int {
	return len(r.ordered)
}
