// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoints defines the static catalog of array management REST
// endpoints and their polling categories. The catalog is immutable once
// constructed; all components share one Registry by reference.
package endpoints

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the polling-cadence class assigned to every endpoint.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryPerformance   Category = "performance"
	CategoryEvents        Category = "events"
)

// Categories lists all valid categories in a stable order.
func Categories() []Category {
	return []Category{CategoryConfiguration, CategoryPerformance, CategoryEvents}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryConfiguration, CategoryPerformance, CategoryEvents:
		return true
	}
	return false
}

// Definition describes one management REST endpoint. Path is a template
// with a {system} placeholder and, for ID-dependent endpoints, an {id}
// placeholder substituted per resolved identifier.
type Definition struct {
	Name             string
	Path             string
	Category         Category
	RequiresID       bool
	IDSourceEndpoint string
	IDField          string
}

// ExpandPath substitutes the system identifier and, when set, the resolved
// identifier into the endpoint's path template.
func (d Definition) ExpandPath(system, id string) string {
	p := strings.ReplaceAll(d.Path, "{system}", system)
	if id != "" {
		p = strings.ReplaceAll(p, "{id}", id)
	}
	return p
}

// Registry is the immutable endpoint catalog with O(1) lookups.
type Registry struct {
	byName     map[string]Definition
	byCategory map[Category][]Definition
}

// NewRegistry validates the definitions, applies include/exclude name
// filters and builds the lookup tables. It fails if an endpoint has no
// valid category, if a name appears twice, if an ID-dependent endpoint
// lacks its source metadata, or if filtering leaves a dependent endpoint
// without its source.
func NewRegistry(defs []Definition, include, exclude []string) (*Registry, error) {
	kept, err := filter(defs, include, exclude)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		byName:     make(map[string]Definition, len(kept)),
		byCategory: make(map[Category][]Definition),
	}

	for _, def := range kept {
		if def.Name == "" {
			return nil, fmt.Errorf("endpoint with empty name")
		}
		if !def.Category.Valid() {
			return nil, fmt.Errorf("endpoint %q has no valid category", def.Name)
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("endpoint %q declared twice", def.Name)
		}
		if def.RequiresID && (def.IDSourceEndpoint == "" || def.IDField == "") {
			return nil, fmt.Errorf("endpoint %q requires an identifier but declares no source", def.Name)
		}
		r.byName[def.Name] = def
		r.byCategory[def.Category] = append(r.byCategory[def.Category], def)
	}

	for _, def := range r.byName {
		if !def.RequiresID {
			continue
		}
		src, ok := r.byName[def.IDSourceEndpoint]
		if !ok {
			return nil, fmt.Errorf("endpoint %q depends on %q which is not in the catalog after filtering",
				def.Name, def.IDSourceEndpoint)
		}
		if src.RequiresID {
			return nil, fmt.Errorf("endpoint %q depends on %q which is itself ID-dependent", def.Name, src.Name)
		}
	}

	// Deterministic per-category ordering.
	for cat := range r.byCategory {
		sort.Slice(r.byCategory[cat], func(i, j int) bool {
			return r.byCategory[cat][i].Name < r.byCategory[cat][j].Name
		})
	}

	return r, nil
}

func filter(defs []Definition, include, exclude []string) ([]Definition, error) {
	inc := make(map[string]bool, len(include))
	for _, n := range include {
		inc[n] = true
	}
	exc := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		exc[n] = true
	}

	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Name] = true
	}
	for n := range inc {
		if !known[n] {
			return nil, fmt.Errorf("include filter names unknown endpoint %q", n)
		}
	}
	for n := range exc {
		if !known[n] {
			return nil, fmt.Errorf("exclude filter names unknown endpoint %q", n)
		}
	}

	var kept []Definition
	for _, d := range defs {
		if len(inc) > 0 && !inc[d.Name] {
			continue
		}
		if exc[d.Name] {
			continue
		}
		kept = append(kept, d)
	}
	return kept, nil
}

// Lookup returns the definition for the named endpoint.
func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// CategoryOf returns the category of the named endpoint.
func (r *Registry) CategoryOf(name string) (Category, bool) {
	def, ok := r.byName[name]
	if !ok {
		return "", false
	}
	return def.Category, true
}

// EndpointsIn returns the definitions in a category, sorted by name.
func (r *Registry) EndpointsIn(cat Category) []Definition {
	defs := r.byCategory[cat]
	out := make([]Definition, len(defs))
	copy(out, defs)
	return out
}

// Names returns all endpoint names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of endpoints in the catalog.
func (r *Registry) Len() int { return len(r.byName) }

// ValidateCoverage returns the subset of names with no category assignment
// in this registry. A non-empty result is startup-fatal for the caller.
func (r *Registry) ValidateCoverage(names []string) []string {
	var uncategorized []string
	for _, n := range names {
		if _, ok := r.byName[n]; !ok {
			uncategorized = append(uncategorized, n)
		}
	}
	sort.Strings(uncategorized)
	return uncategorized
}
