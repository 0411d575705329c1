// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/platformbuilds/arraymon/internal/endpoints"
)

// fetchFunc fetches one management API path. The orchestrator binds it to
// the client of the controller the iteration runs against.
type fetchFunc func(ctx context.Context, path string) (json.RawMessage, error)

// Resolver expands ID-dependent endpoints into per-identifier tasks. It
// lives for exactly one iteration: source payloads collected in the first
// phase are primed into the cache, so a second fetch of the source only
// happens when the source endpoint was not part of this iteration's due
// categories.
type Resolver struct {
	registry *endpoints.Registry
	fetch    fetchFunc
	system   string
	cache    map[string]json.RawMessage
}

// newResolver creates a resolver for one iteration against one controller.
func newResolver(registry *endpoints.Registry, fetch fetchFunc, system string) *Resolver {
	return &Resolver{
		registry: registry,
		fetch:    fetch,
		system:   system,
		cache:    make(map[string]json.RawMessage),
	}
}

// prime stores a source payload already fetched this iteration.
func (r *Resolver) prime(endpoint string, body json.RawMessage) {
	r.cache[endpoint] = body
}

// Expand resolves the identifiers an ID-dependent endpoint needs and returns
// one task per identifier. A source that cannot be fetched or parsed fails
// the expansion as a whole: the endpoint records a single failure for the
// iteration, not one per unknown child.
func (r *Resolver) Expand(ctx context.Context, def endpoints.Definition) ([]Task, error) {
	if !def.RequiresID {
		return []Task{newTask(def, r.system, "")}, nil
	}

	src, ok := r.registry.Lookup(def.IDSourceEndpoint)
	if !ok {
		return nil, fmt.Errorf("endpoint %s: source %q not in catalog", def.Name, def.IDSourceEndpoint)
	}

	body, cached := r.cache[src.Name]
	if !cached {
		var err error
		body, err = r.fetch(ctx, src.ExpandPath(r.system, ""))
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: fetching source %s: %w", def.Name, src.Name, err)
		}
		r.cache[src.Name] = body
	}

	ids, err := extractIDs(body, def.IDField)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: source %s: %w", def.Name, src.Name, err)
	}

	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, newTask(def, r.system, id))
	}
	return tasks, nil
}

// extractIDs pulls the identifier field out of every item in a source
// payload, preserving order and dropping duplicates. Items missing the field
// are skipped; they are not an error.
func extractIDs(body json.RawMessage, field string) ([]string, error) {
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("malformed source payload: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, item := range items {
		raw, ok := item[field]
		if !ok {
			continue
		}
		id, ok := idString(raw)
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// idString renders a string or numeric identifier. Other JSON types cannot
// be identifiers.
func idString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}
