// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"github.com/platformbuilds/arraymon/internal/endpoints"
)

// Task is one resolved unit of collection work: an endpoint, an optional
// resolved identifier and the expanded target path. Tasks are created fresh
// each iteration and discarded after execution.
type Task struct {
	Endpoint endpoints.Definition
	ID       string
	Path     string
	Category endpoints.Category
}

func newTask(def endpoints.Definition, system, id string) Task {
	return Task{
		Endpoint: def,
		ID:       id,
		Path:     def.ExpandPath(system, id),
		Category: def.Category,
	}
}
