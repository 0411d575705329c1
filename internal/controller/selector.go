// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller tracks the redundant management endpoints of a storage
// array and selects which one collection runs against.
//
// The selector is single-writer state: only the orchestrator goroutine calls
// its methods. Worker goroutines report task outcomes back to the
// orchestrator, which translates them into transitions here.
package controller

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// State is the probe/collection state of one controller.
type State string

const (
	// StateUnprobed means the controller has never been contacted.
	StateUnprobed State = "unprobed"
	// StateActive means the controller is the current collection target.
	StateActive State = "active"
	// StateDegraded means a previously active controller failed a
	// collection attempt and has not been re-probed since.
	StateDegraded State = "degraded"
	// StateFailed means the last probe of the controller failed.
	StateFailed State = "failed"
)

// Endpoint is the tracked state for one management address.
type Endpoint struct {
	Address           string
	State             State
	LastSuccess       time.Time
	LastFailureReason string
}

// ProbeFunc checks reachability of one controller address. A nil error
// means the controller answered.
type ProbeFunc func(ctx context.Context, address string) error

// Selector picks and retains an active controller. Once a controller is
// active it is sticky: the selector never switches away from a working
// controller merely because the alternate became reachable again.
type Selector struct {
	log       *slog.Logger
	endpoints []*Endpoint
	active    int // index into endpoints, -1 if none
	preferred int // probe order starts here when no controller is active
}

// NewSelector creates a selector over one or two controller addresses. The
// initial preference is a stable pseudo-random choice derived from the
// address set, so restarts pick the same controller instead of alternating.
func NewSelector(addresses []string, log *slog.Logger) (*Selector, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "controller-selector")

	if len(addresses) == 0 || len(addresses) > 2 {
		return nil, fmt.Errorf("expected one or two controller addresses, got %d", len(addresses))
	}

	s := &Selector{
		log:    log,
		active: -1,
	}
	for _, addr := range addresses {
		s.endpoints = append(s.endpoints, &Endpoint{
			Address: addr,
			State:   StateUnprobed,
		})
	}
	s.preferred = stablePick(addresses)
	return s, nil
}

// stablePick derives a deterministic starting index from the address set.
func stablePick(addresses []string) int {
	sorted := make([]string, len(addresses))
	copy(sorted, addresses)
	sort.Strings(sorted)

	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.Join(sorted, "|")))
	return int(h.Sum32()) % len(addresses)
}

// Pick returns the active controller, probing as needed. If a controller is
// already active it is returned without a probe. Otherwise controllers are
// probed starting from the preferred index; the first that answers becomes
// active. If every controller fails, Pick returns an error and the
// iteration is fatal for the caller.
func (s *Selector) Pick(ctx context.Context, probe ProbeFunc) (*Endpoint, error) {
	if s.active >= 0 && s.endpoints[s.active].State == StateActive {
		return s.endpoints[s.active], nil
	}

	for i := 0; i < len(s.endpoints); i++ {
		idx := (s.preferred + i) % len(s.endpoints)
		ep := s.endpoints[idx]

		if err := probe(ctx, ep.Address); err != nil {
			ep.State = StateFailed
			ep.LastFailureReason = err.Error()
			s.log.Warn("controller probe failed", "address", ep.Address, "error", err)
			continue
		}

		ep.State = StateActive
		ep.LastSuccess = time.Now()
		ep.LastFailureReason = ""
		s.active = idx
		s.log.Info("controller selected", "address", ep.Address)
		return ep, nil
	}

	s.active = -1
	return nil, fmt.Errorf("no controller reachable")
}

// Reachable probes every controller and returns those that answer, for
// per-controller collection mode. The active controller, if any, is kept.
func (s *Selector) Reachable(ctx context.Context, probe ProbeFunc) []*Endpoint {
	var reachable []*Endpoint
	for idx, ep := range s.endpoints {
		if idx == s.active && ep.State == StateActive {
			reachable = append(reachable, ep)
			continue
		}
		if err := probe(ctx, ep.Address); err != nil {
			ep.State = StateFailed
			ep.LastFailureReason = err.Error()
			continue
		}
		// A reachable alternate does not displace the active controller.
		if ep.State != StateActive {
			ep.State = StateDegraded
			if s.active < 0 {
				ep.State = StateActive
				s.active = idx
			}
		}
		ep.LastSuccess = time.Now()
		reachable = append(reachable, ep)
	}
	return reachable
}

// ReportSuccess records a successful collection against the address.
func (s *Selector) ReportSuccess(address string) {
	for idx, ep := range s.endpoints {
		if ep.Address != address {
			continue
		}
		ep.State = StateActive
		ep.LastSuccess = time.Now()
		ep.LastFailureReason = ""
		s.active = idx
		return
	}
}

// ReportFailure records a failed collection attempt against the address.
// A failed active controller moves to Degraded and loses the active slot;
// the next Pick probes the alternate first, without any backoff delay.
func (s *Selector) ReportFailure(address, reason string) {
	for idx, ep := range s.endpoints {
		if ep.Address != address {
			continue
		}
		ep.State = StateDegraded
		ep.LastFailureReason = reason
		if s.active == idx {
			s.active = -1
			s.preferred = (idx + 1) % len(s.endpoints)
		}
		s.log.Warn("controller collection failed", "address", address, "reason", reason)
		return
	}
}

// Active returns the currently active controller, if any.
func (s *Selector) Active() (*Endpoint, bool) {
	if s.active < 0 {
		return nil, false
	}
	return s.endpoints[s.active], true
}

// Endpoints returns a snapshot of all tracked controllers.
func (s *Selector) Endpoints() []Endpoint {
	out := make([]Endpoint, len(s.endpoints))
	for i, ep := range s.endpoints {
		out[i] = *ep
	}
	return out
}
