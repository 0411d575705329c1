// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"time"

	"github.com/platformbuilds/arraymon/internal/endpoints"
)

// categoryCollector is the scheduling contract shared by the three category
// variants. Each variant owns the cadence for one endpoint category; the
// orchestrator asks which are due at the top of every iteration.
type categoryCollector interface {
	Category() endpoints.Category
	Interval() time.Duration
	Due(now time.Time) bool
	MarkRun(now time.Time)
}

// schedule carries the shared cadence state. A collector is due on its very
// first check and again once its interval has elapsed since the last run.
type schedule struct {
	category endpoints.Category
	interval time.Duration
	lastRun  time.Time
}

func (s *schedule) Category() endpoints.Category { return s.category }
func (s *schedule) Interval() time.Duration      { return s.interval }

func (s *schedule) Due(now time.Time) bool {
	return s.lastRun.IsZero() || now.Sub(s.lastRun) >= s.interval
}

func (s *schedule) MarkRun(now time.Time) { s.lastRun = now }

// ConfigurationCollector polls slowly-changing inventory and topology
// endpoints.
type ConfigurationCollector struct{ schedule }

// PerformanceCollector polls the per-interval statistics endpoints. It runs
// at the base collection interval unless overridden.
type PerformanceCollector struct{ schedule }

// EventCollector polls failure and event-log endpoints.
type EventCollector struct{ schedule }

// Default cadences relative to the base interval. Performance tracks the
// base interval directly; the other categories change far less often.
const (
	defaultConfigurationInterval = 15 * time.Minute
	defaultEventInterval         = 5 * time.Minute
)

// newCategoryCollectors builds one collector per category. intervals holds
// per-category overrides; a zero entry falls back to the category default.
// Performance leads the slice so its endpoints hit the array first each
// iteration.
func newCategoryCollectors(intervals map[endpoints.Category]time.Duration, base time.Duration) []categoryCollector {
	pick := func(cat endpoints.Category, def time.Duration) time.Duration {
		if d := intervals[cat]; d > 0 {
			return d
		}
		return def
	}

	return []categoryCollector{
		&PerformanceCollector{schedule{
			category: endpoints.CategoryPerformance,
			interval: pick(endpoints.CategoryPerformance, base),
		}},
		&ConfigurationCollector{schedule{
			category: endpoints.CategoryConfiguration,
			interval: pick(endpoints.CategoryConfiguration, defaultConfigurationInterval),
		}},
		&EventCollector{schedule{
			category: endpoints.CategoryEvents,
			interval: pick(endpoints.CategoryEvents, defaultEventInterval),
		}},
	}
}
