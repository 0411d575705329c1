// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/arraymon/internal/arrayclient"
	"github.com/platformbuilds/arraymon/internal/controller"
	"github.com/platformbuilds/arraymon/internal/endpoints"
	"github.com/platformbuilds/arraymon/internal/model"
	"github.com/platformbuilds/arraymon/internal/normalize"
	"github.com/platformbuilds/arraymon/internal/sink"
)

// fakeArray serves a minimal management API and records request paths.
type fakeArray struct {
	mu       sync.Mutex
	requests []string
	failing  map[string]bool
	srv      *httptest.Server
}

func newFakeArray(t *testing.T) *fakeArray {
	t.Helper()
	f := &fakeArray{failing: make(map[string]bool)}

	payloads := map[string]string{
		"/utils/about":               `{"version": "11.70"}`,
		"/storage-systems/sys1":      `{"driveCount": 24, "status": "optimal"}`,
		"/storage-systems/sys1/volumes": `[
			{"volumeRef": "ref-a", "label": "v1", "capacity": "512"},
			{"volumeRef": "ref-b", "label": "v2", "capacity": "1024"}
		]`,
		"/storage-systems/sys1/volumes/ref-a/rebuild-progress": `{"volumeRef": "ref-a", "percentComplete": 42.5}`,
		"/storage-systems/sys1/volumes/ref-b/rebuild-progress": `{"volumeRef": "ref-b", "percentComplete": 100}`,
		"/storage-systems/sys1/analysed-system-statistics":     `[{"cpuAvgUtilization": 12.5, "readIOps": 1000}]`,
		"/storage-systems/sys1/failures":                       `[{"failureType": "driveFailed", "extendedTypeCode": 7}]`,
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		fail := f.failing[r.URL.Path]
		f.mu.Unlock()

		if fail {
			http.Error(w, `{"error": "internal"}`, http.StatusInternalServerError)
			return
		}
		body, ok := payloads[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeArray) fail(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[path] = true
}

func (f *fakeArray) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.requests {
		if p == path {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu      sync.Mutex
	batches []sink.Batch
	err     error
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Write(_ context.Context, b sink.Batch) (model.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.WriteResult{}, s.err
	}
	s.batches = append(s.batches, b)
	return model.WriteResult{Accepted: len(b.Records)}, nil
}

func (s *recordingSink) byCategory(cat endpoints.Category) (sink.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.Category == cat {
			return b, true
		}
	}
	return sink.Batch{}, false
}

func newTestOrchestrator(t *testing.T, f *fakeArray, snk sink.Sink, include []string) (*Orchestrator, *controller.Selector) {
	t.Helper()

	registry, err := endpoints.NewRegistry(endpoints.Builtin(), include, nil)
	require.NoError(t, err)
	selector, err := controller.NewSelector([]string{f.srv.URL}, nil)
	require.NoError(t, err)

	factory := func(address string) (*arrayclient.Client, error) {
		return arrayclient.New(arrayclient.Config{BaseURL: address, Timeout: 5 * time.Second})
	}

	orch, err := New(Config{
		System:        "sys1",
		SystemName:    "prod-01",
		Interval:      time.Hour,
		Threads:       4,
		MaxIterations: 1,
	}, registry, selector, factory, normalize.New("sys1", "prod-01", nil), snk, nil, nil)
	require.NoError(t, err)
	return orch, selector
}

func TestOrchestratorCollectsAllCategories(t *testing.T) {
	f := newFakeArray(t)
	snk := &recordingSink{}
	include := []string{
		"analysed_system_statistics", "volumes",
		"system", "drive_rebuild_status",
		"failures",
	}
	orch, selector := newTestOrchestrator(t, f, snk, include)

	require.NoError(t, orch.Run(context.Background()))
	assert.Equal(t, 1, orch.Iterations())

	// One batch per category, collected performance-first.
	require.Len(t, snk.batches, 3)
	assert.Equal(t, endpoints.CategoryPerformance, snk.batches[0].Category)
	assert.Equal(t, endpoints.CategoryConfiguration, snk.batches[1].Category)
	assert.Equal(t, endpoints.CategoryEvents, snk.batches[2].Category)
	for _, b := range snk.batches {
		assert.Equal(t, snk.batches[0].RunID, b.RunID, "all categories share the run id")
		assert.Equal(t, 1, b.Iteration)
	}

	perf, ok := snk.byCategory(endpoints.CategoryPerformance)
	require.True(t, ok)
	measurements := map[string]int{}
	for _, r := range perf.Records {
		measurements[r.Measurement]++
	}
	assert.Equal(t, 1, measurements["system_statistics"])
	assert.Equal(t, 2, measurements["volume_config"])

	// The dependent endpoint expanded to one task per volume.
	assert.Equal(t, 1, f.count("/storage-systems/sys1/volumes/ref-a/rebuild-progress"))
	assert.Equal(t, 1, f.count("/storage-systems/sys1/volumes/ref-b/rebuild-progress"))

	conf, ok := snk.byCategory(endpoints.CategoryConfiguration)
	require.True(t, ok)
	rebuilds := 0
	for _, r := range conf.Records {
		if r.Measurement == "drive_rebuild" {
			rebuilds++
			assert.Contains(t, []string{"ref-a", "ref-b"}, r.Tags["volume_ref"])
		}
	}
	assert.Equal(t, 2, rebuilds)

	// The volumes payload primed the resolver: one fetch serves both the
	// performance task and the dependent expansion.
	assert.Equal(t, 1, f.count("/storage-systems/sys1/volumes"))

	active, hasActive := selector.Active()
	require.True(t, hasActive)
	assert.Equal(t, f.srv.URL, active.Address)
}

func TestOrchestratorPartialFailureIsolation(t *testing.T) {
	f := newFakeArray(t)
	f.fail("/storage-systems/sys1/failures")
	snk := &recordingSink{}
	orch, selector := newTestOrchestrator(t, f, snk, []string{"system", "failures"})

	// One failed endpoint does not fail the iteration.
	require.NoError(t, orch.Run(context.Background()))

	_, ok := snk.byCategory(endpoints.CategoryConfiguration)
	assert.True(t, ok)
	_, ok = snk.byCategory(endpoints.CategoryEvents)
	assert.False(t, ok, "a category with no successful tasks writes nothing")

	// A protocol error answered by the controller is not a transport
	// failure; the controller stays active.
	_, hasActive := selector.Active()
	assert.True(t, hasActive)
}

func TestOrchestratorAllIterationsFailed(t *testing.T) {
	f := newFakeArray(t)
	f.fail("/utils/about")
	snk := &recordingSink{}
	orch, _ := newTestOrchestrator(t, f, snk, []string{"system"})

	err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 1 iterations failed")
	assert.Empty(t, snk.batches)
}

func TestOrchestratorUnboundedRunSurvivesFailure(t *testing.T) {
	f := newFakeArray(t)
	f.fail("/utils/about")
	snk := &recordingSink{}

	registry, err := endpoints.NewRegistry(endpoints.Builtin(), []string{"system"}, nil)
	require.NoError(t, err)
	selector, err := controller.NewSelector([]string{f.srv.URL}, nil)
	require.NoError(t, err)
	factory := func(address string) (*arrayclient.Client, error) {
		return arrayclient.New(arrayclient.Config{BaseURL: address, Timeout: time.Second})
	}
	orch, err := New(Config{System: "sys1", Interval: time.Hour},
		registry, selector, factory, normalize.New("sys1", "sys1", nil), snk, nil, nil)
	require.NoError(t, err)

	// Without an iteration bound a failed iteration is retried, never
	// fatal: Run only returns once the context ends.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, orch.Run(ctx))
	assert.Equal(t, 1, orch.Iterations())
}

func TestOrchestratorWriteFailureFailsIteration(t *testing.T) {
	f := newFakeArray(t)
	snk := &recordingSink{err: context.DeadlineExceeded}
	orch, _ := newTestOrchestrator(t, f, snk, []string{"system"})

	err := orch.Run(context.Background())
	require.Error(t, err)
}

func TestCategoryScheduling(t *testing.T) {
	collectors := newCategoryCollectors(map[endpoints.Category]time.Duration{
		endpoints.CategoryConfiguration: 900 * time.Second,
		endpoints.CategoryEvents:        300 * time.Second,
	}, 60*time.Second)

	due := map[endpoints.Category]int{}
	start := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	for tick := 0; tick <= 16; tick++ {
		now := start.Add(time.Duration(tick) * 60 * time.Second)
		for _, cc := range collectors {
			if cc.Due(now) {
				cc.MarkRun(now)
				due[cc.Category()]++
			}
		}
	}

	// Over 17 base ticks (0..960s): performance fires every tick, events
	// every 5th, configuration at 0s and 900s.
	assert.Equal(t, 17, due[endpoints.CategoryPerformance])
	assert.Equal(t, 4, due[endpoints.CategoryEvents])
	assert.Equal(t, 2, due[endpoints.CategoryConfiguration])
}

func TestCategorySchedulingDefaults(t *testing.T) {
	collectors := newCategoryCollectors(nil, 60*time.Second)
	intervals := map[endpoints.Category]time.Duration{}
	for _, cc := range collectors {
		intervals[cc.Category()] = cc.Interval()
	}
	assert.Equal(t, 60*time.Second, intervals[endpoints.CategoryPerformance])
	assert.Equal(t, 15*time.Minute, intervals[endpoints.CategoryConfiguration])
	assert.Equal(t, 5*time.Minute, intervals[endpoints.CategoryEvents])
}

func TestNewOrchestratorValidation(t *testing.T) {
	registry, err := endpoints.NewRegistry(endpoints.Builtin(), nil, nil)
	require.NoError(t, err)
	selector, err := controller.NewSelector([]string{"a"}, nil)
	require.NoError(t, err)
	factory := func(string) (*arrayclient.Client, error) { return nil, nil }
	norm := normalize.New("sys1", "sys1", nil)
	snk := &recordingSink{}

	_, err = New(Config{}, registry, selector, factory, norm, snk, nil, nil)
	assert.Error(t, err, "system id is required")

	_, err = New(Config{System: "sys1"}, nil, selector, factory, norm, snk, nil, nil)
	assert.Error(t, err)

	orch, err := New(Config{System: "sys1", Interval: time.Second},
		registry, selector, factory, norm, snk, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, minInterval, orch.cfg.Interval, "interval is clamped to the floor")
	assert.Equal(t, defaultThreads, orch.cfg.Threads)
}
