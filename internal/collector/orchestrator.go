// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector runs the collection loop: it schedules endpoint
// categories, fans tasks out over a bounded worker pool, resolves
// ID-dependent endpoints from their source payloads and hands the collected
// batches to the sink.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/arraymon/internal/arrayclient"
	"github.com/platformbuilds/arraymon/internal/controller"
	"github.com/platformbuilds/arraymon/internal/endpoints"
	"github.com/platformbuilds/arraymon/internal/model"
	"github.com/platformbuilds/arraymon/internal/normalize"
	"github.com/platformbuilds/arraymon/internal/selftelemetry"
	"github.com/platformbuilds/arraymon/internal/sink"
)

const (
	// minInterval is the floor for the base collection interval. Shorter
	// intervals outpace the statistics windows of the array firmware.
	minInterval = 10 * time.Second

	defaultThreads   = 8
	defaultInterval  = 60 * time.Second
	defaultProbePath = "/utils/about"
)

// Config configures the orchestrator.
type Config struct {
	System            string
	SystemName        string
	Interval          time.Duration
	Threads           int
	MaxIterations     int
	PerController     bool
	ProbePath         string
	CategoryIntervals map[endpoints.Category]time.Duration
}

// ClientFactory builds a management API client for one controller address.
type ClientFactory func(address string) (*arrayclient.Client, error)

// Orchestrator drives the collection loop. All of its state is owned by the
// single goroutine running Run; worker goroutines only fetch.
type Orchestrator struct {
	cfg        Config
	registry   *endpoints.Registry
	selector   *controller.Selector
	newClient  ClientFactory
	clients    map[string]*arrayclient.Client
	normalizer *normalize.Normalizer
	sink       sink.Sink
	metrics    *selftelemetry.Metrics
	log        *slog.Logger
	collectors []categoryCollector
	iteration  int
	successes  int
}

// New creates an orchestrator. metrics may be nil to disable self-telemetry.
func New(cfg Config, registry *endpoints.Registry, selector *controller.Selector, factory ClientFactory,
	normalizer *normalize.Normalizer, snk sink.Sink, metrics *selftelemetry.Metrics, log *slog.Logger) (*Orchestrator, error) {

	if cfg.System == "" {
		return nil, fmt.Errorf("system identifier is required")
	}
	if registry == nil || selector == nil || factory == nil || normalizer == nil || snk == nil {
		return nil, fmt.Errorf("orchestrator wiring incomplete")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "orchestrator")

	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Interval < minInterval {
		log.Warn("collection interval below floor, clamping",
			"configured", cfg.Interval, "floor", minInterval)
		cfg.Interval = minInterval
	}
	if cfg.Threads <= 0 {
		cfg.Threads = defaultThreads
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = defaultProbePath
	}

	return &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		selector:   selector,
		newClient:  factory,
		clients:    make(map[string]*arrayclient.Client),
		normalizer: normalizer,
		sink:       snk,
		metrics:    metrics,
		log:        log,
		collectors: newCategoryCollectors(cfg.CategoryIntervals, cfg.Interval),
	}, nil
}

// Run executes iterations at the configured interval until the context is
// cancelled or the iteration limit is reached. The first iteration runs
// immediately. With a limit set, Run fails only if every iteration failed;
// without one, failed iterations are retried on the next tick forever.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := o.runIteration(ctx); err != nil {
			o.log.Error("iteration failed", "iteration", o.iteration, "error", err)
		} else {
			o.successes++
		}

		if o.cfg.MaxIterations > 0 && o.iteration >= o.cfg.MaxIterations {
			if o.successes == 0 {
				return fmt.Errorf("all %d iterations failed", o.iteration)
			}
			o.log.Info("iteration limit reached",
				"iterations", o.iteration, "successful", o.successes)
			return nil
		}

		select {
		case <-ctx.Done():
			o.log.Info("shutting down", "iterations", o.iteration)
			return nil
		case <-ticker.C:
		}
	}
}

// Iterations returns the number of iterations started so far.
func (o *Orchestrator) Iterations() int { return o.iteration }

// taskResult is the outcome of one fetched task. transport marks failures
// that never produced an HTTP response, as opposed to protocol errors the
// controller itself answered with.
type taskResult struct {
	task      Task
	resp      *model.RawResponse
	err       error
	transport bool
}

// targetStats accumulates per-controller outcomes across one iteration, for
// the failover decision at the end.
type targetStats struct {
	succeeded         int
	transportFailures int
	lastTransportErr  string
}

// categoryOutcome is everything one due category produced in one iteration.
type categoryOutcome struct {
	batch     sink.Batch
	attempted int
	succeeded int
	failed    int
}

func (o *Orchestrator) runIteration(ctx context.Context) error {
	o.iteration++
	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	log := o.log.With("iteration", o.iteration, "run_id", runID)

	if o.metrics != nil {
		o.metrics.Iterations.Inc()
	}

	var due []categoryCollector
	for _, cc := range o.collectors {
		if cc.Due(startedAt) {
			due = append(due, cc)
		}
	}
	if len(due) == 0 {
		return nil
	}

	targets, err := o.pickTargets(ctx)
	if err != nil {
		if o.metrics != nil {
			o.metrics.IterationFailures.Inc()
		}
		return err
	}
	o.updateControllerGauge()

	// One resolver per controller for the whole iteration: a source fetched
	// for one category serves dependent endpoints in every other.
	resolvers := make(map[string]*Resolver)
	stats := make(map[string]*targetStats)
	outcomes := make([]*categoryOutcome, 0, len(due))
	for _, cc := range due {
		cc.MarkRun(startedAt)
		outcomes = append(outcomes, o.collectCategory(ctx, cc.Category(), targets, runID, startedAt, resolvers, stats, log))
	}

	// Every due category finishes collecting before any batch is written,
	// so a slow sink cannot skew the time-cut between categories.
	var writeFailed bool
	for _, out := range outcomes {
		if err := o.writeBatch(ctx, out.batch, log); err != nil {
			writeFailed = true
			log.Error("batch write failed", "category", out.batch.Category, "error", err)
		}
	}

	for addr, st := range stats {
		switch {
		case st.succeeded > 0:
			o.selector.ReportSuccess(addr)
		case st.transportFailures > 0:
			o.selector.ReportFailure(addr, st.lastTransportErr)
		}
	}
	o.updateControllerGauge()

	var attempted, succeeded, failed int
	for _, out := range outcomes {
		attempted += out.attempted
		succeeded += out.succeeded
		failed += out.failed
	}
	log.Info("collection run complete",
		"elapsed", time.Since(startedAt).Round(time.Millisecond),
		"categories", len(due),
		"tasks", attempted,
		"succeeded", succeeded,
		"failed", failed,
	)

	if failed > 0 && succeeded == 0 {
		if o.metrics != nil {
			o.metrics.IterationFailures.Inc()
		}
		return fmt.Errorf("all %d tasks failed", failed)
	}
	if writeFailed {
		if o.metrics != nil {
			o.metrics.IterationFailures.Inc()
		}
		return fmt.Errorf("one or more batch writes failed")
	}
	return nil
}

// collectCategory runs every endpoint in the category against every target
// controller. Independent endpoints go first and prime the resolver;
// ID-dependent endpoints expand and run in a second phase.
func (o *Orchestrator) collectCategory(ctx context.Context, cat endpoints.Category,
	targets []*controller.Endpoint, runID string, startedAt time.Time,
	resolvers map[string]*Resolver, stats map[string]*targetStats, log *slog.Logger) *categoryOutcome {

	out := &categoryOutcome{batch: sink.Batch{
		RunID:       runID,
		Iteration:   o.iteration,
		Category:    cat,
		CollectedAt: startedAt,
	}}

	var independent, dependent []endpoints.Definition
	for _, def := range o.registry.EndpointsIn(cat) {
		if def.RequiresID {
			dependent = append(dependent, def)
		} else {
			independent = append(independent, def)
		}
	}

	for _, target := range targets {
		st := stats[target.Address]
		if st == nil {
			st = &targetStats{}
			stats[target.Address] = st
		}

		client, err := o.clientFor(target.Address)
		if err != nil {
			log.Error("controller client unavailable", "address", target.Address, "error", err)
			st.transportFailures++
			st.lastTransportErr = err.Error()
			continue
		}
		resolver := resolvers[target.Address]
		if resolver == nil {
			resolver = newResolver(o.registry, client.GetRaw, o.cfg.System)
			resolvers[target.Address] = resolver
		}

		var ctrlTags map[string]string
		if o.cfg.PerController {
			ctrlTags = map[string]string{"controller": target.Address}
		}

		tasks := make([]Task, 0, len(independent))
		for _, def := range independent {
			tasks = append(tasks, newTask(def, o.cfg.System, ""))
		}
		for _, res := range o.executeTasks(ctx, client, target.Address, tasks) {
			if res.err == nil {
				resolver.prime(res.task.Endpoint.Name, res.resp.Body)
			}
			o.accountResult(res, ctrlTags, out, st, log)
		}

		for _, def := range dependent {
			children, err := resolver.Expand(ctx, def)
			if err != nil {
				// The whole expansion is one failure, not one per child.
				out.attempted++
				out.failed++
				o.countTask(cat, "failure")
				log.Warn("identifier resolution failed", "endpoint", def.Name, "error", err)
				continue
			}
			for _, res := range o.executeTasks(ctx, client, target.Address, children) {
				o.accountResult(res, ctrlTags, out, st, log)
			}
		}
	}

	return out
}

// executeTasks fetches tasks concurrently over the bounded worker pool and
// returns results in task order. Fetch errors are captured per task, never
// propagated through the group.
func (o *Orchestrator) executeTasks(ctx context.Context, client *arrayclient.Client, address string, tasks []Task) []taskResult {
	results := make([]taskResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Threads)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			fetchedAt := time.Now().UTC()
			body, err := client.GetRaw(gctx, t.Path)
			if err != nil {
				var apiErr *arrayclient.APIError
				results[i] = taskResult{
					task:      t,
					err:       err,
					transport: !errors.As(err, &apiErr),
				}
				return nil
			}
			results[i] = taskResult{task: t, resp: &model.RawResponse{
				Endpoint:   t.Endpoint.Name,
				Controller: address,
				FetchedAt:  fetchedAt,
				Body:       body,
			}}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// accountResult normalizes a fetched payload and folds the task outcome into
// the category and controller counters. A task succeeds only once its
// payload normalized cleanly.
func (o *Orchestrator) accountResult(res taskResult, ctrlTags map[string]string,
	out *categoryOutcome, st *targetStats, log *slog.Logger) {

	out.attempted++
	cat := res.task.Category

	if res.err != nil {
		out.failed++
		o.countTask(cat, "failure")
		if res.transport {
			st.transportFailures++
			st.lastTransportErr = res.err.Error()
		}
		log.Warn("task failed", "endpoint", res.task.Endpoint.Name, "path", res.task.Path, "error", res.err)
		return
	}

	records, err := o.normalizer.Normalize(res.task.Endpoint.Name, res.resp.Body, ctrlTags, res.resp.FetchedAt)
	if err != nil {
		out.failed++
		o.countTask(cat, "failure")
		log.Warn("normalization failed", "endpoint", res.task.Endpoint.Name, "error", err)
		return
	}

	out.succeeded++
	st.succeeded++
	o.countTask(cat, "success")
	out.batch.Records = append(out.batch.Records, records...)
	out.batch.Responses = append(out.batch.Responses, *res.resp)
}

func (o *Orchestrator) writeBatch(ctx context.Context, batch sink.Batch, log *slog.Logger) error {
	if len(batch.Records) == 0 && len(batch.Responses) == 0 {
		return nil
	}

	start := time.Now()
	res, err := o.sink.Write(ctx, batch)
	if o.metrics != nil {
		o.metrics.WriteLatency.WithLabelValues(o.sink.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordsWritten.WithLabelValues(o.sink.Name()).Add(float64(res.Accepted))
		o.metrics.RecordsRejected.WithLabelValues(o.sink.Name()).Add(float64(len(res.Rejected)))
	}
	for _, rej := range res.Rejected {
		log.Warn("record rejected by sink",
			"sink", o.sink.Name(),
			"measurement", rej.Record.Measurement,
			"reason", rej.Reason,
		)
	}
	log.Debug("batch written",
		"category", batch.Category, "accepted", res.Accepted, "rejected", len(res.Rejected))
	return nil
}

// pickTargets selects the controllers this iteration runs against: the
// single active controller normally, or every reachable controller in
// per-controller mode.
func (o *Orchestrator) pickTargets(ctx context.Context) ([]*controller.Endpoint, error) {
	probe := func(ctx context.Context, address string) error {
		client, err := o.clientFor(address)
		if err != nil {
			return err
		}
		return client.Get(ctx, o.cfg.ProbePath, nil)
	}

	if o.cfg.PerController {
		reachable := o.selector.Reachable(ctx, probe)
		if len(reachable) == 0 {
			return nil, fmt.Errorf("no controller reachable")
		}
		return reachable, nil
	}

	ep, err := o.selector.Pick(ctx, probe)
	if err != nil {
		return nil, err
	}
	return []*controller.Endpoint{ep}, nil
}

// clientFor returns the cached client for a controller address.
func (o *Orchestrator) clientFor(address string) (*arrayclient.Client, error) {
	if c, ok := o.clients[address]; ok {
		return c, nil
	}
	c, err := o.newClient(address)
	if err != nil {
		return nil, fmt.Errorf("building client for %s: %w", address, err)
	}
	o.clients[address] = c
	return c, nil
}

func (o *Orchestrator) countTask(cat endpoints.Category, result string) {
	if o.metrics != nil {
		o.metrics.Tasks.WithLabelValues(string(cat), result).Inc()
	}
}

func (o *Orchestrator) updateControllerGauge() {
	if o.metrics == nil {
		return
	}
	for _, ep := range o.selector.Endpoints() {
		v := 0.0
		if ep.State == controller.StateActive {
			v = 1
		}
		o.metrics.ActiveController.WithLabelValues(ep.Address).Set(v)
	}
}
