// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package sink delivers normalized record batches to their destination: the
// time-series store's HTTP write API, a Prometheus remote-write endpoint,
// or JSON capture files on disk.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/platformbuilds/arraymon/internal/endpoints"
	"github.com/platformbuilds/arraymon/internal/model"
)

// Batch is the unit of delivery: everything one category produced in one
// iteration. Record sinks consume Records; the capture sink persists
// Responses so the batch can be replayed through normalization later.
type Batch struct {
	RunID       string
	Iteration   int
	Category    endpoints.Category
	CollectedAt time.Time
	Records     []model.MetricRecord
	Responses   []model.RawResponse
}

// Sink writes one batch. Write returns per-record rejections in the
// WriteResult; a non-nil error means the whole batch failed.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch Batch) (model.WriteResult, error)
}

// Dedupe enforces batch key semantics: records sharing (measurement, tag
// set, timestamp) overwrite earlier ones, preserving the position of the
// first occurrence. They are never merged.
func Dedupe(records []model.MetricRecord) []model.MetricRecord {
	index := make(map[string]int, len(records))
	out := make([]model.MetricRecord, 0, len(records))
	for _, r := range records {
		key := r.Key()
		if at, seen := index[key]; seen {
			out[at] = r
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

// Multi fans a batch out to several sinks, in order. The returned
// WriteResult aggregates rejections; the first sink error fails the write.
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks into one.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Name implements Sink.
func (m *Multi) Name() string { return "multi" }

// Write implements Sink.
func (m *Multi) Write(ctx context.Context, batch Batch) (model.WriteResult, error) {
	var total model.WriteResult
	for _, s := range m.sinks {
		res, err := s.Write(ctx, batch)
		if err != nil {
			return total, fmt.Errorf("sink %s: %w", s.Name(), err)
		}
		total.Accepted += res.Accepted
		total.Rejected = append(total.Rejected, res.Rejected...)
	}
	return total, nil
}
