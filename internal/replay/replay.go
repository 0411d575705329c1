// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay feeds captured raw responses back through normalization and
// into a sink. Because normalization is deterministic, a replayed capture
// yields exactly the records the live run would have written.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/platformbuilds/arraymon/internal/endpoints"
	"github.com/platformbuilds/arraymon/internal/model"
	"github.com/platformbuilds/arraymon/internal/normalize"
	"github.com/platformbuilds/arraymon/internal/sink"
)

// FailureEntry names one response that could not be delivered and why.
type FailureEntry struct {
	Endpoint string `json:"endpoint"`
	Reason   string `json:"reason"`
}

// FailureFile is written to the failure directory when responses from a
// capture file cannot be normalized or are refused by the sink. It carries
// the raw responses in capture shape, so a failure file can itself be
// replayed once the cause is fixed.
type FailureFile struct {
	SourceFile string              `json:"source_file"`
	RunID      string              `json:"run_id"`
	Iteration  int                 `json:"iteration"`
	Category   endpoints.Category  `json:"category"`
	FailedAt   time.Time           `json:"failed_at"`
	Failures   []FailureEntry      `json:"failures"`
	Responses  []model.RawResponse `json:"responses"`
}

// Summary reports what one replay run processed.
type Summary struct {
	Files           int
	Responses       int
	Accepted        int
	Rejected        int
	FailedResponses int
}

// Engine replays capture files in lexical (= iteration) order.
type Engine struct {
	dir           string
	failureDir    string
	perController bool
	normalizer    *normalize.Normalizer
	sink          sink.Sink
	log           *slog.Logger
}

// NewEngine creates a replay engine over a capture directory. failureDir may
// be empty, in which case undeliverable responses are only logged.
func NewEngine(dir, failureDir string, perController bool, normalizer *normalize.Normalizer, snk sink.Sink, log *slog.Logger) (*Engine, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay requires a capture directory")
	}
	if normalizer == nil || snk == nil {
		return nil, fmt.Errorf("replay wiring incomplete")
	}
	if failureDir != "" {
		if err := os.MkdirAll(failureDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create failure directory: %w", err)
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		dir:           dir,
		failureDir:    failureDir,
		perController: perController,
		normalizer:    normalizer,
		sink:          snk,
		log:           log.With("component", "replay"),
	}, nil
}

// Run replays every capture file under the directory. A sink failure on one
// file does not stop the run; the file's responses land in the failure
// directory instead.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	files, err := sink.ListFiles(e.dir)
	if err != nil {
		return Summary{}, err
	}
	if len(files) == 0 {
		return Summary{}, fmt.Errorf("no capture files in %s", e.dir)
	}

	var sum Summary
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		doc, err := sink.ReadFile(path)
		if err != nil {
			e.log.Error("skipping unreadable capture file", "file", path, "error", err)
			continue
		}

		sum.Files++
		sum.Responses += len(doc.Responses)
		e.replayFile(ctx, path, doc, &sum)
	}

	e.log.Info("replay complete",
		"files", sum.Files,
		"responses", sum.Responses,
		"accepted", sum.Accepted,
		"rejected", sum.Rejected,
		"failed_responses", sum.FailedResponses,
	)
	return sum, nil
}

func (e *Engine) replayFile(ctx context.Context, path string, doc sink.File, sum *Summary) {
	batch := sink.Batch{
		RunID:       doc.RunID,
		Iteration:   doc.Iteration,
		Category:    doc.Category,
		CollectedAt: doc.CapturedAt,
	}

	// Record keys map sink rejections back to the response they came from.
	origin := make(map[string]int)
	failures := make(map[int]string)

	for i, resp := range doc.Responses {
		var ctrlTags map[string]string
		if e.perController && resp.Controller != "" {
			ctrlTags = map[string]string{"controller": resp.Controller}
		}

		records, err := e.normalizer.Normalize(resp.Endpoint, resp.Body, ctrlTags, resp.FetchedAt)
		if err != nil {
			failures[i] = err.Error()
			continue
		}
		for _, r := range records {
			origin[r.Key()] = i
		}
		batch.Records = append(batch.Records, records...)
		batch.Responses = append(batch.Responses, resp)
	}

	res, err := e.sink.Write(ctx, batch)
	if err != nil {
		e.log.Error("sink refused batch, parking file responses", "file", path, "error", err)
		for i := range doc.Responses {
			if _, already := failures[i]; !already {
				failures[i] = err.Error()
			}
		}
	} else {
		sum.Accepted += res.Accepted
		sum.Rejected += len(res.Rejected)
		for _, rej := range res.Rejected {
			if i, ok := origin[rej.Record.Key()]; ok {
				if _, already := failures[i]; !already {
					failures[i] = rej.Reason
				}
			}
		}
	}

	if len(failures) == 0 {
		return
	}
	sum.FailedResponses += len(failures)
	e.parkFailures(path, doc, failures)
}

// parkFailures writes the failed subset of a capture file to the failure
// directory.
func (e *Engine) parkFailures(sourcePath string, doc sink.File, failures map[int]string) {
	if e.failureDir == "" {
		for i, reason := range failures {
			e.log.Warn("response not delivered",
				"file", sourcePath, "endpoint", doc.Responses[i].Endpoint, "reason", reason)
		}
		return
	}

	out := FailureFile{
		SourceFile: filepath.Base(sourcePath),
		RunID:      doc.RunID,
		Iteration:  doc.Iteration,
		Category:   doc.Category,
		FailedAt:   time.Now().UTC(),
	}
	for i, resp := range doc.Responses {
		reason, failed := failures[i]
		if !failed {
			continue
		}
		out.Failures = append(out.Failures, FailureEntry{Endpoint: resp.Endpoint, Reason: reason})
		out.Responses = append(out.Responses, resp)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		e.log.Error("failed to marshal failure file", "source", sourcePath, "error", err)
		return
	}
	path := filepath.Join(e.failureDir, "failed_"+filepath.Base(sourcePath))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.log.Error("failed to write failure file", "path", path, "error", err)
		return
	}
	e.log.Warn("parked undeliverable responses",
		"source", sourcePath, "file", path, "responses", len(out.Responses))
}
