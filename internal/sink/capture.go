// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/platformbuilds/arraymon/internal/endpoints"
	"github.com/platformbuilds/arraymon/internal/model"
)

// File is the on-disk capture document for one (iteration, category). The
// replay engine feeds the same documents back through normalization, so
// the raw response bytes are preserved verbatim.
type File struct {
	RunID      string              `json:"run_id"`
	Iteration  int                 `json:"iteration"`
	Category   endpoints.Category  `json:"category"`
	CapturedAt time.Time           `json:"captured_at"`
	Responses  []model.RawResponse `json:"responses"`
}

// FileName returns the capture file name for one (iteration, category).
// Lexical order of file names equals iteration order.
func FileName(iteration int, category endpoints.Category) string {
	return fmt.Sprintf("iter_%06d_%s.json", iteration, category)
}

// CaptureSink serializes each batch's raw responses to a JSON file instead
// of sending records to the store.
type CaptureSink struct {
	dir string
	log *slog.Logger
}

// NewCaptureSink creates the capture writer, creating the directory if
// needed.
func NewCaptureSink(dir string, log *slog.Logger) (*CaptureSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("capture sink requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &CaptureSink{dir: dir, log: log.With("component", "capture-sink")}, nil
}

// Name implements Sink.
func (s *CaptureSink) Name() string { return "capture" }

// Write implements Sink. One file per (iteration, category).
func (s *CaptureSink) Write(ctx context.Context, batch Batch) (model.WriteResult, error) {
	doc := File{
		RunID:      batch.RunID,
		Iteration:  batch.Iteration,
		Category:   batch.Category,
		CapturedAt: batch.CollectedAt,
		Responses:  batch.Responses,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return model.WriteResult{}, fmt.Errorf("failed to marshal capture file: %w", err)
	}

	path := filepath.Join(s.dir, FileName(batch.Iteration, batch.Category))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return model.WriteResult{}, fmt.Errorf("failed to write capture file: %w", err)
	}

	s.log.Debug("captured batch", "file", path, "responses", len(batch.Responses))
	return model.WriteResult{Accepted: len(batch.Responses)}, nil
}

// ReadFile loads one capture document from disk.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read capture file: %w", err)
	}
	var doc File
	if err := json.Unmarshal(data, &doc); err != nil {
		return File{}, fmt.Errorf("malformed capture file %s: %w", path, err)
	}
	return doc, nil
}

// ListFiles returns the capture files under dir in replay order.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
