// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/platformbuilds/arraymon/internal/model"
)

// InfluxConfig configures the time-series store writer.
type InfluxConfig struct {
	URL       string        `yaml:"url"`
	Token     string        `yaml:"token"`
	Database  string        `yaml:"database"`
	Bootstrap bool          `yaml:"bootstrap"`
	Timeout   time.Duration `yaml:"-"`
}

// InfluxSink writes record batches to the store's HTTP write API in line
// protocol, authenticated by a bearer token.
type InfluxSink struct {
	cfg    InfluxConfig
	client *http.Client
	log    *slog.Logger
}

// NewInfluxSink creates the store writer.
func NewInfluxSink(cfg InfluxConfig, log *slog.Logger) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx sink requires a URL")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("influx sink requires a database")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &InfluxSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With("component", "influx-sink"),
	}, nil
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influx" }

// Start creates the target database when bootstrap is configured. Write
// works without Start for stores provisioned out of band.
func (s *InfluxSink) Start(ctx context.Context) error {
	if !s.cfg.Bootstrap {
		return nil
	}

	q := url.Values{}
	q.Set("q", fmt.Sprintf("CREATE DATABASE %q", s.cfg.Database))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+"/query?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrap request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bootstrap failed with status %d: %s", resp.StatusCode, string(body))
	}

	s.log.Info("bootstrapped database", "database", s.cfg.Database)
	return nil
}

// Write implements Sink. Records that cannot be encoded are rejected
// individually; a non-success response from the store fails the batch.
func (s *InfluxSink) Write(ctx context.Context, batch Batch) (model.WriteResult, error) {
	var result model.WriteResult

	records := Dedupe(batch.Records)
	var buf bytes.Buffer
	for _, r := range records {
		line, err := encodeRecord(r)
		if err != nil {
			result.Rejected = append(result.Rejected, model.RejectedRecord{
				Record: r,
				Reason: err.Error(),
			})
			continue
		}
		buf.Write(line)
		// The per-record encoder emits no line separator of its own.
		if n := len(line); n == 0 || line[n-1] != '\n' {
			buf.WriteByte('\n')
		}
		result.Accepted++
	}

	if result.Accepted == 0 {
		return result, nil
	}

	q := url.Values{}
	q.Set("db", s.cfg.Database)
	q.Set("precision", "ns")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+"/write?"+q.Encode(), &buf)
	if err != nil {
		return model.WriteResult{}, fmt.Errorf("failed to create write request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return model.WriteResult{}, fmt.Errorf("write request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.WriteResult{}, fmt.Errorf("write failed with status %d: %s", resp.StatusCode, string(body))
	}

	s.log.Debug("wrote batch",
		"iteration", batch.Iteration,
		"category", batch.Category,
		"accepted", result.Accepted,
		"rejected", len(result.Rejected),
	)
	return result, nil
}

func (s *InfluxSink) authorize(req *http.Request) {
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
}

// encodeRecord renders one record as a line-protocol line. Each record gets
// its own encoder so one bad record cannot poison the batch.
func encodeRecord(r model.MetricRecord) ([]byte, error) {
	if len(r.Fields) == 0 {
		return nil, fmt.Errorf("record has no fields")
	}

	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)
	enc.StartLine(r.Measurement)

	// The encoder requires tags in lexical order.
	tagKeys := make([]string, 0, len(r.Tags))
	for k := range r.Tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		enc.AddTag(k, r.Tags[k])
	}

	fieldKeys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	for _, k := range fieldKeys {
		v, ok := lineprotocol.NewValue(r.Fields[k])
		if !ok {
			return nil, fmt.Errorf("field %s has unsupported type %T", k, r.Fields[k])
		}
		enc.AddField(k, v)
	}

	enc.EndLine(r.Timestamp)
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("encoding failed: %w", err)
	}
	return enc.Bytes(), nil
}
