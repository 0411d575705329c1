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
	"sort"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"github.com/platformbuilds/arraymon/internal/model"
)

// RemoteWriteConfig configures the Prometheus remote-write sink.
type RemoteWriteConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"-"`
}

// RemoteWriteSink carries numeric record fields to a Prometheus-compatible
// remote-write endpoint. Each numeric field becomes one series named
// <measurement>_<field>; tags become labels. String fields cannot be
// represented and are skipped; a record with no numeric fields is rejected.
type RemoteWriteSink struct {
	cfg    RemoteWriteConfig
	client *http.Client
	log    *slog.Logger
}

// NewRemoteWriteSink creates the remote-write sink.
func NewRemoteWriteSink(cfg RemoteWriteConfig, log *slog.Logger) (*RemoteWriteSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote write sink requires a URL")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &RemoteWriteSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With("component", "remote-write-sink"),
	}, nil
}

// Name implements Sink.
func (s *RemoteWriteSink) Name() string { return "remote-write" }

// Write implements Sink.
func (s *RemoteWriteSink) Write(ctx context.Context, batch Batch) (model.WriteResult, error) {
	var result model.WriteResult

	records := Dedupe(batch.Records)
	var timeseries []prompb.TimeSeries
	for _, r := range records {
		series := recordSeries(r)
		if len(series) == 0 {
			result.Rejected = append(result.Rejected, model.RejectedRecord{
				Record: r,
				Reason: "no numeric fields",
			})
			continue
		}
		timeseries = append(timeseries, series...)
		result.Accepted++
	}

	if len(timeseries) == 0 {
		return result, nil
	}

	data, err := proto.Marshal(&prompb.WriteRequest{Timeseries: timeseries})
	if err != nil {
		return model.WriteResult{}, fmt.Errorf("failed to marshal write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(compressed))
	if err != nil {
		return model.WriteResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.WriteResult{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.WriteResult{}, fmt.Errorf("remote write failed with status %d: %s", resp.StatusCode, string(body))
	}

	return result, nil
}

// recordSeries converts one record into its per-field time series.
func recordSeries(r model.MetricRecord) []prompb.TimeSeries {
	fieldKeys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)

	var series []prompb.TimeSeries
	for _, k := range fieldKeys {
		value, ok := sampleValue(r.Fields[k])
		if !ok {
			continue
		}

		labels := make([]prompb.Label, 0, len(r.Tags)+1)
		labels = append(labels, prompb.Label{
			Name:  "__name__",
			Value: sanitizeName(r.Measurement + "_" + k),
		})
		tagKeys := make([]string, 0, len(r.Tags))
		for tk := range r.Tags {
			tagKeys = append(tagKeys, tk)
		}
		sort.Strings(tagKeys)
		for _, tk := range tagKeys {
			labels = append(labels, prompb.Label{
				Name:  sanitizeName(tk),
				Value: r.Tags[tk],
			})
		}

		series = append(series, prompb.TimeSeries{
			Labels: labels,
			Samples: []prompb.Sample{{
				Value:     value,
				Timestamp: r.Timestamp.UnixMilli(),
			}},
		})
	}
	return series
}

func sampleValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func sanitizeName(name string) string {
	out := []byte(name)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				out[i] = '_'
			}
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
