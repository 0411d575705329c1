// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/arraymon/internal/model"
)

func newRemoteWriteServer(t *testing.T) (*httptest.Server, *[]*prompb.WriteRequest, *[]http.Header) {
	t.Helper()
	var requests []*prompb.WriteRequest
	var headers []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		compressed, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, compressed)
		require.NoError(t, err)
		var req prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(raw, &req))
		requests = append(requests, &req)
		headers = append(headers, r.Header.Clone())
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests, &headers
}

func TestRemoteWriteSeriesPerNumericField(t *testing.T) {
	srv, requests, headers := newRemoteWriteServer(t)

	s, err := NewRemoteWriteSink(RemoteWriteConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Scope-OrgID": "tenant1"},
	}, nil)
	require.NoError(t, err)

	res, err := s.Write(context.Background(), Batch{Records: []model.MetricRecord{{
		Measurement: "volume_statistics",
		Tags:        map[string]string{"volume_name": "v1"},
		Fields: map[string]any{
			"readIOps": 100.5,
			"capacity": int64(512),
			"mapped":   true,
			"status":   "optimal", // not representable, silently skipped
		},
		Timestamp: testTime,
	}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)

	require.Len(t, *requests, 1)
	ts := (*requests)[0].Timeseries
	require.Len(t, ts, 3)

	names := make([]string, 0, len(ts))
	for _, series := range ts {
		require.Len(t, series.Samples, 1)
		assert.Equal(t, testTime.UnixMilli(), series.Samples[0].Timestamp)
		for _, l := range series.Labels {
			if l.Name == "__name__" {
				names = append(names, l.Value)
			}
			if l.Name == "volume_name" {
				assert.Equal(t, "v1", l.Value)
			}
		}
	}
	assert.Equal(t, []string{
		"volume_statistics_capacity",
		"volume_statistics_mapped",
		"volume_statistics_readIOps",
	}, names)

	h := (*headers)[0]
	assert.Equal(t, "application/x-protobuf", h.Get("Content-Type"))
	assert.Equal(t, "snappy", h.Get("Content-Encoding"))
	assert.Equal(t, "0.1.0", h.Get("X-Prometheus-Remote-Write-Version"))
	assert.Equal(t, "tenant1", h.Get("X-Scope-OrgID"))
}

func TestRemoteWriteRejectsStringOnlyRecord(t *testing.T) {
	srv, requests, _ := newRemoteWriteServer(t)

	s, err := NewRemoteWriteSink(RemoteWriteConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	res, err := s.Write(context.Background(), Batch{Records: []model.MetricRecord{{
		Measurement: "failures",
		Tags:        map[string]string{"failure_type": "drive"},
		Fields:      map[string]any{"description": "drive failed"},
		Timestamp:   testTime,
	}}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "no numeric fields", res.Rejected[0].Reason)
	assert.Empty(t, *requests, "an all-rejected batch sends nothing")
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "volume_statistics_readIOps", sanitizeName("volume_statistics_readIOps"))
	assert.Equal(t, "mel_events_time_stamp", sanitizeName("mel_events_time-stamp"))
	assert.Equal(t, "_fast", sanitizeName("2fast"))
}
