// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package model provides shared type definitions for the collection engine.
package model

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType declares the target type of a record field.
type FieldType string

const (
	FieldFloat  FieldType = "float"
	FieldInt    FieldType = "integer"
	FieldString FieldType = "string"
	FieldBool   FieldType = "boolean"
)

// MetricRecord is one normalized time-series record. Field values are
// restricted to float64, int64, string and bool; the normalizer guarantees
// this before a record reaches any sink.
type MetricRecord struct {
	Measurement string            `json:"measurement"`
	Tags        map[string]string `json:"tags"`
	Fields      map[string]any    `json:"fields"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Key identifies a record within one write batch. Records sharing a key
// overwrite each other; they are never merged.
func (r MetricRecord) Key() string {
	keys := make([]string, 0, len(r.Tags))
	for k := range r.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.Measurement)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Tags[k])
	}
	b.WriteByte('@')
	b.WriteString(strconv.FormatInt(r.Timestamp.UnixNano(), 10))
	return b.String()
}

// RawResponse is one fetched endpoint payload awaiting normalization.
type RawResponse struct {
	Endpoint   string          `json:"endpoint"`
	Controller string          `json:"controller"`
	FetchedAt  time.Time       `json:"fetched_at"`
	Body       json.RawMessage `json:"body"`
}

// RejectedRecord pairs a record with the reason a sink refused it.
type RejectedRecord struct {
	Record MetricRecord
	Reason string
}

// WriteResult reports the outcome of one sink write.
type WriteResult struct {
	Accepted int
	Rejected []RejectedRecord
}
