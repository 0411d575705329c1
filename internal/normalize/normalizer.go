// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package normalize converts raw endpoint payloads into typed metric
// records. It flattens nested JSON objects into dotted field names, coerces
// mis-typed source values into the schema's declared types and attaches the
// standard tag set. Normalization is deterministic: the same payload always
// yields the same record set, so captured responses replay identically.
package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/platformbuilds/arraymon/internal/model"
)

// Normalizer converts raw responses into MetricRecords.
type Normalizer struct {
	systemID   string
	systemName string
	log        *slog.Logger
}

// New creates a Normalizer stamping every record with the system identity.
func New(systemID, systemName string, log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		systemID:   systemID,
		systemName: systemName,
		log:        log.With("component", "normalizer"),
	}
}

// Normalize converts one endpoint payload into records. The payload may be
// a JSON array of items or a single object. controllerTags are merged into
// every record (empty in single-controller mode). Items that yield no
// fields are dropped; a malformed payload fails the whole response.
func (n *Normalizer) Normalize(endpoint string, body json.RawMessage, controllerTags map[string]string, ts time.Time) ([]model.MetricRecord, error) {
	items, err := decodeItems(body)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", endpoint, err)
	}

	schema := SchemaFor(endpoint)
	records := make([]model.MetricRecord, 0, len(items))

	for _, item := range items {
		flat := Flatten(item)

		tags := map[string]string{
			"storage_system_id":   n.systemID,
			"storage_system_name": n.systemName,
		}
		for k, v := range controllerTags {
			tags[k] = v
		}
		for field, tagKey := range schema.Tags {
			if v, ok := flat[field]; ok {
				tags[tagKey] = coerceString(v)
			}
		}

		fields := make(map[string]any)
		for name, raw := range flat {
			if _, isTag := schema.Tags[name]; isTag {
				continue
			}
			if declared, ok := schema.Fields[name]; ok {
				v, ok := coerce(raw, declared)
				if !ok {
					n.log.Debug("dropping uncoercible field",
						"endpoint", endpoint, "field", name, "value", raw)
					continue
				}
				fields[name] = v
				continue
			}
			if v, ok := nativeValue(raw); ok {
				fields[name] = v
			}
		}

		if len(fields) == 0 {
			continue
		}

		records = append(records, model.MetricRecord{
			Measurement: schema.Measurement,
			Tags:        tags,
			Fields:      fields,
			Timestamp:   ts,
		})
	}

	return records, nil
}

// decodeItems accepts either an array of objects or a single object.
func decodeItems(body json.RawMessage) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []map[string]any
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("malformed JSON array: %w", err)
		}
		return items, nil
	}

	var item map[string]any
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("malformed JSON object: %w", err)
	}
	return []map[string]any{item}, nil
}

// Flatten collapses nested objects into dot-joined keys. Arrays and nulls
// are dropped; only primitives survive.
func Flatten(item map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", item)
	return out
}

func flattenInto(out map[string]any, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenInto(out, key, val)
		case []any, nil:
			// dropped
		default:
			out[key] = val
		}
	}
}

// coerce converts a raw JSON value into the declared target type. Source
// arrays deliver numerically meaningful values as strings on some firmware
// versions, sometimes with decimal noise ("512.00"); both directions are
// handled here.
func coerce(raw any, target model.FieldType) (any, bool) {
	switch target {
	case model.FieldFloat:
		return coerceFloat(raw)
	case model.FieldInt:
		return coerceInt(raw)
	case model.FieldString:
		return coerceString(raw), true
	case model.FieldBool:
		return coerceBool(raw)
	}
	return nil, false
}

func coerceFloat(raw any) (any, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case bool:
		if v {
			return float64(1), true
		}
		return float64(0), true
	}
	return nil, false
}

func coerceInt(raw any) (any, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, false
		}
		return int64(f), true
	}
	return nil, false
}

func coerceBool(raw any) (any, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, false
		}
		return b, true
	case float64:
		return v != 0, true
	}
	return nil, false
}

// coerceString renders any primitive as a string, avoiding float formatting
// artifacts on integral values.
func coerceString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprintf("%v", raw)
}

// nativeValue passes through undeclared primitives with their JSON type.
func nativeValue(raw any) (any, bool) {
	switch v := raw.(type) {
	case float64, string, bool:
		return v, true
	}
	return nil, false
}
