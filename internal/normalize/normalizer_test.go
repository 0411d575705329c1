// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/arraymon/internal/model"
)

var testTime = time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

func TestNormalizeVolumesCoercesStringNumerics(t *testing.T) {
	n := New("sys1", "prod-01", nil)

	body := json.RawMessage(`[{
		"label": "vol_db01",
		"volumeRef": "0200000060080E50",
		"capacity": "1099511627776",
		"blkSize": "512.00",
		"mapped": "true",
		"status": "optimal",
		"raidLevel": "raid6"
	}]`)

	records, err := n.Normalize("volumes", body, nil, testTime)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "volume_config", r.Measurement)
	assert.Equal(t, map[string]string{
		"storage_system_id":   "sys1",
		"storage_system_name": "prod-01",
		"volume_name":         "vol_db01",
		"volume_ref":          "0200000060080E50",
	}, r.Tags)

	// Declared integers arrive as strings, sometimes with decimal noise.
	assert.Equal(t, int64(1099511627776), r.Fields["capacity"])
	assert.Equal(t, int64(512), r.Fields["blkSize"])
	assert.Equal(t, true, r.Fields["mapped"])
	assert.Equal(t, "optimal", r.Fields["status"])
	assert.Equal(t, "raid6", r.Fields["raidLevel"])
	assert.Equal(t, testTime, r.Timestamp)
}

func TestNormalizeFlattensNestedObjects(t *testing.T) {
	n := New("sys1", "prod-01", nil)

	body := json.RawMessage(`[{
		"id": "d1",
		"physicalLocation": {"slot": 4, "trayRef": "0E00"},
		"temperature": {"currentTemp": 31},
		"status": "optimal",
		"interfaces": [{"type": "sas"}]
	}]`)

	records, err := n.Normalize("drives", body, nil, testTime)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "drive_config", r.Measurement)
	assert.Equal(t, "4", r.Tags["slot"])
	assert.Equal(t, "d1", r.Tags["drive_id"])
	assert.Equal(t, int64(31), r.Fields["temperature.currentTemp"])

	// Undeclared nested primitives survive with their native type; arrays
	// are dropped.
	assert.Equal(t, "0E00", r.Fields["physicalLocation.trayRef"])
	assert.NotContains(t, r.Fields, "interfaces")
	assert.NotContains(t, r.Fields, "interfaces.type")
}

func TestNormalizeSingleObjectPayload(t *testing.T) {
	n := New("sys1", "prod-01", nil)

	body := json.RawMessage(`{"driveCount": 24, "status": "optimal", "autoLoadBalancingEnabled": true}`)
	records, err := n.Normalize("system", body, nil, testTime)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "system_config", records[0].Measurement)
	assert.Equal(t, int64(24), records[0].Fields["driveCount"])
	assert.Equal(t, true, records[0].Fields["autoLoadBalancingEnabled"])
}

func TestNormalizeDropsUncoercibleAndAbsentFields(t *testing.T) {
	n := New("sys1", "prod-01", nil)

	body := json.RawMessage(`[{
		"label": "v1",
		"volumeRef": "ref1",
		"capacity": "not-a-number"
	}]`)
	records, err := n.Normalize("volumes", body, nil, testTime)
	require.NoError(t, err)
	require.Len(t, records, 0, "a record with no usable fields is dropped")

	body = json.RawMessage(`[{
		"label": "v1",
		"volumeRef": "ref1",
		"capacity": "not-a-number",
		"status": "optimal"
	}]`)
	records, err = n.Normalize("volumes", body, nil, testTime)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotContains(t, records[0].Fields, "capacity")
	assert.NotContains(t, records[0].Fields, "blkSize", "absent declared fields are never defaulted")
}

func TestNormalizeControllerTags(t *testing.T) {
	n := New("sys1", "prod-01", nil)

	body := json.RawMessage(`[{"cpuAvgUtilization": 12.5}]`)
	records, err := n.Normalize("analysed_system_statistics", body,
		map[string]string{"controller": "https://ctrl-a"}, testTime)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://ctrl-a", records[0].Tags["controller"])
}

func TestNormalizeUnknownEndpointPassesThrough(t *testing.T) {
	n := New("sys1", "prod-01", nil)

	body := json.RawMessage(`[{"value": 3.5, "name": "x", "up": true}]`)
	records, err := n.Normalize("something_new", body, nil, testTime)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "something_new", r.Measurement)
	assert.Equal(t, 3.5, r.Fields["value"])
	assert.Equal(t, "x", r.Fields["name"])
	assert.Equal(t, true, r.Fields["up"])
}

func TestNormalizeMalformedPayloadFails(t *testing.T) {
	n := New("sys1", "prod-01", nil)

	_, err := n.Normalize("volumes", json.RawMessage(`[{"label": }`), nil, testTime)
	assert.Error(t, err)

	_, err = n.Normalize("volumes", json.RawMessage(`"just a string"`), nil, testTime)
	assert.Error(t, err)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := New("sys1", "prod-01", nil)
	body := json.RawMessage(`[
		{"volumeName": "v1", "volumeId": "id1", "readIOps": 100.5, "writeIOps": "200"},
		{"volumeName": "v2", "volumeId": "id2", "readIOps": 1, "writeIOps": 2}
	]`)

	first, err := n.Normalize("analysed_volume_statistics", body, nil, testTime)
	require.NoError(t, err)
	second, err := n.Normalize("analysed_volume_statistics", body, nil, testTime)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCoercions(t *testing.T) {
	type testCase struct {
		desc   string
		raw    any
		target model.FieldType
		want   any
		ok     bool
	}
	for _, tc := range []testCase{
		{"float from string", "12.5", model.FieldFloat, 12.5, true},
		{"float from bool", true, model.FieldFloat, float64(1), true},
		{"int from float", float64(42), model.FieldInt, int64(42), true},
		{"int from decimal string", " 512.00 ", model.FieldInt, int64(512), true},
		{"int from garbage", "n/a", model.FieldInt, nil, false},
		{"bool from string", "false", model.FieldBool, false, true},
		{"bool from number", float64(1), model.FieldBool, true, true},
		{"string from integral float", float64(3), model.FieldString, "3", true},
		{"string from float", 3.25, model.FieldString, "3.25", true},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			got, ok := coerce(tc.raw, tc.target)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	flat := Flatten(map[string]any{
		"a": 1.0,
		"b": map[string]any{
			"c": "x",
			"d": map[string]any{"e": true},
		},
		"f": nil,
		"g": []any{1.0, 2.0},
	})
	assert.Equal(t, map[string]any{
		"a":     1.0,
		"b.c":   "x",
		"b.d.e": true,
	}, flat)
}
