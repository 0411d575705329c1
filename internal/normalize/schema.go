// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package normalize

import "github.com/platformbuilds/arraymon/internal/model"

// Schema declares how one endpoint's items map onto records. Field names
// refer to flattened, dot-joined JSON paths. Declared fields are coerced to
// their target type; fields present in a response but not declared are kept
// with their native primitive type. Declared fields absent from an item are
// dropped, never defaulted.
type Schema struct {
	Measurement string
	// Tags maps a flattened response field to the tag key it becomes.
	Tags map[string]string
	// Fields maps a flattened response field to its declared target type.
	Fields map[string]model.FieldType
}

// builtinSchemas maps endpoint names to their target schemas. Endpoints
// without an entry fall back to a pass-through schema keyed on the endpoint
// name. The coercions here are the single place where firmware quirks
// (numeric values delivered as strings, decimal noise on integers) are
// corrected, so insertion-time type is deterministic.
var builtinSchemas = map[string]Schema{
	"analysed_volume_statistics": {
		Measurement: "volume_statistics",
		Tags: map[string]string{
			"volumeName": "volume_name",
			"volumeId":   "volume_id",
		},
		Fields: map[string]model.FieldType{
			"readIOps":             model.FieldFloat,
			"writeIOps":            model.FieldFloat,
			"combinedIOps":         model.FieldFloat,
			"readThroughput":       model.FieldFloat,
			"writeThroughput":      model.FieldFloat,
			"combinedThroughput":   model.FieldFloat,
			"readResponseTime":     model.FieldFloat,
			"writeResponseTime":    model.FieldFloat,
			"combinedResponseTime": model.FieldFloat,
			"flashCacheHitPct":     model.FieldFloat,
			"queueDepthTotal":      model.FieldFloat,
		},
	},
	"analysed_drive_statistics": {
		Measurement: "drive_statistics",
		Tags: map[string]string{
			"diskId": "disk_id",
		},
		Fields: map[string]model.FieldType{
			"readIOps":             model.FieldFloat,
			"writeIOps":            model.FieldFloat,
			"combinedIOps":         model.FieldFloat,
			"readThroughput":       model.FieldFloat,
			"writeThroughput":      model.FieldFloat,
			"readResponseTime":     model.FieldFloat,
			"writeResponseTime":    model.FieldFloat,
			"combinedResponseTime": model.FieldFloat,
			"queueDepthTotal":      model.FieldFloat,
		},
	},
	"analysed_system_statistics": {
		Measurement: "system_statistics",
		Fields: map[string]model.FieldType{
			"cpuAvgUtilization":    model.FieldFloat,
			"maxCpuUtilization":    model.FieldFloat,
			"readIOps":             model.FieldFloat,
			"writeIOps":            model.FieldFloat,
			"combinedIOps":         model.FieldFloat,
			"readThroughput":       model.FieldFloat,
			"writeThroughput":      model.FieldFloat,
			"combinedThroughput":   model.FieldFloat,
			"readResponseTime":     model.FieldFloat,
			"writeResponseTime":    model.FieldFloat,
			"combinedResponseTime": model.FieldFloat,
		},
	},
	"analysed_interface_statistics": {
		Measurement: "interface_statistics",
		Tags: map[string]string{
			"interfaceId": "interface_id",
			"channelType": "channel_type",
		},
		Fields: map[string]model.FieldType{
			"readIOps":           model.FieldFloat,
			"writeIOps":          model.FieldFloat,
			"readThroughput":     model.FieldFloat,
			"writeThroughput":    model.FieldFloat,
			"channelErrorCounts": model.FieldInt,
			"queueDepthTotal":    model.FieldFloat,
		},
	},
	"volumes": {
		Measurement: "volume_config",
		Tags: map[string]string{
			"label":     "volume_name",
			"volumeRef": "volume_ref",
		},
		Fields: map[string]model.FieldType{
			// Capacities arrive as strings on most firmware versions.
			"capacity":         model.FieldInt,
			"blkSize":          model.FieldInt,
			"segmentSize":      model.FieldInt,
			"totalSizeInBytes": model.FieldInt,
			"status":           model.FieldString,
			"raidLevel":        model.FieldString,
			"mapped":           model.FieldBool,
			"flashCached":      model.FieldBool,
			"dataAssurance":    model.FieldBool,
		},
	},
	"system": {
		Measurement: "system_config",
		Fields: map[string]model.FieldType{
			"status":                   model.FieldString,
			"driveCount":               model.FieldInt,
			"hotSpareCount":            model.FieldInt,
			"usedPoolSpace":            model.FieldInt,
			"freePoolSpace":            model.FieldInt,
			"unconfiguredSpace":        model.FieldInt,
			"autoLoadBalancingEnabled": model.FieldBool,
			"remoteMirroringEnabled":   model.FieldBool,
			"securityKeyEnabled":       model.FieldBool,
		},
	},
	"drives": {
		Measurement: "drive_config",
		Tags: map[string]string{
			"id":                    "drive_id",
			"physicalLocation.slot": "slot",
		},
		Fields: map[string]model.FieldType{
			"usableCapacity":          model.FieldInt,
			"rawCapacity":             model.FieldInt,
			"status":                  model.FieldString,
			"hasDegradedChannel":      model.FieldBool,
			"hotSpare":                model.FieldBool,
			"temperature.currentTemp": model.FieldInt,
		},
	},
	"controllers": {
		Measurement: "controller_config",
		Tags: map[string]string{
			"controllerRef": "controller_ref",
		},
		Fields: map[string]model.FieldType{
			"status":          model.FieldString,
			"freeMemory":      model.FieldInt,
			"cacheMemorySize": model.FieldInt,
			"active":          model.FieldBool,
		},
	},
	"storage_pools": {
		Measurement: "storage_pool_config",
		Tags: map[string]string{
			"label":          "pool_name",
			"volumeGroupRef": "pool_ref",
		},
		Fields: map[string]model.FieldType{
			"totalRaidedSpace": model.FieldInt,
			"usedSpace":        model.FieldInt,
			"freeSpace":        model.FieldInt,
			"raidLevel":        model.FieldString,
			"state":            model.FieldString,
			"offline":          model.FieldBool,
		},
	},
	"drive_rebuild_status": {
		Measurement: "drive_rebuild",
		Tags: map[string]string{
			"volumeRef": "volume_ref",
		},
		Fields: map[string]model.FieldType{
			"percentComplete":  model.FieldFloat,
			"timeToCompletion": model.FieldInt,
			"rebuilding":       model.FieldBool,
		},
	},
	"volume_expansion": {
		Measurement: "volume_expansion",
		Tags: map[string]string{
			"volumeRef": "volume_ref",
		},
		Fields: map[string]model.FieldType{
			"percentComplete":  model.FieldFloat,
			"timeToCompletion": model.FieldInt,
			"action":           model.FieldString,
		},
	},
	"failures": {
		Measurement: "failures",
		Tags: map[string]string{
			"failureType": "failure_type",
			"objectRef":   "object_ref",
			"objectType":  "object_type",
		},
		Fields: map[string]model.FieldType{
			"extendedTypeCode": model.FieldInt,
		},
	},
	"mel_events": {
		Measurement: "mel_events",
		Tags: map[string]string{
			"eventType": "event_type",
			"category":  "category",
		},
		Fields: map[string]model.FieldType{
			"sequenceNumber":   model.FieldInt,
			"timeStamp":        model.FieldInt,
			"priority":         model.FieldString,
			"description":      model.FieldString,
			"asciiDescription": model.FieldString,
		},
	},
}

// SchemaFor returns the schema for an endpoint, falling back to a
// pass-through schema named after the endpoint.
func SchemaFor(endpoint string) Schema {
	if s, ok := builtinSchemas[endpoint]; ok {
		return s
	}
	return Schema{Measurement: endpoint}
}
