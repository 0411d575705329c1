// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package endpoints

// Builtin returns the default endpoint catalog for SANtricity-class
// management APIs. PERFORMANCE endpoints carry per-interval counters and
// poll most frequently; CONFIGURATION endpoints describe slowly-changing
// inventory; EVENTS endpoints expose failure and log state.
func Builtin() []Definition {
	return []Definition{
		// Performance statistics, one item per object.
		{Name: "analysed_volume_statistics", Path: "/storage-systems/{system}/analysed-volume-statistics", Category: CategoryPerformance},
		{Name: "analysed_drive_statistics", Path: "/storage-systems/{system}/analysed-drive-statistics", Category: CategoryPerformance},
		{Name: "analysed_system_statistics", Path: "/storage-systems/{system}/analysed-system-statistics", Category: CategoryPerformance},
		{Name: "analysed_interface_statistics", Path: "/storage-systems/{system}/analysed-interface-statistics", Category: CategoryPerformance},
		{Name: "volumes", Path: "/storage-systems/{system}/volumes", Category: CategoryPerformance},

		// Configuration inventory.
		{Name: "system", Path: "/storage-systems/{system}", Category: CategoryConfiguration},
		{Name: "drives", Path: "/storage-systems/{system}/drives", Category: CategoryConfiguration},
		{Name: "controllers", Path: "/storage-systems/{system}/controllers", Category: CategoryConfiguration},
		{Name: "storage_pools", Path: "/storage-systems/{system}/storage-pools", Category: CategoryConfiguration},
		{
			Name:             "drive_rebuild_status",
			Path:             "/storage-systems/{system}/volumes/{id}/rebuild-progress",
			Category:         CategoryConfiguration,
			RequiresID:       true,
			IDSourceEndpoint: "volumes",
			IDField:          "volumeRef",
		},
		{
			Name:             "volume_expansion",
			Path:             "/storage-systems/{system}/volumes/{id}/expand",
			Category:         CategoryConfiguration,
			RequiresID:       true,
			IDSourceEndpoint: "volumes",
			IDField:          "volumeRef",
		},

		// Event and failure state.
		{Name: "failures", Path: "/storage-systems/{system}/failures", Category: CategoryEvents},
		{Name: "mel_events", Path: "/storage-systems/{system}/mel-events", Category: CategoryEvents},
	}
}
