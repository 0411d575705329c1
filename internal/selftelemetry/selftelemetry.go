// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

// Package selftelemetry provides self-monitoring metrics for the collector
// process.
package selftelemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all self-telemetry metrics for the collector.
type Metrics struct {
	Iterations        prometheus.Counter
	IterationFailures prometheus.Counter
	Tasks             *prometheus.CounterVec
	RecordsWritten    *prometheus.CounterVec
	RecordsRejected   *prometheus.CounterVec
	WriteLatency      *prometheus.HistogramVec
	ActiveController  *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics under the namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "arraymon"
	}

	return &Metrics{
		Iterations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Total number of collection iterations started",
		}),
		IterationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iteration_failures_total",
			Help:      "Total number of iterations with no reachable controller",
		}),
		Tasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of collection tasks by category and result",
		}, []string{"category", "result"}),
		RecordsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Total number of records accepted by a sink",
		}, []string{"sink"}),
		RecordsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Total number of records rejected by a sink",
		}, []string{"sink"}),
		WriteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_latency_seconds",
			Help:      "Sink write latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		ActiveController: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_controller",
			Help:      "Whether a controller is the active collection target (1 = active)",
		}, []string{"address"}),
	}
}

// InstallHandler installs the Prometheus metrics handler.
func (m *Metrics) InstallHandler(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
