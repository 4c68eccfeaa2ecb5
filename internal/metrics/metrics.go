/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics declares the process-wide Prometheus collectors exposed
// by k3rs-server and k3rs-agent. Out of scope per spec.md §2 is the metrics
// exposition endpoint itself (an external HTTP surface); only the
// collectors controllers and loops update are specified here. Grounded on
// internal/telemetry/metrics.go in the wisbric-nightowl example: one
// package-level var per collector plus an All() registration helper.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var ReconcileTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "k3rs",
		Subsystem: "controller",
		Name:      "reconcile_total",
		Help:      "Total number of controller reconcile passes, by controller and result.",
	},
	[]string{"controller", "result"},
)

var ReconcileDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "k3rs",
		Subsystem: "controller",
		Name:      "reconcile_duration_seconds",
		Help:      "Controller reconcile pass duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	},
	[]string{"controller"},
)

var SchedulingAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "k3rs",
		Subsystem: "scheduler",
		Name:      "attempts_total",
		Help:      "Total number of Pod scheduling attempts, by result.",
	},
	[]string{"result"},
)

var SchedulingLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "k3rs",
		Subsystem: "scheduler",
		Name:      "latency_seconds",
		Help:      "Time from Pod creation to successful scheduling, in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
)

var LeaseRenewalsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "k3rs",
		Subsystem: "leaderelection",
		Name:      "renewals_total",
		Help:      "Total number of lease renewal attempts, by result.",
	},
	[]string{"result"},
)

var NodesByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "k3rs",
		Subsystem: "node",
		Name:      "count",
		Help:      "Number of Nodes currently in each status.",
	},
	[]string{"status"},
)

var PodSyncOrphansRemovedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "k3rs",
		Subsystem: "agent",
		Name:      "podsync_orphans_removed_total",
		Help:      "Total number of containers stopped and cleaned up because no matching desired Pod exists.",
	},
)

// All returns every k3rs collector for registration against a
// prometheus.Registerer at process boot.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ReconcileTotal,
		ReconcileDuration,
		SchedulingAttemptsTotal,
		SchedulingLatency,
		LeaseRenewalsTotal,
		NodesByStatus,
		PodSyncOrphansRemovedTotal,
	}
}
