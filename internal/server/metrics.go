/*
Copyright 2024 The Subnetgate Authors.

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

package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcome labels.
const (
	OutcomeAllowed       = "allowed"
	OutcomeDenied        = "denied"
	OutcomeDryRunAllowed = "dry_run_allowed"
)

// CacheStatsSource reports cumulative cache hit and miss counts.
type CacheStatsSource interface {
	Stats() (hits, misses int64)
}

// Metrics collects admission metrics on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   prometheus.Counter
	invalidRequests prometheus.Counter
	decisionsTotal  *prometheus.CounterVec
	lookupErrors    prometheus.Counter
	requestDuration prometheus.Histogram
}

// NewMetrics creates a metrics collector. When cacheStats is non-nil the
// subnet cache hit/miss totals are exported as gauges read on scrape.
func NewMetrics(cacheStats CacheStatsSource) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subnetgate_admission_requests_total",
			Help: "Total number of admission review requests received",
		}),
		invalidRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subnetgate_invalid_requests_total",
			Help: "Total number of structurally invalid admission review requests",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subnetgate_admission_decisions_total",
			Help: "Total number of admission decisions by outcome",
		}, []string{"outcome"}),
		lookupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subnetgate_subnet_lookup_errors_total",
			Help: "Total number of failed subnet capacity lookups during evaluation",
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "subnetgate_request_duration_seconds",
			Help:    "Duration of admission request handling",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(m.requestsTotal, m.invalidRequests, m.decisionsTotal, m.lookupErrors, m.requestDuration)

	if cacheStats != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "subnetgate_subnet_cache_hits_total",
			Help: "Cumulative subnet capacity cache hits",
		}, func() float64 {
			hits, _ := cacheStats.Stats()
			return float64(hits)
		}))
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "subnetgate_subnet_cache_misses_total",
			Help: "Cumulative subnet capacity cache misses",
		}, func() float64 {
			_, misses := cacheStats.Stats()
			return float64(misses)
		}))
	}

	return m
}

// RequestReceived counts an inbound admission request.
func (m *Metrics) RequestReceived() {
	m.requestsTotal.Inc()
}

// InvalidRequest counts a structurally invalid request.
func (m *Metrics) InvalidRequest() {
	m.invalidRequests.Inc()
}

// LookupErrorObserved counts a failed subnet capacity lookup.
func (m *Metrics) LookupErrorObserved() {
	m.lookupErrors.Inc()
}

// DecisionMade counts one admission decision and observes its duration.
func (m *Metrics) DecisionMade(outcome string, duration time.Duration) {
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
	return gin.WrapH(handler)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
