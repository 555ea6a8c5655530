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
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fixedCacheStats is a static CacheStatsSource for metrics tests.
type fixedCacheStats struct {
	hits, misses int64
}

func (f fixedCacheStats) Stats() (int64, int64) {
	return f.hits, f.misses
}

var _ = Describe("Metrics", func() {
	var metrics *Metrics

	BeforeEach(func() {
		metrics = NewMetrics(nil)
	})

	It("should count received requests", func() {
		metrics.RequestReceived()
		metrics.RequestReceived()

		value := testutil.ToFloat64(metrics.requestsTotal)
		Expect(value).To(Equal(2.0))
	})

	It("should count invalid requests", func() {
		metrics.InvalidRequest()

		value := testutil.ToFloat64(metrics.invalidRequests)
		Expect(value).To(Equal(1.0))
	})

	It("should count failed capacity lookups", func() {
		metrics.LookupErrorObserved()
		metrics.LookupErrorObserved()

		value := testutil.ToFloat64(metrics.lookupErrors)
		Expect(value).To(Equal(2.0))
	})

	It("should count decisions per outcome", func() {
		metrics.DecisionMade(OutcomeAllowed, 10*time.Millisecond)
		metrics.DecisionMade(OutcomeAllowed, 10*time.Millisecond)
		metrics.DecisionMade(OutcomeDenied, 10*time.Millisecond)
		metrics.DecisionMade(OutcomeDryRunAllowed, 10*time.Millisecond)

		Expect(testutil.ToFloat64(metrics.decisionsTotal.WithLabelValues(OutcomeAllowed))).To(Equal(2.0))
		Expect(testutil.ToFloat64(metrics.decisionsTotal.WithLabelValues(OutcomeDenied))).To(Equal(1.0))
		Expect(testutil.ToFloat64(metrics.decisionsTotal.WithLabelValues(OutcomeDryRunAllowed))).To(Equal(1.0))
	})

	It("should serve the exposition format over /metrics", func() {
		metrics.RequestReceived()

		engine := createTestEngine()
		engine.GET("/metrics", metrics.Handler())

		response := performRequest(engine, "GET", "/metrics", nil)
		Expect(response.Code).To(Equal(http.StatusOK))
		Expect(response.Body.String()).To(ContainSubstring("subnetgate_admission_requests_total 1"))
	})

	Context("with a cache stats source", func() {
		It("should export hit and miss gauges read on scrape", func() {
			metrics = NewMetrics(fixedCacheStats{hits: 7, misses: 3})

			engine := createTestEngine()
			engine.GET("/metrics", metrics.Handler())

			response := performRequest(engine, "GET", "/metrics", nil)
			Expect(response.Code).To(Equal(http.StatusOK))
			Expect(response.Body.String()).To(ContainSubstring("subnetgate_subnet_cache_hits_total 7"))
			Expect(response.Body.String()).To(ContainSubstring("subnetgate_subnet_cache_misses_total 3"))
		})
	})
})
