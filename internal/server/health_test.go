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

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("HealthChecker", func() {
	var (
		engine  *gin.Engine
		checker *HealthChecker
	)

	BeforeEach(func() {
		checker = NewHealthChecker(nil)
		engine = createTestEngine()
		engine.GET("/healthz", checker.HealthzHandler)
		engine.GET("/readyz", checker.ReadyzHandler)
	})

	Describe("HealthzHandler", func() {
		It("should report healthy with uptime", func() {
			response := performRequest(engine, "GET", "/healthz", nil)
			Expect(response.Code).To(Equal(http.StatusOK))

			var body map[string]interface{}
			Expect(parseJSONResponse(response, &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("status", "healthy"))
			Expect(body).To(HaveKey("uptime"))
		})

		It("should report unhealthy after SetUnhealthy", func() {
			checker.SetUnhealthy("shutting down")

			response := performRequest(engine, "GET", "/healthz", nil)
			Expect(response.Code).To(Equal(http.StatusServiceUnavailable))

			var body map[string]interface{}
			Expect(parseJSONResponse(response, &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("status", "unhealthy"))
			Expect(body).To(HaveKeyWithValue("reason", "shutting down"))
		})

		It("should recover after ClearUnhealthy", func() {
			checker.SetUnhealthy("shutting down")
			checker.ClearUnhealthy()

			response := performRequest(engine, "GET", "/healthz", nil)
			Expect(response.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("ReadyzHandler", func() {
		It("should report ready when no kubernetes client is configured", func() {
			response := performRequest(engine, "GET", "/readyz", nil)
			Expect(response.Code).To(Equal(http.StatusOK))

			var body map[string]interface{}
			Expect(parseJSONResponse(response, &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("status", "ready"))

			checks, ok := body["checks"].(map[string]interface{})
			Expect(ok).To(BeTrue())
			Expect(checks).To(HaveKeyWithValue("kubernetes-api", "ok"))
		})
	})
})
