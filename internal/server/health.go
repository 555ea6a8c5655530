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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/client-go/kubernetes"
)

// HealthChecker provides liveness and readiness endpoints for the gate.
type HealthChecker struct {
	kubeClient kubernetes.Interface
	startTime  time.Time

	mu              sync.RWMutex
	unhealthyReason string
}

// NewHealthChecker creates a health checker. kubeClient may be nil in tests;
// readiness then skips the API connectivity check.
func NewHealthChecker(kubeClient kubernetes.Interface) *HealthChecker {
	return &HealthChecker{
		kubeClient: kubeClient,
		startTime:  time.Now(),
	}
}

// HealthzHandler implements the /healthz liveness endpoint.
func (h *HealthChecker) HealthzHandler(c *gin.Context) {
	h.mu.RLock()
	unhealthyReason := h.unhealthyReason
	h.mu.RUnlock()

	if unhealthyReason != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"reason": unhealthyReason,
			"uptime": time.Since(h.startTime).String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadyzHandler implements the /readyz readiness endpoint. The gate is ready
// when it can reach the Kubernetes API used for node class resolution.
func (h *HealthChecker) ReadyzHandler(c *gin.Context) {
	checks := make(map[string]string)
	healthy := true

	if err := h.checkKubernetesAPI(); err != nil {
		checks["kubernetes-api"] = fmt.Sprintf("failed: %v", err)
		healthy = false
	} else {
		checks["kubernetes-api"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !healthy {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status": status,
		"checks": checks,
		"uptime": time.Since(h.startTime).String(),
	})
}

// SetUnhealthy marks the process unhealthy, e.g. during shutdown.
func (h *HealthChecker) SetUnhealthy(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthyReason = reason
}

// ClearUnhealthy clears a previously set unhealthy state.
func (h *HealthChecker) ClearUnhealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthyReason = ""
}

// checkKubernetesAPI verifies connectivity with a lightweight version call.
func (h *HealthChecker) checkKubernetesAPI() error {
	if h.kubeClient == nil {
		return nil
	}
	if _, err := h.kubeClient.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("failed to connect to kubernetes API: %w", err)
	}
	return nil
}
