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

// Package server provides the HTTP surface of the subnet gate: the /validate
// admission endpoint plus health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/ahoma/subnetgate/internal/admission"
	"github.com/ahoma/subnetgate/internal/throttle"
)

// invalidRequestBody is the fixed 400 payload for structurally invalid
// admission reviews. No verdict envelope is sent in that case because there
// is no valid UID to echo.
var invalidRequestBody = gin.H{"error": "Invalid AdmissionReview request"}

// SubnetResolver extracts subnet identifiers from an admission object.
type SubnetResolver interface {
	Resolve(ctx context.Context, obj *unstructured.Unstructured) ([]string, error)
}

// ThrottleEvaluator applies the capacity threshold across subnets.
type ThrottleEvaluator interface {
	Evaluate(ctx context.Context, subnetIDs []string, percent float64) throttle.Result
}

// WebhookServer handles admission review requests for NodeClaim creation.
type WebhookServer struct {
	resolver  SubnetResolver
	evaluator ThrottleEvaluator
	responder *admission.Responder

	throttlePercent float64
	dryRun          bool
	metrics         *Metrics
	log             logr.Logger
}

// WebhookServerConfig contains the request-handling settings of the server.
type WebhookServerConfig struct {
	ThrottlePercent float64
	DryRun          bool
}

// NewWebhookServer creates a webhook server wired to the given collaborators.
func NewWebhookServer(cfg WebhookServerConfig, subnetResolver SubnetResolver, evaluator ThrottleEvaluator, metrics *Metrics, log logr.Logger) *WebhookServer {
	return &WebhookServer{
		resolver:        subnetResolver,
		evaluator:       evaluator,
		responder:       admission.NewResponder(cfg.DryRun, log),
		throttlePercent: cfg.ThrottlePercent,
		dryRun:          cfg.DryRun,
		metrics:         metrics,
		log:             log.WithName("webhook"),
	}
}

// ValidateHandler implements the /validate admission endpoint.
func (w *WebhookServer) ValidateHandler(c *gin.Context) {
	start := time.Now()
	w.metrics.RequestReceived()

	body, err := c.GetRawData()
	if err != nil {
		w.rejectInvalid(c, "failed to read request body", err)
		return
	}

	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(body, &review); err != nil {
		w.rejectInvalid(c, "failed to parse AdmissionReview", err)
		return
	}
	if review.Request == nil || review.Request.UID == "" || len(review.Request.Object.Raw) == 0 {
		w.rejectInvalid(c, "AdmissionReview missing request.uid or request.object", nil)
		return
	}

	obj := &unstructured.Unstructured{}
	if err := json.Unmarshal(review.Request.Object.Raw, &obj.Object); err != nil {
		w.rejectInvalid(c, "failed to parse reviewed object", err)
		return
	}

	uid := review.Request.UID
	w.log.Info("received AdmissionReview validate request", "uid", uid)

	ctx := c.Request.Context()
	subnetIDs, resolveErr := w.resolver.Resolve(ctx, obj)

	var evaluation *throttle.Result
	if resolveErr == nil && len(subnetIDs) > 0 {
		w.log.Info("throttle threshold configured",
			"uid", uid, "percent", w.throttlePercent, "subnets", subnetIDs)
		result := w.evaluator.Evaluate(ctx, subnetIDs, w.throttlePercent)
		evaluation = &result
		if result.Outcome == throttle.LookupFailed {
			w.metrics.LookupErrorObserved()
		}
	}

	response := w.responder.BuildVerdict(uid, subnetIDs, resolveErr, evaluation)
	w.metrics.DecisionMade(decisionOutcome(response, resolveErr, evaluation, w.dryRun), time.Since(start))

	w.sendAdmissionResponse(c, response)
}

// rejectInvalid answers a structurally invalid request with the fixed 400
// body, bypassing the verdict envelope.
func (w *WebhookServer) rejectInvalid(c *gin.Context, reason string, err error) {
	if err != nil {
		w.log.Error(err, "invalid AdmissionReview request", "reason", reason)
	} else {
		w.log.Info("invalid AdmissionReview request", "reason", reason)
	}
	w.metrics.InvalidRequest()
	c.JSON(http.StatusBadRequest, invalidRequestBody)
}

// sendAdmissionResponse wraps the response in the v1 AdmissionReview envelope.
// The HTTP status is always 200 for structurally valid requests; the
// allow/deny signal lives inside the body.
func (w *WebhookServer) sendAdmissionResponse(c *gin.Context, response *admissionv1.AdmissionResponse) {
	review := admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "admission.k8s.io/v1",
			Kind:       "AdmissionReview",
		},
		Response: response,
	}
	c.JSON(http.StatusOK, review)
}

// decisionOutcome maps a verdict to its metrics label.
func decisionOutcome(response *admissionv1.AdmissionResponse, resolveErr error, evaluation *throttle.Result, dryRun bool) string {
	if !response.Allowed {
		return OutcomeDenied
	}
	wouldHaveDenied := resolveErr != nil ||
		(evaluation != nil && evaluation.Outcome != throttle.Pass)
	if dryRun && wouldHaveDenied {
		return OutcomeDryRunAllowed
	}
	return OutcomeAllowed
}

// SetupRoutes registers all endpoints on the given Gin router.
func (w *WebhookServer) SetupRoutes(router *gin.Engine, health *HealthChecker) {
	router.POST("/validate", w.ValidateHandler)
	router.GET("/healthz", health.HealthzHandler)
	router.GET("/readyz", health.ReadyzHandler)
	router.GET("/metrics", w.metrics.Handler())
}
