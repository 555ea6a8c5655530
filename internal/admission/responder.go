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

// Package admission assembles admission verdicts from resolution and
// evaluation outcomes.
package admission

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/ahoma/subnetgate/internal/throttle"
)

// Responder turns the outcomes of subnet resolution and throttle evaluation
// into the final admission response. Dry-run handling lives only here: every
// would-be denial funnels through deny, so a new denial cause automatically
// inherits the downgrade behavior. Dry-run never turns an allow into a deny.
type Responder struct {
	dryRun bool
	log    logr.Logger
}

// NewResponder creates a responder. When dryRun is true every denial is
// downgraded to an allow and the suppressed reason is logged.
func NewResponder(dryRun bool, log logr.Logger) *Responder {
	return &Responder{
		dryRun: dryRun,
		log:    log.WithName("responder"),
	}
}

// BuildVerdict applies the admission policy:
//
//	resolution failed            -> deny (resolution error message)
//	no subnets selected          -> allow, nothing to check
//	capacity lookup failed       -> deny (naming the subnet)
//	any subnet below threshold   -> deny (per-subnet diagnostics)
//	all subnets pass             -> allow
//
// evaluation is nil when no subnets were resolved.
func (r *Responder) BuildVerdict(uid types.UID, subnetIDs []string, resolveErr error, evaluation *throttle.Result) *admissionv1.AdmissionResponse {
	if resolveErr != nil {
		return r.deny(uid, fmt.Sprintf("Error resolving subnet configuration: %v", resolveErr))
	}

	if len(subnetIDs) == 0 {
		r.log.Info("no subnet IDs found in NodeClaim; defaulting to allow", "uid", uid)
		return allow(uid)
	}

	switch evaluation.Outcome {
	case throttle.LookupFailed:
		return r.deny(uid, fmt.Sprintf("Error querying subnet %s", evaluation.SubnetID))
	case throttle.Fail:
		message := "One or more subnets in NodeClaim have too few available IPs: " +
			strings.Join(evaluation.Reasons, ", ")
		return r.deny(uid, message)
	default:
		r.log.Info("all subnets in NodeClaim have sufficient IPs", "uid", uid, "subnets", subnetIDs)
		return allow(uid)
	}
}

// deny builds a denial, or an allow when dry-run is active.
func (r *Responder) deny(uid types.UID, message string) *admissionv1.AdmissionResponse {
	if r.dryRun {
		r.log.Info("dry-run: allowing request that would have been denied",
			"uid", uid, "reason", message, "dryRun", true)
		return allow(uid)
	}

	r.log.Info("denying request", "uid", uid, "reason", message)
	return &admissionv1.AdmissionResponse{
		UID:     uid,
		Allowed: false,
		Result: &metav1.Status{
			Code:    http.StatusBadRequest,
			Message: message,
		},
	}
}

func allow(uid types.UID) *admissionv1.AdmissionResponse {
	return &admissionv1.AdmissionResponse{
		UID:     uid,
		Allowed: true,
	}
}
