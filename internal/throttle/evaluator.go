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

// Package throttle decides whether a set of subnets has enough free IP
// headroom to admit new capacity.
package throttle

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/ahoma/subnetgate/internal/subnet"
)

// Outcome classifies an evaluation result.
type Outcome int

const (
	// Pass means every subnet has at least the required free headroom.
	Pass Outcome = iota
	// Fail means one or more subnets are below the configured floor.
	Fail
	// LookupFailed means capacity data could not be obtained for a subnet.
	// Inability to observe capacity is never conflated with sufficient
	// capacity, so evaluation stops at the first failed lookup.
	LookupFailed
)

// Result is the verdict of one evaluation run.
type Result struct {
	Outcome Outcome
	// Reasons holds one diagnostic per failing subnet, in input order.
	// Populated only when Outcome is Fail.
	Reasons []string
	// SubnetID names the subnet whose lookup failed. Populated only when
	// Outcome is LookupFailed.
	SubnetID string
	// Err is the underlying lookup error for LookupFailed.
	Err error
}

// CapacityProvider is the lookup dependency of the evaluator.
type CapacityProvider interface {
	Lookup(ctx context.Context, subnetID string) (subnet.Capacity, error)
}

// Evaluator applies the throttle threshold rule across subnets.
type Evaluator struct {
	provider CapacityProvider
	log      logr.Logger
}

// NewEvaluator creates an evaluator backed by the given capacity provider.
func NewEvaluator(provider CapacityProvider, log logr.Logger) *Evaluator {
	return &Evaluator{
		provider: provider,
		log:      log.WithName("throttle"),
	}
}

// Evaluate checks every subnet in order. A subnet fails when its available
// address count is strictly below totalUsable * percent / 100; sitting
// exactly at the threshold passes. Threshold failures are collected across
// all subnets, lookup failures abort immediately.
func (e *Evaluator) Evaluate(ctx context.Context, subnetIDs []string, percent float64) Result {
	var reasons []string

	for _, subnetID := range subnetIDs {
		capacity, err := e.provider.Lookup(ctx, subnetID)
		if err != nil {
			e.log.Error(err, "subnet capacity lookup failed", "subnet", subnetID)
			return Result{Outcome: LookupFailed, SubnetID: subnetID, Err: err}
		}

		threshold := float64(capacity.TotalUsable) * (percent / 100.0)
		e.log.Info("evaluated subnet",
			"subnet", subnetID,
			"available", capacity.Available,
			"threshold", threshold)

		if float64(capacity.Available) < threshold {
			percentFree := 0.0
			if capacity.TotalUsable > 0 {
				percentFree = float64(capacity.Available) / float64(capacity.TotalUsable) * 100.0
			}
			reasons = append(reasons, fmt.Sprintf("%s (%d IPs, %.1f%%)",
				subnetID, capacity.Available, percentFree))
		}
	}

	if len(reasons) > 0 {
		return Result{Outcome: Fail, Reasons: reasons}
	}
	return Result{Outcome: Pass}
}
