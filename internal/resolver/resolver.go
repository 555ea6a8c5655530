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

// Package resolver extracts candidate subnet identifiers from admission
// request objects.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// SelectorKey is the subnet selector entry holding the comma-separated
// subnet identifier list, both inline on a NodeClaim and on a node class.
const SelectorKey = "aws-ids"

// DefaultNodeClassGVR locates Karpenter EC2NodeClass objects, the indirect
// home of a subnet selector when the NodeClaim carries none inline.
var DefaultNodeClassGVR = schema.GroupVersionResource{
	Group:    "karpenter.k8s.aws",
	Version:  "v1",
	Resource: "ec2nodeclasses",
}

// strategy inspects one possible subnet selector location. A non-empty result
// ends the search; an error means the location was referenced but could not
// be read, which is distinct from "nothing configured".
type strategy func(ctx context.Context, obj *unstructured.Unstructured) ([]string, error)

// Resolver produces the ordered list of subnet identifiers an admission
// object would consume. Locations are tried in priority order; adding a new
// location means appending one strategy.
type Resolver struct {
	client     dynamic.Interface
	nodeClass  schema.GroupVersionResource
	timeout    time.Duration
	log        logr.Logger
	strategies []strategy
}

// NewResolver creates a resolver that falls back to the given node class
// resource for indirect selectors. Node class reads are bounded by timeout.
func NewResolver(client dynamic.Interface, nodeClass schema.GroupVersionResource, timeout time.Duration, log logr.Logger) *Resolver {
	r := &Resolver{
		client:    client,
		nodeClass: nodeClass,
		timeout:   timeout,
		log:       log.WithName("resolver"),
	}
	r.strategies = []strategy{
		r.inlineSelector,
		r.nodeClassSelector,
	}
	return r
}

// Resolve returns the subnet identifiers the object selects. A nil list with
// a nil error means the object carries no subnet constraints at all; a
// non-nil error means a referenced selector source could not be read.
func (r *Resolver) Resolve(ctx context.Context, obj *unstructured.Unstructured) ([]string, error) {
	for _, resolve := range r.strategies {
		ids, err := resolve(ctx, obj)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	return nil, nil
}

// inlineSelector reads spec.subnetSelector directly off the object.
func (r *Resolver) inlineSelector(_ context.Context, obj *unstructured.Unstructured) ([]string, error) {
	selector, found, err := unstructured.NestedStringMap(obj.Object, "spec", "subnetSelector")
	if err != nil || !found {
		return nil, nil
	}
	ids := splitIdentifiers(selector[SelectorKey])
	if len(ids) > 0 {
		r.log.V(1).Info("resolved subnets from inline selector", "subnets", ids)
	}
	return ids, nil
}

// nodeClassSelector follows spec.nodeClassRef.name to the referenced node
// class object and reads its subnet selector. A reference that cannot be
// fetched is a resolution failure, never "no subnets": allowing here would
// let a misconfigured claim bypass the gate entirely.
func (r *Resolver) nodeClassSelector(ctx context.Context, obj *unstructured.Unstructured) ([]string, error) {
	name, found, err := unstructured.NestedString(obj.Object, "spec", "nodeClassRef", "name")
	if err != nil || !found || name == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	nodeClass, err := r.client.Resource(r.nodeClass).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching node class %q: %w", name, err)
	}

	selector, found, err := unstructured.NestedStringMap(nodeClass.Object, "spec", "subnetSelector")
	if err != nil || !found {
		return nil, nil
	}
	ids := splitIdentifiers(selector[SelectorKey])
	if len(ids) > 0 {
		r.log.V(1).Info("resolved subnets from node class", "nodeClass", name, "subnets", ids)
	}
	return ids, nil
}

// splitIdentifiers parses a comma-separated identifier list, preserving order
// and duplicates, dropping empty segments.
func splitIdentifiers(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, segment := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(segment); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
