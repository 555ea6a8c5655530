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

package resolver

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	clienttesting "k8s.io/client-go/testing"
)

// nodeClaim builds an unstructured NodeClaim with the given spec fields.
func nodeClaim(spec map[string]interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "karpenter.sh/v1",
		"kind":       "NodeClaim",
		"metadata":   map[string]interface{}{"name": "test-claim"},
		"spec":       spec,
	}}
}

// nodeClass builds an unstructured EC2NodeClass carrying an inline selector.
func nodeClass(name, awsIDs string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "karpenter.k8s.aws/v1",
		"kind":       "EC2NodeClass",
		"metadata":   map[string]interface{}{"name": name},
		"spec": map[string]interface{}{
			"subnetSelector": map[string]interface{}{
				SelectorKey: awsIDs,
			},
		},
	}}
}

var _ = Describe("Resolver", func() {
	var (
		fakeClient *dynamicfake.FakeDynamicClient
		r          *Resolver
	)

	newResolver := func(objects ...runtime.Object) {
		scheme := runtime.NewScheme()
		fakeClient = dynamicfake.NewSimpleDynamicClient(scheme, objects...)
		r = NewResolver(fakeClient, DefaultNodeClassGVR, 5*time.Second, logr.Discard())
	}

	BeforeEach(func() {
		newResolver()
	})

	Describe("inline selector", func() {
		It("should split, trim and preserve order of identifiers", func() {
			claim := nodeClaim(map[string]interface{}{
				"subnetSelector": map[string]interface{}{
					SelectorKey: " subnet-a ,subnet-b,, subnet-a",
				},
			})

			ids, err := r.Resolve(context.Background(), claim)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{"subnet-a", "subnet-b", "subnet-a"}))
		})

		It("should win over a node class reference without touching the cluster", func() {
			var nodeClassReads int
			fakeClient.PrependReactor("get", "ec2nodeclasses", func(clienttesting.Action) (bool, runtime.Object, error) {
				nodeClassReads++
				return false, nil, nil
			})

			claim := nodeClaim(map[string]interface{}{
				"subnetSelector": map[string]interface{}{
					SelectorKey: "subnet-inline",
				},
				"nodeClassRef": map[string]interface{}{
					"name": "default",
				},
			})

			ids, err := r.Resolve(context.Background(), claim)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{"subnet-inline"}))
			Expect(nodeClassReads).To(Equal(0))
		})
	})

	Describe("node class selector", func() {
		It("should resolve identifiers from the referenced node class", func() {
			newResolver(nodeClass("default", "subnet-x,subnet-y"))

			claim := nodeClaim(map[string]interface{}{
				"nodeClassRef": map[string]interface{}{
					"name": "default",
				},
			})

			ids, err := r.Resolve(context.Background(), claim)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{"subnet-x", "subnet-y"}))
		})

		It("should surface a missing node class as a resolution failure", func() {
			claim := nodeClaim(map[string]interface{}{
				"nodeClassRef": map[string]interface{}{
					"name": "missing-class",
				},
			})

			ids, err := r.Resolve(context.Background(), claim)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("missing-class"))
			Expect(ids).To(BeEmpty())
		})

		It("should treat a node class without a selector as no subnets", func() {
			empty := &unstructured.Unstructured{Object: map[string]interface{}{
				"apiVersion": "karpenter.k8s.aws/v1",
				"kind":       "EC2NodeClass",
				"metadata":   map[string]interface{}{"name": "bare"},
				"spec":       map[string]interface{}{},
			}}
			newResolver(empty)

			claim := nodeClaim(map[string]interface{}{
				"nodeClassRef": map[string]interface{}{
					"name": "bare",
				},
			})

			ids, err := r.Resolve(context.Background(), claim)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
		})
	})

	Describe("no selector at all", func() {
		It("should return an empty result without error", func() {
			claim := nodeClaim(map[string]interface{}{})

			ids, err := r.Resolve(context.Background(), claim)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
		})

		It("should ignore a selector with only empty segments", func() {
			claim := nodeClaim(map[string]interface{}{
				"subnetSelector": map[string]interface{}{
					SelectorKey: " , ,",
				},
			})

			ids, err := r.Resolve(context.Background(), claim)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
		})
	})
})
