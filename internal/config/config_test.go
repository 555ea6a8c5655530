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

package config

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Configuration", func() {
	var cfg *Configuration

	BeforeEach(func() {
		cfg = DefaultConfiguration()
		cfg.AWS.Region = "us-east-1"
	})

	Describe("Validate", func() {
		It("should accept the defaults once a region is set", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject a throttle percent outside (0, 100]", func() {
			cfg.Throttle.Percent = 0
			Expect(cfg.Validate()).NotTo(Succeed())

			cfg.Throttle.Percent = 150
			Expect(cfg.Validate()).NotTo(Succeed())

			cfg.Throttle.Percent = 100
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject a non-positive cache size", func() {
			cfg.Cache.MaxEntries = 0
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a non-positive cache TTL", func() {
			cfg.Cache.TTL = 0
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an out-of-range port", func() {
			cfg.Server.Port = 0
			Expect(cfg.Validate()).NotTo(Succeed())

			cfg.Server.Port = 70000
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an incomplete node class resource", func() {
			cfg.NodeClass.Version = ""
			Expect(cfg.Validate()).NotTo(Succeed())
		})
	})
})
