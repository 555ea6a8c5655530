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

// Package config defines the process-wide configuration of the subnet gate.
// Configuration is assembled once at startup from defaults, an optional YAML
// file and environment overrides, then passed into components as an immutable
// value; nothing reads it as ambient global state.
package config

import (
	"fmt"
	"time"
)

// Configuration represents the complete subnetgate configuration.
type Configuration struct {
	// Throttle configuration
	Throttle ThrottleConfig `yaml:"throttle" json:"throttle"`

	// Subnet capacity cache configuration
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// AWS client configuration
	AWS AWSConfig `yaml:"aws" json:"aws"`

	// Node class reference resolution configuration
	NodeClass NodeClassConfig `yaml:"nodeClass" json:"nodeClass"`

	// Kubernetes client configuration
	Kubernetes KubernetesConfig `yaml:"kubernetes" json:"kubernetes"`

	// HTTP server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ThrottleConfig contains the admission threshold settings.
type ThrottleConfig struct {
	// Percent is the minimum fraction of a subnet's usable addresses that
	// must remain free for admission to pass.
	Percent float64 `yaml:"percent" json:"percent"`

	// DryRun downgrades every would-be denial to a logged allow.
	DryRun bool `yaml:"dryRun" json:"dryRun"`
}

// CacheConfig contains subnet capacity cache settings.
type CacheConfig struct {
	MaxEntries int           `yaml:"maxEntries" json:"maxEntries"`
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
}

// AWSConfig contains EC2 client settings.
type AWSConfig struct {
	// Region is required; there is no sensible default and startup aborts
	// without one.
	Region  string        `yaml:"region" json:"region"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// NodeClassConfig locates the custom resource consulted for indirect subnet
// selectors.
type NodeClassConfig struct {
	Group    string `yaml:"group" json:"group"`
	Version  string `yaml:"version" json:"version"`
	Resource string `yaml:"resource" json:"resource"`
}

// KubernetesConfig contains Kubernetes client settings.
type KubernetesConfig struct {
	Kubeconfig string        `yaml:"kubeconfig" json:"kubeconfig"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port" json:"port"`
	CertFile string `yaml:"certFile" json:"certFile"`
	KeyFile  string `yaml:"keyFile" json:"keyFile"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DefaultThrottlePercent is the threshold applied when none is configured or
// the configured value cannot be parsed.
const DefaultThrottlePercent = 10.0

// DefaultConfiguration returns the default configuration.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Throttle: ThrottleConfig{
			Percent: DefaultThrottlePercent,
			DryRun:  false,
		},
		Cache: CacheConfig{
			MaxEntries: 100,
			TTL:        15 * time.Second,
		},
		AWS: AWSConfig{
			Timeout: 5 * time.Second,
		},
		NodeClass: NodeClassConfig{
			Group:    "karpenter.k8s.aws",
			Version:  "v1",
			Resource: "ec2nodeclasses",
		},
		Kubernetes: KubernetesConfig{
			Timeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Port: 8443,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for startup-fatal problems.
func (c *Configuration) Validate() error {
	if c.Throttle.Percent <= 0 || c.Throttle.Percent > 100 {
		return fmt.Errorf("throttle.percent must be in (0, 100], got %v", c.Throttle.Percent)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.maxEntries must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.AWS.Region == "" {
		return fmt.Errorf("aws.region is required (set AWS_REGION)")
	}
	if c.AWS.Timeout <= 0 {
		return fmt.Errorf("aws.timeout must be positive")
	}
	if c.Kubernetes.Timeout <= 0 {
		return fmt.Errorf("kubernetes.timeout must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.NodeClass.Group == "" || c.NodeClass.Version == "" || c.NodeClass.Resource == "" {
		return fmt.Errorf("nodeClass group, version and resource must all be set")
	}
	return nil
}
