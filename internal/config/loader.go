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
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// Loader assembles a Configuration from defaults, an optional YAML file and
// environment variable overrides, in that order of precedence.
type Loader struct {
	config *Configuration
	log    logr.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(log logr.Logger) *Loader {
	return &Loader{
		config: DefaultConfiguration(),
		log:    log.WithName("config"),
	}
}

// Load builds the configuration. An empty configFile skips file loading.
func (l *Loader) Load(configFile string) (*Configuration, error) {
	l.config = DefaultConfiguration()

	if configFile != "" {
		if err := l.loadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load configuration from file: %w", err)
		}
	}

	if err := l.loadFromEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := l.config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return l.config, nil
}

// loadFromFile overlays configuration from a YAML file.
func (l *Loader) loadFromFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s", path)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is validated configuration file
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := yaml.Unmarshal(data, l.config); err != nil {
		return fmt.Errorf("failed to parse configuration file: %w", err)
	}

	return nil
}

// loadFromEnvironment overlays configuration from environment variables.
func (l *Loader) loadFromEnvironment() error {
	envMappings := map[string]func(string) error{
		"THROTTLE_AT_PERCENT": l.setThrottlePercent,
		"DRY_RUN":             l.setDryRun,

		"SUBNET_CACHE_SIZE": l.setCacheSize,
		"SUBNET_CACHE_TTL":  l.setCacheTTL,

		"AWS_REGION":      l.setAWSRegion,
		"AWS_API_TIMEOUT": l.setAWSTimeout,

		"NODECLASS_GROUP":    l.setNodeClassGroup,
		"NODECLASS_VERSION":  l.setNodeClassVersion,
		"NODECLASS_RESOURCE": l.setNodeClassResource,

		"KUBECONFIG":       l.setKubeconfig,
		"KUBE_API_TIMEOUT": l.setKubeTimeout,

		"PORT":          l.setPort,
		"TLS_CERT_FILE": l.setCertFile,
		"TLS_KEY_FILE":  l.setKeyFile,

		"LOG_LEVEL":  l.setLogLevel,
		"LOG_FORMAT": l.setLogFormat,
	}

	for envVar, setter := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			if err := setter(value); err != nil {
				return fmt.Errorf("failed to set %s=%s: %w", envVar, value, err)
			}
		}
	}

	return nil
}

// setThrottlePercent parses the throttle percentage. An unparseable value is
// logged and replaced by the default instead of failing startup, matching the
// gate's fail-open posture for this one knob.
func (l *Loader) setThrottlePercent(value string) error {
	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		l.log.Error(err, "invalid THROTTLE_AT_PERCENT value; defaulting",
			"value", value, "default", DefaultThrottlePercent)
		l.config.Throttle.Percent = DefaultThrottlePercent
		return nil
	}
	l.config.Throttle.Percent = val
	return nil
}

func (l *Loader) setDryRun(value string) error {
	val, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	l.config.Throttle.DryRun = val
	return nil
}

func (l *Loader) setCacheSize(value string) error {
	val, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	l.config.Cache.MaxEntries = val
	return nil
}

func (l *Loader) setCacheTTL(value string) error {
	val, err := parseDurationOrSeconds(value)
	if err != nil {
		return err
	}
	l.config.Cache.TTL = val
	return nil
}

func (l *Loader) setAWSRegion(value string) error {
	l.config.AWS.Region = value
	return nil
}

func (l *Loader) setAWSTimeout(value string) error {
	val, err := parseDurationOrSeconds(value)
	if err != nil {
		return err
	}
	l.config.AWS.Timeout = val
	return nil
}

func (l *Loader) setNodeClassGroup(value string) error {
	l.config.NodeClass.Group = value
	return nil
}

func (l *Loader) setNodeClassVersion(value string) error {
	l.config.NodeClass.Version = value
	return nil
}

func (l *Loader) setNodeClassResource(value string) error {
	l.config.NodeClass.Resource = value
	return nil
}

func (l *Loader) setKubeconfig(value string) error {
	l.config.Kubernetes.Kubeconfig = value
	return nil
}

func (l *Loader) setKubeTimeout(value string) error {
	val, err := parseDurationOrSeconds(value)
	if err != nil {
		return err
	}
	l.config.Kubernetes.Timeout = val
	return nil
}

func (l *Loader) setPort(value string) error {
	val, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	l.config.Server.Port = val
	return nil
}

func (l *Loader) setCertFile(value string) error {
	l.config.Server.CertFile = value
	return nil
}

func (l *Loader) setKeyFile(value string) error {
	l.config.Server.KeyFile = value
	return nil
}

func (l *Loader) setLogLevel(value string) error {
	l.config.Logging.Level = value
	return nil
}

func (l *Loader) setLogFormat(value string) error {
	l.config.Logging.Format = value
	return nil
}

// parseDurationOrSeconds accepts either a Go duration ("15s", "1m") or a bare
// number of seconds ("15"), the latter for compatibility with deployments
// that configured plain integers.
func parseDurationOrSeconds(value string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(value)
}
