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

// Package logging provides structured JSON logging for the subnet gate. It
// builds logr loggers on top of zap so every component logs in a consistent
// shape, whether it is the admission handler or startup wiring.
package logging

import (
	"os"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Config defines the logging configuration
type Config struct {
	// Level is the log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Format is the log format (json, console)
	Format string `yaml:"format" json:"format"`
}

// Logger wraps a logr.Logger together with the config it was built from.
type Logger struct {
	logr.Logger
	config *Config
}

// DefaultConfig returns default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
	}
}

// NewLogger creates a new structured logger based on the provided configuration
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	opts := ctrlzap.Options{
		Development: false,
	}

	if config.Format == "json" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.LevelKey = "level"
		encoderConfig.MessageKey = "msg"
		encoderConfig.CallerKey = "caller"
		encoderConfig.StacktraceKey = "stacktrace"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		opts.Encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		opts.Encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := parseLogLevel(config.Level)
	opts.Level = &level

	return &Logger{
		Logger: ctrlzap.New(ctrlzap.UseFlagOptions(&opts)),
		config: config,
	}, nil
}

// parseLogLevel converts a string log level to zapcore.Level. Unknown values
// fall back to info.
func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithName returns a logger with the specified name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		Logger: l.Logger.WithName(name),
		config: l.config,
	}
}

// WithValues returns a logger with the specified key-value pairs
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.WithValues(keysAndValues...),
		config: l.config,
	}
}

// WithAdmission returns a logger carrying the identity of one admission
// request, for correlating the resolve/evaluate/verdict lines of a review.
func (l *Logger) WithAdmission(uid, operation, kind string) *Logger {
	return &Logger{
		Logger: l.Logger.WithValues(
			"uid", uid,
			"operation", operation,
			"kind", kind,
		),
		config: l.config,
	}
}

// GetConfig returns the logging configuration
func (l *Logger) GetConfig() *Config {
	return l.config
}

// GetLoggerFromEnv creates a logger from the LOG_LEVEL and LOG_FORMAT
// environment variables, for early startup before configuration is loaded.
func GetLoggerFromEnv() (*Logger, error) {
	config := &Config{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "json"),
	}

	return NewLogger(config)
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
