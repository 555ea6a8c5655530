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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/gin-gonic/gin"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/ahoma/subnetgate/internal/cache"
	"github.com/ahoma/subnetgate/internal/config"
	"github.com/ahoma/subnetgate/internal/resolver"
	"github.com/ahoma/subnetgate/internal/server"
	"github.com/ahoma/subnetgate/internal/subnet"
	"github.com/ahoma/subnetgate/internal/throttle"
	"github.com/ahoma/subnetgate/pkg/logging"
)

var (
	// Build-time variables
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configFile  = flag.String("config", "", "Path to an optional YAML configuration file.")
		showVersion = flag.Bool("version", false, "Show version information and exit.")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("Subnetgate Webhook\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	// Bootstrap logger for configuration loading; replaced once the logging
	// section is known.
	bootLogger, err := logging.GetLoggerFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.NewLoader(bootLogger.Logger).Load(*configFile)
	if err != nil {
		bootLogger.Error(err, "failed to load configuration")
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		bootLogger.Error(err, "failed to create logger")
		os.Exit(1)
	}

	setupLog := logger.WithName("setup")
	setupLog.Info("Starting subnetgate webhook",
		"version", version,
		"commit", commit,
		"buildDate", buildDate,
		"port", cfg.Server.Port,
		"throttle-percent", cfg.Throttle.Percent,
		"dry-run", cfg.Throttle.DryRun,
		"aws-region", cfg.AWS.Region,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		setupLog.Error(err, "webhook terminated")
		os.Exit(1)
	}

	setupLog.Info("Webhook stopped")
}

// run wires the components and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Configuration, logger *logging.Logger) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	ec2Client := ec2.NewFromConfig(awsCfg)

	restConfig, err := buildRESTConfig(cfg.Kubernetes.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to build kubernetes client configuration: %w", err)
	}
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create dynamic client: %w", err)
	}
	kubeClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	capacityCache := cache.New[subnet.Capacity](cfg.Cache.MaxEntries, cfg.Cache.TTL)
	provider := subnet.NewProvider(ec2Client, capacityCache, cfg.AWS.Timeout, logger.Logger)

	nodeClassGVR := schema.GroupVersionResource{
		Group:    cfg.NodeClass.Group,
		Version:  cfg.NodeClass.Version,
		Resource: cfg.NodeClass.Resource,
	}
	subnetResolver := resolver.NewResolver(dynamicClient, nodeClassGVR, cfg.Kubernetes.Timeout, logger.Logger)
	evaluator := throttle.NewEvaluator(provider, logger.Logger)
	metrics := server.NewMetrics(provider)

	webhookServer := server.NewWebhookServer(server.WebhookServerConfig{
		ThrottlePercent: cfg.Throttle.Percent,
		DryRun:          cfg.Throttle.DryRun,
	}, subnetResolver, evaluator, metrics, logger.Logger)

	health := server.NewHealthChecker(kubeClient)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	webhookServer.SetupRoutes(engine, health)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			logger.Info("serving with TLS", "addr", httpServer.Addr)
			err = httpServer.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			logger.Info("serving without TLS", "addr", httpServer.Addr)
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining connections")
	health.SetUnhealthy("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

// buildRESTConfig prefers in-cluster credentials and falls back to a
// kubeconfig file for local runs.
func buildRESTConfig(kubeconfig string) (*rest.Config, error) {
	if restConfig, err := rest.InClusterConfig(); err == nil {
		return restConfig, nil
	}
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}
