/*
Copyright 2025.

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

// The pyoci server re-exposes OCI registries as Python package indexes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pyoci/pyoci/internal/api"
	"github.com/pyoci/pyoci/internal/config"
	"github.com/pyoci/pyoci/internal/tracing"
	"github.com/pyoci/pyoci/internal/version"
	"github.com/pyoci/pyoci/pkg/logging"
	"github.com/pyoci/pyoci/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()
	log = log.WithName("pyoci")

	opts, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        opts.OTLPEndpoint != "",
		Endpoint:       opts.OTLPEndpoint,
		Auth:           opts.OTLPAuth,
		ServiceVersion: version.Version,
		Environment:    opts.DeploymentEnvironment,
	})
	if err != nil {
		return fmt.Errorf("creating tracing provider: %w", err)
	}
	if opts.OTLPEndpoint != "" {
		log.Info("sending traces to OTLP collector", "endpoint", opts.OTLPEndpoint)
	}

	server := api.NewServer(opts, log, metrics.NewGatewayMetrics())
	serveErr := server.Run(ctx, fmt.Sprintf(":%d", opts.Port))

	// Flush remaining telemetry before exiting.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFlush()
	if err := provider.Shutdown(flushCtx); err != nil {
		log.Error(err, "failed to flush telemetry")
	}
	return serveErr
}
