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

// Package api exposes an OCI registry as a Python package index over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pyoci/pyoci/internal/config"
	"github.com/pyoci/pyoci/pkg/metrics"
)

// homepage is the target of the root redirect.
const homepage = "https://github.com/pyoci/pyoci"

// Server binds the gateway operations to their URL patterns.
type Server struct {
	opts    config.Options
	log     logr.Logger
	metrics *metrics.GatewayMetrics
}

// NewServer creates an API server.
func NewServer(opts config.Options, log logr.Logger, m *metrics.GatewayMetrics) *Server {
	return &Server{
		opts:    opts,
		log:     log.WithName("api-server"),
		metrics: m,
	}
}

// Handler returns the http.Handler for the gateway.
func (s *Server) Handler() http.Handler {
	gateway := http.NewServeMux()
	gateway.Handle("GET /{$}", cacheControl(http.HandlerFunc(s.handleRoot)))
	gateway.HandleFunc("GET /{registry}/{namespace}/{package}/{$}", s.handleListPackage)
	gateway.HandleFunc("GET /{registry}/{namespace}/{package}/json", s.handleListPackageJSON)
	gateway.HandleFunc("GET /{registry}/{namespace}/{package}/{filename}", s.handleDownloadPackage)
	gateway.HandleFunc("DELETE /{registry}/{namespace}/{package}/{version}", s.handleDeletePackageVersion)
	gateway.HandleFunc("POST /{registry}/{namespace}/{$}", s.handlePublishPackage)
	gateway.Handle("/", cacheControl(http.HandlerFunc(s.handleNotFound)))

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.Handle("GET /metrics", promhttp.Handler())
	if s.opts.Subpath != "" {
		root.Handle(s.opts.Subpath+"/", http.StripPrefix(s.opts.Subpath, gateway))
		root.Handle("/", cacheControl(http.HandlerFunc(s.handleNotFound)))
	} else {
		root.Handle("/", gateway)
	}

	var handler http.Handler = root
	handler = EncodeNamespace(s.opts.Subpath, handler)
	handler = s.accessLog(handler)
	return otelhttp.NewHandler(handler, "fetch")
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.log.Info("listening", "addr", addr, "subpath", s.opts.Subpath)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("gracefully shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
