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

// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultRequestDurationBuckets are the histogram buckets for request
// durations. Listing a package fans out to the upstream registry, so the
// range is wider than for a typical API server.
var DefaultRequestDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// GatewayMetrics holds Prometheus metrics for gateway operations.
type GatewayMetrics struct {
	// RequestsTotal is the total number of requests served, by method and
	// status code.
	RequestsTotal *prometheus.CounterVec
	// RequestDuration is the histogram of request durations, by method.
	RequestDuration *prometheus.HistogramVec
	// UpstreamRequestsTotal is the total number of requests sent to
	// upstream OCI registries, by method and status code.
	UpstreamRequestsTotal *prometheus.CounterVec
}

// NewGatewayMetrics creates gateway metrics registered on the default
// Prometheus registerer.
func NewGatewayMetrics() *GatewayMetrics {
	return NewGatewayMetricsWith(prometheus.DefaultRegisterer)
}

// NewGatewayMetricsWith creates gateway metrics registered on reg.
func NewGatewayMetricsWith(reg prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(reg)
	return &GatewayMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyoci_requests_total",
			Help: "Total number of requests served by the gateway.",
		}, []string{"method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pyoci_request_duration_seconds",
			Help:    "Duration of gateway requests in seconds.",
			Buckets: DefaultRequestDurationBuckets,
		}, []string{"method"}),
		UpstreamRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyoci_upstream_requests_total",
			Help: "Total number of requests sent to upstream OCI registries.",
		}, []string{"method", "status"}),
	}
}

// ObserveRequest records a served request.
func (m *GatewayMetrics) ObserveRequest(method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

// ObserveUpstreamRequest records a request sent to an upstream registry.
func (m *GatewayMetrics) ObserveUpstreamRequest(method string, status int) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
