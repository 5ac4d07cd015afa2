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

// Package logctx provides structured logging context management.
// It allows storing and extracting common logging fields from
// context.Context, enabling consistent logging across the request
// middlewares and the registry clients.
package logctx

import (
	"context"

	"github.com/go-logr/logr"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeyRequestID identifies the individual request.
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyRegistry identifies the upstream OCI registry.
	ContextKeyRegistry contextKey = "registry"

	// ContextKeyPackage identifies the OCI repository of the package.
	ContextKeyPackage contextKey = "package"

	// ContextKeyVersion identifies the package version.
	ContextKeyVersion contextKey = "version"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeyRequestID,
	ContextKeyRegistry,
	ContextKeyPackage,
	ContextKeyVersion,
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithRegistry returns a new context with the upstream registry set.
func WithRegistry(ctx context.Context, registry string) context.Context {
	return context.WithValue(ctx, ContextKeyRegistry, registry)
}

// WithPackage returns a new context with the package repository set.
func WithPackage(ctx context.Context, pkg string) context.Context {
	return context.WithValue(ctx, ContextKeyPackage, pkg)
}

// WithVersion returns a new context with the package version set.
func WithVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, ContextKeyVersion, version)
}

// RequestID extracts the request ID from the context, empty when unset.
func RequestID(ctx context.Context) string {
	value, _ := ctx.Value(ContextKeyRequestID).(string)
	return value
}

// Logger returns base enriched with every logging field present in ctx.
func Logger(ctx context.Context, base logr.Logger) logr.Logger {
	var fields []any
	for _, key := range allContextKeys {
		if value, ok := ctx.Value(key).(string); ok && value != "" {
			fields = append(fields, string(key), value)
		}
	}
	if len(fields) == 0 {
		return base
	}
	return base.WithValues(fields...)
}
