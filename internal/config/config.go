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

// Package config provides configuration management for the gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Options holds all configuration options for the gateway.
type Options struct {
	// Port is the port the HTTP server binds to.
	Port int

	// Subpath is the path prefix the gateway is hosted under, empty for
	// the root.
	Subpath string

	// MaxVersions is the maximum number of package versions fetched when
	// listing a package.
	MaxVersions int

	// BodyLimit is the maximum accepted upload body size in bytes.
	BodyLimit int64

	// OTLPEndpoint is the OTLP collector endpoint, empty disables tracing.
	OTLPEndpoint string

	// OTLPAuth is the Authorization header value sent to the OTLP
	// collector.
	OTLPAuth string

	// DeploymentEnvironment labels emitted telemetry (e.g. "production").
	DeploymentEnvironment string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Port:        8080,
		MaxVersions: 15,
		BodyLimit:   50 << 20,
	}
}

// FromEnv builds Options from the environment on top of the defaults.
//
// Recognised variables: PORT, PYOCI_PATH, PYOCI_MAX_VERSIONS,
// PYOCI_BODY_LIMIT, OTLP_ENDPOINT, OTLP_AUTH, DEPLOYMENT_ENVIRONMENT.
func FromEnv() (Options, error) {
	opts := DefaultOptions()

	if port := os.Getenv("PORT"); port != "" {
		value, err := strconv.Atoi(port)
		if err != nil {
			return Options{}, fmt.Errorf("parsing PORT: %w", err)
		}
		opts.Port = value
	}
	opts.Subpath = os.Getenv("PYOCI_PATH")
	if maxVersions := os.Getenv("PYOCI_MAX_VERSIONS"); maxVersions != "" {
		value, err := strconv.Atoi(maxVersions)
		if err != nil {
			return Options{}, fmt.Errorf("parsing PYOCI_MAX_VERSIONS: %w", err)
		}
		opts.MaxVersions = value
	}
	if bodyLimit := os.Getenv("PYOCI_BODY_LIMIT"); bodyLimit != "" {
		value, err := strconv.ParseInt(bodyLimit, 10, 64)
		if err != nil {
			return Options{}, fmt.Errorf("parsing PYOCI_BODY_LIMIT: %w", err)
		}
		opts.BodyLimit = value
	}
	opts.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")
	opts.OTLPAuth = os.Getenv("OTLP_AUTH")
	opts.DeploymentEnvironment = os.Getenv("DEPLOYMENT_ENVIRONMENT")

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks if the Options are valid and normalises the subpath.
func (o *Options) Validate() error {
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("port %d out of range", o.Port)
	}
	if o.MaxVersions < 1 {
		return fmt.Errorf("max versions must be positive, got %d", o.MaxVersions)
	}
	if o.BodyLimit < 1 {
		return fmt.Errorf("body limit must be positive, got %d", o.BodyLimit)
	}
	if o.Subpath != "" {
		if !strings.HasPrefix(o.Subpath, "/") {
			return fmt.Errorf("subpath %q must start with /", o.Subpath)
		}
		o.Subpath = strings.TrimSuffix(o.Subpath, "/")
	}
	return nil
}
