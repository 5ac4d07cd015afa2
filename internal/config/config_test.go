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

package config

import (
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.Port != 8080 {
		t.Errorf("expected Port to be 8080, got %d", opts.Port)
	}
	if opts.MaxVersions != 15 {
		t.Errorf("expected MaxVersions to be 15, got %d", opts.MaxVersions)
	}
	if opts.BodyLimit != 50<<20 {
		t.Errorf("expected BodyLimit to be 50MiB, got %d", opts.BodyLimit)
	}
	if opts.Subpath != "" {
		t.Errorf("expected empty Subpath, got %q", opts.Subpath)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PYOCI_PATH", "/pyoci/")
	t.Setenv("PYOCI_MAX_VERSIONS", "3")
	t.Setenv("PYOCI_BODY_LIMIT", "1024")
	t.Setenv("OTLP_ENDPOINT", "collector:4317")
	t.Setenv("DEPLOYMENT_ENVIRONMENT", "staging")

	opts, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Port != 9000 {
		t.Errorf("expected Port 9000, got %d", opts.Port)
	}
	if opts.Subpath != "/pyoci" {
		t.Errorf("expected normalised Subpath /pyoci, got %q", opts.Subpath)
	}
	if opts.MaxVersions != 3 {
		t.Errorf("expected MaxVersions 3, got %d", opts.MaxVersions)
	}
	if opts.BodyLimit != 1024 {
		t.Errorf("expected BodyLimit 1024, got %d", opts.BodyLimit)
	}
	if opts.OTLPEndpoint != "collector:4317" {
		t.Errorf("expected OTLPEndpoint collector:4317, got %q", opts.OTLPEndpoint)
	}
	if opts.DeploymentEnvironment != "staging" {
		t.Errorf("expected DeploymentEnvironment staging, got %q", opts.DeploymentEnvironment)
	}
}

func TestFromEnvInvalidPort(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	if _, err := FromEnv(); err == nil {
		t.Error("expected an error for an unparseable PORT")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(o *Options) {}},
		{name: "port too low", mutate: func(o *Options) { o.Port = 0 }, wantErr: true},
		{name: "port too high", mutate: func(o *Options) { o.Port = 70000 }, wantErr: true},
		{name: "zero max versions", mutate: func(o *Options) { o.MaxVersions = 0 }, wantErr: true},
		{name: "zero body limit", mutate: func(o *Options) { o.BodyLimit = 0 }, wantErr: true},
		{name: "subpath without slash", mutate: func(o *Options) { o.Subpath = "pyoci" }, wantErr: true},
		{name: "subpath with slash", mutate: func(o *Options) { o.Subpath = "/pyoci" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
