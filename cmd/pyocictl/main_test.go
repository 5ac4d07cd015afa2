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

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyoci/pyoci/internal/oci"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()

	mux.HandleFunc("GET /v2/ns/pkg/tags/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "ns/pkg", "tags": ["1.0.0"]}`)
	})
	mux.HandleFunc("GET /v2/ns/pkg/manifests/1.0.0", func(w http.ResponseWriter, r *http.Request) {
		index := ocispec.Index{
			Versioned:    specs.Versioned{SchemaVersion: 2},
			MediaType:    ocispec.MediaTypeImageIndex,
			ArtifactType: oci.ArtifactType,
			Manifests: []ocispec.Descriptor{{
				MediaType: ocispec.MediaTypeImageManifest,
				Digest:    "sha256:0000000000000000000000000000000000000000000000000000000000000000",
				Size:      2,
				Platform:  &ocispec.Platform{Architecture: ".tar.gz", OS: "any"},
			}},
		}
		w.Header().Set("Content-Type", ocispec.MediaTypeImageIndex)
		_ = json.NewEncoder(w).Encode(index)
	})

	out, err := runCommand(t, "list", registry.URL+"/ns/pkg")
	require.NoError(t, err)
	assert.Equal(t, "pkg-1.0.0.tar.gz\n", out)
}

func TestPublishCommand(t *testing.T) {
	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()

	mux.HandleFunc("GET /v2/ns/foobar/manifests/1.0.0", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("HEAD /v2/ns/foobar/blobs/{digest}", func(w http.ResponseWriter, r *http.Request) {
		// Both blobs already exist upstream.
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /v2/ns/foobar/manifests/{ref}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	file := filepath.Join(t.TempDir(), "foobar-1.0.0.tar.gz")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o600))

	out, err := runCommand(t, "publish", registry.URL+"/ns", file)
	require.NoError(t, err)
	assert.Equal(t, "Published foobar-1.0.0.tar.gz\n", out)
}

func TestPublishCommandBadNamespace(t *testing.T) {
	_, err := runCommand(t, "publish", "registry-without-namespace", "foobar-1.0.0.tar.gz")
	require.Error(t, err)
}

func TestListCommandBadURL(t *testing.T) {
	_, err := runCommand(t, "list", "only/two")
	require.Error(t, err)
}
