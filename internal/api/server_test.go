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

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyoci/pyoci/internal/config"
	"github.com/pyoci/pyoci/internal/oci"
)

func testServer(opts config.Options) http.Handler {
	return NewServer(opts, logr.Discard(), nil).Handler()
}

func testOptions() config.Options {
	opts := config.DefaultOptions()
	opts.MaxVersions = 2
	return opts
}

// sdistDescriptor builds a manifest descriptor for a ".tar.gz" platform.
func sdistDescriptor(dgst digest.Digest, annotations map[string]string) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType:   ocispec.MediaTypeImageManifest,
		Digest:      dgst,
		Size:        6,
		Platform:    &ocispec.Platform{Architecture: ".tar.gz", OS: "any"},
		Annotations: annotations,
	}
}

func indexBody(t *testing.T, descriptors ...ocispec.Descriptor) []byte {
	t.Helper()
	data, err := json.Marshal(ocispec.Index{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageIndex,
		ArtifactType: oci.ArtifactType,
		Manifests:    descriptors,
	})
	require.NoError(t, err)
	return data
}

func writeIndex(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", ocispec.MediaTypeImageIndex)
	_, _ = w.Write(data)
}

// The listing renders one anchor per file of the two most recent versions,
// most recent first, with a sha256 fragment when annotated.
func TestListPackage(t *testing.T) {
	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()
	encoded := url.PathEscape(registry.URL)

	mux.HandleFunc("GET /v2/mockserver/test_package/tags/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "mockserver/test_package", "tags": ["0.1.0", "0.0.1", "1.2.3"]}`)
	})
	mux.HandleFunc("GET /v2/mockserver/test_package/manifests/0.1.0", func(w http.ResponseWriter, r *http.Request) {
		writeIndex(w, indexBody(t, sdistDescriptor(digest.FromString("FooBar"), nil)))
	})
	mux.HandleFunc("GET /v2/mockserver/test_package/manifests/1.2.3", func(w http.ResponseWriter, r *http.Request) {
		writeIndex(w, indexBody(t, sdistDescriptor(digest.FromString("FooBar"),
			map[string]string{oci.AnnotationSHA256Digest: "1234"})))
	})
	mux.HandleFunc("GET /v2/mockserver/test_package/manifests/0.0.1", func(w http.ResponseWriter, r *http.Request) {
		t.Error("version 0.0.1 is beyond max_versions and must not be fetched")
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+encoded+"/mockserver/test-package/", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	expected := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>PyOCI</title>
</head>
<body>
    <a href="/%[1]s/mockserver/test_package/test_package-1.2.3.tar.gz#sha256=1234">test_package-1.2.3.tar.gz</a>
    <a href="/%[1]s/mockserver/test_package/test_package-0.1.0.tar.gz">test_package-0.1.0.tar.gz</a>
</body>
</html>
`, encoded)
	assert.Equal(t, expected, recorder.Body.String())
}

func TestListPackageSubNamespace(t *testing.T) {
	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()
	encoded := url.PathEscape(registry.URL)

	mux.HandleFunc("GET /v2/mockserver/subnamespace/test_package/tags/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "mockserver/subnamespace/test_package", "tags": ["0.1.0"]}`)
	})
	mux.HandleFunc("GET /v2/mockserver/subnamespace/test_package/manifests/0.1.0", func(w http.ResponseWriter, r *http.Request) {
		writeIndex(w, indexBody(t, sdistDescriptor(digest.FromString("FooBar"), nil)))
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+encoded+"/mockserver/subnamespace/test-package/", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Contains(t, recorder.Body.String(),
		fmt.Sprintf(`<a href="/%s/mockserver%%2Fsubnamespace/test_package/test_package-0.1.0.tar.gz">test_package-0.1.0.tar.gz</a>`, encoded))
}

func TestListPackageJSON(t *testing.T) {
	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()

	mux.HandleFunc("GET /v2/mockserver/test_package/tags/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "mockserver/test_package", "tags": ["0.1.0", "1.2.3"]}`)
	})
	mux.HandleFunc("GET /v2/mockserver/test_package/manifests/1.2.3", func(w http.ResponseWriter, r *http.Request) {
		writeIndex(w, indexBody(t, sdistDescriptor(digest.FromString("FooBar"), map[string]string{
			oci.AnnotationProjectURLs: `{"Repository": "https://github.com/pyoci/pyoci"}`,
		})))
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+url.PathEscape(registry.URL)+"/mockserver/test-package/json", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.JSONEq(t,
		`{"info": {"name": "test_package", "project_urls": {"Repository": "https://github.com/pyoci/pyoci"}},
		  "releases": {"0.1.0": [], "1.2.3": []}}`,
		recorder.Body.String())
}

// Downloading a file pulls the version index, the per-arch manifest and
// finally the layer blob.
func TestDownloadPackage(t *testing.T) {
	manifest := ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: oci.ArtifactType,
		Layers:       []ocispec.Descriptor{oci.NewBlob([]byte("sdist-bytes"), oci.ArtifactType).Descriptor},
	}
	manifestData, err := json.Marshal(manifest)
	require.NoError(t, err)
	manifestDigest := digest.FromBytes(manifestData)
	blobDigest := manifest.Layers[0].Digest

	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()

	mux.HandleFunc("GET /v2/mockserver/test_package/manifests/0.1.0", func(w http.ResponseWriter, r *http.Request) {
		writeIndex(w, indexBody(t, sdistDescriptor(manifestDigest, nil)))
	})
	mux.HandleFunc("GET /v2/mockserver/test_package/manifests/"+manifestDigest.String(), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", ocispec.MediaTypeImageManifest)
		_, _ = w.Write(manifestData)
	})
	mux.HandleFunc("GET /v2/mockserver/test_package/blobs/"+blobDigest.String(), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "sdist-bytes")
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/"+url.PathEscape(registry.URL)+"/mockserver/test_package/test_package-0.1.0.tar.gz", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "sdist-bytes", recorder.Body.String())
	assert.Equal(t, `attachment; filename="test_package-0.1.0.tar.gz"`,
		recorder.Header().Get("Content-Disposition"))
}

func TestDownloadPackageUnknownFileType(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/registry.example/mockserver/test_package/.env", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

// Publishing stores layer and config blob, the manifest by digest, and the
// updated index under the version tag, in that order.
func TestPublishPackage(t *testing.T) {
	var requests []string
	var indexData []byte

	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()

	record := func(r *http.Request) { requests = append(requests, r.Method) }
	mux.HandleFunc("GET /v2/mockserver/foobar/manifests/1.0.0", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("HEAD /v2/mockserver/foobar/blobs/{digest}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /v2/mockserver/foobar/blobs/uploads/{$}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Location", "/v2/mockserver/foobar/blobs/uploads/1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("PUT /v2/mockserver/foobar/blobs/uploads/1", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("PUT /v2/mockserver/foobar/manifests/{ref}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.PathValue("ref") == "1.0.0" {
			indexData, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(http.StatusCreated)
	})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField(":action", "file_upload"))
	require.NoError(t, writer.WriteField("protocol_version", "1"))
	part, err := writer.CreateFormFile("content", "foobar-1.0.0.tar.gz")
	require.NoError(t, err)
	_, err = part.Write([]byte("someawesomepackagedata"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/"+url.PathEscape(registry.URL)+"/mockserver/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	testServer(testOptions()).ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "Published", recorder.Body.String())
	assert.Equal(t,
		[]string{"GET", "HEAD", "POST", "PUT", "HEAD", "POST", "PUT", "PUT", "PUT"},
		requests)

	var index ocispec.Index
	require.NoError(t, json.Unmarshal(indexData, &index))
	assert.Equal(t, oci.ArtifactType, index.ArtifactType)
	require.Len(t, index.Manifests, 1)
	assert.Equal(t, ".tar.gz", index.Manifests[0].Platform.Architecture)
	assert.Equal(t, "any", index.Manifests[0].Platform.OS)
}

func TestPublishPackageBodyLimit(t *testing.T) {
	opts := testOptions()
	opts.BodyLimit = 10

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("content", "foobar-1.0.0.tar.gz")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 1024))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/registry.example/mockserver/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	testServer(opts).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
}

// Deleting a version deletes every manifest referenced by its index.
func TestDeletePackageVersion(t *testing.T) {
	first := digest.FromString("first")
	second := digest.FromString("second")
	var deleted []string

	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()

	mux.HandleFunc("GET /v2/mockserver/test_package/manifests/0.1.0", func(w http.ResponseWriter, r *http.Request) {
		writeIndex(w, indexBody(t,
			sdistDescriptor(first, nil),
			ocispec.Descriptor{
				MediaType: ocispec.MediaTypeImageManifest,
				Digest:    second,
				Size:      6,
				Platform:  &ocispec.Platform{Architecture: "py3-none-any.whl", OS: "any"},
			},
		))
	})
	mux.HandleFunc("DELETE /v2/mockserver/test_package/manifests/{ref}", func(w http.ResponseWriter, r *http.Request) {
		deleted = append(deleted, r.PathValue("ref"))
		w.WriteHeader(http.StatusAccepted)
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete,
		"/"+url.PathEscape(registry.URL)+"/mockserver/test-package/0.1.0", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "Deleted", recorder.Body.String())
	assert.Equal(t, []string{first.String(), second.String()}, deleted)
}

func TestRootRedirect(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusSeeOther, recorder.Code)
	assert.Equal(t, homepage, recorder.Header().Get("Location"))
	assert.Equal(t, "max-age=604800, public", recorder.Header().Get("Cache-Control"))
}

func TestHealth(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
}

// Unmatched routes respond 404 with a long cache lifetime so scanners do not
// wake the service.
func TestUnmatchedRouteCacheControl(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wp-admin", nil)
	testServer(testOptions()).ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "max-age=604800, public", recorder.Header().Get("Cache-Control"))
}

// With a subpath configured the gateway routes live underneath it and the
// rendered hrefs carry the prefix.
func TestListPackageSubpath(t *testing.T) {
	mux := http.NewServeMux()
	registry := httptest.NewServer(mux)
	defer registry.Close()
	encoded := url.PathEscape(registry.URL)

	mux.HandleFunc("GET /v2/mockserver/test_package/tags/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "mockserver/test_package", "tags": ["0.1.0"]}`)
	})
	mux.HandleFunc("GET /v2/mockserver/test_package/manifests/0.1.0", func(w http.ResponseWriter, r *http.Request) {
		writeIndex(w, indexBody(t, sdistDescriptor(digest.FromString("FooBar"), nil)))
	})

	opts := testOptions()
	opts.Subpath = "/foo"

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/foo/"+encoded+"/mockserver/test-package/", nil)
	testServer(opts).ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Contains(t, recorder.Body.String(),
		fmt.Sprintf(`<a href="/foo/%s/mockserver/test_package/test_package-0.1.0.tar.gz">test_package-0.1.0.tar.gz</a>`, encoded))

	// Outside the subpath nothing matches.
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/"+encoded+"/mockserver/test-package/", nil)
	testServer(opts).ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
