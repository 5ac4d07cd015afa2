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
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pyoci/pyoci/internal/httperr"
	"github.com/pyoci/pyoci/internal/httputil"
	"github.com/pyoci/pyoci/internal/packaging"
	"github.com/pyoci/pyoci/internal/pyoci"
	"github.com/pyoci/pyoci/pkg/logctx"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, homepage, http.StatusSeeOther)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

// client builds the request-scoped gateway client, passing the caller's
// Authorization header through as credential material. The client's logger
// carries the request and package fields.
func (s *Server) client(r *http.Request, pkg packaging.Package) (*pyoci.PyOci, error) {
	registry, err := pkg.RegistryURL()
	if err != nil {
		return nil, httperr.BadRequest(err.Error())
	}

	ctx := logctx.WithRegistry(r.Context(), pkg.Registry)
	ctx = logctx.WithPackage(ctx, pkg.OCIName())
	if pkg.File.Version != "" {
		ctx = logctx.WithVersion(ctx, pkg.File.Version)
	}
	log := logctx.Logger(ctx, s.log)

	auth := r.Header.Get("Authorization")
	if auth == "" {
		log.V(1).Info("no Authorization header provided")
	}
	return pyoci.New(registry, auth, log, s.metrics), nil
}

// handleListPackage renders the HTML file listing of a package, most recent
// version first.
func (s *Server) handleListPackage(w http.ResponseWriter, r *http.Request) {
	pkg := packaging.New(r.PathValue("registry"), r.PathValue("namespace"), r.PathValue("package"))
	client, err := s.client(r, pkg)
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}

	files, err := client.ListPackageFiles(r.Context(), pkg, s.opts.MaxVersions)
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}

	entries := make([]fileEntry, len(files))
	for i, file := range files {
		href := s.opts.Subpath + file.URLPath()
		if file.SHA256 != "" {
			href += "#sha256=" + file.SHA256
		}
		entries[i] = fileEntry{Href: href, Filename: file.Filename()}
	}

	w.Header().Set(httputil.HeaderContentType, httputil.ContentTypeHTML)
	if err := listPackageTemplate.Execute(w, listPageData{Files: entries}); err != nil {
		s.log.Error(err, "failed to render package listing")
	}
}

// packageJSON is the response shape of the JSON listing endpoint. Release
// values stay empty so the releases come from a single tags call; only the
// latest version's index is pulled, for its project URLs.
type packageJSON struct {
	Info     packageInfo         `json:"info"`
	Releases map[string][]string `json:"releases"`
}

type packageInfo struct {
	Name        string            `json:"name"`
	ProjectURLs map[string]string `json:"project_urls"`
}

// handleListPackageJSON lists the releases of a package without per-file
// detail. Used by tools like Renovate to discover available versions.
func (s *Server) handleListPackageJSON(w http.ResponseWriter, r *http.Request) {
	pkg := packaging.New(r.PathValue("registry"), r.PathValue("namespace"), r.PathValue("package"))
	client, err := s.client(r, pkg)
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}

	versions, err := client.ListPackageVersions(r.Context(), pkg)
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}

	projectURLs := map[string]string{}
	if len(versions) > 0 {
		if projectURLs, err = client.ProjectURLs(r.Context(), pkg, versions[len(versions)-1]); err != nil {
			httperr.Write(w, err, s.log)
			return
		}
	}

	releases := make(map[string][]string, len(versions))
	for _, version := range versions {
		releases[version] = []string{}
	}
	response := packageJSON{
		Info:     packageInfo{Name: pkg.Name(), ProjectURLs: projectURLs},
		Releases: releases,
	}
	if err := httputil.WriteJSON(w, http.StatusOK, response); err != nil {
		s.log.Error(err, "failed to encode JSON response")
	}
}

// handleDownloadPackage streams one distribution file.
func (s *Server) handleDownloadPackage(w http.ResponseWriter, r *http.Request) {
	// The filename is authoritative; its embedded name may differ from the
	// package segment because wheel filenames replace "-" with "_".
	pkg, err := packaging.FromFilename(r.PathValue("registry"), r.PathValue("namespace"), r.PathValue("filename"))
	if err != nil {
		httperr.Write(w, httperr.BadRequest(err.Error()), s.log)
		return
	}
	client, err := s.client(r, pkg)
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}

	data, err := client.DownloadPackageFile(r.Context(), pkg)
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}
	defer func() { _ = data.Close() }()

	w.Header().Set(httputil.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", pkg.Filename()))
	if _, err := io.Copy(w, data); err != nil {
		s.log.Error(err, "failed to stream package file")
	}
}

// handleDeletePackageVersion deletes a package version.
//
// This endpoint does not exist in the python index ecosystem and the
// underlying OCI manifest deletion is not supported by every registry.
func (s *Server) handleDeletePackageVersion(w http.ResponseWriter, r *http.Request) {
	pkg, err := packaging.New(r.PathValue("registry"), r.PathValue("namespace"), r.PathValue("package")).
		WithOCIFile(r.PathValue("version"), "")
	if err != nil {
		httperr.Write(w, httperr.BadRequest(err.Error()), s.log)
		return
	}
	client, err := s.client(r, pkg)
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}

	if err := client.DeletePackageVersion(r.Context(), pkg); err != nil {
		httperr.Write(w, err, s.log)
		return
	}
	_, _ = w.Write([]byte("Deleted"))
}

// handlePublishPackage accepts a PyPI legacy upload and stores it as an OCI
// artifact.
//
// ref: https://warehouse.pypa.io/api-reference/legacy.html#upload-api
func (s *Server) handlePublishPackage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.BodyLimit)

	form, err := parseUploadForm(r, s.log)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			err = httperr.New(http.StatusRequestEntityTooLarge, "request body too large")
		}
		httperr.Write(w, err, s.log)
		return
	}

	pkg, err := packaging.FromFilename(r.PathValue("registry"), r.PathValue("namespace"), form.filename)
	if err != nil {
		httperr.Write(w, httperr.BadRequest(err.Error()), s.log)
		return
	}
	client, err := s.client(r, pkg)
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}

	err = client.PublishPackageFile(r.Context(), pkg, form.content, pyoci.UploadOptions{
		Labels:      form.labels,
		SHA256:      form.sha256,
		ProjectURLs: form.projectURLs,
	})
	if err != nil {
		httperr.Write(w, err, s.log)
		return
	}
	_, _ = w.Write([]byte("Published"))
}
