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

// Package pyoci maps between the Python package index protocols and the OCI
// layout the gateway stores packages in.
package pyoci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/pyoci/pyoci/internal/httperr"
	"github.com/pyoci/pyoci/internal/oci"
	"github.com/pyoci/pyoci/internal/packaging"
	"github.com/pyoci/pyoci/internal/transport"
	"github.com/pyoci/pyoci/pkg/metrics"
)

// mediaTypePackage is the media type of the layer blob carrying the
// distribution file bytes.
const mediaTypePackage = oci.ArtifactType

// PackageFile is a concrete distribution file of a package, combined with
// the uploader-supplied sha256 when the stored descriptor carries one.
type PackageFile struct {
	packaging.Package
	SHA256 string
}

// PyOci executes gateway operations against one registry with one set of
// credentials. Instances are request-scoped.
type PyOci struct {
	oci *oci.Client
	log logr.Logger
}

// New creates a request-scoped client. auth is the caller's Authorization
// header value, passed through to the registry verbatim.
func New(registry *url.URL, auth string, log logr.Logger, m *metrics.GatewayMetrics) *PyOci {
	t := transport.New(auth, log, m)
	return &PyOci{
		oci: oci.NewClient(registry, t, log),
		log: log,
	}
}

// ListPackageFiles returns the files of the highest maxVersions versions of
// a package, most recent version first, stable within a version.
//
// The per-version index manifests are fetched concurrently; the result order
// does not depend on fetch completion order.
func (p *PyOci) ListPackageFiles(ctx context.Context, pkg packaging.Package, maxVersions int) ([]PackageFile, error) {
	tags, err := p.oci.ListTags(ctx, pkg.OCIName())
	if err != nil {
		return nil, err
	}
	// The sorted tag set doubles as the version order. Selection happens on
	// this order, not on registry order.
	if len(tags) > maxVersions {
		tags = tags[len(tags)-maxVersions:]
	}

	results := make([][]PackageFile, len(tags))
	group, ctx := errgroup.WithContext(ctx)
	for i, version := range tags {
		group.Go(func() error {
			files, err := p.packageFilesForVersion(ctx, pkg, version)
			if err != nil {
				return err
			}
			results[i] = files
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var files []PackageFile
	for i := len(results) - 1; i >= 0; i-- {
		files = append(files, results[i]...)
	}
	return files, nil
}

// ListPackageVersions returns the package's tag set in ascending order.
func (p *PyOci) ListPackageVersions(ctx context.Context, pkg packaging.Package) ([]string, error) {
	return p.oci.ListTags(ctx, pkg.OCIName())
}

// packageFilesForVersion resolves one version tag into its files.
func (p *PyOci) packageFilesForVersion(ctx context.Context, pkg packaging.Package, version string) ([]PackageFile, error) {
	index, err := p.pullIndex(ctx, pkg.OCIName(), version)
	if err != nil {
		return nil, err
	}

	files := make([]PackageFile, 0, len(index.Manifests))
	for _, desc := range index.Manifests {
		if desc.Platform == nil {
			return nil, fmt.Errorf("descriptor %s has no platform", desc.Digest)
		}
		file, err := pkg.WithOCIFile(version, desc.Platform.Architecture)
		if err != nil {
			return nil, fmt.Errorf("unknown architecture %q: %w", desc.Platform.Architecture, err)
		}
		files = append(files, PackageFile{
			Package: file,
			SHA256:  desc.Annotations[oci.AnnotationSHA256Digest],
		})
	}
	return files, nil
}

// ProjectURLs returns the project URL mapping recorded on the first
// descriptor of a version's index, or an empty map when none is recorded.
func (p *PyOci) ProjectURLs(ctx context.Context, pkg packaging.Package, version string) (map[string]string, error) {
	index, err := p.pullIndex(ctx, pkg.OCIName(), version)
	if err != nil {
		return nil, err
	}
	urls := map[string]string{}
	if len(index.Manifests) == 0 {
		return urls, nil
	}
	encoded, ok := index.Manifests[0].Annotations[oci.AnnotationProjectURLs]
	if !ok {
		return urls, nil
	}
	if err := json.Unmarshal([]byte(encoded), &urls); err != nil {
		return nil, fmt.Errorf("decoding %s annotation: %w", oci.AnnotationProjectURLs, err)
	}
	return urls, nil
}

// DownloadPackageFile streams the bytes of one distribution file. The caller
// owns the returned reader.
func (p *PyOci) DownloadPackageFile(ctx context.Context, pkg packaging.Package) (io.ReadCloser, error) {
	if !pkg.File.IsValid() {
		return nil, httperr.BadRequest(fmt.Sprintf("%q is not a valid package file", pkg.Filename()))
	}
	index, err := p.pullIndex(ctx, pkg.OCIName(), pkg.File.Version)
	if err != nil {
		return nil, err
	}

	arch := pkg.File.Arch()
	var manifestDesc *ocispec.Descriptor
	for i, desc := range index.Manifests {
		if desc.Platform != nil && desc.Platform.Architecture == arch {
			manifestDesc = &index.Manifests[i]
			break
		}
	}
	if manifestDesc == nil {
		return nil, httperr.NotFound(fmt.Sprintf("Requested architecture '%s' not available", arch))
	}

	manifest, err := p.oci.PullManifest(ctx, pkg.OCIName(), manifestDesc.Digest.String())
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, httperr.NotFound(fmt.Sprintf("ImageManifest '%s' does not exist", manifestDesc.Digest))
	}
	if manifest.Manifest == nil {
		return nil, fmt.Errorf("expected an image manifest for %s, got an index", manifestDesc.Digest)
	}
	if len(manifest.Manifest.Layers) != 1 {
		return nil, fmt.Errorf("expected exactly one layer, got %d", len(manifest.Manifest.Layers))
	}
	return p.oci.PullBlob(ctx, pkg.OCIName(), manifest.Manifest.Layers[0])
}

// DeletePackageVersion deletes every manifest referenced by a version's
// index.
func (p *PyOci) DeletePackageVersion(ctx context.Context, pkg packaging.Package) error {
	index, err := p.pullIndex(ctx, pkg.OCIName(), pkg.File.Version)
	if err != nil {
		return err
	}
	for _, desc := range index.Manifests {
		p.log.V(1).Info("deleting manifest", "digest", desc.Digest.String())
		if err := p.oci.DeleteManifest(ctx, pkg.OCIName(), desc.Digest.String()); err != nil {
			return err
		}
	}
	return nil
}

// UploadOptions carries the optional metadata of an upload.
type UploadOptions struct {
	// Labels are annotations recorded on the manifest descriptor.
	Labels map[string]string
	// SHA256 is the uploader-supplied digest of the file.
	SHA256 string
	// ProjectURLs is the label->URL mapping of the project.
	ProjectURLs map[string]string
}

// PublishPackageFile stores one distribution file as an OCI artifact.
//
// Steps are strictly ordered: both blobs are pushed before the manifest, the
// manifest before the index, so a reader never observes a dangling
// reference. Blob pushes short-circuit on an existing digest.
func (p *PyOci) PublishPackageFile(ctx context.Context, pkg packaging.Package, content []byte, opts UploadOptions) error {
	if !pkg.File.IsValid() {
		return httperr.BadRequest(fmt.Sprintf("%q is not a valid package file", pkg.Filename()))
	}
	name := pkg.OCIName()
	version := pkg.File.Version

	// Preserve descriptors of other platforms already published for this
	// version.
	index, err := p.pullIndexForUpdate(ctx, name, version)
	if err != nil {
		return err
	}

	layer := oci.NewBlob(content, mediaTypePackage)
	config := oci.NewBlob(nil, ocispec.MediaTypeEmptyJSON)
	if err := p.oci.PushBlob(ctx, name, layer); err != nil {
		return err
	}
	if err := p.oci.PushBlob(ctx, name, config); err != nil {
		return err
	}

	manifest := ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: oci.ArtifactType,
		Config:       config.Descriptor,
		Layers:       []ocispec.Descriptor{layer.Descriptor},
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding image manifest: %w", err)
	}
	if err := p.oci.PushManifest(ctx, name, data); err != nil {
		return err
	}

	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    oci.Digest(data),
		Size:      int64(len(data)),
		Platform: &ocispec.Platform{
			Architecture: pkg.File.Arch(),
			OS:           "any",
		},
		Annotations: uploadAnnotations(opts),
	}
	updateIndex(index, desc)
	return p.oci.PushIndex(ctx, name, version, index)
}

// pullIndex pulls the index for a version; a missing or non-index reference
// is an error.
func (p *PyOci) pullIndex(ctx context.Context, name, version string) (*ocispec.Index, error) {
	manifest, err := p.oci.PullManifest(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, httperr.NotFound(fmt.Sprintf("ImageManifest '%s' does not exist", version))
	}
	if manifest.Index == nil {
		return nil, fmt.Errorf("expected an image index for %q, got an image manifest", version)
	}
	if manifest.Index.ArtifactType != oci.ArtifactType {
		return nil, fmt.Errorf("unknown artifact type: %q", manifest.Index.ArtifactType)
	}
	return manifest.Index, nil
}

// pullIndexForUpdate pulls the version's index if it exists, or starts a new
// one.
func (p *PyOci) pullIndexForUpdate(ctx context.Context, name, version string) (*ocispec.Index, error) {
	manifest, err := p.oci.PullManifest(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return &ocispec.Index{
			Versioned:    specs.Versioned{SchemaVersion: 2},
			MediaType:    ocispec.MediaTypeImageIndex,
			ArtifactType: oci.ArtifactType,
		}, nil
	}
	if manifest.Index == nil {
		return nil, fmt.Errorf("expected an image index for %q, got an image manifest", version)
	}
	if manifest.Index.ArtifactType != oci.ArtifactType {
		return nil, httperr.New(http.StatusConflict,
			fmt.Sprintf("%s exists but is not a python package", version))
	}
	return manifest.Index, nil
}

// updateIndex replaces the descriptor with the same platform architecture,
// or appends when the architecture is new for this version.
func updateIndex(index *ocispec.Index, desc ocispec.Descriptor) {
	index.ArtifactType = oci.ArtifactType
	for i, existing := range index.Manifests {
		if existing.Platform != nil && existing.Platform.Architecture == desc.Platform.Architecture {
			index.Manifests[i] = desc
			return
		}
	}
	index.Manifests = append(index.Manifests, desc)
}

func uploadAnnotations(opts UploadOptions) map[string]string {
	annotations := make(map[string]string, len(opts.Labels)+2)
	for key, value := range opts.Labels {
		annotations[key] = value
	}
	if opts.SHA256 != "" {
		annotations[oci.AnnotationSHA256Digest] = opts.SHA256
	}
	if len(opts.ProjectURLs) > 0 {
		encoded, err := json.Marshal(opts.ProjectURLs)
		if err == nil {
			annotations[oci.AnnotationProjectURLs] = string(encoded)
		}
	}
	if len(annotations) == 0 {
		return nil
	}
	return annotations
}
