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

// Package oci implements the client side of the OCI distribution
// specification against a single registry.
//
// Python packages are stored as one image index per version, tagged with the
// version. Each file of a version is an image manifest referenced from the
// index, with the file's kind encoded in the descriptor's platform
// architecture and the file bytes as the manifest's single layer.
package oci

import (
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// ArtifactType marks indexes and manifests written by this gateway.
	ArtifactType = "application/pyoci.package.v1"

	// AnnotationSHA256Digest carries the uploader-supplied sha256 of a
	// distribution file on its manifest descriptor.
	AnnotationSHA256Digest = "com.pyoci.sha256_digest"

	// AnnotationProjectURLs carries a JSON-encoded label->URL mapping on a
	// manifest descriptor.
	AnnotationProjectURLs = "com.pyoci.project_urls"
)

// Blob is blob data combined with its descriptor.
type Blob struct {
	Data       []byte
	Descriptor ocispec.Descriptor
}

// NewBlob creates a Blob, computing the descriptor from the data.
func NewBlob(data []byte, mediaType string) Blob {
	return Blob{
		Data: data,
		Descriptor: ocispec.Descriptor{
			MediaType: mediaType,
			Digest:    digest.FromBytes(data),
			Size:      int64(len(data)),
		},
	}
}

// Digest returns the canonical sha256 digest of data, lower-hex encoded.
func Digest(data []byte) digest.Digest {
	return digest.FromBytes(data)
}

// Manifest is the result of pulling a manifest reference. The manifests
// endpoint serves both image indexes and image manifests; exactly one of the
// fields is set.
type Manifest struct {
	Index    *ocispec.Index
	Manifest *ocispec.Manifest
}
