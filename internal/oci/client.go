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

package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/pyoci/pyoci/internal/httperr"
	"github.com/pyoci/pyoci/internal/transport"
)

const (
	// metadataTimeout bounds tag and manifest calls.
	metadataTimeout = 10 * time.Second
	// blobTimeout bounds blob uploads.
	blobTimeout = 60 * time.Second

	// maxErrorBody caps how much of an upstream error body is propagated.
	maxErrorBody = 4096
)

// Client is a typed client for one OCI registry.
type Client struct {
	registry  *url.URL
	transport *transport.Transport
	log       logr.Logger
}

// NewClient creates a Client for the registry base URL.
func NewClient(registry *url.URL, t *transport.Transport, log logr.Logger) *Client {
	return &Client{registry: registry, transport: t, log: log}
}

// url composes a registry URL from a format string, sanitising every
// parameter. If the formatted path is an absolute URL the registry base is
// discarded, which is what the Location and Link handling relies on.
func (c *Client) url(format string, params ...string) (*url.URL, error) {
	args := make([]any, len(params))
	for i, param := range params {
		// Whole-component check, a defense-in-depth guard rather than a
		// path-walking one.
		if strings.Contains(param, "..") {
			return nil, fmt.Errorf("invalid path parameter: %q", param)
		}
		args[i] = param
	}
	ref, err := url.Parse(fmt.Sprintf(format, args...))
	if err != nil {
		return nil, fmt.Errorf("composing registry url: %w", err)
	}
	base := *c.registry
	base.Path = ""
	base.RawPath = ""
	return base.ResolveReference(ref), nil
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body []byte, header http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		req.Header[key] = values
	}
	return c.transport.Do(req)
}

// upstreamError converts a response into an error carrying the upstream
// status and body. It consumes the response body.
func upstreamError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return httperr.Upstream(resp.StatusCode, string(body))
}

// tagList is the registry response for the tag listing endpoint.
type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// ListTags returns all tags of a repository as a sorted set, following
// pagination Link headers until exhausted.
//
// https://github.com/opencontainers/distribution-spec/blob/main/spec.md#listing-tags
func (c *Client) ListTags(ctx context.Context, name string) ([]string, error) {
	next, err := c.url("/v2/%s/tags/list", name)
	if err != nil {
		return nil, err
	}

	var tags []string
	for next != nil {
		ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
		page, link, err := c.listTagsPage(ctx, next)
		cancel()
		if err != nil {
			return nil, err
		}
		tags = append(tags, page...)

		next = nil
		if link != "" {
			target, err := parseLink(link)
			if err != nil {
				return nil, err
			}
			if next, err = c.url("%s", target); err != nil {
				return nil, err
			}
		}
	}

	slices.Sort(tags)
	return slices.Compact(tags), nil
}

func (c *Client) listTagsPage(ctx context.Context, u *url.URL) ([]string, string, error) {
	resp, err := c.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", upstreamError(resp)
	}
	defer func() { _ = resp.Body.Close() }()

	var list tagList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, "", httperr.BadGateway(fmt.Sprintf("OCI registry provided an invalid tag list: %v", err))
	}
	return list.Tags, resp.Header.Get("Link"), nil
}

// PullManifest pulls a manifest reference, dispatching on the response
// Content-Type. A 404 returns a nil Manifest and no error so callers can
// attach their own context to a missing reference.
func (c *Client) PullManifest(ctx context.Context, name, reference string) (*Manifest, error) {
	u, err := c.url("/v2/%s/manifests/%s", name, reference)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Accept", ocispec.MediaTypeImageManifest+", "+ocispec.MediaTypeImageIndex)
	resp, err := c.do(ctx, http.MethodGet, u, nil, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp)
	}
	defer func() { _ = resp.Body.Close() }()

	switch contentType := resp.Header.Get("Content-Type"); contentType {
	case ocispec.MediaTypeImageIndex:
		var index ocispec.Index
		if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
			return nil, httperr.BadGateway(fmt.Sprintf("OCI registry provided an invalid image index: %v", err))
		}
		return &Manifest{Index: &index}, nil
	case ocispec.MediaTypeImageManifest:
		var manifest ocispec.Manifest
		if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
			return nil, httperr.BadGateway(fmt.Sprintf("OCI registry provided an invalid image manifest: %v", err))
		}
		return &Manifest{Manifest: &manifest}, nil
	case "":
		return nil, httperr.BadGateway("OCI registry response is missing a Content-Type header")
	default:
		return nil, httperr.BadGateway(fmt.Sprintf("unknown Content-Type: %s", contentType))
	}
}

// PushIndex pushes an image index tagged with version.
func (c *Client) PushIndex(ctx context.Context, name, version string, index *ocispec.Index) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding image index: %w", err)
	}
	u, err := c.url("/v2/%s/manifests/%s", name, version)
	if err != nil {
		return err
	}
	return c.putManifest(ctx, u, ocispec.MediaTypeImageIndex, data)
}

// PushManifest pushes serialised image manifest data under its digest
// reference.
func (c *Client) PushManifest(ctx context.Context, name string, data []byte) error {
	u, err := c.url("/v2/%s/manifests/%s", name, digest.FromBytes(data).String())
	if err != nil {
		return err
	}
	return c.putManifest(ctx, u, ocispec.MediaTypeImageManifest, data)
}

func (c *Client) putManifest(ctx context.Context, u *url.URL, mediaType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Content-Type", mediaType)
	resp, err := c.do(ctx, http.MethodPut, u, data, header)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return upstreamError(resp)
	}
	_ = resp.Body.Close()
	return nil
}

// PushBlob uploads a blob using the POST-then-PUT flow, skipping the upload
// when the registry already has the digest.
//
// https://github.com/opencontainers/distribution-spec/blob/main/spec.md#post-then-put
func (c *Client) PushBlob(ctx context.Context, name string, blob Blob) error {
	ctx, cancel := context.WithTimeout(ctx, blobTimeout)
	defer cancel()

	dgst := blob.Descriptor.Digest.String()
	u, err := c.url("/v2/%s/blobs/%s", name, dgst)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodHead, u, nil, nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		c.log.Info("blob already exists", "name", name, "digest", dgst)
		return nil
	case http.StatusNotFound:
	default:
		return httperr.Upstream(resp.StatusCode, "")
	}

	u, err = c.url("/v2/%s/blobs/uploads/", name)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	resp, err = c.do(ctx, http.MethodPost, u, nil, header)
	if err != nil {
		return err
	}
	var location string
	switch resp.StatusCode {
	case http.StatusCreated:
		// Upload absorbed inline.
		_ = resp.Body.Close()
		return nil
	case http.StatusAccepted:
		location = resp.Header.Get("Location")
		_ = resp.Body.Close()
		if location == "" {
			return httperr.BadGateway("registry response did not contain a Location header")
		}
	default:
		return upstreamError(resp)
	}

	// The location may be absolute or registry-relative.
	u, err = c.url("%s", location)
	if err != nil {
		return err
	}
	// Append the digest form-urlencoded, keeping the location's own query
	// parameters untouched. The reference registry accepts the
	// percent-encoded ":".
	query := "digest=" + url.QueryEscape(dgst)
	if u.RawQuery != "" {
		u.RawQuery += "&" + query
	} else {
		u.RawQuery = query
	}

	header = http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	resp, err = c.do(ctx, http.MethodPut, u, blob.Data, header)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return upstreamError(resp)
	}
	_ = resp.Body.Close()
	return nil
}

// PullBlob pulls a blob and returns its content stream. The caller owns the
// returned reader.
func (c *Client) PullBlob(ctx context.Context, name string, desc ocispec.Descriptor) (io.ReadCloser, error) {
	u, err := c.url("/v2/%s/blobs/%s", name, desc.Digest.String())
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp)
	}
	return resp.Body, nil
}

// DeleteManifest deletes a tag or manifest by reference.
//
// https://github.com/opencontainers/distribution-spec/blob/main/spec.md#content-management
func (c *Client) DeleteManifest(ctx context.Context, name, reference string) error {
	u, err := c.url("/v2/%s/manifests/%s", name, reference)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodDelete, u, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return upstreamError(resp)
	}
	_ = resp.Body.Close()
	return nil
}
