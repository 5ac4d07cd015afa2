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

package packaging

import (
	"fmt"
	"net/url"
	"strings"
)

// Package identifies a Python package inside an OCI registry.
//
// Registry is the upstream registry host or URL, Namespace the repository
// prefix (it may contain embedded "/" separators), and File carries the
// distribution name plus, when set, a concrete version and architecture.
type Package struct {
	Registry  string
	Namespace string
	File      File
}

// New creates a Package referring to a distribution without a concrete file.
// The distribution name is normalised to its filename form so that URL
// segments like "test-package" address the same package as the files they
// contain.
func New(registry, namespace, name string) Package {
	return Package{
		Registry:  registry,
		Namespace: namespace,
		File:      File{Name: NormalizeName(name)},
	}
}

// FromFilename creates a Package from a distribution filename.
func FromFilename(registry, namespace, filename string) (Package, error) {
	file, err := ParseFile(filename)
	if err != nil {
		return Package{}, err
	}
	return Package{Registry: registry, Namespace: namespace, File: file}, nil
}

// FromURLPath parses "{registry}/{namespace}/{name}" or
// "{registry}/{namespace}/{name}/{filename}". In the second form the
// filename's embedded package name must match {name}. The registry may be
// given as a URL with a scheme, e.g. "http://localhost:5000/ns/pkg".
func FromURLPath(s string) (Package, error) {
	path := strings.TrimSpace(s)
	// The "//" after a scheme is not a segment separator.
	var scheme string
	if i := strings.Index(path, "://"); i >= 0 && !strings.Contains(path[:i], "/") {
		scheme, path = path[:i+3], path[i+3:]
	}
	parts := strings.Split(path, "/")
	parts[0] = scheme + parts[0]
	switch len(parts) {
	case 3:
		return New(parts[0], parts[1], parts[2]), nil
	case 4:
		pkg, err := FromFilename(parts[0], parts[1], parts[3])
		if err != nil {
			return Package{}, err
		}
		if pkg.File.Name != NormalizeName(parts[2]) {
			return Package{}, ErrNameMismatch
		}
		return pkg, nil
	default:
		return Package{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
}

// WithOCIFile returns a copy of p with the file's version and architecture
// replaced. An empty arch leaves the kind untouched.
func (p Package) WithOCIFile(version, arch string) (Package, error) {
	file := p.File.WithVersion(version)
	if arch != "" {
		var err error
		file, err = file.WithArch(arch)
		if err != nil {
			return Package{}, err
		}
	}
	p.File = file
	return p, nil
}

// Name returns the distribution name.
func (p Package) Name() string {
	return p.File.Name
}

// Filename returns the rendered distribution filename.
func (p Package) Filename() string {
	return p.File.String()
}

// OCIName returns the OCI repository name, the lowercased join of namespace
// and distribution name.
func (p Package) OCIName() string {
	return strings.ToLower(p.Namespace + "/" + p.File.Name)
}

// RegistryURL resolves the registry string to a base URL. A registry without
// a scheme defaults to https.
func (p Package) RegistryURL() (*url.URL, error) {
	registry := p.Registry
	if !strings.Contains(registry, "://") {
		registry = "https://" + registry
	}
	u, err := url.Parse(registry)
	if err != nil {
		return nil, fmt.Errorf("parsing registry %q: %w", p.Registry, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported registry scheme %q", u.Scheme)
	}
	return u, nil
}

// URLPath returns the gateway path for this package's file, relative to the
// subpath root. Registry and namespace segments are percent-encoded so that
// embedded "/" separators survive routing.
func (p Package) URLPath() string {
	return fmt.Sprintf("/%s/%s/%s/%s",
		url.PathEscape(p.Registry),
		url.PathEscape(p.Namespace),
		p.File.Name,
		p.File.String(),
	)
}
