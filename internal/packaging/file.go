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

// Package packaging models Python distribution filenames and the package
// coordinates that map them onto an OCI registry.
//
// A source distribution is named {name}-{version}.tar.gz, a wheel is named
// {name}-{version}-{compat}.whl where compat is the compatibility tag triple
// (optionally preceded by a build tag). The filename grammar follows the
// python packaging specifications:
//   - https://packaging.python.org/en/latest/specifications/source-distribution-format/#source-distribution-file-name
//   - https://packaging.python.org/en/latest/specifications/binary-distribution-format/#file-name-convention
package packaging

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName canonicalises a distribution name to the form used in
// distribution filenames: lowercase, with runs of separators replaced by a
// single underscore.
//
// https://packaging.python.org/en/latest/specifications/name-normalization/#name-normalization
func NormalizeName(name string) string {
	return nameSeparators.ReplaceAllString(strings.ToLower(name), "_")
}

// Parse errors returned by ParseFile and FromURLPath.
var (
	// ErrUnknownFileType is returned when a filename has an unsupported
	// extension.
	ErrUnknownFileType = errors.New("unknown file type")

	// ErrInvalidFilename is returned when a filename has a supported
	// extension but does not split into the expected parts.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrNameMismatch is returned when the distribution name in a URL does
	// not match the package name embedded in the filename.
	ErrNameMismatch = errors.New("package name does not match filename")

	// ErrInvalidPath is returned when a URL path does not have the expected
	// number of segments.
	ErrInvalidPath = errors.New("invalid package path")
)

// distKind is the kind of Python distribution a File represents.
type distKind int

const (
	kindNone distKind = iota
	kindSdist
	kindWheel
)

// sdistArch is the OCI architecture string used for source distributions.
const sdistArch = ".tar.gz"

// File is a parsed Python package filename, either a source distribution or
// a wheel. The zero value has only a name and is not a concrete file.
type File struct {
	// Name is the distribution name. New normalises it; ParseFile keeps it
	// as written in the filename.
	Name string
	// Version is the distribution version.
	Version string
	// compat is the wheel compatibility tag string, empty for sdists.
	compat string
	kind   distKind
}

// ParseFile parses a Python distribution filename.
func ParseFile(s string) (File, error) {
	if s == "" {
		return File{}, fmt.Errorf("%w: empty filename", ErrInvalidFilename)
	}
	if rest, ok := strings.CutSuffix(s, ".whl"); ok {
		parts := strings.SplitN(rest, "-", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return File{}, fmt.Errorf("%w: %q", ErrInvalidFilename, s)
		}
		return File{Name: parts[0], Version: parts[1], compat: parts[2], kind: kindWheel}, nil
	}
	if rest, ok := strings.CutSuffix(s, ".tar.gz"); ok {
		parts := strings.SplitN(rest, "-", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return File{}, fmt.Errorf("%w: %q", ErrInvalidFilename, s)
		}
		return File{Name: parts[0], Version: parts[1], kind: kindSdist}, nil
	}
	return File{}, fmt.Errorf("%w: %q", ErrUnknownFileType, s)
}

// WithVersion returns a copy of f with the version replaced.
func (f File) WithVersion(version string) File {
	f.Version = version
	return f
}

// WithArch returns a copy of f with the distribution kind and compatibility
// tag derived from an OCI architecture string. The sdist architecture
// collapses the file to a source distribution regardless of its prior kind;
// any other value is parsed as the tail of a wheel filename.
func (f File) WithArch(arch string) (File, error) {
	if arch == sdistArch {
		return File{Name: f.Name, Version: f.Version, kind: kindSdist}, nil
	}
	return ParseFile(fmt.Sprintf("%s-%s-%s", f.Name, f.Version, arch))
}

// Arch returns the architecture string used on the OCI side: ".tar.gz" for a
// source distribution and "{compat}.whl" for a wheel.
func (f File) Arch() string {
	switch f.kind {
	case kindSdist:
		return sdistArch
	case kindWheel:
		return f.compat + ".whl"
	default:
		return ""
	}
}

// IsValid reports whether f identifies a concrete file, i.e. both name and
// version are set.
func (f File) IsValid() bool {
	return f.Name != "" && f.Version != ""
}

// String renders the filename. It is the inverse of ParseFile for every
// accepted input. The zero-kind File renders as its bare name.
func (f File) String() string {
	switch f.kind {
	case kindSdist:
		return fmt.Sprintf("%s-%s.tar.gz", f.Name, f.Version)
	case kindWheel:
		return fmt.Sprintf("%s-%s-%s.whl", f.Name, f.Version, f.compat)
	default:
		return f.Name
	}
}
