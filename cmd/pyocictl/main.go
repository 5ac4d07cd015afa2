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

// Pyocictl is a CLI companion to the pyoci gateway that talks to an OCI
// registry directly: list, download, publish and delete Python packages
// stored as OCI artifacts.
package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/pyoci/pyoci/internal/packaging"
	"github.com/pyoci/pyoci/internal/pyoci"
	"github.com/pyoci/pyoci/internal/version"
)

var (
	username    string
	password    string
	maxVersions int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pyocictl",
		Short:         "Manage Python packages in an OCI registry",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&username, "username", "u", "",
		"Username to authenticate to the OCI registry with")
	root.PersistentFlags().StringVarP(&password, "password", "p", "",
		"Password to authenticate to the OCI registry with")

	root.AddCommand(newListCmd(), newDownloadCmd(), newPublishCmd(), newDeleteCmd())
	return root
}

// client builds a registry client for the package, with Basic credentials
// when provided.
func client(pkg packaging.Package) (*pyoci.PyOci, error) {
	registry, err := pkg.RegistryURL()
	if err != nil {
		return nil, err
	}
	var auth string
	if username != "" || password != "" {
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}
	return pyoci.New(registry, auth, logr.Discard(), nil), nil
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <registry>/<namespace>/<package>",
		Short: "List the files of a python package in an OCI registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := packaging.FromURLPath(args[0])
			if err != nil {
				return err
			}
			c, err := client(pkg)
			if err != nil {
				return err
			}
			files, err := c.ListPackageFiles(cmd.Context(), pkg, maxVersions)
			if err != nil {
				return err
			}
			for _, file := range files {
				fmt.Fprintln(cmd.OutOrStdout(), file.Filename())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxVersions, "max-versions", 100, "Maximum number of versions to list")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "download <registry>/<namespace>/<package>/<filename>",
		Short: "Download a python package from an OCI registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := packaging.FromURLPath(args[0])
			if err != nil {
				return err
			}
			c, err := client(pkg)
			if err != nil {
				return err
			}
			data, err := c.DownloadPackageFile(cmd.Context(), pkg)
			if err != nil {
				return err
			}
			defer func() { _ = data.Close() }()

			target := filepath.Join(outDir, pkg.Filename())
			file, err := os.Create(target)
			if err != nil {
				return err
			}
			defer func() { _ = file.Close() }()
			if _, err := io.Copy(file, data); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", ".", "Directory to download the file to")
	return cmd
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <registry>/<namespace> <file>",
		Short: "Publish a python package to an OCI registry",
		Long: `Publish a python package to an OCI registry.

The filename must adhere to the python source or binary distribution file
name conventions.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, namespace, err := splitNamespaceURL(args[0])
			if err != nil {
				return err
			}
			pkg, err := packaging.FromFilename(registry, namespace, filepath.Base(args[1]))
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			c, err := client(pkg)
			if err != nil {
				return err
			}
			if err := c.PublishPackageFile(cmd.Context(), pkg, content, pyoci.UploadOptions{}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Published", pkg.Filename())
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <registry>/<namespace>/<package> <version>",
		Short: "Delete a python package version from an OCI registry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := packaging.FromURLPath(args[0])
			if err != nil {
				return err
			}
			pkg, err = pkg.WithOCIFile(args[1], "")
			if err != nil {
				return err
			}
			c, err := client(pkg)
			if err != nil {
				return err
			}
			if err := c.DeletePackageVersion(cmd.Context(), pkg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted", pkg.Name(), args[1])
			return nil
		},
	}
}

// splitNamespaceURL splits "<registry>/<namespace>" into its parts. The
// registry may carry a scheme ("http://host:port") and the namespace may
// contain further "/" separators.
func splitNamespaceURL(s string) (registry, namespace string, err error) {
	rest := s
	var scheme string
	if i := strings.Index(s, "://"); i >= 0 && !strings.Contains(s[:i], "/") {
		scheme, rest = s[:i+3], s[i+3:]
	}
	registry, namespace, found := strings.Cut(rest, "/")
	if !found || registry == "" || namespace == "" {
		return "", "", fmt.Errorf("expected <registry>/<namespace>, got %q", s)
	}
	return scheme + registry, namespace, nil
}
