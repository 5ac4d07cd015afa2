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
	"strings"

	"github.com/pyoci/pyoci/internal/httperr"
)

// parseLink extracts the target of an RFC 5988 Link header used for tag list
// pagination. Only `<url>; rel="next"` is accepted; the target may be
// absolute or registry-relative. Anything else is a bad gateway, the
// upstream registry is not speaking the distribution spec.
func parseLink(value string) (string, error) {
	parts := strings.Split(value, ";")
	target := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
		return "", httperr.BadGateway("OCI registry provided an invalid Link target")
	}
	target = strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")

	for _, param := range parts[1:] {
		key, val, found := strings.Cut(param, "=")
		if !found {
			continue
		}
		if strings.TrimSpace(key) == "rel" && strings.TrimSpace(val) == `"next"` {
			return target, nil
		}
	}
	return "", httperr.BadGateway("OCI registry provided an invalid Link rel")
}
