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
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pyoci/pyoci/internal/httputil"
	"github.com/pyoci/pyoci/pkg/logctx"
)

// EncodeNamespace rewrites request paths so that every "/" inside the
// namespace segment becomes "%2F".
//
// The URL grammar /{registry}/{namespace}/{package}/... allows an undefined
// number of sub-namespaces, which is ambiguous to a path router. With the
// namespace percent-encoded the router can match like a regular three-level
// path and PathValue hands the handler the decoded namespace.
//
// Expected shapes, under an optional subpath prefix:
//
//	GET/DELETE: /{registry}/{namespace...}/{package}/<tail>
//	POST:       /{registry}/{namespace...}/
//
// A path that does not have the expected boundaries passes through
// unchanged.
func EncodeNamespace(subpath string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path, ok := encodeNamespacePath(r.Method == http.MethodPost, r.URL.EscapedPath(), subpath); ok {
			// The rewrite only encodes existing separators, so the decoded
			// form is unchanged and RawPath stays a valid encoding of Path.
			r.URL.RawPath = path
		}
		next.ServeHTTP(w, r)
	})
}

func encodeNamespacePath(isPost bool, path, subpath string) (string, bool) {
	if !strings.HasPrefix(path, subpath) {
		return "", false
	}
	prefixLen := len(subpath)

	// The second "/" after the prefix ends the registry segment.
	registryEnd := prefixLen + findNthSlash(2, path[prefixLen:], false) + 1
	if registryEnd == prefixLen+1 || registryEnd > len(path) {
		return "", false
	}

	// Scanning from the end: for POST the namespace runs up to the last
	// "/", for any other method up to the second-to-last one.
	slashesFromEnd := 2
	if isPost {
		slashesFromEnd = 1
	}
	namespaceEnd := findNthSlash(slashesFromEnd, path, true)
	if namespaceEnd == prefixLen || namespaceEnd < registryEnd {
		return "", false
	}

	namespace := strings.ReplaceAll(path[registryEnd:namespaceEnd], "/", "%2F")
	return path[:registryEnd] + namespace + path[namespaceEnd:], true
}

// findNthSlash returns the byte index of the nth "/" in path, scanning
// backwards when reverse is set. It returns 0 when there are fewer than n
// slashes.
func findNthSlash(n int, path string, reverse bool) int {
	count := 0
	if reverse {
		for i := len(path) - 1; i >= 0; i-- {
			if path[i] == '/' {
				if count++; count == n {
					return i
				}
			}
		}
		return 0
	}
	for i := range len(path) {
		if path[i] == '/' {
			if count++; count == n {
				return i
			}
		}
	}
	return 0
}

// cacheControl marks responses cacheable for 7 days.
//
// This allows downstream caches to not wake up the server for unmatched
// paths like scrapers and vulnerability scanners.
func cacheControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(httputil.HeaderCacheControl, "max-age=604800, public")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog logs every request and records the request metrics. Request
// headers never reach the log record, they may carry credentials.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		r = r.WithContext(logctx.WithRequestID(r.Context(), requestID))

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		elapsed := time.Since(start)

		s.metrics.ObserveRequest(r.Method, recorder.status, elapsed.Seconds())
		s.log.Info("request",
			"host", r.Host,
			"type", "request",
			"status", recorder.status,
			"method", r.Method,
			"path", r.URL.EscapedPath(),
			"user_agent", r.UserAgent(),
			"request_id", requestID,
			"duration", elapsed.String(),
		)
	})
}
