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

// Package transport provides the HTTP transport used to talk to upstream
// OCI registries. It passes the caller's Basic credential through and trades
// it for a Bearer token when the registry challenges with a 401.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/pyoci/pyoci/internal/version"
	"github.com/pyoci/pyoci/pkg/metrics"
)

var (
	realmRe   = regexp.MustCompile(`realm="([^"\s]*)`)
	serviceRe = regexp.MustCompile(`service="([^"\s]*)`)
)

var errNotReplayable = errors.New("request body cannot be replayed")

// Transport sends HTTP requests to an upstream OCI registry.
//
// It holds optional Basic credential material and a cached Bearer token.
// A single Transport may be used concurrently; the bearer slot is guarded by
// a mutex that is never held across network I/O, so a burst of cold-cache
// 401s may trigger more than one token exchange. Tokens are idempotent, the
// last exchange wins.
type Transport struct {
	client *http.Client
	// basic is the raw Authorization header value provided by the caller,
	// normally "Basic <credentials>". It is passed through verbatim on the
	// token exchange and must never be logged.
	basic   string
	log     logr.Logger
	metrics *metrics.GatewayMetrics

	mu sync.Mutex
	// bearer is the cached "Bearer <token>" header value, empty until the
	// first successful exchange.
	bearer string
}

// New creates a Transport. auth is the caller's Authorization header value,
// it may be empty for anonymous access.
func New(auth string, log logr.Logger, m *metrics.GatewayMetrics) *Transport {
	return &Transport{
		client:  &http.Client{},
		basic:   auth,
		log:     log,
		metrics: m,
	}
}

// Do sends a request.
//
// A cached Bearer token is attached when present. On a 401 with a parseable
// Bearer challenge the Basic credential is exchanged for a token and the
// request is replayed once. In every other case the upstream response is
// returned unchanged.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	// Capture a replayable copy before the body is consumed.
	replay, replayErr := cloneRequest(req)

	t.mu.Lock()
	bearer := t.bearer
	t.mu.Unlock()
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}

	resp, err := t.send(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if replayErr != nil {
		// Body already consumed, the caller gets the 401.
		return resp, nil
	}

	realm, service, ok := parseWWWAuthenticate(resp.Header.Get("WWW-Authenticate"))
	if !ok || t.basic == "" {
		return resp, nil
	}
	bearer, ok = t.exchange(req, realm, service)
	if !ok {
		return resp, nil
	}

	t.mu.Lock()
	t.bearer = bearer
	t.mu.Unlock()

	_ = resp.Body.Close()
	replay.Header.Set("Authorization", bearer)
	return t.send(replay)
}

// exchange trades the Basic credential for a Bearer token at the realm named
// by the challenge. Any failure leaves the original 401 in place.
func (t *Transport) exchange(orig *http.Request, realm, service string) (string, bool) {
	u, err := url.Parse(realm)
	if err != nil {
		t.log.V(1).Info("invalid WWW-Authenticate realm", "realm", realm)
		return "", false
	}
	query := u.Query()
	query.Set("grant_type", "password")
	query.Set("service", service)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(orig.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Authorization", t.basic)
	resp, err := t.send(req)
	if err != nil {
		t.log.V(1).Info("token exchange failed", "error", err.Error())
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		t.log.V(1).Info("invalid token exchange response", "error", err.Error())
		return "", false
	}
	return "Bearer " + auth.Token, true
}

// send dispatches a single request. Only method, status and URL are logged;
// headers carry credentials and stay out of the log record.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	t.log.Info("HTTP", "method", req.Method, "status", resp.StatusCode, "url", req.URL.Redacted())
	t.metrics.ObserveUpstreamRequest(req.Method, resp.StatusCode)
	return resp, nil
}

// cloneRequest returns a copy of req that can be sent again. Requests whose
// body has no GetBody cannot be replayed.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

// parseWWWAuthenticate extracts realm and service from a Bearer challenge.
// Only the Bearer scheme with realm and service parameters is recognised;
// the scope parameter is accepted but ignored.
func parseWWWAuthenticate(value string) (realm, service string, ok bool) {
	rest, found := strings.CutPrefix(value, "Bearer ")
	if !found {
		return "", "", false
	}
	realmMatch := realmRe.FindStringSubmatch(rest)
	if realmMatch == nil {
		return "", "", false
	}
	serviceMatch := serviceRe.FindStringSubmatch(rest)
	if serviceMatch == nil {
		return "", "", false
	}
	return realmMatch[1], serviceMatch[1], true
}
