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

// Package httperr provides the typed error that crosses the boundary between
// the gateway internals and the HTTP response writer. Upstream registry
// errors keep their original status and body; anything unclassified becomes
// a 500 with the error's display text.
package httperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
)

// Error is an error carrying an HTTP status and a plain-text message.
type Error struct {
	Status  int
	Message string
}

// New creates an Error with the given status and message.
func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// BadRequest creates a 400 Error.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

// NotFound creates a 404 Error.
func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

// BadGateway creates a 502 Error.
func BadGateway(message string) *Error {
	return New(http.StatusBadGateway, message)
}

// Upstream creates an Error that passes an upstream registry response
// through verbatim.
func Upstream(status int, body string) *Error {
	return &Error{Status: status, Message: body}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Write renders err to w. A *Error keeps its status and message, everything
// else becomes a 500 Internal Server Error with the error text as body.
func Write(w http.ResponseWriter, err error, log logr.Logger) {
	var herr *Error
	if !errors.As(err, &herr) {
		herr = &Error{Status: http.StatusInternalServerError, Message: err.Error()}
		log.Error(err, "unclassified error")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(herr.Status)
	_, _ = w.Write([]byte(herr.Message))
}
