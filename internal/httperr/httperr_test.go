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

package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestWriteTypedError(t *testing.T) {
	recorder := httptest.NewRecorder()
	Write(recorder, NotFound("ImageManifest '1.0.0' does not exist"), logr.Discard())

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "ImageManifest '1.0.0' does not exist", recorder.Body.String())
}

func TestWriteWrappedError(t *testing.T) {
	recorder := httptest.NewRecorder()
	err := fmt.Errorf("listing package: %w", Upstream(http.StatusForbidden, "denied"))
	Write(recorder, err, logr.Discard())

	// The wrapped typed error keeps its status and upstream body.
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "denied", recorder.Body.String())
}

func TestWriteUnclassifiedError(t *testing.T) {
	recorder := httptest.NewRecorder()
	Write(recorder, errors.New("something broke"), logr.Discard())

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Equal(t, "something broke", recorder.Body.String())
}

func TestErrorString(t *testing.T) {
	err := BadRequest("Invalid ':action' form-field")
	assert.Equal(t, "400 Bad Request: Invalid ':action' form-field", err.Error())
}
