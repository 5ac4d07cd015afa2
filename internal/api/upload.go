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
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/pyoci/pyoci/internal/httperr"
)

// labelClassifierPrefix marks trove classifiers that encode gateway labels.
const labelClassifierPrefix = "PyOCI :: Label :: "

// uploadForm is a parsed PyPI legacy upload request.
//
// ref: https://docs.pypi.org/api/upload/
type uploadForm struct {
	filename    string
	content     []byte
	labels      map[string]string
	sha256      string
	projectURLs map[string]string
}

// parseUploadForm reads the multipart form of an upload request field by
// field. Unknown fields are discarded at debug level.
func parseUploadForm(r *http.Request, log logr.Logger) (*uploadForm, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, httperr.BadRequest(err.Error())
	}

	var action, protocolVersion *string
	form := &uploadForm{
		labels:      map[string]string{},
		projectURLs: map[string]string{},
	}
	var content []byte
	var contentSeen bool

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading multipart form: %w", err)
		}
		switch part.FormName() {
		case ":action":
			value, err := partText(part)
			if err != nil {
				return nil, err
			}
			action = &value
		case "protocol_version":
			value, err := partText(part)
			if err != nil {
				return nil, err
			}
			protocolVersion = &value
		case "content":
			form.filename = part.FileName()
			if content, err = io.ReadAll(part); err != nil {
				return nil, fmt.Errorf("reading 'content' form-field: %w", err)
			}
			contentSeen = true
		case "classifiers":
			value, err := partText(part)
			if err != nil {
				return nil, err
			}
			parseClassifier(value, form.labels, log)
		case "project_urls":
			value, err := partText(part)
			if err != nil {
				return nil, err
			}
			parseProjectURL(value, form.projectURLs, log)
		case "sha256_digest":
			if form.sha256, err = partText(part); err != nil {
				return nil, err
			}
		default:
			value, _ := partText(part)
			log.V(1).Info("discarding form field", "field", part.FormName(), "value", value)
		}
	}

	switch {
	case action == nil:
		return nil, httperr.BadRequest("Missing ':action' form-field")
	case *action != "file_upload":
		return nil, httperr.BadRequest("Invalid ':action' form-field")
	case protocolVersion == nil:
		return nil, httperr.BadRequest("Missing 'protocol_version' form-field")
	case *protocolVersion != "1":
		return nil, httperr.BadRequest("Invalid 'protocol_version' form-field")
	case !contentSeen:
		return nil, httperr.BadRequest("Missing 'content' form-field")
	case len(content) == 0:
		return nil, httperr.BadRequest("No 'content' provided")
	case form.filename == "":
		return nil, httperr.BadRequest("No 'filename' provided")
	}
	form.content = content
	return form, nil
}

func partText(part io.Reader) (string, error) {
	data, err := io.ReadAll(part)
	if err != nil {
		return "", fmt.Errorf("reading multipart field: %w", err)
	}
	return string(data), nil
}

// parseClassifier records a "PyOCI :: Label :: <key> :: <value>" classifier
// as a label. Any other classifier is discarded.
func parseClassifier(classifier string, labels map[string]string, log logr.Logger) {
	label, found := strings.CutPrefix(classifier, labelClassifierPrefix)
	if !found {
		log.V(1).Info("discarding classifier", "classifier", classifier)
		return
	}
	key, value, found := strings.Cut(label, " :: ")
	if !found {
		log.V(1).Info("invalid label classifier", "classifier", classifier)
		return
	}
	labels[key] = value
}

// parseProjectURL records a "<key>, <URL>" project URL. Any other format is
// discarded.
func parseProjectURL(projectURL string, projectURLs map[string]string, log logr.Logger) {
	key, value, found := strings.Cut(projectURL, ", ")
	if !found {
		log.V(1).Info("invalid project URL", "project_url", projectURL)
		return
	}
	projectURLs[key] = value
}
