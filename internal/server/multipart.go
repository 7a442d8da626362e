package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	language "github.com/relaygraph/protograph/internal/language"
)

// multipartMaxMemory bounds how much of a multipart request ParseMultipartForm
// buffers in memory before spilling file parts to temporary files.
const multipartMaxMemory = 32 << 20

// parseMultipartRequest implements the GraphQL multipart request spec
// (https://github.com/jaydenseric/graphql-multipart-request-spec), the wire
// format for the Upload scalar: an "operations" field holds the
// JSON request body with Upload variables set to null, a "map" field maps
// each file part's form field name to the variable paths it fills, and the
// remaining parts are the file contents themselves.
func parseMultipartRequest(r *http.Request, maxBody int64) (GraphQLRequest, *language.Error) {
	if maxBody > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBody)
	}
	if err := r.ParseMultipartForm(multipartMaxMemory); err != nil {
		if err == http.ErrNotMultipart || strings.Contains(err.Error(), "http: request body too large") {
			return GraphQLRequest{}, &language.Error{Message: errBodyTooLargeMessage}
		}
		return GraphQLRequest{}, &language.Error{Message: "invalid multipart request: " + err.Error()}
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	operationsRaw := r.FormValue("operations")
	if operationsRaw == "" {
		return GraphQLRequest{}, &language.Error{Message: "multipart request missing 'operations' field"}
	}
	var req GraphQLRequest
	if err := json.Unmarshal([]byte(operationsRaw), &req); err != nil {
		return GraphQLRequest{}, &language.Error{Message: "invalid 'operations' JSON: " + err.Error()}
	}
	if req.Query == "" {
		return GraphQLRequest{}, &language.Error{Message: "missing 'query'"}
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}

	mapRaw := r.FormValue("map")
	if mapRaw == "" {
		// No files declared; operations stands on its own.
		return req, nil
	}
	var fileMap map[string][]string
	if err := json.Unmarshal([]byte(mapRaw), &fileMap); err != nil {
		return GraphQLRequest{}, &language.Error{Message: "invalid 'map' JSON: " + err.Error()}
	}

	for fieldName, paths := range fileMap {
		file, _, err := r.FormFile(fieldName)
		if err != nil {
			return GraphQLRequest{}, &language.Error{Message: fmt.Sprintf("map references missing file part %q", fieldName)}
		}
		content, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return GraphQLRequest{}, &language.Error{Message: fmt.Sprintf("reading file part %q: %v", fieldName, err)}
		}
		for _, path := range paths {
			if err := setVariablePath(req.Variables, path, content); err != nil {
				return GraphQLRequest{}, &language.Error{Message: fmt.Sprintf("map path %q: %v", path, err)}
			}
		}
	}

	return req, nil
}

// setVariablePath assigns value at a dot-separated path rooted at
// "variables" (e.g. "variables.file" or "variables.input.avatar"), per the
// multipart request spec's path addressing. Intermediate containers must
// already exist in the decoded operations JSON (as the null placeholder's
// enclosing object/array); this only ever overwrites a leaf.
func setVariablePath(vars map[string]any, path string, value any) error {
	segments := strings.Split(path, ".")
	if len(segments) < 2 || segments[0] != "variables" {
		return fmt.Errorf("path must start with \"variables.\"")
	}
	return setPath(vars, segments[1:], value)
}

// setPath descends container (a map[string]any or []any, as produced by
// json.Unmarshal) following segments, and assigns value at the final
// segment. Each non-final segment must already resolve to a nested
// map/slice; this never creates intermediate structure.
func setPath(container any, segments []string, value any) error {
	if len(segments) == 0 {
		return fmt.Errorf("empty path")
	}
	seg := segments[0]
	last := len(segments) == 1

	switch c := container.(type) {
	case map[string]any:
		if last {
			c[seg] = value
			return nil
		}
		next, ok := c[seg]
		if !ok {
			return fmt.Errorf("segment %q not found", seg)
		}
		return setPath(next, segments[1:], value)
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return fmt.Errorf("segment %q is not a valid index", seg)
		}
		if last {
			c[idx] = value
			return nil
		}
		return setPath(c[idx], segments[1:], value)
	default:
		return fmt.Errorf("segment %q: not addressable (container is %T)", seg, container)
	}
}
