package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	dErrors "covenant/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies so a misbehaving client cannot exhaust memory.
const maxBodyBytes = 1 << 20 // 1 MiB

// DecodeJSON decodes a JSON request body into dst with a size cap and strict
// field checking. Returns a domain error suitable for WriteError on failure.
func DecodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return dErrors.New(dErrors.CodeBadRequest, "request body is required")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	// A second decode catches trailing garbage after the JSON document.
	if dec.More() {
		return dErrors.New(dErrors.CodeBadRequest, "request body must contain a single JSON object")
	}
	return nil
}
