package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"notekeep/cmd/internal/auth/secerr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return invalidBody("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return invalidBody("body too large")
		}
		return invalidBody("malformed JSON")
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return invalidBody("extra data after JSON object")
	}
	return nil
}

func invalidBody(msg string) error {
	return secerr.Validation("Invalid request body", []secerr.FieldError{{
		Field:   "body",
		Message: msg,
		Code:    "invalid_json",
	}})
}
