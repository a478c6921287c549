package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gatekit/gatekit/internal/model"
)

// writeJSON serializes v and writes it with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard envelope.
// Code is the stable machine-readable identifier for the failure.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{Code: code, Message: message},
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// listResponse wraps items in the standard list envelope.
func listResponse(items interface{}, count int) model.ListResponse {
	return model.ListResponse{
		Resource: items,
		Meta:     &model.ResponseMeta{Count: count},
	}
}
