package api

import (
	"bytes"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"spacehire/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

type errorBody struct {
	Kind      apperr.Kind `json:"kind"`
	Reason    string      `json:"reason,omitempty"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the error envelope. Internal causes are logged by
// the caller and never reach the response.
func writeError(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	writeJSON(w, apperr.HTTPStatus(e.Kind), errorEnvelope{Error: errorBody{
		Kind:      e.Kind,
		Reason:    e.Reason,
		Message:   e.PublicMessage(),
		Retryable: e.Retryable(),
	}})
}

// writeStatus renders a transport-level failure such as 401 or 429.
func writeStatus(w http.ResponseWriter, status int, kind apperr.Kind, msg string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Kind: kind, Message: msg}})
}

// decode reads a JSON body, rejecting unknown fields. An empty body leaves v
// untouched.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Validation("cannot read request body")
	}
	if len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}
