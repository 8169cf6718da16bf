package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/target/taskrelay/internal/errors"
)

// WriteJSON encodes v before touching the response so an encoding failure can still become a 500.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

type errorBody struct {
	// Error is the request-specific slug callers branch on, e.g. "await_failed".
	Error   string              `json:"error"`
	Kind    apperrors.ErrorCode `json:"kind,omitempty"`
	Field   string              `json:"field,omitempty"`
	Message string              `json:"message"`
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response with an explicit status.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, errorBody{
		Error:   p.ErrCode,
		Kind:    apperrors.GetCode(p.Err),
		Field:   apperrors.GetField(p.Err),
		Message: p.Err.Error(),
	})
}

// WriteAppError derives the status from err's ErrorCode. Context errors map to timeout or
// canceled; anything else outside the taxonomy is reported as fallback.
func WriteAppError(w http.ResponseWriter, slug string, err error, fallback apperrors.ErrorCode) {
	if err == nil {
		err = apperrors.Internal(slug)
	}
	kind := apperrors.GetCode(err)
	if kind == "" {
		if ctxErr := apperrors.FromContext(err); ctxErr != nil {
			err, kind = ctxErr, ctxErr.Code
		} else {
			err, kind = apperrors.Wrap(err, fallback, string(fallback)), fallback
		}
	}
	WriteError(w, ErrorParams{Code: apperrors.HTTPStatus(kind), ErrCode: slug, Err: err})
}
