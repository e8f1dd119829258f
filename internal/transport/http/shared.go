package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "rollcall/pkg/domain-errors"
)

// errorBody is the JSON error envelope every endpoint returns.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvalidState:
		return http.StatusConflict
	case dErrors.CodeRoundClosed, dErrors.CodeOutOfWindow, dErrors.CodeUnvalidated:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates coded domain errors to HTTP responses. Uncoded
// errors become opaque 500s; internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: string(dErrors.CodeInternal)})
		return
	}
	writeJSON(w, statusFor(de.Code), errorBody{Error: string(de.Code), Message: de.Message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid request body")
	}
	return nil
}
