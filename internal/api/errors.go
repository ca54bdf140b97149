package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeReadOnly     = "read_only"
	ErrCodeTypeMismatch = "type_mismatch"
)

// pvErrors maps PV sentinel errors onto responses, first match wins.
var pvErrors = []struct {
	err    error
	status int
	code   string
}{
	{pv.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{pv.ErrReadOnly, http.StatusForbidden, ErrCodeReadOnly},
	{pv.ErrTypeMismatch, http.StatusUnprocessableEntity, ErrCodeTypeMismatch},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writePVError answers a failed PV read or write.
func writePVError(w http.ResponseWriter, err error) {
	for _, m := range pvErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeInternalError(w, err.Error())
}
