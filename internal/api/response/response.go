package response

import (
	"encoding/json"
	"net/http"
)

// Code identifies an error in the error envelope. Each code has one HTTP
// status.
type Code string

const (
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeInvalidJobID         Code = "INVALID_JOB_ID"
	CodeInvalidKeyID         Code = "INVALID_KEY_ID"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeInvalidToken         Code = "INVALID_TOKEN"
	CodeForbidden            Code = "FORBIDDEN"
	CodeJobNotFound          Code = "JOB_NOT_FOUND"
	CodeKeyNotFound          Code = "KEY_NOT_FOUND"
	CodeNoAuditYet           Code = "NO_AUDIT_YET"
	CodeDuplicateAnalysis    Code = "DUPLICATE_ANALYSIS"
	CodeDuplicateKey         Code = "DUPLICATE_KEY"
	CodeRateLimited          Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal             Code = "INTERNAL_ERROR"
	CodeNotImplemented       Code = "NOT_IMPLEMENTED"
	CodeDuplicateCheckFailed Code = "DUPLICATE_CHECK_FAILED"
	CodeBackendNotConfigured Code = "BACKEND_NOT_CONFIGURED"
	CodeQueueUnavailable     Code = "QUEUE_UNAVAILABLE"
	CodeDegraded             Code = "DEGRADED"
)

var codeStatus = map[Code]int{
	CodeInvalidRequest:       http.StatusBadRequest,
	CodeInvalidJobID:         http.StatusBadRequest,
	CodeInvalidKeyID:         http.StatusBadRequest,
	CodeUnauthorized:         http.StatusUnauthorized,
	CodeInvalidToken:         http.StatusUnauthorized,
	CodeForbidden:            http.StatusForbidden,
	CodeJobNotFound:          http.StatusNotFound,
	CodeKeyNotFound:          http.StatusNotFound,
	CodeNoAuditYet:           http.StatusNotFound,
	CodeDuplicateAnalysis:    http.StatusConflict,
	CodeDuplicateKey:         http.StatusConflict,
	CodeRateLimited:          http.StatusTooManyRequests,
	CodeInternal:             http.StatusInternalServerError,
	CodeNotImplemented:       http.StatusNotImplemented,
	CodeDuplicateCheckFailed: http.StatusServiceUnavailable,
	CodeBackendNotConfigured: http.StatusServiceUnavailable,
	CodeQueueUnavailable:     http.StatusServiceUnavailable,
	CodeDegraded:             http.StatusServiceUnavailable,
}

// Status returns the HTTP status sent with the code. Unknown codes map to
// 500.
func (c Code) Status() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

// Error writes the error envelope with the code's status.
func Error(w http.ResponseWriter, code Code, message string, details any) {
	writeJSON(w, code.Status(), errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Internal writes a 500 that hides the cause from the caller.
func Internal(w http.ResponseWriter) {
	Error(w, CodeInternal, "An unexpected error occurred", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
