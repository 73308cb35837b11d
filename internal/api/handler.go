// Package api provides HTTP handlers for the skills API.
package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// Error codes reported in the envelope.
const (
	CodeSkillError     = "SKILL_ERROR"
	CodeTestSkillError = "TEST_SKILL_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeRateLimited    = "RATE_LIMITED"
	CodeNotFound       = "NOT_FOUND"
)

// Envelope is the response body of every skill endpoint.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    *ErrorBody     `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Success writes a successful envelope.
func Success(w http.ResponseWriter, data any, metadata map[string]any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data, Metadata: metadata})
}

// Failure writes a failed envelope.
func Failure(w http.ResponseWriter, status int, code, message string, details, metadata map[string]any) {
	JSON(w, status, Envelope{
		Error:    &ErrorBody{Code: code, Message: message, Details: details},
		Metadata: metadata,
	})
}

// since returns the request duration in seconds for envelope metadata.
func since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
