// Package httputil provides HTTP handler utilities for the uniform response
// envelope, consistent error codes, JSON encoding/decoding, and request
// parsing.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Stable error codes returned in the response envelope. Clients branch on
// these, never on message text.
const (
	CodeMissingOrgContext = "MISSING_ORG_CONTEXT"
	CodeForbidden         = "FORBIDDEN"
	CodeActionNotAllowed  = "ACTION_NOT_ALLOWED"
	CodeNoProjectAccess   = "NO_PROJECT_ACCESS"
	CodeBadRequest        = "BAD_REQUEST"
	CodeValidation        = "VALIDATION_ERROR"
	CodeSystemRoleRename  = "SYSTEM_ROLE_RENAME"
	CodeRoleInUse         = "ROLE_IN_USE"
	CodeUnknownPermission = "UNKNOWN_PERMISSION"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)

// APIError is the error half of the response envelope
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Response is the uniform envelope for every API response. Success responses
// carry Data; failures carry Error with a stable code. A denial is never a
// 200.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// WriteJSON writes a raw JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteData writes a success envelope with the given status code
func WriteData(w http.ResponseWriter, status int, data interface{}) error {
	return WriteJSON(w, status, Response{Success: true, Data: data})
}

// WriteSuccess writes a success envelope (200 OK)
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteData(w, http.StatusOK, data)
}

// WriteCreated writes a success envelope for a created resource (201 Created)
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteData(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no body (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes a failure envelope with the given status, code and message
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   &APIError{Message: message, Code: code},
	})
}

// WriteBadRequest writes a bad request failure (400, BAD_REQUEST)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

// WriteValidationError writes a validation failure (400, VALIDATION_ERROR)
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidation, message)
}

// WriteForbidden writes a denial (403) with the caller's specific code so the
// UI can distinguish role, permission and project-access failures
func WriteForbidden(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusForbidden, code, message)
}

// WriteNotFound writes a not found failure (404, NOT_FOUND)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// WriteConflict writes a conflict failure (409) with the caller's code
func WriteConflict(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusConflict, code, message)
}

// WriteTooManyRequests writes a rate limit failure (429, RATE_LIMITED)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// WriteInternalError writes an internal failure (500, INTERNAL_ERROR)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, err.Error())
}

// WriteJSONOrError writes a success envelope or a 500 if encoding fails
func WriteJSONOrError(w http.ResponseWriter, status int, data interface{}, errMsg string) {
	if err := WriteData(w, status, data); err != nil {
		WriteInternalError(w, fmt.Errorf("%s: %w", errMsg, err))
	}
}
