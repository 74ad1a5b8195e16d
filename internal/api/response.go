package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo represents error information in a response
type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details []ValidationError `json:"details,omitempty"`
}

// Meta carries list metadata
type Meta struct {
	Total     int    `json:"total,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data interface{}) {
	JSONWithMeta(w, status, data, nil)
}

// JSONWithMeta sends a JSON response with metadata
func JSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationErrorResponse sends a validation error response
func ValidationErrorResponse(w http.ResponseWriter, errors ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    "VALIDATION_ERROR",
			Message: "Request validation failed",
			Details: errors,
		},
	})
}

// Common error responses
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

func Unavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", message)
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// GridError maps a controller error to a response
func GridError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grid.ErrCameraNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, grid.ErrUnknownField),
		errors.Is(err, grid.ErrInvalidValue),
		errors.Is(err, grid.ErrUnknownLayout),
		errors.Is(err, grid.ErrInvalidDirection):
		BadRequest(w, err.Error())
	case errors.Is(err, grid.ErrLayoutLocked):
		Error(w, http.StatusConflict, "LAYOUT_LOCKED", err.Error())
	case errors.Is(err, grid.ErrNotEditing):
		Error(w, http.StatusConflict, "NOT_EDITING", err.Error())
	case errors.Is(err, grid.ErrAlreadyEditing):
		Error(w, http.StatusConflict, "ALREADY_EDITING", err.Error())
	case errors.Is(err, grid.ErrClosed):
		Unavailable(w, err.Error())
	default:
		InternalError(w, err.Error())
	}
}
