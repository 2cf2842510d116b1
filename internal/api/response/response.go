// Package response writes the JSON envelope every endpoint speaks:
// successes as {"data": ...}, failures as {"error": {code, message, details}}.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type successBody struct {
	Data any `json:"data"`
}

type failureBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data inside the success envelope with status 200.
func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, successBody{Data: data})
}

// Created writes data inside the success envelope with status 201.
func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, successBody{Data: data})
}

// Accepted writes data inside the success envelope with status 202. Used by
// the intake endpoints, where the upload is durably stored but the record
// lands asynchronously via the notification stream.
func Accepted(w http.ResponseWriter, data any) {
	write(w, http.StatusAccepted, successBody{Data: data})
}

// Error writes the error envelope. The code is a stable machine-readable
// identifier; message is for humans; details is optional structured context.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, failureBody{Error: apiError{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Status is already on the wire; all we can do is record it.
		slog.Error("encode response body", "error", err)
	}
}
