package handler

import (
	"encoding/json"
	"net/http"
)

// ErrorDetail is the error member of a failed response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type jsonResponse struct {
	status int
	body   any
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

type JSONOption func(*jsonResponse)

// WithJSONStatus sets the HTTP status code.
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) { r.status = status }
}

// JSON renders v with status 200 unless an option says otherwise.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: v}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Success renders {"success": true} merged with fields.
func Success(fields map[string]any, opts ...JSONOption) Response {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return JSON(body, opts...)
}

// errorResponse renders a classified error.
type errorResponse ErrorInfo

func (e errorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return JSON(errorBody{Error: ErrorDetail{Code: e.Code, Message: e.Message}}, WithJSONStatus(e.StatusCode)).Render(w, r)
}

type failure struct{ err error }

func (f failure) Render(http.ResponseWriter, *http.Request) error { return f.err }

// Fail hands err to the ErrorHandler.
func Fail(err error) Response {
	return failure{err: err}
}
