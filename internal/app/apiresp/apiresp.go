package apiresp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, true, data, "", nil)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	write(w, r, status, false, nil, msg, nil)
}

// WriteErrorDetails attaches structured fields to the error payload, e.g.
// the blocking attempt count on a refused test deletion.
func WriteErrorDetails(w http.ResponseWriter, r *http.Request, status int, msg string, details map[string]any) {
	write(w, r, status, false, nil, msg, details)
}

func write(w http.ResponseWriter, r *http.Request, status int, ok bool, data interface{}, errMsg string, details map[string]any) {
	res := Envelope{
		OK: ok,
		Meta: Meta{
			RequestID: middleware.GetReqID(r.Context()),
		},
	}
	if ok {
		res.Data = data
	} else {
		if errMsg == "" {
			errMsg = http.StatusText(status)
		}
		res.Error = &ErrorPayload{
			Code:    codeFromStatus(status),
			Message: errMsg,
			Details: details,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusBadGateway:
		return "delegate_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
