package fioapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryValidation     Category = "validation"
	CategoryNotFound       Category = "not_found"
	CategoryRateLimit      Category = "rate_limit"
	CategoryServer         Category = "server"
	CategoryUnknown        Category = "unknown"
)

var categoryMessages = map[Category]string{
	CategoryNetwork:        "The results backend could not be reached. Check the connection and try again.",
	CategoryAuthentication: "Authentication failed. Check your credentials.",
	CategoryValidation:     "The request was rejected as invalid.",
	CategoryNotFound:       "The requested resource was not found.",
	CategoryRateLimit:      "Too many requests. Wait a moment and try again.",
	CategoryServer:         "The results backend failed to process the request.",
	CategoryUnknown:        "An unexpected error occurred.",
}

// Error is the typed failure of a backend call.
type Error struct {
	Category   Category
	StatusCode int
	// Message is safe to show to a user.
	Message string
	// Detail is whatever the backend said, if anything.
	Detail    string
	Method    string
	URL       string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	if e.Method != "" {
		fmt.Fprintf(&b, ": %s %s", e.Method, e.URL)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause stop at the typed error.
func (e *Error) Cause() error { return e.Err }

// Temporary reports whether repeating the request may succeed.
func (e *Error) Temporary() bool {
	switch e.Category {
	case CategoryNetwork, CategoryRateLimit:
		return true
	case CategoryServer:
		return e.StatusCode != http.StatusNotImplemented
	}
	return false
}

// CategoryOf finds the category of any error; errors that did not come from
// the backend client are unknown.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategoryUnknown
}

// HTTPStatus maps a category onto the status a proxying service should answer with.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryRateLimit:
		return http.StatusTooManyRequests
	case CategoryNetwork:
		return http.StatusBadGateway
	case CategoryServer:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func categoryForStatus(status int) Category {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CategoryAuthentication
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return CategoryValidation
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status == http.StatusTooManyRequests:
		return CategoryRateLimit
	case status >= 500:
		return CategoryServer
	}
	return CategoryUnknown
}

func newError(category Category, err error) *Error {
	return &Error{Category: category, Message: categoryMessages[category], Err: err}
}

// statusError builds the error for a non-2xx response from its body.
func statusError(status int, body []byte) *Error {
	e := newError(categoryForStatus(status), nil)
	e.StatusCode = status
	e.Detail = parseDetail(body)
	if e.Category == CategoryValidation && e.Detail != "" {
		e.Message = e.Detail
	}
	return e
}

// transportError wraps a failure that happened before any response arrived.
func transportError(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = errors.Wrap(err, ctxErr.Error())
	}
	return newError(CategoryNetwork, err)
}

// parseDetail extracts the message of an error body. The backend answers
// {"detail": "..."} and, for rejected input, {"detail": [{"loc": [...], "msg": "..."}]}.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail  interface{} `json:"detail"`
		Message interface{} `json:"message"`
		Error   interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		s := strings.TrimSpace(string(body))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	for _, v := range []interface{}{envelope.Detail, envelope.Message, envelope.Error} {
		if s := detailString(v); s != "" {
			return s
		}
	}
	return ""
}

func detailString(v interface{}) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	case []interface{}:
		var parts []string
		for _, item := range d {
			if s := detailString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]interface{}:
		msg := cast.ToString(d["msg"])
		if loc, ok := d["loc"].([]interface{}); ok && len(loc) > 0 && msg != "" {
			return strings.Join(cast.ToStringSlice(loc), ".") + ": " + msg
		}
		return msg
	}
	return cast.ToString(v)
}
