package synth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrRequestExpired is returned when the status endpoint no longer knows a request id.
var ErrRequestExpired = errors.New("synthesis request expired")

// maxErrorBody bounds how much of a response body is kept on an error.
const maxErrorBody = 2048

// NetworkError is a transport failure before any HTTP response was read.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

// Error formats transport failures for logs and task status.
func (e *NetworkError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPError is a non-2xx response from the synthesis API.
type HTTPError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Body       string `json:"body"`
}

// Error formats the status code with the most useful message available.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api request failed with status %d", e.StatusCode)
}

// ProtocolError is a 2xx response whose shape the client does not understand.
type ProtocolError struct {
	Message string `json:"message"`
	Body    string `json:"body,omitempty"`
}

// Error formats protocol violations.
func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return "unexpected api response: " + e.Message
}

// newHTTPError extracts a message from a JSON {"detail"} or {"error"} body,
// falling back to the raw text.
func newHTTPError(status int, body []byte) *HTTPError {
	text := truncate(strings.TrimSpace(string(body)))
	httpErr := &HTTPError{StatusCode: status, Body: text, Message: text}

	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if detail, ok := payload.Detail.(string); ok && detail != "" {
			httpErr.Message = detail
		} else if payload.Error != "" {
			httpErr.Message = payload.Error
		}
	}
	return httpErr
}

// truncate keeps error bodies readable in logs.
func truncate(text string) string {
	if len(text) <= maxErrorBody {
		return text
	}
	return text[:maxErrorBody] + "..."
}
