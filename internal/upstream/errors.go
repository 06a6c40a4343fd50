package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// rawSnippetLimit caps the raw body echoed back when an error body is not JSON
const rawSnippetLimit = 500

// ErrorKind distinguishes status failures from body decode failures
type ErrorKind string

const (
	// KindStatus is a non-2xx response
	KindStatus ErrorKind = "status"
	// KindDecode is a 2xx response whose body was not valid JSON
	KindDecode ErrorKind = "decode"
)

// Error is a failed call that reached the aggregation service
type Error struct {
	Endpoint string
	Status   int
	Kind     ErrorKind
	Message  string
	Details  interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s [%d]: %s", e.Endpoint, e.Status, e.Message)
}

// HTTPStatus is the status to surface to the caller: the upstream status when
// it is an HTTP error status, bad gateway otherwise.
func (e *Error) HTTPStatus() int {
	if e.Status >= 400 && e.Status <= 599 {
		return e.Status
	}
	return http.StatusBadGateway
}

// TransportError is a timeout or connection failure that outlived every retry
type TransportError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s unreachable after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func statusError(endpoint string, resp *Response) *Error {
	return &Error{
		Endpoint: endpoint,
		Status:   resp.StatusCode,
		Kind:     KindStatus,
		Message:  fmt.Sprintf("aggregation service %s request failed", endpoint),
		Details:  errorDetails(resp.Body),
	}
}

func decodeError(endpoint string, resp *Response, err error) *Error {
	return &Error{
		Endpoint: endpoint,
		Status:   resp.StatusCode,
		Kind:     KindDecode,
		Message:  fmt.Sprintf("aggregation service %s returned invalid JSON", endpoint),
		Details:  map[string]interface{}{"error": err.Error()},
	}
}

// errorDetails returns the structured error body or a truncated raw fallback
func errorDetails(body []byte) interface{} {
	var details interface{}
	if err := json.Unmarshal(body, &details); err == nil {
		return details
	}
	raw := []rune(string(body))
	if len(raw) > rawSnippetLimit {
		raw = raw[:rawSnippetLimit]
	}
	return map[string]interface{}{"raw": string(raw)}
}
