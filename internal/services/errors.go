// Package services provides the business logic layer between handlers and the
// query, auth and upstream packages.
package services

import (
	"errors"
	"net/http"

	"github.com/storepulse/pulsegate/internal/auth"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/upstream"
)

// Error codes
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeUpstream            = "UPSTREAM_ERROR"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// ServiceError represents a service layer error
type ServiceError struct {
	Status  int                    `json:"-"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the classified error
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// NewServiceError creates a new ServiceError
func NewServiceError(status int, code, message string) *ServiceError {
	return &ServiceError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// NewServiceErrorWithDetails creates a new ServiceError with details
func NewServiceErrorWithDetails(status int, code, message string, details map[string]interface{}) *ServiceError {
	return &ServiceError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Classify maps err onto the status and code surfaced to the caller. Anything
// unrecognized becomes a generic internal error; its text is not exposed.
func Classify(err error) *ServiceError {
	if err == nil {
		return nil
	}

	var (
		svcErr       *ServiceError
		validation   *query.ValidationError
		dateErr      *query.DateError
		authErr      *auth.Error
		upstreamErr  *upstream.Error
		transportErr *upstream.TransportError
	)

	var out *ServiceError
	switch {
	case errors.As(err, &svcErr):
		return svcErr
	case errors.As(err, &validation):
		out = NewServiceErrorWithDetails(http.StatusBadRequest, CodeValidation, validation.Reason,
			map[string]interface{}{"field": validation.Field})
	case errors.As(err, &dateErr):
		out = NewServiceErrorWithDetails(http.StatusBadRequest, CodeValidation, dateErr.Error(),
			map[string]interface{}{"field": dateErr.Field})
	case errors.As(err, &authErr):
		code := CodeForbidden
		if authErr.Status == http.StatusUnauthorized {
			code = CodeUnauthorized
		}
		out = NewServiceError(authErr.Status, code, authErr.Reason)
	case errors.As(err, &upstreamErr):
		details := map[string]interface{}{
			"endpoint": upstreamErr.Endpoint,
			"kind":     string(upstreamErr.Kind),
		}
		if upstreamErr.Status != 0 {
			details["upstream_status"] = upstreamErr.Status
		}
		if upstreamErr.Details != nil {
			details["upstream"] = upstreamErr.Details
		}
		out = NewServiceErrorWithDetails(upstreamErr.HTTPStatus(), CodeUpstream, upstreamErr.Message, details)
	case errors.As(err, &transportErr):
		out = NewServiceErrorWithDetails(http.StatusBadGateway, CodeUpstreamUnavailable,
			"aggregation service is unreachable",
			map[string]interface{}{
				"endpoint": transportErr.Endpoint,
				"attempts": transportErr.Attempts,
			})
	default:
		out = NewServiceError(http.StatusInternalServerError, CodeInternal, "internal error")
	}
	out.cause = err
	return out
}
