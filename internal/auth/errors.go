package auth

import "net/http"

// Error is an authorization failure. Status is 401 when the credential itself
// is missing, invalid or expired, and 403 when a valid caller asks for more
// than it is allowed to see.
type Error struct {
	Status int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unauthorized builds a 401-class error
func Unauthorized(reason string, err error) *Error {
	return &Error{Status: http.StatusUnauthorized, Reason: reason, Err: err}
}

// Forbidden builds a 403-class error
func Forbidden(reason string, err error) *Error {
	return &Error{Status: http.StatusForbidden, Reason: reason, Err: err}
}
