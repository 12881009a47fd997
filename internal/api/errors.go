package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned for every 401 response. When it expired the
// session the client has already logged out and asked for a sign-in.
var ErrUnauthorized = errors.New("api: unauthorized")

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Code    int
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
	}
	return fmt.Sprintf("api: %d %s", e.Code, http.StatusText(e.Code))
}

// NetworkError wraps transport failures where no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("api: %s: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is a transport failure.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
