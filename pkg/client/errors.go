package client

import (
	"errors"
	"fmt"
)

// ServerError is an error frame returned by the gateway, preserving the
// server's error code so callers can branch on it.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error [%s]: %s", e.Code, e.Message)
}

// HasCode reports whether err is a ServerError with the given code.
func HasCode(err error, code string) bool {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Code == code
	}
	return false
}
