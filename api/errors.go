package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/types"
)

// Error is a failed call to the remote mark API
type Error struct {
	Kind       types.ErrorKind
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("mark api %s: %v", e.Kind, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("mark api %s: status %d: %s", e.Kind, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("mark api %s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind
func NewError(kind types.ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf classifies err. Errors not produced by this package count as network failures.
func KindOf(err error) types.ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return types.ErrorKindNetwork
}

// IsRateLimited reports whether err is a rate limit rejection
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == types.ErrorKindRateLimited
}

// classifyResponse maps an error response to an ErrorKind. The body code, when
// it names a known condition, wins over the status code.
func classifyResponse(statusCode int, code middleware.ErrorCode) types.ErrorKind {
	switch code {
	case middleware.ErrCodeRateLimited:
		return types.ErrorKindRateLimited
	case middleware.ErrCodeConflict:
		return types.ErrorKindConflict
	case middleware.ErrCodeForbidden:
		return types.ErrorKindForbidden
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return types.ErrorKindRateLimited
	case http.StatusConflict:
		return types.ErrorKindConflict
	case http.StatusForbidden:
		return types.ErrorKindForbidden
	default:
		return types.ErrorKindNetwork
	}
}
