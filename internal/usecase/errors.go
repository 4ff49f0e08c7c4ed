package usecase

import "fmt"

type ErrorCode string

const (
	ErrorBadRequest        ErrorCode = "bad_request"
	ErrorMissingCredential ErrorCode = "missing_credential"
	ErrorUpstream          ErrorCode = "upstream_error"
	ErrorInternal          ErrorCode = "internal_error"
)

// Error is a classified use case failure. Detail is the caller-facing
// diagnostic; for upstream errors it is the raw upstream response body.
type Error struct {
	Code   ErrorCode
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, detail string, err error) *Error {
	return &Error{Code: code, Reason: reason, Detail: detail, Err: err}
}
