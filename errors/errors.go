package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is a classified pipeline failure.
// It wraps the underlying cause with the operation that produced it.
type Error struct {
	// Code classifies the failure.
	Code ErrorCode

	// Op is the operation that failed (e.g., "connect", "upload", "extract").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	default:
		return string(e.Code)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so callers can test against
// the sentinels below regardless of Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	// ErrConnection matches every CONNECTION_ERROR.
	ErrConnection = &Error{Code: CodeConnection}

	// ErrAuthentication matches every AUTHENTICATION_ERROR.
	ErrAuthentication = &Error{Code: CodeAuthentication}

	// ErrTransfer matches every TRANSFER_ERROR.
	ErrTransfer = &Error{Code: CodeTransfer}

	// ErrUnsupportedFormat matches every UNSUPPORTED_FORMAT error.
	ErrUnsupportedFormat = &Error{Code: CodeUnsupportedFormat}

	// ErrConfiguration matches every INVALID_CONFIGURATION error.
	ErrConfiguration = &Error{Code: CodeInvalidConfig}
)

// New creates a classified error.
func New(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Connection wraps err as a CONNECTION_ERROR.
func Connection(op string, err error) *Error { return New(CodeConnection, op, err) }

// Authentication wraps err as an AUTHENTICATION_ERROR.
func Authentication(op string, err error) *Error { return New(CodeAuthentication, op, err) }

// Transfer wraps err as a TRANSFER_ERROR.
func Transfer(op string, err error) *Error { return New(CodeTransfer, op, err) }

// UnsupportedFormat wraps err as an UNSUPPORTED_FORMAT error.
func UnsupportedFormat(op string, err error) *Error { return New(CodeUnsupportedFormat, op, err) }

// Configuration wraps err as an INVALID_CONFIGURATION error.
func Configuration(op string, err error) *Error { return New(CodeInvalidConfig, op, err) }

// CodeOf returns the code of the outermost classified error in err's chain,
// or CodeUnknown when err carries no classification.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Classify returns err unchanged when it is already classified, and otherwise
// wraps it under code. A nil err stays nil.
func Classify(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	return New(code, op, err)
}
