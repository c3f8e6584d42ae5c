// Package errors provides the error taxonomy for the ingest job.
// Every failure that leaves a component is classified under one ErrorCode so
// the entry point can report it, and so retry policies can tell transient
// failures from permanent ones.
package errors

// ErrorCode represents a class of failure in the ingest pipeline.
// Error codes are string-based for debuggability and natural log output.
type ErrorCode string

const (
	// Remote source errors.

	// CodeConnection indicates the remote server could not be reached at the network layer.
	CodeConnection ErrorCode = "CONNECTION_ERROR"

	// CodeAuthentication indicates the network channel opened but the session was rejected.
	CodeAuthentication ErrorCode = "AUTHENTICATION_ERROR"

	// Transfer errors.

	// CodeTransfer indicates moving bytes to or from the object store or remote server failed.
	CodeTransfer ErrorCode = "TRANSFER_ERROR"

	// Content errors.

	// CodeUnsupportedFormat indicates a downloaded object is not a valid archive.
	CodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Validation errors.

	// CodeInvalidConfig indicates missing configuration or an incomplete secret payload.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Generic errors.

	// CodeUnknown indicates an unclassified error.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Retryable reports whether failures of this class may succeed on another attempt.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeConnection, CodeTransfer:
		return true
	default:
		return false
	}
}
