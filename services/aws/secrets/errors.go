package secrets

import "errors"

var (
	// ErrSecretNotFound is returned when a requested secret does not exist
	// in AWS Secrets Manager.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrSecretEmpty is returned when a secret exists but contains no value.
	ErrSecretEmpty = errors.New("secret value is empty")

	// ErrAccessDenied is returned when the AWS credentials do not have
	// sufficient permissions to perform the requested operation.
	ErrAccessDenied = errors.New("access denied to secret")

	// ErrSecretMalformed is returned when a secret value cannot be decoded
	// as JSON. The decoder error is not wrapped because it may quote the value.
	ErrSecretMalformed = errors.New("secret value is not valid JSON")
)
