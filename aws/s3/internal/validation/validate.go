// Package validation checks bucket names and object keys before they are sent
// to AWS.
package validation

import (
	"net"
	"strings"
	"unicode"

	"github.com/input-output-hk/sftp-ingest/aws/s3/errors"
)

const maxKeyLength = 1024

// ValidateBucketName validates that a bucket name follows the S3 naming rules.
func ValidateBucketName(bucket string) error {
	fail := func(msg string) error {
		return errors.NewError("validateBucketName", errors.ErrInvalidBucketName).
			WithBucket(bucket).
			WithMessage(msg)
	}

	if bucket == "" {
		return fail("bucket name cannot be empty")
	}
	if len(bucket) < 3 || len(bucket) > 63 {
		return fail("bucket name must be between 3 and 63 characters long")
	}
	for _, r := range bucket {
		if !isValidBucketChar(r) {
			return fail("bucket name can only contain lowercase letters, numbers, dots, and hyphens")
		}
	}
	if strings.ContainsAny(bucket[:1], ".-") || strings.ContainsAny(bucket[len(bucket)-1:], ".-") {
		return fail("bucket name cannot start or end with a hyphen or dot")
	}
	if net.ParseIP(bucket) != nil {
		return fail("bucket name cannot be formatted as an IP address")
	}
	if strings.Contains(bucket, "..") {
		return fail("bucket name cannot contain two adjacent periods")
	}

	return nil
}

// ValidateObjectKey validates that an object key is safe to use both as an S3
// key and as a path relative to a local staging root.
func ValidateObjectKey(key string) error {
	fail := func(msg string) error {
		return errors.NewError("validateObjectKey", errors.ErrInvalidObjectKey).
			WithKey(key).
			WithMessage(msg)
	}

	switch {
	case key == "":
		return fail("object key cannot be empty")
	case len(key) > maxKeyLength:
		return fail("object key cannot exceed 1024 bytes")
	case hasPathTraversal(key):
		return fail("object key cannot contain path traversal sequences")
	case hasControlCharacters(key):
		return fail("object key cannot contain control characters")
	}

	return nil
}

func isValidBucketChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || r == '.' || r == '-'
}

// hasPathTraversal reports whether key is absolute or climbs out of its root.
func hasPathTraversal(key string) bool {
	slashed := strings.ReplaceAll(key, "\\", "/")
	if strings.HasPrefix(slashed, "/") {
		return true
	}
	if len(slashed) >= 3 && slashed[1] == ':' && slashed[2] == '/' {
		return true
	}
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

func hasControlCharacters(key string) bool {
	return strings.IndexFunc(key, unicode.IsControl) >= 0
}
