// Package operations contains the core S3 operation implementations.
// Each operation lives in its own subpackage and talks to the AWS SDK through
// the s3api interface.
package operations
