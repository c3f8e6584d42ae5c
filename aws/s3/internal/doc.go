// Package internal contains private implementation details for the S3 module.
// These packages are not intended for external use and may change without notice.
//
// The internal packages are organized as follows:
//   - operations: single-call S3 operations (upload, download, list)
//   - transfer: multipart upload coordination
//   - validation: input validation logic
//   - pool: reusable part buffers
//   - s3api: the S3 API surface used by the module
//   - testutil: S3 API mocks and progress recorders for tests
package internal
