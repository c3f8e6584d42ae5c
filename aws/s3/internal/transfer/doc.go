// Package transfer holds the transfer strategies that span several S3 calls,
// such as multipart uploads.
package transfer
