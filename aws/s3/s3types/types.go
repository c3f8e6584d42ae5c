// Package s3types provides shared type definitions for the S3 module.
package s3types

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"

	"github.com/input-output-hk/sftp-ingest/fs"
)

// StorageClass represents the S3 storage class for objects.
type StorageClass string

// Predefined S3 storage classes
const (
	// StorageClassStandard is the default S3 storage class
	StorageClassStandard StorageClass = "STANDARD"

	// StorageClassStandardIA provides infrequent access storage
	StorageClassStandardIA StorageClass = "STANDARD_IA"

	// StorageClassIntelligentTiering provides intelligent tiering storage
	StorageClassIntelligentTiering StorageClass = "INTELLIGENT_TIERING"
)

const (
	// MiB is one mebibyte.
	MiB int64 = 1024 * 1024

	// MinPartSize is the smallest part S3 accepts for every part but the last.
	MinPartSize = 5 * MiB

	// MaxParts is the largest part number S3 accepts in one multipart upload.
	MaxParts = 10000
)

// TransferPolicy controls how a stream of unknown length is uploaded.
//
// Streams shorter than Threshold are sent with a single PutObject. Longer
// streams are split into PartSize chunks and sent as a multipart upload with
// at most Concurrency parts in flight.
type TransferPolicy struct {
	// Threshold is the size at which uploads switch to multipart
	Threshold int64

	// PartSize is the size of every part except the last
	PartSize int64

	// Concurrency is the maximum number of parts in flight
	Concurrency int
}

// Object represents an S3 object with its basic metadata.
type Object struct {
	// Key is the S3 object key (path)
	Key string

	// Size is the object size in bytes
	Size int64

	// LastModified is when the object was last modified
	LastModified time.Time

	// ETag is the S3 entity tag for the object
	ETag string

	// StorageClass is the S3 storage class
	StorageClass string
}

// ProgressTracker defines the interface for tracking transfer progress.
// Calls are serialized by the client, so implementations need no locking.
type ProgressTracker interface {
	// Update is called as bytes are transferred. totalBytes is 0 when the
	// length of the stream is not known in advance.
	Update(bytesTransferred, totalBytes int64)

	// Complete is called when the transfer completes successfully
	Complete()

	// Error is called when the transfer fails
	Error(err error)
}

// UploadConfig holds the resolved configuration for one upload.
type UploadConfig struct {
	ContentType     string
	Metadata        map[string]string
	StorageClass    StorageClass
	ProgressTracker ProgressTracker
	Transfer        TransferPolicy
}

// DownloadConfig holds the resolved configuration for one download.
type DownloadConfig struct {
	ProgressTracker ProgressTracker
	RangeSpec       string
}

// UploadResult contains the result of an upload operation.
type UploadResult struct {
	// Key is the S3 object key that was uploaded
	Key string

	// Size is the size of the uploaded object in bytes
	Size int64

	// ETag is the S3 entity tag for the uploaded object
	ETag string

	// VersionID is the version ID if versioning is enabled
	VersionID string

	// Parts is the number of parts sent, or 0 for a single put
	Parts int

	// Duration is how long the upload took
	Duration time.Duration
}

// DownloadResult contains the result of a download operation.
type DownloadResult struct {
	// Key is the S3 object key that was downloaded
	Key string

	// Size is the size of the downloaded object in bytes
	Size int64

	// ETag is the S3 entity tag for the downloaded object
	ETag string

	// VersionID is the version ID if versioning is enabled
	VersionID string

	// Duration is how long the download took
	Duration time.Duration
}

// ListResult contains the result of a single-page list operation.
type ListResult struct {
	// Objects contains the listed objects
	Objects []Object

	// CommonPrefixes contains the prefixes rolled up by the delimiter
	CommonPrefixes []string

	// IsTruncated indicates if the results were truncated
	IsTruncated bool

	// NextContinuationToken is the token for the next page of results
	NextContinuationToken string

	// Duration is how long the operation took
	Duration time.Duration
}

// Configuration types for functional options

// ClientConfig holds configuration for the S3 client.
type ClientConfig struct {
	Region          string
	Endpoint        string
	MaxRetries      int
	Timeout         time.Duration
	ForcePathStyle  bool
	CustomAWSConfig *aws.Config
	Filesystem      fs.Filesystem
	Transfer        *TransferPolicy
	Logger          *zerolog.Logger
}

// UploadOptionConfig holds configuration for upload operations via functional options.
type UploadOptionConfig struct {
	ContentType     string
	Metadata        map[string]string
	StorageClass    StorageClass
	ProgressTracker ProgressTracker
	Transfer        *TransferPolicy
}

// DownloadOptionConfig holds configuration for download operations via functional options.
type DownloadOptionConfig struct {
	ProgressTracker ProgressTracker
	RangeSpec       string // renamed from "range" to avoid Go keyword conflict
}

// Option is a functional option for configuring the S3 client.
type (
	Option func(*ClientConfig)
	// UploadOption is a functional option for configuring S3 upload operations.
	UploadOption func(*UploadOptionConfig)
	// DownloadOption is a functional option for configuring S3 download operations.
	DownloadOption func(*DownloadOptionConfig)
)
