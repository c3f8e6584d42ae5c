package s3

import (
	"context"
	"io"
	"iter"
	"time"

	s3errors "github.com/input-output-hk/sftp-ingest/aws/s3/errors"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/operations/download"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/operations/list"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/operations/upload"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/validation"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
)

// DefaultContentType is the content type used when detection fails.
const DefaultContentType = upload.DefaultContentType

// Upload streams reader to S3. The length of the stream does not need to be
// known in advance.
//
// The transfer policy decides the strategy. The reader is buffered in part
// sized chunks until the policy threshold is reached: shorter streams are sent
// with a single PUT, longer ones as a multipart upload with bounded
// concurrency. A failed multipart upload is aborted, so a failed Upload never
// leaves a readable object at key.
//
// Returns:
//   - *UploadResult: the uploaded object's size, ETag, part count and duration
//   - error: an *errors.Error carrying the bucket and key
//
// Errors:
//   - ErrInvalidInput: If bucket is empty, key is invalid, or reader is nil
//   - ErrMultipartAborted: If a multipart upload failed and was aborted
//   - ErrAccessDenied, ErrBucketNotFound: translated from the S3 API
//
// Example:
//
//	result, err := client.Upload(ctx, "my-bucket", "data.bin", stream,
//	    s3.WithTransferPolicy(s3.DefaultTransferPolicy()),
//	)
func (c *Client) Upload(
	ctx context.Context,
	bucket, key string,
	reader io.Reader,
	opts ...s3types.UploadOption,
) (*s3types.UploadResult, error) {
	if err := validateObject("upload", bucket, key); err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, s3errors.NewError("upload", s3errors.ErrInvalidInput).
			WithBucket(bucket).
			WithKey(key).
			WithMessage("reader cannot be nil")
	}

	config := c.uploadConfig(opts)
	startTime := time.Now()

	result, err := upload.New(c.s3Client, c.logger).Upload(ctx, bucket, key, reader, config, startTime)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", result.Size).
		Int("parts", result.Parts).
		Dur("duration", result.Duration).
		Msg("object uploaded")

	return result, nil
}

// Put uploads size bytes from body with a single PUT request, regardless of
// size. It never uses multipart, so the transfer policy does not apply.
//
// When no content type is given and body is seekable, the leading bytes are
// sniffed and body is rewound before sending.
func (c *Client) Put(
	ctx context.Context,
	bucket, key string,
	body io.Reader,
	size int64,
	opts ...s3types.UploadOption,
) (*s3types.UploadResult, error) {
	if err := validateObject("put", bucket, key); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, s3errors.NewError("put", s3errors.ErrInvalidInput).
			WithBucket(bucket).
			WithKey(key).
			WithMessage("body cannot be nil")
	}
	if size < 0 {
		return nil, s3errors.NewError("put", s3errors.ErrInvalidInput).
			WithBucket(bucket).
			WithKey(key).
			WithMessage("size cannot be negative")
	}

	config := c.uploadConfig(opts)

	return upload.New(c.s3Client, c.logger).Put(ctx, bucket, key, body, size, config, time.Now())
}

// DownloadFile streams an object into a file on the client's filesystem.
// Missing parent directories are created and an existing file is truncated.
// The object is never held in memory in full.
func (c *Client) DownloadFile(
	ctx context.Context,
	bucket, key, filePath string,
	opts ...s3types.DownloadOption,
) (*s3types.DownloadResult, error) {
	if err := validateObject("downloadFile", bucket, key); err != nil {
		return nil, err
	}
	if filePath == "" {
		return nil, s3errors.NewError("downloadFile", s3errors.ErrInvalidInput).
			WithBucket(bucket).
			WithKey(key).
			WithMessage("file path cannot be empty")
	}

	result, err := c.downloader().DownloadFile(ctx, bucket, key, filePath, downloadConfig(opts), time.Now())
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Str("path", filePath).
		Int64("bytes", result.Size).
		Msg("object downloaded")

	return result, nil
}

// ListAll returns a lazy sequence over every object under prefix, fetching
// pages on demand. The bucket is treated as flat: keys containing "/" are
// returned like any other key.
//
// If a page fails, the error is yielded once with a zero Object and the
// sequence ends. Ranging over the sequence again starts from the first page.
//
// Example:
//
//	for obj, err := range client.ListAll(ctx, "my-bucket", "") {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(obj.Key)
//	}
func (c *Client) ListAll(ctx context.Context, bucket, prefix string) iter.Seq2[s3types.Object, error] {
	if bucket == "" {
		return func(yield func(s3types.Object, error) bool) {
			yield(s3types.Object{}, s3errors.NewError("listAll", s3errors.ErrInvalidInput).
				WithMessage("bucket name cannot be empty"))
		}
	}

	pages := list.New(c.s3Client).All(ctx, bucket, prefix)

	return func(yield func(s3types.Object, error) bool) {
		for obj, err := range pages {
			if err != nil {
				yield(s3types.Object{}, s3errors.NewError("listAll", s3errors.Translate(err)).WithBucket(bucket))
				return
			}
			if !yield(obj, nil) {
				return
			}
		}
	}
}

func (c *Client) uploadConfig(opts []s3types.UploadOption) *s3types.UploadConfig {
	optCfg := &s3types.UploadOptionConfig{}
	for _, opt := range opts {
		opt(optCfg)
	}

	transfer := c.TransferPolicy()
	if optCfg.Transfer != nil {
		transfer = normalizePolicy(*optCfg.Transfer)
	}

	return &s3types.UploadConfig{
		ContentType:     optCfg.ContentType,
		Metadata:        optCfg.Metadata,
		StorageClass:    optCfg.StorageClass,
		ProgressTracker: optCfg.ProgressTracker,
		Transfer:        transfer,
	}
}

func (c *Client) downloader() *download.Downloader {
	return download.New(c.s3Client, c.filesystem())
}

func downloadConfig(opts []s3types.DownloadOption) *s3types.DownloadConfig {
	optCfg := &s3types.DownloadOptionConfig{}
	for _, opt := range opts {
		opt(optCfg)
	}
	return &s3types.DownloadConfig{
		ProgressTracker: optCfg.ProgressTracker,
		RangeSpec:       optCfg.RangeSpec,
	}
}

func validateObject(op, bucket, key string) error {
	if err := validation.ValidateBucketName(bucket); err != nil {
		return s3errors.NewError(op, s3errors.ErrInvalidInput).
			WithBucket(bucket).
			WithKey(key).
			WithMessage(err.Error())
	}
	if err := validation.ValidateObjectKey(key); err != nil {
		return s3errors.NewError(op, s3errors.ErrInvalidInput).
			WithBucket(bucket).
			WithKey(key).
			WithMessage(err.Error())
	}
	return nil
}
