// Package upload handles S3 object upload operations.
//
// Streams of unknown length are buffered one part at a time until the
// transfer threshold is reached. Short streams go out as a single PutObject
// and longer ones are handed to the multipart uploader.
package upload

import (
	"bytes"
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/input-output-hk/sftp-ingest/aws/s3/errors"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/pool"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/s3api"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/transfer/multipart"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
)

const (
	// DefaultContentType is used when neither content nor extension identify the type.
	DefaultContentType = "application/octet-stream"

	// sniffLen is how many leading bytes are inspected for content type detection.
	sniffLen = 3072
)

// Uploader handles S3 upload operations with automatic multipart detection.
type Uploader struct {
	s3Client  s3api.S3API
	multipart *multipart.Uploader
	logger    zerolog.Logger
}

// New creates a new Uploader instance.
func New(s3Client s3api.S3API, logger zerolog.Logger) *Uploader {
	return &Uploader{
		s3Client:  s3Client,
		multipart: multipart.NewUploader(s3Client, logger),
		logger:    logger,
	}
}

// Upload streams reader to S3 following config.Transfer.
//
// The reader is consumed in PartSize chunks until Threshold bytes are
// buffered or the stream ends. A stream that ends below the threshold is sent
// with one PutObject. Otherwise the buffered chunks and the remainder of the
// stream are sent as a multipart upload.
func (u *Uploader) Upload(
	ctx context.Context,
	bucket, key string,
	reader io.Reader,
	config *s3types.UploadConfig,
	startTime time.Time,
) (*s3types.UploadResult, error) {
	policy := config.Transfer
	parts := pool.ForSize(int(policy.PartSize))

	head, eof, err := readHead(reader, parts, policy.Threshold)
	if err != nil {
		release(parts, head)
		return nil, errors.NewObjectError("upload", bucket, key, err)
	}

	resolved := *config
	if resolved.ContentType == "" {
		resolved.ContentType = DetectContentType(key, sample(head))
	}

	size := total(head)
	if eof && size < policy.Threshold {
		data := bytes.Join(head, nil)
		release(parts, head)
		return u.putObject(ctx, bucket, key, bytes.NewReader(data), size, &resolved, startTime)
	}

	u.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("threshold", policy.Threshold).
		Int64("part_size", policy.PartSize).
		Msg("stream reached multipart threshold")

	src := multipart.NewSource(head, reader, eof, parts)
	return u.multipart.Upload(ctx, bucket, key, src, &resolved, startTime)
}

// Put sends body with a single PutObject regardless of size. When body is
// seekable and no content type was given, the leading bytes are sniffed and
// the body is rewound before sending.
func (u *Uploader) Put(
	ctx context.Context,
	bucket, key string,
	body io.Reader,
	size int64,
	config *s3types.UploadConfig,
	startTime time.Time,
) (*s3types.UploadResult, error) {
	resolved := *config
	if resolved.ContentType == "" {
		resolved.ContentType = detectFromBody(key, body)
	}

	return u.putObject(ctx, bucket, key, body, size, &resolved, startTime)
}

// putObject performs a simple (non-multipart) S3 upload.
func (u *Uploader) putObject(
	ctx context.Context,
	bucket, key string,
	body io.Reader,
	size int64,
	config *s3types.UploadConfig,
	startTime time.Time,
) (*s3types.UploadResult, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(config.ContentType),
		ContentLength: aws.Int64(size),
	}
	if config.StorageClass != "" {
		input.StorageClass = awstypes.StorageClass(config.StorageClass)
	}
	if len(config.Metadata) > 0 {
		input.Metadata = config.Metadata
	}

	output, err := u.s3Client.PutObject(ctx, input)
	if err != nil {
		if config.ProgressTracker != nil {
			config.ProgressTracker.Error(err)
		}
		return nil, errors.NewObjectError("putObject", bucket, key, err)
	}

	if config.ProgressTracker != nil {
		config.ProgressTracker.Update(size, size)
		config.ProgressTracker.Complete()
	}

	return &s3types.UploadResult{
		Key:       key,
		Size:      size,
		ETag:      aws.ToString(output.ETag),
		VersionID: aws.ToString(output.VersionId),
		Duration:  time.Since(startTime),
	}, nil
}

// DetectContentType sniffs data with mimetype and falls back to the key's
// extension when the content is not recognized.
func DetectContentType(key string, data []byte) string {
	if len(data) > 0 {
		if mt := mimetype.Detect(data); mt != nil && !mt.Is(DefaultContentType) {
			return mt.String()
		}
	}

	if ext := strings.ToLower(path.Ext(key)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}

	return DefaultContentType
}

func detectFromBody(key string, body io.Reader) string {
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		return DetectContentType(key, nil)
	}

	buf := make([]byte, sniffLen)
	n, _ := io.ReadFull(seeker, buf)
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return DetectContentType(key, nil)
	}

	return DetectContentType(key, buf[:n])
}

// readHead reads PartSize chunks from r until threshold bytes are buffered or
// r is exhausted. eof reports the latter.
func readHead(r io.Reader, parts *pool.PartPool, threshold int64) (chunks [][]byte, eof bool, err error) {
	var read int64
	for read < threshold {
		buf := parts.Get()
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
			read += int64(n)
		} else {
			parts.Put(buf)
		}

		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			return chunks, true, nil
		case err != nil:
			return chunks, false, err
		}
	}

	return chunks, false, nil
}

func sample(chunks [][]byte) []byte {
	if len(chunks) == 0 {
		return nil
	}
	first := chunks[0]
	if len(first) > sniffLen {
		return first[:sniffLen]
	}
	return first
}

func total(chunks [][]byte) int64 {
	var n int64
	for _, c := range chunks {
		n += int64(len(c))
	}
	return n
}

func release(parts *pool.PartPool, chunks [][]byte) {
	for _, c := range chunks {
		parts.Put(c)
	}
}
