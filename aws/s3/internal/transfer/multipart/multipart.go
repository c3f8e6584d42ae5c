// Package multipart handles multipart uploads of streams with bounded
// concurrency. A failed upload is always aborted so that no partial object
// becomes visible.
package multipart

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/sftp-ingest/aws/s3/errors"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/pool"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/s3api"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
)

// Source yields the parts of a stream in order. Chunks that were already
// buffered by the caller come first, then the rest of the stream is read one
// part at a time.
type Source struct {
	head  [][]byte
	rest  io.Reader
	done  bool
	parts *pool.PartPool
}

// NewSource creates a Source. eof reports whether rest is already exhausted.
func NewSource(head [][]byte, rest io.Reader, eof bool, parts *pool.PartPool) *Source {
	return &Source{
		head:  head,
		rest:  rest,
		done:  eof,
		parts: parts,
	}
}

// Next returns the next chunk, or nil once the stream is exhausted.
func (s *Source) Next() ([]byte, error) {
	if len(s.head) > 0 {
		chunk := s.head[0]
		s.head = s.head[1:]
		return chunk, nil
	}
	if s.done {
		return nil, nil
	}

	buf := s.parts.Get()
	n, err := io.ReadFull(s.rest, buf)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		s.done = true
	case err != nil:
		s.parts.Put(buf)
		return nil, fmt.Errorf("read part: %w", err)
	}

	if n == 0 {
		s.parts.Put(buf)
		return nil, nil
	}
	return buf[:n], nil
}

// Recycle returns a chunk obtained from Next to the pool.
func (s *Source) Recycle(chunk []byte) {
	s.parts.Put(chunk)
}

// Release recycles buffered chunks that were never handed out.
func (s *Source) Release() {
	for _, chunk := range s.head {
		s.parts.Put(chunk)
	}
	s.head = nil
}

// Uploader handles multipart upload operations
type Uploader struct {
	s3Client s3api.S3API
	logger   zerolog.Logger
}

// NewUploader creates a new multipart uploader
func NewUploader(s3Client s3api.S3API, logger zerolog.Logger) *Uploader {
	return &Uploader{
		s3Client: s3Client,
		logger:   logger,
	}
}

// Upload sends every chunk of src as a part of one multipart upload.
// At most config.Transfer.Concurrency parts are in flight at once. If any part
// or the completion fails, the upload is aborted and the error wraps
// ErrMultipartAborted.
func (u *Uploader) Upload(
	ctx context.Context,
	bucket, key string,
	src *Source,
	config *s3types.UploadConfig,
	startTime time.Time,
) (*s3types.UploadResult, error) {
	tracker := newSyncTracker(config.ProgressTracker)

	uploadID, err := u.createMultipartUpload(ctx, bucket, key, config)
	if err != nil {
		src.Release()
		tracker.Error(err)
		return nil, err
	}

	log := u.logger.With().Str("bucket", bucket).Str("key", key).Str("upload_id", uploadID).Logger()

	parts, size, err := u.uploadParts(ctx, bucket, key, uploadID, src, config.Transfer.Concurrency, tracker)
	if err != nil {
		u.abortMultipartUpload(ctx, bucket, key, uploadID, log)
		tracker.Error(err)
		return nil, errors.NewObjectError("uploadMultipart", bucket, key,
			fmt.Errorf("%w: %w", errors.ErrMultipartAborted, err))
	}

	output, err := u.s3Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		u.abortMultipartUpload(ctx, bucket, key, uploadID, log)
		tracker.Error(err)
		return nil, errors.NewObjectError("completeMultipartUpload", bucket, key,
			fmt.Errorf("%w: %w", errors.ErrMultipartAborted, err))
	}

	tracker.Complete()
	log.Debug().Int("parts", len(parts)).Int64("bytes", size).Msg("multipart upload completed")

	return &s3types.UploadResult{
		Key:       key,
		Size:      size,
		ETag:      aws.ToString(output.ETag),
		VersionID: aws.ToString(output.VersionId),
		Parts:     len(parts),
		Duration:  time.Since(startTime),
	}, nil
}

// createMultipartUpload creates a new multipart upload
func (u *Uploader) createMultipartUpload(
	ctx context.Context,
	bucket, key string,
	config *s3types.UploadConfig,
) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(config.ContentType),
	}
	if config.StorageClass != "" {
		input.StorageClass = awstypes.StorageClass(config.StorageClass)
	}
	if len(config.Metadata) > 0 {
		input.Metadata = config.Metadata
	}

	output, err := u.s3Client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", errors.NewObjectError("createMultipartUpload", bucket, key, err)
	}

	return aws.ToString(output.UploadId), nil
}

// uploadParts reads src and uploads its chunks with bounded concurrency.
// It returns the completed parts sorted by part number and the bytes sent.
func (u *Uploader) uploadParts(
	ctx context.Context,
	bucket, key, uploadID string,
	src *Source,
	concurrency int,
	tracker *syncTracker,
) ([]awstypes.CompletedPart, int64, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	var (
		mu        sync.Mutex
		completed []awstypes.CompletedPart
		sent      atomic.Int64
		number    int32
		readErr   error
	)

	for gctx.Err() == nil {
		chunk, err := src.Next()
		if err != nil {
			readErr = err
			break
		}
		if chunk == nil {
			break
		}

		number++
		if number > s3types.MaxParts {
			src.Recycle(chunk)
			readErr = errors.ErrTooManyParts
			break
		}

		partNumber := number
		// Go blocks while Concurrency parts are in flight, which bounds memory.
		g.Go(func() error {
			defer src.Recycle(chunk)

			etag, err := u.uploadPart(gctx, bucket, key, uploadID, partNumber, chunk)
			if err != nil {
				return err
			}

			mu.Lock()
			completed = append(completed, awstypes.CompletedPart{
				ETag:       aws.String(etag),
				PartNumber: aws.Int32(partNumber),
			})
			mu.Unlock()

			tracker.Update(sent.Add(int64(len(chunk))), 0)
			return nil
		})
	}
	src.Release()

	waitErr := g.Wait()
	if err := stderrors.Join(readErr, waitErr); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	slices.SortFunc(completed, func(a, b awstypes.CompletedPart) int {
		return int(aws.ToInt32(a.PartNumber) - aws.ToInt32(b.PartNumber))
	})

	return completed, sent.Load(), nil
}

// uploadPart uploads a single part
func (u *Uploader) uploadPart(
	ctx context.Context,
	bucket, key, uploadID string,
	partNumber int32,
	data []byte,
) (string, error) {
	output, err := u.s3Client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", partNumber, err)
	}

	return aws.ToString(output.ETag), nil
}

// abortMultipartUpload cleans up a failed multipart upload. It runs even when
// ctx has been cancelled so that no parts are left behind.
func (u *Uploader) abortMultipartUpload(
	ctx context.Context,
	bucket, key, uploadID string,
	log zerolog.Logger,
) {
	_, err := u.s3Client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to abort multipart upload")
		return
	}
	log.Debug().Msg("multipart upload aborted")
}
