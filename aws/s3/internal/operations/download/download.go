// Package download handles S3 object download operations.
//
// Objects are streamed into an io.Writer or into a file on the client's
// filesystem, so large objects never sit in memory.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/input-output-hk/sftp-ingest/aws/s3/errors"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/s3api"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
	"github.com/input-output-hk/sftp-ingest/fs"
)

// Downloader handles S3 download operations with progress tracking support.
type Downloader struct {
	s3Client s3api.S3API
	fs       fs.Filesystem
}

// New creates a new Downloader that writes files through filesystem.
func New(s3Client s3api.S3API, filesystem fs.Filesystem) *Downloader {
	return &Downloader{
		s3Client: s3Client,
		fs:       filesystem,
	}
}

// Download streams an object from S3 into writer.
func (d *Downloader) Download(
	ctx context.Context,
	bucket, key string,
	writer io.Writer,
	config *s3types.DownloadConfig,
	startTime time.Time,
) (*s3types.DownloadResult, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if config.RangeSpec != "" {
		input.Range = aws.String(config.RangeSpec)
	}

	output, err := d.s3Client.GetObject(ctx, input)
	if err != nil {
		d.fail(config, err)
		return nil, errors.NewObjectError("download", bucket, key, err)
	}
	defer output.Body.Close()

	size := aws.ToInt64(output.ContentLength)

	var reader io.Reader = output.Body
	if config.ProgressTracker != nil {
		reader = &progressReader{
			reader:          output.Body,
			progressTracker: config.ProgressTracker,
			total:           size,
		}
	}

	bytesWritten, err := io.Copy(writer, reader)
	if err != nil {
		d.fail(config, err)
		return nil, errors.NewObjectError("download", bucket, key, err)
	}

	if size == 0 {
		size = bytesWritten
	}

	if config.ProgressTracker != nil {
		config.ProgressTracker.Update(bytesWritten, size)
		config.ProgressTracker.Complete()
	}

	return &s3types.DownloadResult{
		Key:       key,
		Size:      size,
		ETag:      aws.ToString(output.ETag),
		VersionID: aws.ToString(output.VersionId),
		Duration:  time.Since(startTime),
	}, nil
}

// DownloadFile streams an object into path. Missing parent directories are
// created and an existing file is truncated. A failed download removes the
// partial file.
func (d *Downloader) DownloadFile(
	ctx context.Context,
	bucket, key, path string,
	config *s3types.DownloadConfig,
	startTime time.Time,
) (*s3types.DownloadResult, error) {
	if err := d.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewObjectError("downloadFile", bucket, key, err)
	}

	file, err := d.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.NewObjectError("downloadFile", bucket, key, err)
	}

	result, err := d.Download(ctx, bucket, key, file, config, startTime)
	closeErr := file.Close()

	if err != nil {
		_ = d.fs.Remove(path)
		return nil, err
	}
	if closeErr != nil {
		_ = d.fs.Remove(path)
		return nil, errors.NewObjectError("downloadFile", bucket, key, fmt.Errorf("close %s: %w", path, closeErr))
	}

	return result, nil
}

func (d *Downloader) fail(config *s3types.DownloadConfig, err error) {
	if config.ProgressTracker != nil {
		config.ProgressTracker.Error(err)
	}
}

// progressReader wraps an io.Reader to track progress
type progressReader struct {
	reader          io.Reader
	progressTracker s3types.ProgressTracker
	total           int64
	bytesRead       int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.bytesRead += int64(n)
		pr.progressTracker.Update(pr.bytesRead, pr.total)
	}
	//nolint:wrapcheck // io.Reader interface contract - error comes from underlying reader
	return n, err
}
