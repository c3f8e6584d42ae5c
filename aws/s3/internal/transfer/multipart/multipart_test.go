package multipart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3errors "github.com/input-output-hk/sftp-ingest/aws/s3/errors"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/pool"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/testutil"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
)

const partSize = 16

func newMock() *testutil.MockS3Client {
	return &testutil.MockS3Client{
		CreateMultipartUploadFunc: func(
			_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options),
		) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
		},
		UploadPartFunc: func(
			_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options),
		) (*s3.UploadPartOutput, error) {
			_, _ = io.Copy(io.Discard, in.Body)
			return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(in.PartNumber)))}, nil
		},
		CompleteMultipartUploadFunc: func(
			_ context.Context, _ *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options),
		) (*s3.CompleteMultipartUploadOutput, error) {
			return &s3.CompleteMultipartUploadOutput{ETag: aws.String("final")}, nil
		},
	}
}

func sourceOf(data []byte) *Source {
	return NewSource(nil, bytes.NewReader(data), false, pool.NewPartPool(partSize))
}

func config(concurrency int) *s3types.UploadConfig {
	return &s3types.UploadConfig{
		ContentType: "application/octet-stream",
		Transfer:    s3types.TransferPolicy{Threshold: partSize, PartSize: partSize, Concurrency: concurrency},
	}
}

func TestSource_Next(t *testing.T) {
	parts := pool.NewPartPool(4)
	head := [][]byte{[]byte("abcd"), []byte("efgh")}
	src := NewSource(head, bytes.NewReader([]byte("ijklmn")), false, parts)

	var got []string
	for {
		chunk, err := src.Next()
		require.NoError(t, err)
		if chunk == nil {
			break
		}
		got = append(got, string(chunk))
	}

	assert.Equal(t, []string{"abcd", "efgh", "ijkl", "mn"}, got)
}

func TestSource_Next_EOFHead(t *testing.T) {
	src := NewSource([][]byte{[]byte("ab")}, bytes.NewReader([]byte("ignored")), true, pool.NewPartPool(4))

	chunk, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "ab", string(chunk))

	chunk, err = src.Next()
	require.NoError(t, err)
	assert.Nil(t, chunk)
}

func TestUploader_Upload_PartsInOrder(t *testing.T) {
	mock := newMock()

	var completed []int32
	mock.CompleteMultipartUploadFunc = func(
		_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error) {
		for _, p := range in.MultipartUpload.Parts {
			completed = append(completed, aws.ToInt32(p.PartNumber))
		}
		return &s3.CompleteMultipartUploadOutput{ETag: aws.String("final")}, nil
	}

	// Later parts finish first.
	mock.UploadPartFunc = func(
		_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options),
	) (*s3.UploadPartOutput, error) {
		n := aws.ToInt32(in.PartNumber)
		time.Sleep(time.Duration(6-n) * 2 * time.Millisecond)
		return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", n))}, nil
	}

	data := bytes.Repeat([]byte("x"), partSize*5)
	result, err := NewUploader(mock, zerolog.Nop()).
		Upload(context.Background(), "bucket", "key", sourceOf(data), config(5), time.Now())

	require.NoError(t, err)
	assert.Equal(t, 5, result.Parts)
	assert.Equal(t, int64(len(data)), result.Size)
	assert.Equal(t, "final", result.ETag)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, completed)
	assert.Zero(t, mock.CallCount("AbortMultipartUpload"))
}

func TestUploader_Upload_ConcurrencyBound(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
		parts       int
	}{
		{name: "sequential", concurrency: 1, parts: 6},
		{name: "three in flight", concurrency: 3, parts: 12},
		{name: "more slots than parts", concurrency: 10, parts: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock()

			var inFlight, peak atomic.Int32
			mock.UploadPartFunc = func(
				_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options),
			) (*s3.UploadPartOutput, error) {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
			}

			data := bytes.Repeat([]byte("y"), partSize*tt.parts)
			result, err := NewUploader(mock, zerolog.Nop()).
				Upload(context.Background(), "bucket", "key", sourceOf(data), config(tt.concurrency), time.Now())

			require.NoError(t, err)
			assert.Equal(t, tt.parts, result.Parts)
			assert.LessOrEqual(t, int(peak.Load()), tt.concurrency)
			assert.Equal(t, tt.parts, mock.CallCount("UploadPart"))
		})
	}
}

func TestUploader_Upload_PartFailureAborts(t *testing.T) {
	mock := newMock()
	boom := errors.New("part rejected")

	mock.UploadPartFunc = func(
		_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options),
	) (*s3.UploadPartOutput, error) {
		if aws.ToInt32(in.PartNumber) == 2 {
			return nil, boom
		}
		return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
	}

	var abortedID string
	mock.AbortMultipartUploadFunc = func(
		_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error) {
		abortedID = aws.ToString(in.UploadId)
		return &s3.AbortMultipartUploadOutput{}, nil
	}

	tracker := &testutil.MockProgressTracker{}
	cfg := config(2)
	cfg.ProgressTracker = tracker

	data := bytes.Repeat([]byte("z"), partSize*4)
	_, err := NewUploader(mock, zerolog.Nop()).
		Upload(context.Background(), "bucket", "key", sourceOf(data), cfg, time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, s3errors.ErrMultipartAborted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "upload-1", abortedID)
	assert.Zero(t, mock.CallCount("CompleteMultipartUpload"))
	assert.True(t, tracker.ErrorCalled)
	assert.False(t, tracker.CompleteCalled)
}

func TestUploader_Upload_CompleteFailureAborts(t *testing.T) {
	mock := newMock()
	mock.CompleteMultipartUploadFunc = func(
		_ context.Context, _ *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error) {
		return nil, errors.New("complete failed")
	}

	data := bytes.Repeat([]byte("c"), partSize*2)
	_, err := NewUploader(mock, zerolog.Nop()).
		Upload(context.Background(), "bucket", "key", sourceOf(data), config(2), time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, s3errors.ErrMultipartAborted)
	assert.Equal(t, 1, mock.CallCount("AbortMultipartUpload"))
}

func TestUploader_Upload_CreateFailure(t *testing.T) {
	mock := newMock()
	mock.CreateMultipartUploadFunc = func(
		_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options),
	) (*s3.CreateMultipartUploadOutput, error) {
		return nil, errors.New("create failed")
	}

	data := bytes.Repeat([]byte("c"), partSize*2)
	_, err := NewUploader(mock, zerolog.Nop()).
		Upload(context.Background(), "bucket", "key", sourceOf(data), config(2), time.Now())

	require.Error(t, err)
	assert.NotErrorIs(t, err, s3errors.ErrMultipartAborted)
	assert.Zero(t, mock.CallCount("UploadPart"))
	assert.Zero(t, mock.CallCount("AbortMultipartUpload"))
}

func TestUploader_Upload_CancelledContextStillAborts(t *testing.T) {
	mock := newMock()
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	mock.UploadPartFunc = func(
		_ context.Context, _ *s3.UploadPartInput, _ ...func(*s3.Options),
	) (*s3.UploadPartOutput, error) {
		once.Do(cancel)
		return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
	}

	var abortCtxErr error
	mock.AbortMultipartUploadFunc = func(
		ctx context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error) {
		abortCtxErr = ctx.Err()
		return &s3.AbortMultipartUploadOutput{}, nil
	}

	data := bytes.Repeat([]byte("q"), partSize*8)
	_, err := NewUploader(mock, zerolog.Nop()).
		Upload(ctx, "bucket", "key", sourceOf(data), config(1), time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mock.CallCount("AbortMultipartUpload"))
	assert.NoError(t, abortCtxErr)
}
