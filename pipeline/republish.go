package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/input-output-hk/sftp-ingest/archive"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

// retryingPutter sends every PUT under the retry policy. The body is rewound
// before each attempt; a body that cannot seek gets a single attempt.
type retryingPutter struct {
	store  archive.Putter
	retry  RetryPolicy
	logger zerolog.Logger
}

func (r retryingPutter) Put(
	ctx context.Context,
	bucket, key string,
	body io.Reader,
	size int64,
	opts ...s3types.UploadOption,
) (*s3types.UploadResult, error) {
	seeker, rewindable := body.(io.Seeker)
	policy := r.retry
	if !rewindable {
		policy = NoRetry()
	}

	var result *s3types.UploadResult
	err := policy.Do(ctx, "republish", ingesterrors.CodeTransfer, r.logger, func(ctx context.Context) error {
		if rewindable {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return ingesterrors.New(ingesterrors.CodeUnknown, "republish", fmt.Errorf("rewind %s: %w", key, err))
			}
		}

		var err error
		result, err = r.store.Put(ctx, bucket, key, body, size, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
