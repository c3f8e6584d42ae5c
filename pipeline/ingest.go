package pipeline

import (
	"context"

	s3 "github.com/input-output-hk/sftp-ingest/aws/s3"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

// Ingest copies every file listed in dir to bucket, keyed by file name, in
// listing order. Each file is streamed straight from the source into the
// object store. A retried upload reopens the remote file from the start.
func (p *Pipeline) Ingest(ctx context.Context, src Source, dir, bucket string) ([]string, error) {
	log := p.logger.With().Str("phase", "ingest").Str("bucket", bucket).Logger()

	var names []string
	err := p.retry.Do(ctx, "list", ingesterrors.CodeTransfer, log, func(ctx context.Context) error {
		var err error
		names, err = src.ListDirectory(ctx, dir)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("dir", dir).Int("files", len(names)).Msg("remote directory listed")

	keys := make([]string, 0, len(names))
	for _, name := range names {
		var result *s3types.UploadResult
		err := p.retry.Do(ctx, "ingest", ingesterrors.CodeTransfer, log, func(ctx context.Context) error {
			rc, err := src.OpenForRead(ctx, dir, name)
			if err != nil {
				return err
			}
			defer rc.Close()

			result, err = p.store.Upload(ctx, bucket, name, rc, s3.WithTransferPolicy(p.policy))
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("key", name).Msg("ingest failed")
			return nil, err
		}

		log.Info().
			Str("key", name).
			Int64("bytes", result.Size).
			Int("parts", result.Parts).
			Dur("duration", result.Duration).
			Msg("file ingested")

		keys = append(keys, name)
	}

	return keys, nil
}
