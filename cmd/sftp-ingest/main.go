// Command sftp-ingest copies a remote SFTP directory into an S3 bucket, then
// unpacks the bucket's archives and republishes their contents. It runs once
// and exits non-zero on the first failure.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"

	"github.com/input-output-hk/sftp-ingest/aws/s3"
	"github.com/input-output-hk/sftp-ingest/config"
	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
	"github.com/input-output-hk/sftp-ingest/fs/billy"
	"github.com/input-output-hk/sftp-ingest/pipeline"
	"github.com/input-output-hk/sftp-ingest/services/aws/secrets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, out io.Writer) int {
	logger := newLogger(out, config.LogFormatConsole, zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		return fail(logger, err)
	}
	logger = newLogger(out, cfg.LogFormat, cfg.LogLevel)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fail(logger, ingesterrors.Configuration("load aws config", err))
	}

	secretStore, err := secrets.NewClientWithConfig(ctx, &awsCfg, secrets.WithLogger(logger))
	if err != nil {
		return fail(logger, ingesterrors.Configuration("create secrets client", err))
	}

	staging := billy.NewOSFS("/")
	store, err := s3.New(
		s3.WithAWSConfig(&awsCfg),
		s3.WithForcePathStyle(cfg.S3ForcePathStyle),
		s3.WithFilesystem(staging),
		s3.WithLogger(logger),
	)
	if err != nil {
		return fail(logger, ingesterrors.Configuration("create s3 client", err))
	}

	p := pipeline.New(
		pipeline.WithSecrets(secretStore),
		pipeline.WithObjectStore(store),
		pipeline.WithFilesystem(staging),
		pipeline.WithRetryPolicy(pipeline.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		}),
		pipeline.WithLogger(logger),
	)

	logger.Info().
		Str("bucket", cfg.Bucket).
		Str("dir", cfg.DirectoryPath).
		Int("port", cfg.Port).
		Msg("starting ingest")

	if _, err := p.Run(ctx, cfg); err != nil {
		return fail(logger, err)
	}

	return 0
}

func fail(logger zerolog.Logger, err error) int {
	logger.Error().
		Err(err).
		Str("code", string(ingesterrors.CodeOf(err))).
		Msg("ingest failed")
	return 1
}
