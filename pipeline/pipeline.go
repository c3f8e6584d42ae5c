// Package pipeline runs the ingest job: it copies every file in a remote SFTP
// directory into a bucket, then downloads the bucket's objects, extracts them
// as zip archives and republishes the extracted files to the same bucket.
//
// Phases run strictly one after another and the first failure ends the run.
package pipeline

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/input-output-hk/sftp-ingest/archive"
	s3 "github.com/input-output-hk/sftp-ingest/aws/s3"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
	"github.com/input-output-hk/sftp-ingest/config"
	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
	"github.com/input-output-hk/sftp-ingest/fs"
	"github.com/input-output-hk/sftp-ingest/fs/billy"
)

// ObjectStore is the subset of the S3 client the job uses. DownloadFile must
// write into the same filesystem the Pipeline stages on.
type ObjectStore interface {
	archive.Putter
	Upload(ctx context.Context, bucket, key string, reader io.Reader, opts ...s3types.UploadOption) (*s3types.UploadResult, error)
	ListAll(ctx context.Context, bucket, prefix string) iter.Seq2[s3types.Object, error]
	DownloadFile(
		ctx context.Context,
		bucket, key, filePath string,
		opts ...s3types.DownloadOption,
	) (*s3types.DownloadResult, error)
}

// Result summarizes a successful run.
type Result struct {
	IngestedKeys    []string
	DownloadedKeys  []string
	ExtractedFiles  []string
	RepublishedKeys []string
	Duration        time.Duration
}

// Pipeline wires the job's collaborators together.
type Pipeline struct {
	secrets SecretGetter
	dial    SourceDialer
	store   ObjectStore
	fs      fs.Filesystem
	retry   RetryPolicy
	policy  s3types.TransferPolicy
	logger  zerolog.Logger

	materializer *archive.Materializer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSecrets sets the secret store holding the SFTP credentials.
func WithSecrets(secrets SecretGetter) Option {
	return func(p *Pipeline) {
		p.secrets = secrets
	}
}

// WithDialer replaces the SFTP dialer.
func WithDialer(dial SourceDialer) Option {
	return func(p *Pipeline) {
		p.dial = dial
	}
}

// WithObjectStore sets the object store.
func WithObjectStore(store ObjectStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithFilesystem sets the staging filesystem. It must be the filesystem the
// object store downloads into.
func WithFilesystem(filesystem fs.Filesystem) Option {
	return func(p *Pipeline) {
		p.fs = filesystem
	}
}

// WithRetryPolicy sets the retry policy for network operations.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(p *Pipeline) {
		p.retry = policy
	}
}

// WithTransferPolicy sets the policy for ingest uploads.
func WithTransferPolicy(policy s3types.TransferPolicy) Option {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New returns a Pipeline. Without options it stages on the OS filesystem,
// dials real SFTP servers, never retries and uses the default transfer
// policy. A secret store and an object store must be supplied.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		retry:  NoRetry(),
		policy: s3.DefaultTransferPolicy(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.fs == nil {
		p.fs = billy.NewOSFS("/")
	}
	if p.dial == nil {
		p.dial = SFTPDialer(p.logger)
	}
	p.materializer = archive.New(p.fs, archive.WithLogger(p.logger))

	return p
}

// Run executes the whole job once.
//
// Errors are classified:
//   - INVALID_CONFIGURATION: missing collaborators, bad filters or credentials
//   - CONNECTION_ERROR, AUTHENTICATION_ERROR: the SFTP server; nothing was listed
//   - TRANSFER_ERROR: listing, reading, uploading or downloading failed
//   - UNSUPPORTED_FORMAT: a materialized object is not a zip archive
func (p *Pipeline) Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	started := time.Now()

	if err := p.validate(cfg); err != nil {
		return nil, err
	}
	filter := KeyFilter{Include: cfg.Include, Exclude: cfg.Exclude}
	if err := filter.Validate(); err != nil {
		return nil, ingesterrors.Configuration("run", err)
	}

	creds, err := p.resolveCredentials(ctx, cfg.SecretName)
	if err != nil {
		return nil, err
	}

	src, err := p.connect(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			p.logger.Warn().Err(closeErr).Msg("failed to close sftp session")
		}
	}()

	ingested, err := p.Ingest(ctx, src, cfg.DirectoryPath, cfg.Bucket)
	if err != nil {
		return nil, err
	}

	result, err := p.Materialize(ctx, cfg.Bucket, cfg.StagingDir, filter)
	if err != nil {
		return nil, err
	}
	result.IngestedKeys = ingested
	result.Duration = time.Since(started)

	p.logger.Info().
		Int("ingested", len(result.IngestedKeys)).
		Int("downloaded", len(result.DownloadedKeys)).
		Int("extracted", len(result.ExtractedFiles)).
		Int("republished", len(result.RepublishedKeys)).
		Dur("duration", result.Duration).
		Msg("run complete")

	return result, nil
}

func (p *Pipeline) validate(cfg *config.Config) error {
	switch {
	case cfg == nil:
		return ingesterrors.Configuration("run", errNilConfig)
	case p.secrets == nil:
		return ingesterrors.Configuration("run", errNoSecrets)
	case p.store == nil:
		return ingesterrors.Configuration("run", errNoStore)
	}
	return nil
}
