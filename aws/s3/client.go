package s3

import (
	"context"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/input-output-hk/sftp-ingest/aws/s3/errors"
	"github.com/input-output-hk/sftp-ingest/aws/s3/internal/s3api"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
	"github.com/input-output-hk/sftp-ingest/fs"
	"github.com/input-output-hk/sftp-ingest/fs/billy"
)

// DefaultTransferPolicy returns the policy used when none is configured:
// multipart above 100 MiB, 20 MiB parts, 10 parts in flight.
func DefaultTransferPolicy() s3types.TransferPolicy {
	return s3types.TransferPolicy{
		Threshold:   100 * s3types.MiB,
		PartSize:    20 * s3types.MiB,
		Concurrency: 10,
	}
}

// Client represents an S3 client with configurable options.
// It is safe for concurrent use.
type Client struct {
	// s3Client is the underlying AWS SDK S3 client
	s3Client s3api.S3API

	// config holds the AWS configuration
	config aws.Config

	// mu protects concurrent access to client configuration
	mu sync.RWMutex

	// fs is the filesystem abstraction for file operations
	fs fs.Filesystem

	// transfer is the default policy for streamed uploads
	transfer s3types.TransferPolicy

	logger zerolog.Logger
}

// New creates a new S3 client with the provided options.
// It loads AWS credentials using the default credential chain unless
// WithAWSConfig supplies a configuration.
//
// Example:
//
//	client, err := s3.New(
//	    s3.WithRegion("eu-west-1"),
//	    s3.WithMaxRetries(3),
//	)
func New(opts ...s3types.Option) (*Client, error) {
	clientCfg := &s3types.ClientConfig{
		MaxRetries: 3,
	}
	for _, opt := range opts {
		opt(clientCfg)
	}

	var cfg aws.Config
	if clientCfg.CustomAWSConfig != nil {
		cfg = clientCfg.CustomAWSConfig.Copy()
	} else {
		loaded, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, errors.NewError("client initialization", err)
		}
		cfg = loaded
	}

	if clientCfg.Region != "" {
		cfg.Region = clientCfg.Region
	} else if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if clientCfg.MaxRetries > 0 {
		cfg.RetryMaxAttempts = clientCfg.MaxRetries
	}

	var s3Opts []func(*s3.Options)
	if clientCfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if clientCfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(clientCfg.Endpoint)
		})
	}
	if clientCfg.Timeout > 0 {
		httpClient := &http.Client{
			Timeout: clientCfg.Timeout,
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.HTTPClient = httpClient
		})
	}

	client := newClient(s3.NewFromConfig(cfg, s3Opts...), clientCfg)
	client.config = cfg

	return client, nil
}

// NewWithClient creates a new S3 client with a custom S3API implementation.
// This is primarily used for testing with mocked or in-memory clients.
func NewWithClient(s3Client s3api.S3API, opts ...s3types.Option) *Client {
	clientCfg := &s3types.ClientConfig{}
	for _, opt := range opts {
		opt(clientCfg)
	}
	return newClient(s3Client, clientCfg)
}

func newClient(s3Client s3api.S3API, clientCfg *s3types.ClientConfig) *Client {
	client := &Client{
		s3Client: s3Client,
		fs:       clientCfg.Filesystem,
		transfer: DefaultTransferPolicy(),
		logger:   zerolog.Nop(),
	}

	if client.fs == nil {
		// Default to OS filesystem rooted at /
		client.fs = billy.NewOSFS("/")
	}
	if clientCfg.Transfer != nil {
		client.transfer = normalizePolicy(*clientCfg.Transfer)
	}
	if clientCfg.Logger != nil {
		client.logger = *clientCfg.Logger
	}

	return client
}

// SetFilesystem sets the filesystem used by file operations.
func (c *Client) SetFilesystem(filesystem fs.Filesystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fs = filesystem
}

// TransferPolicy returns the client's default policy for streamed uploads.
func (c *Client) TransferPolicy() s3types.TransferPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transfer
}

func (c *Client) filesystem() fs.Filesystem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fs
}

// normalizePolicy fills zero fields from the default policy and raises
// PartSize to the S3 minimum, below which CompleteMultipartUpload fails.
func normalizePolicy(p s3types.TransferPolicy) s3types.TransferPolicy {
	def := DefaultTransferPolicy()
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	switch {
	case p.PartSize <= 0:
		p.PartSize = def.PartSize
	case p.PartSize < s3types.MinPartSize:
		p.PartSize = s3types.MinPartSize
	}
	if p.Concurrency <= 0 {
		p.Concurrency = def.Concurrency
	}
	return p
}
