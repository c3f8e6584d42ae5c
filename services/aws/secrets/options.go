package secrets

import (
	"github.com/rs/zerolog"
)

// clientOptions holds configuration options for the AWS Secrets Manager client.
type clientOptions struct {
	logger   zerolog.Logger
	region   string
	endpoint string
}

// Option is a functional option for configuring the Client.
type Option func(*clientOptions)

// WithLogger configures the client with a logger. The default discards output.
func WithLogger(logger zerolog.Logger) Option {
	return func(opts *clientOptions) {
		opts.logger = logger
	}
}

// WithRegion overrides the region of the loaded AWS configuration.
func WithRegion(region string) Option {
	return func(opts *clientOptions) {
		opts.region = region
	}
}

// WithEndpoint points the client at a custom endpoint such as LocalStack.
func WithEndpoint(endpoint string) Option {
	return func(opts *clientOptions) {
		opts.endpoint = endpoint
	}
}

// defaultOptions returns the default configuration options.
func defaultOptions() *clientOptions {
	return &clientOptions{
		logger: zerolog.Nop(),
	}
}

// applyOptions applies the given options to the client options.
func applyOptions(opts *clientOptions, options []Option) {
	for _, option := range options {
		option(opts)
	}
}
