package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// AWS error code constants
const (
	ResourceNotFoundException = "ResourceNotFoundException"
	AccessDeniedException     = "AccessDeniedException"
)

// Client retrieves secrets from AWS Secrets Manager.
type Client struct {
	// api is the underlying AWS Secrets Manager client (thread-safe)
	api ManagerAPI

	logger zerolog.Logger
}

// NewClient creates a client using the default AWS credential chain.
//
// Example usage:
//
//	client, err := secrets.NewClient(ctx,
//	    secrets.WithRegion("eu-west-1"),
//	    secrets.WithLogger(logger),
//	)
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}

	options := defaultOptions()
	applyOptions(options, opts)

	var loadOpts []func(*config.LoadOptions) error
	if options.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(options.region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newClient(cfg, options), nil
}

// NewClientWithConfig creates a client from an existing AWS configuration,
// so that one configuration can be shared with other service clients.
func NewClientWithConfig(ctx context.Context, cfg *aws.Config, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	options := defaultOptions()
	applyOptions(options, opts)

	resolved := cfg.Copy()
	if options.region != "" {
		resolved.Region = options.region
	}
	if resolved.Region == "" {
		return nil, fmt.Errorf("config region cannot be empty")
	}

	return newClient(resolved, options), nil
}

func newClient(cfg aws.Config, options *clientOptions) *Client {
	var smOpts []func(*secretsmanager.Options)
	if options.endpoint != "" {
		endpoint := options.endpoint
		smOpts = append(smOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &Client{
		api:    secretsmanager.NewFromConfig(cfg, smOpts...),
		logger: options.logger,
	}
}

// handleError maps AWS API errors onto the package sentinels and adds
// operation context. The original error stays in the chain.
func (c *Client) handleError(err error, operation string) error {
	if err == nil {
		return nil
	}

	// Check if this is one of our custom errors - preserve them as-is
	if errors.Is(err, ErrSecretNotFound) ||
		errors.Is(err, ErrSecretEmpty) ||
		errors.Is(err, ErrAccessDenied) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case ResourceNotFoundException:
			return fmt.Errorf("%s: %w: %w", operation, ErrSecretNotFound, err)
		case AccessDeniedException:
			return fmt.Errorf("%s: %w: %w", operation, ErrAccessDenied, err)
		}
	}

	return fmt.Errorf("%s operation failed: %w", operation, err)
}

// GetSecret retrieves the value of a secret. Binary secrets are returned as
// their raw bytes converted to a string.
//
// Errors:
//   - ErrSecretNotFound: the secret does not exist
//   - ErrAccessDenied: the caller may not read the secret
//   - ErrSecretEmpty: the secret has no value
func (c *Client) GetSecret(ctx context.Context, secretName string) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context cannot be nil")
	}
	if secretName == "" {
		return "", fmt.Errorf("secret name cannot be empty")
	}

	c.logger.Debug().Str("secret_name", secretName).Msg("retrieving secret")

	output, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("secret_name", secretName).Msg("failed to retrieve secret")
		return "", c.handleError(err, "GetSecret")
	}

	var secretValue string
	switch {
	case output.SecretString != nil:
		secretValue = *output.SecretString
	case output.SecretBinary != nil:
		secretValue = string(output.SecretBinary)
	}
	if secretValue == "" {
		return "", c.handleError(ErrSecretEmpty, "GetSecret")
	}

	c.logger.Debug().Str("secret_name", secretName).Msg("secret retrieved")

	return secretValue, nil
}

// GetSecretJSON retrieves a secret and decodes its JSON value into v.
//
// Errors:
//   - ErrSecretMalformed: the value is not a JSON document matching v
//   - any error returned by GetSecret
func (c *Client) GetSecretJSON(ctx context.Context, secretName string, v any) error {
	value, err := c.GetSecret(ctx, secretName)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(value), v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: field %q has type %s", ErrSecretMalformed, typeErr.Field, typeErr.Value)
		}
		return ErrSecretMalformed
	}

	return nil
}

// CreateSecret creates a new secret with a string value. If kmsKeyID is not
// empty the secret is encrypted with that key.
func (c *Client) CreateSecret(ctx context.Context, secretName, secretValue, kmsKeyID string) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	if secretName == "" {
		return fmt.Errorf("secret name cannot be empty")
	}
	if secretValue == "" {
		return fmt.Errorf("secret value cannot be empty")
	}

	c.logger.Debug().Str("secret_name", secretName).Msg("creating secret")

	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(secretName),
		SecretString: aws.String(secretValue),
	}
	if kmsKeyID != "" {
		input.KmsKeyId = aws.String(kmsKeyID)
	}

	if _, err := c.api.CreateSecret(ctx, input); err != nil {
		c.logger.Error().Err(err).Str("secret_name", secretName).Msg("failed to create secret")
		return c.handleError(err, "CreateSecret")
	}

	c.logger.Info().Str("secret_name", secretName).Msg("secret created")

	return nil
}
