package secrets

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSecurity_NoSecretValuesInLogs verifies that secret values are never logged
func TestSecurity_NoSecretValuesInLogs(t *testing.T) {
	tests := []struct {
		name        string
		secretValue string
		operation   func(ctx context.Context, client *Client) error
	}{
		{
			name:        "GetSecret does not log secret values",
			secretValue: "super-secret-password-12345",
			operation: func(ctx context.Context, client *Client) error {
				_, err := client.GetSecret(ctx, "test-secret")
				return err
			},
		},
		{
			name:        "GetSecretJSON does not log secret values",
			secretValue: `{"password":"json-secret-password"}`,
			operation: func(ctx context.Context, client *Client) error {
				var v map[string]string
				return client.GetSecretJSON(ctx, "test-secret", &v)
			},
		},
		{
			name:        "CreateSecret does not log secret values",
			secretValue: "database-connection-string-super-long",
			operation: func(ctx context.Context, client *Client) error {
				return client.CreateSecret(ctx, "test-secret", "database-connection-string-super-long", "")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			client := &Client{
				api: &mockManagerAPI{
					getSecretValueFunc: func(
						_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options),
					) (*secretsmanager.GetSecretValueOutput, error) {
						return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(tt.secretValue)}, nil
					},
					createSecretFunc: func(
						_ context.Context, _ *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options),
					) (*secretsmanager.CreateSecretOutput, error) {
						return &secretsmanager.CreateSecretOutput{}, nil
					},
				},
				logger: zerolog.New(&logs).Level(zerolog.TraceLevel),
			}

			require.NoError(t, tt.operation(context.Background(), client))

			assert.NotEmpty(t, logs.String())
			assert.NotContains(t, logs.String(), tt.secretValue)
		})
	}
}

// TestSecurity_MalformedSecretNotEchoed verifies that a value that fails to
// decode is not quoted back in the error.
func TestSecurity_MalformedSecretNotEchoed(t *testing.T) {
	values := []string{
		"plain-text-password",
		`{"password": "unterminated`,
		`["an","array","of","secrets"]`,
	}

	for _, value := range values {
		client := newTestClient(&mockManagerAPI{
			getSecretValueFunc: func(
				_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options),
			) (*secretsmanager.GetSecretValueOutput, error) {
				return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
			},
		})

		var v struct {
			Password string `json:"password"`
		}
		err := client.GetSecretJSON(context.Background(), "creds", &v)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSecretMalformed)
		for _, part := range []string{"plain-text-password", "unterminated", "secrets"} {
			assert.NotContains(t, err.Error(), part)
		}
	}
}

// TestSecurity_ErrorMessagesDontLeakSecrets verifies that error messages don't leak sensitive information
func TestSecurity_ErrorMessagesDontLeakSecrets(t *testing.T) {
	tests := []struct {
		name       string
		secretName string
		code       string
		message    string
	}{
		{
			name:       "not found",
			secretName: "prod/database/super-secret-connection-string",
			code:       ResourceNotFoundException,
			message:    "Secrets Manager can't find the specified secret.",
		},
		{
			name:       "access denied",
			secretName: "prod/api-keys/stripe-secret-key",
			code:       AccessDeniedException,
			message:    "User is not authorized to perform this action.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(&mockManagerAPI{
				getSecretValueFunc: func(
					_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options),
				) (*secretsmanager.GetSecretValueOutput, error) {
					return nil, &smithy.GenericAPIError{Code: tt.code, Message: tt.message}
				},
			})

			_, err := client.GetSecret(context.Background(), tt.secretName)

			require.Error(t, err)
			assert.NotContains(t, err.Error(), tt.secretName)
		})
	}
}

// TestSecurity_ContextValidation verifies that nil context is properly rejected
//
//nolint:staticcheck // nil context is intentionally passed to test validation
func TestSecurity_ContextValidation(t *testing.T) {
	tests := []struct {
		name      string
		operation func(client *Client) error
	}{
		{
			name: "GetSecret rejects nil context",
			operation: func(client *Client) error {
				_, err := client.GetSecret(nil, "test-secret")
				return err
			},
		},
		{
			name: "GetSecretJSON rejects nil context",
			operation: func(client *Client) error {
				var v any
				return client.GetSecretJSON(nil, "test-secret", &v)
			},
		},
		{
			name: "CreateSecret rejects nil context",
			operation: func(client *Client) error {
				return client.CreateSecret(nil, "test-secret", "value", "")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.operation(newTestClient(&mockManagerAPI{}))

			require.Error(t, err)
			assert.Contains(t, err.Error(), "context cannot be nil")
		})
	}
}

// TestSecurity_LogLevels verifies appropriate log levels are used for different operations
func TestSecurity_LogLevels(t *testing.T) {
	tests := []struct {
		name           string
		secretName     string
		expectedLevels map[string]bool
	}{
		{
			name:       "successful GetSecret logs at debug level",
			secretName: "test-secret",
			expectedLevels: map[string]bool{
				`"level":"debug"`: true,
				`"level":"error"`: false,
			},
		},
		{
			name:       "failed GetSecret logs at error level",
			secretName: "missing-secret",
			expectedLevels: map[string]bool{
				`"level":"debug"`: true,
				`"level":"error"`: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			client := &Client{
				api: &mockManagerAPI{
					getSecretValueFunc: func(
						_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options),
					) (*secretsmanager.GetSecretValueOutput, error) {
						if aws.ToString(params.SecretId) == "missing-secret" {
							return nil, &smithy.GenericAPIError{Code: ResourceNotFoundException, Message: "Secret not found"}
						}
						return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("test-value")}, nil
					},
				},
				logger: zerolog.New(&logs).Level(zerolog.DebugLevel),
			}

			_, _ = client.GetSecret(context.Background(), tt.secretName)

			output := logs.String()
			for level, shouldAppear := range tt.expectedLevels {
				if shouldAppear {
					assert.Contains(t, output, level)
				} else {
					assert.NotContains(t, output, level)
				}
			}
			assert.True(t, strings.Contains(output, `"secret_name":"`+tt.secretName+`"`))
		})
	}
}
