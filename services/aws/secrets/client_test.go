package secrets

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockManagerAPI implements ManagerAPI for testing
type mockManagerAPI struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	createSecretFunc   func(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

func (m *mockManagerAPI) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	if m.getSecretValueFunc != nil {
		return m.getSecretValueFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("GetSecretValue not implemented")
}

func (m *mockManagerAPI) CreateSecret(
	ctx context.Context,
	params *secretsmanager.CreateSecretInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.CreateSecretOutput, error) {
	if m.createSecretFunc != nil {
		return m.createSecretFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("CreateSecret not implemented")
}

func newTestClient(api ManagerAPI) *Client {
	return &Client{api: api, logger: zerolog.Nop()}
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code + " message"}
}

func TestNewClientWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *aws.Config
		opts    []Option
		wantErr string
	}{
		{
			name: "region from config",
			cfg:  &aws.Config{Region: "us-east-1"},
		},
		{
			name: "region from option",
			cfg:  &aws.Config{},
			opts: []Option{WithRegion("eu-west-1")},
		},
		{
			name: "endpoint override",
			cfg:  &aws.Config{Region: "us-east-1"},
			opts: []Option{WithEndpoint("http://localhost:4566"), WithLogger(zerolog.Nop())},
		},
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: "config cannot be nil",
		},
		{
			name:    "missing region",
			cfg:     &aws.Config{},
			wantErr: "config region cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClientWithConfig(context.Background(), tt.cfg, tt.opts...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, client)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, client)
			assert.NotNil(t, client.api)
		})
	}
}

func TestNewClientWithConfig_DoesNotMutateConfig(t *testing.T) {
	cfg := &aws.Config{Region: "us-east-1"}

	_, err := NewClientWithConfig(context.Background(), cfg, WithRegion("ap-south-1"))
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestNewClient_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	client, err := NewClient(nil)
	require.Error(t, err)
	assert.Nil(t, client)
}

func TestClient_GetSecret(t *testing.T) {
	tests := []struct {
		name       string
		secretName string
		output     *secretsmanager.GetSecretValueOutput
		apiErr     error
		want       string
		wantErr    error
		errText    string
	}{
		{
			name:       "string secret",
			secretName: "app/sftp",
			output:     &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"host":"h"}`)},
			want:       `{"host":"h"}`,
		},
		{
			name:       "binary secret",
			secretName: "app/binary",
			output:     &secretsmanager.GetSecretValueOutput{SecretBinary: []byte("raw-bytes")},
			want:       "raw-bytes",
		},
		{
			name:       "empty secret",
			secretName: "app/empty",
			output:     &secretsmanager.GetSecretValueOutput{},
			wantErr:    ErrSecretEmpty,
		},
		{
			name:       "empty string secret",
			secretName: "app/empty",
			output:     &secretsmanager.GetSecretValueOutput{SecretString: aws.String("")},
			wantErr:    ErrSecretEmpty,
		},
		{
			name:       "not found",
			secretName: "app/missing",
			apiErr:     apiError(ResourceNotFoundException),
			wantErr:    ErrSecretNotFound,
		},
		{
			name:       "access denied",
			secretName: "app/locked",
			apiErr:     apiError(AccessDeniedException),
			wantErr:    ErrAccessDenied,
		},
		{
			name:       "other api error",
			secretName: "app/throttled",
			apiErr:     apiError("ThrottlingException"),
			errText:    "GetSecret operation failed",
		},
		{
			name:       "empty name",
			secretName: "",
			errText:    "secret name cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requested string
			client := newTestClient(&mockManagerAPI{
				getSecretValueFunc: func(
					_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options),
				) (*secretsmanager.GetSecretValueOutput, error) {
					requested = aws.ToString(params.SecretId)
					return tt.output, tt.apiErr
				},
			})

			got, err := client.GetSecret(context.Background(), tt.secretName)

			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				assert.Equal(t, tt.secretName, requested)
			}
		})
	}
}

func TestClient_GetSecret_KeepsAPIErrorInChain(t *testing.T) {
	client := newTestClient(&mockManagerAPI{
		getSecretValueFunc: func(
			_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options),
		) (*secretsmanager.GetSecretValueOutput, error) {
			return nil, apiError(ResourceNotFoundException)
		},
	})

	_, err := client.GetSecret(context.Background(), "missing")

	var apiErr smithy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ResourceNotFoundException, apiErr.ErrorCode())
}

func TestClient_GetSecretJSON(t *testing.T) {
	type credentials struct {
		Host     string `json:"host"`
		Username string `json:"username"`
		Port     int    `json:"port"`
	}

	tests := []struct {
		name    string
		value   string
		want    credentials
		wantErr error
	}{
		{
			name:  "valid document",
			value: `{"host":"sftp.example.com","username":"ingest","port":22}`,
			want:  credentials{Host: "sftp.example.com", Username: "ingest", Port: 22},
		},
		{
			name:  "unknown fields are ignored",
			value: `{"host":"h","extra":true}`,
			want:  credentials{Host: "h"},
		},
		{
			name:    "not json",
			value:   "hunter2",
			wantErr: ErrSecretMalformed,
		},
		{
			name:    "wrong field type",
			value:   `{"port":"twenty-two"}`,
			wantErr: ErrSecretMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(&mockManagerAPI{
				getSecretValueFunc: func(
					_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options),
				) (*secretsmanager.GetSecretValueOutput, error) {
					return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(tt.value)}, nil
				},
			})

			var got credentials
			err := client.GetSecretJSON(context.Background(), "creds", &got)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NotContains(t, err.Error(), tt.value)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_GetSecretJSON_PropagatesLookupError(t *testing.T) {
	client := newTestClient(&mockManagerAPI{
		getSecretValueFunc: func(
			_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options),
		) (*secretsmanager.GetSecretValueOutput, error) {
			return nil, apiError(ResourceNotFoundException)
		},
	})

	var v map[string]string
	err := client.GetSecretJSON(context.Background(), "missing", &v)
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestClient_CreateSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		value    string
		kmsKeyID string
		apiErr   error
		wantErr  error
		errText  string
	}{
		{name: "without kms key", secret: "s", value: "v"},
		{name: "with kms key", secret: "s", value: "v", kmsKeyID: "alias/custom"},
		{name: "access denied", secret: "s", value: "v", apiErr: apiError(AccessDeniedException), wantErr: ErrAccessDenied},
		{name: "generic failure", secret: "s", value: "v", apiErr: errors.New("network down"), errText: "CreateSecret operation failed"},
		{name: "empty name", secret: "", value: "v", errText: "secret name cannot be empty"},
		{name: "empty value", secret: "s", value: "", errText: "secret value cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *secretsmanager.CreateSecretInput
			client := newTestClient(&mockManagerAPI{
				createSecretFunc: func(
					_ context.Context, params *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options),
				) (*secretsmanager.CreateSecretOutput, error) {
					captured = params
					return &secretsmanager.CreateSecretOutput{}, tt.apiErr
				},
			})

			err := client.CreateSecret(context.Background(), tt.secret, tt.value, tt.kmsKeyID)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
			default:
				require.NoError(t, err)
				require.NotNil(t, captured)
				assert.Equal(t, tt.secret, aws.ToString(captured.Name))
				assert.Equal(t, tt.value, aws.ToString(captured.SecretString))
				if tt.kmsKeyID == "" {
					assert.Nil(t, captured.KmsKeyId)
				} else {
					assert.Equal(t, tt.kmsKeyID, aws.ToString(captured.KmsKeyId))
				}
			}
		})
	}
}

func TestClient_handleError(t *testing.T) {
	client := newTestClient(&mockManagerAPI{})

	tests := []struct {
		name     string
		err      error
		sentinel error
		text     string
	}{
		{name: "nil", err: nil},
		{name: "sentinel kept as is", err: ErrSecretEmpty, sentinel: ErrSecretEmpty},
		{name: "not found code", err: apiError(ResourceNotFoundException), sentinel: ErrSecretNotFound},
		{name: "access denied code", err: apiError(AccessDeniedException), sentinel: ErrAccessDenied},
		{name: "plain error", err: errors.New("boom"), text: "Op operation failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.handleError(tt.err, "Op")
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			if tt.sentinel != nil {
				assert.ErrorIs(t, got, tt.sentinel)
			}
			if tt.text != "" {
				assert.EqualError(t, got, tt.text)
			}
		})
	}
}
