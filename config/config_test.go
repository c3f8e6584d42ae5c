package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

var allVars = []string{
	EnvSecretName, EnvRegion, EnvDirectoryPath, EnvBucket, EnvPort,
	EnvKnownHosts, EnvDialTimeout, EnvStagingDir, EnvInclude, EnvExclude,
	EnvRetryMaxAttempts, EnvRetryInitial, EnvRetryMaxInterval,
	EnvS3ForcePathStyle, EnvLogLevel, EnvLogFormat,
}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allVars {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(EnvSecretName, "sftp/credentials")
	t.Setenv(EnvRegion, "eu-central-1")
	t.Setenv(EnvDirectoryPath, "/outbound")
	t.Setenv(EnvBucket, "ingest-bucket")
	t.Setenv(EnvPort, "22")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := Load(WithoutEnvFile())
	require.NoError(t, err)

	assert.Equal(t, "sftp/credentials", cfg.SecretName)
	assert.Equal(t, "eu-central-1", cfg.Region)
	assert.Equal(t, "/outbound", cfg.DirectoryPath)
	assert.Equal(t, "ingest-bucket", cfg.Bucket)
	assert.Equal(t, 22, cfg.Port)
	assert.Empty(t, cfg.KnownHostsFile)
	assert.Empty(t, cfg.StagingDir)
	assert.Empty(t, cfg.Include)
	assert.Empty(t, cfg.Exclude)
	assert.Zero(t, cfg.DialTimeout)
	assert.False(t, cfg.S3ForcePathStyle)
	assert.Equal(t, RetryConfig{MaxAttempts: 1, InitialInterval: time.Second, MaxInterval: 30 * time.Second}, cfg.Retry)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, LogFormatConsole, cfg.LogFormat)
}

func TestLoad_Optional(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv(EnvKnownHosts, "/etc/ssh/known_hosts")
	t.Setenv(EnvDialTimeout, "15s")
	t.Setenv(EnvStagingDir, "/var/tmp")
	t.Setenv(EnvInclude, "*.zip, reports/**/*.zip ,,")
	t.Setenv(EnvExclude, "tmp/**")
	t.Setenv(EnvRetryMaxAttempts, "4")
	t.Setenv(EnvRetryInitial, "250ms")
	t.Setenv(EnvRetryMaxInterval, "5s")
	t.Setenv(EnvS3ForcePathStyle, "true")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvLogFormat, "json")

	cfg, err := Load(WithoutEnvFile())
	require.NoError(t, err)

	assert.Equal(t, "/etc/ssh/known_hosts", cfg.KnownHostsFile)
	assert.Equal(t, 15*time.Second, cfg.DialTimeout)
	assert.Equal(t, "/var/tmp", cfg.StagingDir)
	assert.Equal(t, []string{"*.zip", "reports/**/*.zip"}, cfg.Include)
	assert.Equal(t, []string{"tmp/**"}, cfg.Exclude)
	assert.Equal(t, RetryConfig{MaxAttempts: 4, InitialInterval: 250 * time.Millisecond, MaxInterval: 5 * time.Second}, cfg.Retry)
	assert.True(t, cfg.S3ForcePathStyle)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantContains []string
	}{
		{
			name: "all required missing",
			env:  map[string]string{},
			wantContains: []string{
				"missing required environment variables: SECRET_NAME, REGION, SFTP_DIRECTORY_PATH, BUCKET, PORT",
			},
		},
		{
			name: "blank value counts as missing",
			env: map[string]string{
				EnvSecretName: "   ", EnvRegion: "r", EnvDirectoryPath: "/d", EnvBucket: "b", EnvPort: "22",
			},
			wantContains: []string{"missing required environment variables: SECRET_NAME"},
		},
		{
			name: "port not a number",
			env: map[string]string{
				EnvSecretName: "s", EnvRegion: "r", EnvDirectoryPath: "/d", EnvBucket: "b", EnvPort: "ssh",
			},
			wantContains: []string{`PORT="ssh"`},
		},
		{
			name: "port out of range",
			env: map[string]string{
				EnvSecretName: "s", EnvRegion: "r", EnvDirectoryPath: "/d", EnvBucket: "b", EnvPort: "70000",
			},
			wantContains: []string{`PORT="70000"`},
		},
		{
			name: "missing and invalid reported together",
			env: map[string]string{
				EnvRegion: "r", EnvDirectoryPath: "/d", EnvBucket: "b", EnvPort: "0",
				EnvRetryMaxAttempts: "0", EnvLogLevel: "loud", EnvLogFormat: "xml", EnvDialTimeout: "soon",
			},
			wantContains: []string{
				"missing required environment variables: SECRET_NAME",
				`PORT="0"`,
				`RETRY_MAX_ATTEMPTS="0"`,
				`LOG_LEVEL="loud"`,
				`LOG_FORMAT="xml"`,
				`SFTP_DIAL_TIMEOUT="soon"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(WithoutEnvFile())

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, ingesterrors.ErrConfiguration)
			for _, want := range tt.wantContains {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBucket, "from-environment")

	envFile := filepath.Join(t.TempDir(), "job.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"SECRET_NAME=from-file\nREGION=us-west-2\nSFTP_DIRECTORY_PATH=/in\nBUCKET=from-file\nPORT=2222\n",
	), 0o600))

	cfg, err := Load(WithEnvFile(envFile))
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.SecretName)
	assert.Equal(t, "from-environment", cfg.Bucket, "environment wins over the file")
	assert.Equal(t, 2222, cfg.Port)
}

func TestLoad_EnvFileMissing(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	_, err := Load(WithEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	assert.ErrorIs(t, err, ingesterrors.ErrConfiguration)

	// The implicit .env is optional.
	t.Chdir(t.TempDir())
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoad_RelativeStagingDir(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv(EnvStagingDir, "scratch")
	t.Chdir(t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg, err := Load(WithoutEnvFile())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(wd, "scratch"), cfg.StagingDir)
	assert.True(t, filepath.IsAbs(cfg.StagingDir))
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: " , ,", want: nil},
		{raw: "a", want: []string{"a"}},
		{raw: "a, b ,c", want: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, splitList(tt.raw))
		})
	}
}
