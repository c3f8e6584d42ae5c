// Package config loads the job configuration from the environment.
//
// Values come from process environment variables, optionally seeded from a
// dotenv file. Variables already present in the environment take precedence
// over the file.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

// Environment variable names.
const (
	EnvSecretName       = "SECRET_NAME"
	EnvRegion           = "REGION"
	EnvDirectoryPath    = "SFTP_DIRECTORY_PATH"
	EnvBucket           = "BUCKET"
	EnvPort             = "PORT"
	EnvKnownHosts       = "SFTP_KNOWN_HOSTS"
	EnvDialTimeout      = "SFTP_DIAL_TIMEOUT"
	EnvStagingDir       = "STAGING_DIR"
	EnvInclude          = "MATERIALIZE_INCLUDE"
	EnvExclude          = "MATERIALIZE_EXCLUDE"
	EnvRetryMaxAttempts = "RETRY_MAX_ATTEMPTS"
	EnvRetryInitial     = "RETRY_INITIAL_INTERVAL"
	EnvRetryMaxInterval = "RETRY_MAX_INTERVAL"
	EnvS3ForcePathStyle = "S3_FORCE_PATH_STYLE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
)

const (
	defaultEnvFile          = ".env"
	defaultRetryAttempts    = "1"
	defaultRetryInitial     = "1s"
	defaultRetryMaxInterval = "30s"
)

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config is the complete job configuration.
type Config struct {
	// SecretName identifies the secret holding the SFTP credentials.
	SecretName string
	// Region is used for both the secret store and the object store.
	Region string
	// DirectoryPath is the remote directory to ingest.
	DirectoryPath string
	// Bucket receives ingested and republished objects and is the source for
	// materialization.
	Bucket string
	// Port is the SFTP server port.
	Port int

	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string
	// DialTimeout bounds the SFTP dial and handshake. Zero means no limit.
	DialTimeout time.Duration
	// StagingDir is the absolute parent of the per-run staging root. A
	// relative STAGING_DIR is resolved against the working directory. Empty
	// means the OS temp dir.
	StagingDir string
	// Include and Exclude are key globs applied before materialization.
	Include []string
	Exclude []string
	// S3ForcePathStyle selects path-style bucket addressing.
	S3ForcePathStyle bool

	Retry RetryConfig

	LogLevel  zerolog.Level
	LogFormat string
}

// RetryConfig controls retries of network operations.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type loadOptions struct {
	envFile  string
	required bool
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvFile reads path instead of ".env". Unlike the default file, an
// explicitly named file must exist.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = path
		o.required = true
	}
}

// WithoutEnvFile skips dotenv loading entirely.
func WithoutEnvFile() Option {
	return func(o *loadOptions) {
		o.envFile = ""
		o.required = false
	}
}

// Load reads the configuration. Every missing or invalid variable is reported
// in a single INVALID_CONFIGURATION error.
func Load(opts ...Option) (*Config, error) {
	o := &loadOptions{envFile: defaultEnvFile}
	for _, opt := range opts {
		opt(o)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			if o.required || !stderrors.Is(err, fs.ErrNotExist) {
				return nil, ingesterrors.Configuration("load config", fmt.Errorf("read %s: %w", o.envFile, err))
			}
		}
	}

	v := viper.New()
	v.SetDefault(EnvRetryMaxAttempts, defaultRetryAttempts)
	v.SetDefault(EnvRetryInitial, defaultRetryInitial)
	v.SetDefault(EnvRetryMaxInterval, defaultRetryMaxInterval)
	v.SetDefault(EnvLogLevel, zerolog.InfoLevel.String())
	v.SetDefault(EnvLogFormat, LogFormatConsole)
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var (
		missing []string
		invalid []string
	)

	required := func(key string) string {
		value := strings.TrimSpace(v.GetString(key))
		if value == "" {
			missing = append(missing, key)
		}
		return value
	}

	cfg := &Config{
		SecretName:       required(EnvSecretName),
		Region:           required(EnvRegion),
		DirectoryPath:    required(EnvDirectoryPath),
		Bucket:           required(EnvBucket),
		KnownHostsFile:   strings.TrimSpace(v.GetString(EnvKnownHosts)),
		StagingDir:       strings.TrimSpace(v.GetString(EnvStagingDir)),
		Include:          splitList(v.GetString(EnvInclude)),
		Exclude:          splitList(v.GetString(EnvExclude)),
		LogFormat:        strings.ToLower(strings.TrimSpace(v.GetString(EnvLogFormat))),
		S3ForcePathStyle: v.GetBool(EnvS3ForcePathStyle),
	}

	if cfg.StagingDir != "" {
		abs, err := filepath.Abs(cfg.StagingDir)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%s=%q cannot be resolved: %v", EnvStagingDir, cfg.StagingDir, err))
		}
		cfg.StagingDir = abs
	}

	if raw := required(EnvPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			invalid = append(invalid, fmt.Sprintf("%s=%q must be a port number between 1 and 65535", EnvPort, raw))
		}
		cfg.Port = port
	}

	duration := func(key string) time.Duration {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			return 0
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			invalid = append(invalid, fmt.Sprintf("%s=%q must be a non-negative duration", key, raw))
			return 0
		}
		return d
	}
	cfg.DialTimeout = duration(EnvDialTimeout)
	cfg.Retry.InitialInterval = duration(EnvRetryInitial)
	cfg.Retry.MaxInterval = duration(EnvRetryMaxInterval)

	rawAttempts := strings.TrimSpace(v.GetString(EnvRetryMaxAttempts))
	attempts, err := strconv.Atoi(rawAttempts)
	if err != nil || attempts < 1 {
		invalid = append(invalid, fmt.Sprintf("%s=%q must be a positive integer", EnvRetryMaxAttempts, rawAttempts))
	}
	cfg.Retry.MaxAttempts = attempts

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(v.GetString(EnvLogLevel))))
	if err != nil {
		invalid = append(invalid, fmt.Sprintf("%s=%q is not a log level", EnvLogLevel, v.GetString(EnvLogLevel)))
	}
	cfg.LogLevel = level

	if cfg.LogFormat != LogFormatConsole && cfg.LogFormat != LogFormatJSON {
		invalid = append(invalid, fmt.Sprintf("%s=%q must be %q or %q", EnvLogFormat, cfg.LogFormat, LogFormatConsole, LogFormatJSON))
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required environment variables: "+strings.Join(missing, ", "))
	}
	problems = append(problems, invalid...)
	if len(problems) > 0 {
		return nil, ingesterrors.Configuration("load config", stderrors.New(strings.Join(problems, "; ")))
	}

	return cfg, nil
}

// splitList parses a comma separated list, dropping blank items.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
