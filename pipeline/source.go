package pipeline

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/input-output-hk/sftp-ingest/config"
	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
	"github.com/input-output-hk/sftp-ingest/sftp"
)

// Source is an open session on the remote directory server.
type Source interface {
	ListDirectory(ctx context.Context, dir string) ([]string, error)
	OpenForRead(ctx context.Context, dir, name string) (io.ReadCloser, error)
	Close() error
}

// SourceDialer opens a Source for the configured server.
type SourceDialer func(ctx context.Context, cfg *config.Config, creds Credentials) (Source, error)

// SFTPDialer dials the server named by creds on cfg.Port over SFTP.
func SFTPDialer(logger zerolog.Logger) SourceDialer {
	return func(ctx context.Context, cfg *config.Config, creds Credentials) (Source, error) {
		opts := []sftp.Option{
			sftp.WithLogger(logger),
			sftp.WithDialTimeout(cfg.DialTimeout),
		}
		if cfg.KnownHostsFile != "" {
			opts = append(opts, sftp.WithKnownHosts(cfg.KnownHostsFile))
		}

		client, err := sftp.Connect(ctx, creds.Host, cfg.Port, creds.Username, creds.Password, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (p *Pipeline) connect(ctx context.Context, cfg *config.Config, creds Credentials) (Source, error) {
	log := p.logger.With().Str("phase", "connect").Str("host", creds.Host).Int("port", cfg.Port).Logger()

	var src Source
	err := p.retry.Do(ctx, "connect", ingesterrors.CodeConnection, log, func(ctx context.Context) error {
		var err error
		src, err = p.dial(ctx, cfg, creds)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("code", string(ingesterrors.CodeOf(err))).Msg("could not open sftp session")
		return nil, err
	}

	return src, nil
}
