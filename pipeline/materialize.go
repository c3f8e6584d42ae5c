package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/input-output-hk/sftp-ingest/archive"
	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

const (
	downloadsDir = "downloads"
	extractedDir = "extracted"
)

// Materialize downloads every object in bucket that passes filter into a
// fresh staging root under stagingDir, extracts each download as a zip
// archive into one merged tree and publishes that tree back to bucket.
// The staging root is removed before Materialize returns.
//
// Objects already republished by an earlier run are listed again. Without a
// filter that excludes them they are not archives, so the run fails with
// UNSUPPORTED_FORMAT.
func (p *Pipeline) Materialize(ctx context.Context, bucket, stagingDir string, filter KeyFilter) (*Result, error) {
	log := p.logger.With().Str("phase", "materialize").Str("bucket", bucket).Logger()

	root, release, err := p.acquireStaging(stagingDir)
	if err != nil {
		return nil, err
	}
	defer release()

	keys, err := p.listKeys(ctx, bucket, filter)
	if err != nil {
		return nil, err
	}

	downloads := make([]string, 0, len(keys))
	for _, key := range keys {
		rel, err := archive.RelativePath(key)
		if err != nil {
			return nil, ingesterrors.UnsupportedFormat("download", err)
		}
		local := filepath.Join(root, downloadsDir, filepath.FromSlash(rel))

		var result *s3types.DownloadResult
		err = p.retry.Do(ctx, "download", ingesterrors.CodeTransfer, log, func(ctx context.Context) error {
			var dlErr error
			result, dlErr = p.store.DownloadFile(ctx, bucket, key, local)
			return dlErr
		})
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("download failed")
			return nil, err
		}

		log.Info().Str("key", key).Int64("bytes", result.Size).Dur("duration", result.Duration).Msg("object downloaded")
		downloads = append(downloads, local)
	}

	extractedRoot := filepath.Join(root, extractedDir)
	if err := p.fs.MkdirAll(extractedRoot, 0o755); err != nil {
		return nil, err
	}

	var extracted []string
	for i, local := range downloads {
		files, err := p.materializer.ExtractAll(local, extractedRoot)
		if err != nil {
			log.Error().Err(err).Str("key", keys[i]).Msg("extraction failed")
			return nil, err
		}
		log.Info().Str("key", keys[i]).Int("files", len(files)).Msg("archive extracted")
		extracted = append(extracted, files...)
	}

	putter := retryingPutter{store: p.store, retry: p.retry, logger: log}
	republished, err := p.materializer.Republish(ctx, putter, bucket, extractedRoot)
	if err != nil {
		return nil, err
	}

	return &Result{
		DownloadedKeys:  keys,
		ExtractedFiles:  extracted,
		RepublishedKeys: republished,
	}, nil
}

// listKeys collects the keys to materialize. A listing that fails part way is
// restarted from the beginning on retry.
func (p *Pipeline) listKeys(ctx context.Context, bucket string, filter KeyFilter) ([]string, error) {
	log := p.logger.With().Str("phase", "materialize").Str("bucket", bucket).Logger()

	var keys []string
	err := p.retry.Do(ctx, "list objects", ingesterrors.CodeTransfer, log, func(ctx context.Context) error {
		keys = keys[:0]
		for obj, err := range p.store.ListAll(ctx, bucket, "") {
			if err != nil {
				return err
			}
			switch {
			case strings.HasSuffix(obj.Key, "/"):
				log.Debug().Str("key", obj.Key).Msg("skipping folder marker")
			case !filter.Match(obj.Key):
				log.Debug().Str("key", obj.Key).Msg("skipping filtered key")
			default:
				keys = append(keys, obj.Key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("objects", len(keys)).Msg("bucket listed")

	return keys, nil
}

// acquireStaging creates the per-run staging root. The release func removes
// it and must always be called.
func (p *Pipeline) acquireStaging(parent string) (string, func(), error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if err := p.fs.MkdirAll(parent, 0o755); err != nil {
		return "", nil, ingesterrors.Configuration("staging", err)
	}

	root, err := p.fs.TempDir(parent, "sftp-ingest-")
	if err != nil {
		return "", nil, ingesterrors.Configuration("staging", err)
	}
	p.logger.Debug().Str("phase", "materialize").Str("root", root).Msg("staging root created")

	release := func() {
		if err := p.fs.RemoveAll(root); err != nil {
			p.logger.Warn().Err(err).Str("root", root).Msg("failed to remove staging root")
		}
	}
	return root, release, nil
}
