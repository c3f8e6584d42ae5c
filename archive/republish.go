package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/input-output-hk/sftp-ingest/aws/s3/s3types"
	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

// Putter stores one object with a single request.
type Putter interface {
	Put(
		ctx context.Context,
		bucket, key string,
		body io.Reader,
		size int64,
		opts ...s3types.UploadOption,
	) (*s3types.UploadResult, error)
}

// Republish uploads every regular file under root to bucket. Each key is the
// file's path relative to root with "/" separators, so nesting inside root is
// kept and root itself never appears in a key. Files are sent one at a time
// with a single PUT each, in lexical walk order, which is also the order of
// the returned keys.
//
// Errors:
//   - TRANSFER_ERROR: a PUT failed or ctx ended; earlier keys stay published
func (m *Materializer) Republish(ctx context.Context, store Putter, bucket, root string) ([]string, error) {
	files, err := m.collect(root)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return keys, ingesterrors.Transfer("republish", err)
		}

		started := time.Now()
		if err := m.putFile(ctx, store, bucket, file); err != nil {
			return keys, ingesterrors.Classify(ingesterrors.CodeTransfer, "republish", err)
		}

		m.logger.Info().
			Str("phase", "republish").
			Str("bucket", bucket).
			Str("key", file.key).
			Int64("bytes", file.size).
			Dur("duration", time.Since(started)).
			Msg("object republished")

		keys = append(keys, file.key)
	}

	return keys, nil
}

type localFile struct {
	path string
	key  string
	size int64
}

func (m *Materializer) collect(root string) ([]localFile, error) {
	var files []localFile

	err := m.fs.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{
			path: p,
			key:  filepath.ToSlash(rel),
			size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return files, nil
}

func (m *Materializer) putFile(ctx context.Context, store Putter, bucket string, file localFile) error {
	f, err := m.fs.Open(file.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", file.path, err)
	}
	defer f.Close()

	if _, err := store.Put(ctx, bucket, file.key, f, file.size); err != nil {
		return fmt.Errorf("put %s: %w", file.key, err)
	}
	return nil
}
