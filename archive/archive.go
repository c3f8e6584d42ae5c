// Package archive materializes downloaded zip archives on the staging
// filesystem and republishes the extracted tree to the object store.
package archive

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
	"github.com/input-output-hk/sftp-ingest/fs"
)

// Materializer extracts archives and republishes their contents.
type Materializer struct {
	fs     fs.Filesystem
	logger zerolog.Logger
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Materializer) {
		m.logger = logger
	}
}

// New returns a Materializer working on filesystem.
func New(filesystem fs.Filesystem, opts ...Option) *Materializer {
	m := &Materializer{
		fs:     filesystem,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExtractAll unpacks the zip archive at localFile under destinationRoot and
// returns the extracted member paths, relative to destinationRoot and slash
// separated, in archive order.
//
// Members are first written to a hidden directory next to destinationRoot and
// moved into place only once every member has been read, so a failed
// extraction leaves destinationRoot as it was. Directory entries are not
// materialized on their own; parents are created as needed. Existing files at
// a member's path are replaced.
//
// Errors:
//   - UNSUPPORTED_FORMAT: localFile is not a zip archive, a member is corrupt,
//     a member path is absolute or escapes destinationRoot, or a member would
//     need a file and a directory at the same path
func (m *Materializer) ExtractAll(localFile, destinationRoot string) ([]string, error) {
	log := m.logger.With().Str("archive", localFile).Logger()

	f, err := m.fs.Open(localFile)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", localFile, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive %s: %w", localFile, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, ingesterrors.UnsupportedFormat("extract", fmt.Errorf("%s: %w", localFile, err))
	}

	members, err := planMembers(zr.File, log)
	if err != nil {
		return nil, ingesterrors.UnsupportedFormat("extract", fmt.Errorf("%s: %w", localFile, err))
	}

	parent := filepath.Dir(filepath.Clean(destinationRoot))
	if err := m.fs.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", parent, err)
	}
	scratch, err := m.fs.TempDir(parent, ".extract-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := m.fs.RemoveAll(scratch); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", scratch).Msg("failed to remove scratch dir")
		}
	}()

	for _, member := range members {
		if err := m.writeMember(member, filepath.Join(scratch, filepath.FromSlash(member.rel))); err != nil {
			if isFormatError(err) {
				return nil, ingesterrors.UnsupportedFormat("extract", fmt.Errorf("%s: %s: %w", localFile, member.rel, err))
			}
			return nil, fmt.Errorf("extract %s from %s: %w", member.rel, localFile, err)
		}
	}

	if err := m.checkDestination(members, destinationRoot); err != nil {
		return nil, ingesterrors.UnsupportedFormat("extract", fmt.Errorf("%s: %w", localFile, err))
	}

	extracted := make([]string, 0, len(members))
	for _, member := range members {
		src := filepath.Join(scratch, filepath.FromSlash(member.rel))
		dst := filepath.Join(destinationRoot, filepath.FromSlash(member.rel))
		if err := m.place(src, dst); err != nil {
			return extracted, fmt.Errorf("place %s: %w", member.rel, err)
		}
		extracted = append(extracted, member.rel)
	}

	log.Debug().Int("files", len(extracted)).Str("root", destinationRoot).Msg("archive extracted")

	return extracted, nil
}

type member struct {
	file *zip.File
	rel  string
}

// planMembers validates every name before anything is written. When a name
// occurs twice the later entry wins, matching what sequential extraction
// would leave behind.
func planMembers(files []*zip.File, log zerolog.Logger) ([]member, error) {
	members := make([]member, 0, len(files))
	index := make(map[string]int, len(files))

	for _, zf := range files {
		if zf.FileInfo().IsDir() {
			continue
		}
		if !zf.Mode().IsRegular() {
			log.Debug().Str("name", zf.Name).Str("mode", zf.Mode().String()).Msg("skipping non-regular member")
			continue
		}

		rel, err := RelativePath(zf.Name)
		if err != nil {
			return nil, err
		}

		if i, ok := index[rel]; ok {
			members[i].file = zf
			continue
		}
		index[rel] = len(members)
		members = append(members, member{file: zf, rel: rel})
	}

	for _, mem := range members {
		for dir := path.Dir(mem.rel); dir != "."; dir = path.Dir(dir) {
			if _, ok := index[dir]; ok {
				return nil, fmt.Errorf("%w: %q is a file and the parent of %q", ErrMemberConflict, dir, mem.rel)
			}
		}
	}

	return members, nil
}

// checkDestination rejects members that would replace a directory already
// under root, or that need a directory where root already holds a file.
func (m *Materializer) checkDestination(members []member, root string) error {
	for _, mem := range members {
		info, err := m.fs.Stat(filepath.Join(root, filepath.FromSlash(mem.rel)))
		if err == nil && info.IsDir() {
			return fmt.Errorf("%w: %q is a directory under %s", ErrMemberConflict, mem.rel, root)
		}

		for dir := path.Dir(mem.rel); dir != "."; dir = path.Dir(dir) {
			info, err := m.fs.Stat(filepath.Join(root, filepath.FromSlash(dir)))
			if err == nil && !info.IsDir() {
				return fmt.Errorf("%w: %q is a file under %s", ErrMemberConflict, dir, root)
			}
		}
	}
	return nil
}

func (m *Materializer) writeMember(mem member, target string) error {
	if err := m.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := mem.file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := m.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, rc)
	closeErr := out.Close()
	return stderrors.Join(copyErr, closeErr)
}

func (m *Materializer) place(src, dst string) error {
	if err := m.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	exists, err := m.fs.Exists(dst)
	if err != nil {
		return err
	}
	if exists {
		if err := m.fs.Remove(dst); err != nil {
			return err
		}
	}
	return m.fs.Rename(src, dst)
}

func isFormatError(err error) bool {
	return stderrors.Is(err, zip.ErrFormat) ||
		stderrors.Is(err, zip.ErrChecksum) ||
		stderrors.Is(err, zip.ErrAlgorithm) ||
		stderrors.Is(err, io.ErrUnexpectedEOF)
}
