package billy

import (
	"errors"
	"io"
	"io/fs"

	"github.com/go-git/go-billy/v5"
)

// File is a staging file handle backed by go-billy. Failures come back as
// *fs.PathError naming the file; io.EOF passes through untouched so readers
// can compare against it directly.
type File struct {
	handle billy.File
	stat   func(name string) (fs.FileInfo, error)
}

func newFile(handle billy.File, fsys billy.Filesystem) *File {
	return &File{handle: handle, stat: fsys.Stat}
}

func (f *File) pathErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return io.EOF
	default:
		return &fs.PathError{Op: op, Path: f.handle.Name(), Err: err}
	}
}

func (f *File) Read(p []byte) (int, error) {
	n, err := f.handle.Read(p)
	return n, f.pathErr("read", err)
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.handle.ReadAt(p, off)
	return n, f.pathErr("readat", err)
}

func (f *File) Write(p []byte) (int, error) {
	n, err := f.handle.Write(p)
	return n, f.pathErr("write", err)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.handle.Seek(offset, whence)
	return pos, f.pathErr("seek", err)
}

// Stat reports the file's current size, including writes made through this
// handle.
func (f *File) Stat() (fs.FileInfo, error) {
	info, err := f.stat(f.handle.Name())
	if err != nil {
		return nil, f.pathErr("stat", err)
	}
	return info, nil
}

func (f *File) Close() error {
	return f.pathErr("close", f.handle.Close())
}
