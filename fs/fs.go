// Package fs defines the filesystem abstraction used for local staging.
// Staging code talks to Filesystem rather than the os package so that runs can
// be exercised against an in-memory tree in tests.
package fs

import (
	"os"
	"path/filepath"
)

// Filesystem is the set of operations the staging and extraction steps need.
// Implementations should behave consistently with the standard library.
type Filesystem interface {
	Create(name string) (File, error)
	Exists(path string) (bool, error)
	MkdirAll(path string, perm os.FileMode) error
	Open(name string) (File, error)
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	ReadDir(dirname string) ([]os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	Remove(name string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	TempDir(dir, prefix string) (name string, err error)
	Walk(root string, walkFn filepath.WalkFunc) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
}
