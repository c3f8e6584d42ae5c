package fs

import (
	"io"
	"io/fs"
)

// File is an open staging file. Archives are read through ReadAt and stat'd
// for their size; republished bodies are rewound with Seek before a retried
// PUT.
type File interface {
	io.ReadWriteSeeker
	io.ReaderAt
	io.Closer
	Stat() (fs.FileInfo, error)
}
