package parse

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync/atomic"
)

// FS is the file access the parsers need. Whole-file reads are used for
// full parses; ranged reads at explicit offsets serve prefix, tail and
// search scans.
type FS interface {
	// ReadFile returns the file content. release must be called once the
	// returned bytes are no longer referenced.
	ReadFile(path string) (data []byte, release func(), err error)
	// ReadRange reads up to n bytes at off. A short result at end of file is
	// not an error.
	ReadRange(path string, off, n int64) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS reads from the local filesystem, memory-mapping whole-file reads
// where the platform allows it.
type OSFS struct{}

func (OSFS) ReadFile(path string) ([]byte, func(), error) {
	return mapFile(path)
}

func (OSFS) ReadRange(path string, off, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func noRelease() {}

// CountingFS wraps an FS and counts content reads. Stat calls are not
// counted.
type CountingFS struct {
	FS    FS
	reads atomic.Int64
	bytes atomic.Int64
}

func NewCountingFS(inner FS) *CountingFS {
	return &CountingFS{FS: inner}
}

func (c *CountingFS) ReadFile(path string) ([]byte, func(), error) {
	data, release, err := c.FS.ReadFile(path)
	c.reads.Add(1)
	c.bytes.Add(int64(len(data)))
	return data, release, err
}

func (c *CountingFS) ReadRange(path string, off, n int64) ([]byte, error) {
	data, err := c.FS.ReadRange(path, off, n)
	c.reads.Add(1)
	c.bytes.Add(int64(len(data)))
	return data, err
}

func (c *CountingFS) Stat(path string) (fs.FileInfo, error) {
	return c.FS.Stat(path)
}

// Reads returns the number of content reads so far.
func (c *CountingFS) Reads() int64 { return c.reads.Load() }

// BytesRead returns the number of content bytes returned so far.
func (c *CountingFS) BytesRead() int64 { return c.bytes.Load() }
