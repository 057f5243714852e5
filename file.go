package kfat

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/aligator/kfat/checkpoint"
)

// fatFileFs provides all methods needed from a fat filesystem for File.
// It mainly exists to be able to mock the Fs in tests.
// Generated mock using mockgen:
//  mockgen -source=file.go -destination=file_mock.go -package kfat
type fatFileFs interface {
	readChain(pos chainPos, size, off int64, p []byte) (int, chainPos, error)
	readRoot() ([]EntryHeader, error)
	release(h handle)
}

// chainPos is a cluster of a chain together with the file offset at which
// its data starts.
type chainPos struct {
	cluster fatEntry
	base    int64
}

// File is an open file or the open root directory. It reads sequentially;
// the position only moves forward and is reset by opening the file again.
type File struct {
	fs     fatFileFs
	handle handle
	path   string

	isDirectory bool
	entry       EntryHeader

	// pos caches the cluster reached by the last Read.
	pos    chainPos
	offset int64
}

// Close releases the handle. The File must not be used afterwards.
func (f *File) Close() error {
	if f.fs == nil {
		return checkpoint.From(ErrFileClosed)
	}
	f.fs.release(f.handle)
	*f = File{}
	return nil
}

// Read copies up to len(p) bytes from the current position and advances it
// by the number of bytes copied. At the end of the file it returns 0, io.EOF.
//
// If the device fails in the middle of a read, the bytes copied before
// stay in p, are returned as n and are skipped by the next Read.
func (f *File) Read(p []byte) (n int, err error) {
	if f.fs == nil {
		return 0, checkpoint.From(ErrFileClosed)
	}
	if f.isDirectory {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, f.pos, err = f.fs.readChain(f.pos, f.size(), f.offset, p)
	f.offset += int64(n)

	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	return n, nil
}

// ReadAt reads len(p) bytes at off without moving the position of Read.
// Following io.ReaderAt it returns an error whenever n < len(p).
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if f.fs == nil {
		return 0, checkpoint.From(ErrFileClosed)
	}
	if f.isDirectory {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if off < 0 {
		return 0, checkpoint.Wrap(syscall.EINVAL, fmt.Errorf("%w: negative offset %d", ErrReadFile, off))
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, _, err = f.fs.readChain(chainPos{cluster: f.entry.FirstCluster()}, f.size(), off, p)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek only reports the current position: Seek(0, io.SeekCurrent).
// Every other call fails with ErrSeekFile.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.fs == nil {
		return 0, checkpoint.From(ErrFileClosed)
	}
	if offset != 0 || whence != io.SeekCurrent {
		return f.offset, checkpoint.Wrap(syscall.EINVAL, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeekFile, offset, whence))
	}
	return f.offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	return 0, checkpoint.From(ErrReadOnly)
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, checkpoint.From(ErrReadOnly)
}

func (f *File) Name() string {
	return f.path
}

// Readdir reads the files of the root directory.
// May return syscall.ENOTDIR if the current File is no directory.
//
// With count > 0 at most count entries are returned and io.EOF once nothing
// is left. Otherwise all remaining entries are returned.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if f.fs == nil {
		return nil, checkpoint.From(ErrFileClosed)
	}
	if !f.isDirectory {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	content, err := f.fs.readRoot()
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	start := int(f.offset)
	if start > len(content) {
		start = len(content)
	}
	content = content[start:]

	if count > 0 {
		if len(content) == 0 {
			return nil, io.EOF
		}
		if count < len(content) {
			content = content[:count]
		}
	}
	f.offset += int64(len(content))

	result := make([]os.FileInfo, len(content))
	for i := range content {
		result[i] = content[i].FileInfo()
	}
	return result, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	if f.fs == nil {
		return nil, checkpoint.From(ErrFileClosed)
	}
	if f.isDirectory {
		return rootFileInfo{}, nil
	}
	return f.entry.FileInfo(), nil
}

func (f *File) Sync() error {
	return checkpoint.From(ErrReadOnly)
}

func (f *File) Truncate(size int64) error {
	return checkpoint.From(ErrReadOnly)
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}

func (f *File) size() int64 {
	return int64(f.entry.FileSize)
}
