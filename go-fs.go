package kfat

import (
	"io/fs"
	"sort"
)

// GoDirEntry is the fs.DirEntry of a root directory entry.
type GoDirEntry struct {
	fs.FileInfo
}

// Type returns only the type bits of the mode.
func (e GoDirEntry) Type() fs.FileMode {
	return e.Mode().Type()
}

// Info never fails, the entry is read from the cached root directory.
func (e GoDirEntry) Info() (fs.FileInfo, error) {
	return e.FileInfo, nil
}

// GoFile adds ReadDir to File so it satisfies fs.ReadDirFile.
type GoFile struct {
	*File
}

// ReadDir behaves like Readdir but returns fs.DirEntry values.
func (f GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	infos, err := f.Readdir(n)
	if len(infos) == 0 {
		return nil, err
	}

	dirEntries := make([]fs.DirEntry, 0, len(infos))
	for _, info := range infos {
		dirEntries = append(dirEntries, GoDirEntry{FileInfo: info})
	}
	return dirEntries, err
}

// GoFs exposes a volume as fs.FS. It also implements fs.ReadDirFS,
// fs.ReadFileFS and fs.StatFS.
type GoFs struct {
	*Fs
}

// NewGoFS opens the FAT volume on device as fs.FS.
func NewGoFS(device SectorReader, opts Options) (*GoFs, error) {
	fat, err := NewWithOptions(device, opts)
	if err != nil {
		return nil, err
	}
	return &GoFs{Fs: fat}, nil
}

// Open opens name which must be a valid fs.FS path. "." is the root directory.
func (g GoFs) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	f, err := g.OpenHandle(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return GoFile{File: f}, nil
}

// ReadDir lists the root directory, the only directory of the volume, sorted
// by name.
func (g GoFs) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	f, err := g.OpenHandle(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	defer f.Close()

	entries, err := GoFile{File: f}.ReadDir(-1)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}
