package kfat

import (
	"os"
	"time"
)

// FileInfo describes the entry as os.FileInfo. Sys returns the EntryHeader.
func (h EntryHeader) FileInfo() os.FileInfo {
	return entryHeaderFileInfo{h}
}

type entryHeaderFileInfo struct {
	entry EntryHeader
}

func (e entryHeaderFileInfo) Name() string {
	return entryName(e.entry)
}

func (e entryHeaderFileInfo) Size() int64 {
	return int64(e.entry.FileSize)
}

// Mode is read only for everybody, the volume is never written.
func (e entryHeaderFileInfo) Mode() os.FileMode {
	if e.IsDir() {
		return os.ModeDir | 0555
	}
	return 0444
}

func (e entryHeaderFileInfo) ModTime() time.Time {
	return DateTime(e.entry.WriteDate, e.entry.WriteTime)
}

func (e entryHeaderFileInfo) IsDir() bool {
	return e.entry.Attribute&AttrDirectory == AttrDirectory
}

func (e entryHeaderFileInfo) Sys() interface{} {
	return e.entry
}

// rootFileInfo describes the root directory which has no entry of its own.
type rootFileInfo struct{}

func (rootFileInfo) Name() string       { return "/" }
func (rootFileInfo) Size() int64        { return 0 }
func (rootFileInfo) Mode() os.FileMode  { return os.ModeDir | 0555 }
func (rootFileInfo) ModTime() time.Time { return time.Time{} }
func (rootFileInfo) IsDir() bool        { return true }
func (rootFileInfo) Sys() interface{}   { return nil }
