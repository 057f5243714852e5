package kfat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aligator/kfat/checkpoint"
	"github.com/golang/glog"
)

// parseRoot decodes the raw root directory region. Decoding stops at the
// first entry whose name starts with 0x00, so the result keeps deleted and
// special entries in their on-disk order.
func parseRoot(raw []byte) ([]EntryHeader, error) {
	entries := make([]EntryHeader, 0, len(raw)/entrySize)
	r := bytes.NewReader(raw)
	for r.Len() >= entrySize {
		var h EntryHeader
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return nil, checkpoint.Wrap(err, ErrInvalidBootSector)
		}
		if h.Name[0] == entryEnd {
			break
		}
		entries = append(entries, h)
	}
	return entries, nil
}

// isFileEntry reports whether h describes a regular file. Deleted entries,
// volume labels, long name parts and subdirectories are no files.
func isFileEntry(h EntryHeader) bool {
	if h.Name[0] == entryDeleted {
		return false
	}
	if h.Attribute&AttrLongName == AttrLongName {
		return false
	}
	return h.Attribute&(AttrVolumeID|AttrDirectory) == 0
}

// lookup searches the cached root directory for name.
func (fs *Fs) lookup(name string) (EntryHeader, error) {
	key := ShortName(name)
	for _, h := range fs.root {
		if !isFileEntry(h) {
			continue
		}
		if entryKey(h) == key {
			glog.V(1).Infof("kfat: found %q at cluster %d, %d bytes", name, h.FirstCluster(), h.FileSize)
			return h, nil
		}
	}
	return EntryHeader{}, checkpoint.From(fmt.Errorf("%w: %q", ErrNotFound, name))
}

// files returns all file entries of the root directory.
func (fs *Fs) files() []EntryHeader {
	var result []EntryHeader
	for _, h := range fs.root {
		if isFileEntry(h) {
			result = append(result, h)
		}
	}
	return result
}
