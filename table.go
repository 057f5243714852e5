package kfat

import (
	"encoding/binary"
	"fmt"

	"github.com/aligator/kfat/checkpoint"
)

// FATType is the width of the entries in the file allocation table.
type FATType uint8

const (
	FAT12 FATType = iota + 1
	FAT16
)

func (t FATType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	}
	return "unknown"
}

// fatTypeFromTag maps the file system type tag of the boot sector to a FATType.
func fatTypeFromTag(tag string) (FATType, bool) {
	switch tag {
	case "FAT12":
		return FAT12, true
	case "FAT16":
		return FAT16, true
	}
	return 0, false
}

// fatEntry is a cluster number or the value stored for a cluster in the table.
type fatEntry uint16

// firstDataCluster is the number of the first cluster in the data region.
const firstDataCluster fatEntry = 2

// IsFree reports a cluster which is not part of any chain.
func (e fatEntry) IsFree() bool {
	return e == 0
}

// markers returns the bad cluster marker and the lowest end of chain marker.
func (t FATType) markers() (bad, eoc fatEntry) {
	if t == FAT12 {
		return 0xFF7, 0xFF8
	}
	return 0xFFF7, 0xFFF8
}

// fatTable is the cached first copy of the file allocation table.
type fatTable struct {
	typ FATType
	raw []byte

	// limit is the first cluster number which is not backed by the table or
	// the data region.
	limit fatEntry
}

// newFATTable wraps raw. clusterCount is the number of data clusters or 0 if
// the volume does not tell.
func newFATTable(typ FATType, raw []byte, clusterCount uint32) fatTable {
	var capacity uint32
	if typ == FAT12 {
		capacity = uint32(len(raw)) * 2 / 3
	} else {
		capacity = uint32(len(raw)) / 2
	}

	limit := capacity
	if clusterCount > 0 && clusterCount+uint32(firstDataCluster) < limit {
		limit = clusterCount + uint32(firstDataCluster)
	}
	if bad, _ := typ.markers(); limit > uint32(bad) {
		limit = uint32(bad)
	}

	return fatTable{typ: typ, raw: raw, limit: fatEntry(limit)}
}

// valid reports whether c may be part of a cluster chain.
func (t *fatTable) valid(c fatEntry) bool {
	return c >= firstDataCluster && c < t.limit
}

// entry decodes the value stored for cluster c.
func (t *fatTable) entry(c fatEntry) (fatEntry, error) {
	if !t.valid(c) {
		return 0, checkpoint.From(fmt.Errorf("%w: cluster %d is outside of the table", ErrBadCluster, c))
	}

	if t.typ == FAT12 {
		// Two entries share three bytes.
		offset := uint32(c) + uint32(c)/2
		value := binary.LittleEndian.Uint16(t.raw[offset:])
		if c&1 == 1 {
			return fatEntry(value >> 4), nil
		}
		return fatEntry(value & 0xFFF), nil
	}

	return fatEntry(binary.LittleEndian.Uint16(t.raw[2*uint32(c):])), nil
}

// next returns the cluster following c in its chain. eoc is true if c is the
// last cluster.
func (t *fatTable) next(c fatEntry) (next fatEntry, eoc bool, err error) {
	value, err := t.entry(c)
	if err != nil {
		return 0, false, err
	}

	bad, end := t.typ.markers()
	switch {
	case value >= end:
		return 0, true, nil
	case value == bad:
		return 0, false, checkpoint.From(fmt.Errorf("%w: cluster %d links to a bad cluster", ErrBadCluster, c))
	case value.IsFree():
		return 0, false, checkpoint.From(fmt.Errorf("%w: cluster %d links to a free cluster", ErrBadCluster, c))
	case !t.valid(value):
		return 0, false, checkpoint.From(fmt.Errorf("%w: cluster %d links to reserved value %#x", ErrBadCluster, c, value))
	}
	return value, false, nil
}
