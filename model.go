package kfat

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// BPB is the BIOS parameter block at the start of the boot sector. All
// on-disk structures are little endian.
type BPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
}

// FAT16SpecificData follows the BPB on FAT12 and FAT16 volumes.
type FAT16SpecificData struct {
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeId       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// BootSector is the decoded first sector of the partition.
type BootSector struct {
	BPB
	FAT16SpecificData
	Signature uint16
}

// bootSignature is stored in the last two bytes of the boot sector.
const bootSignature = 0xAA55

const (
	signatureOffset = 510
	// Labels and type tags are padded with spaces.
	namePadding = " "
)

// parseBootSector decodes a raw 512 byte boot sector.
func parseBootSector(raw []byte) (BootSector, error) {
	var bs BootSector
	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.LittleEndian, &bs.BPB); err != nil {
		return BootSector{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &bs.FAT16SpecificData); err != nil {
		return BootSector{}, err
	}
	bs.Signature = binary.LittleEndian.Uint16(raw[signatureOffset:])
	return bs, nil
}

// FileSystemType returns the type tag without the trailing padding.
func (b BootSector) FileSystemType() string {
	return strings.TrimRight(string(b.BSFileSystemType[:]), namePadding)
}

// VolumeLabel returns the label without the trailing padding.
func (b BootSector) VolumeLabel() string {
	return strings.TrimRight(string(b.BSVolumeLabel[:]), namePadding)
}

// Attributes of a directory entry.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// First bytes of a directory entry name with a special meaning.
const (
	entryEnd     = 0x00
	entryDeleted = 0xE5
	// entryKanji marks a name which really starts with 0xE5.
	entryKanji = 0x05
)

// entrySize is the size of an EntryHeader on disk.
const entrySize = 32

// EntryHeader is a 32 byte directory entry.
type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// FirstCluster returns the start of the cluster chain. FAT12 and FAT16 only use
// the low word.
func (h EntryHeader) FirstCluster() fatEntry {
	return fatEntry(h.FirstClusterLO)
}
