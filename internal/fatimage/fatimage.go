// Package fatimage builds small FAT12 and FAT16 disk images with a single
// partition. Only the root directory is populated.
package fatimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const SectorSize = 512

// Type selects the width of the table entries.
type Type int

const (
	FAT16 Type = iota
	FAT12
)

func (t Type) tag() string {
	if t == FAT12 {
		return "FAT12   "
	}
	return "FAT16   "
}

func (t Type) endOfChain() uint16 {
	if t == FAT12 {
		return 0xFFF
	}
	return 0xFFFF
}

// mediaEntry is the value of the first table entry for fixed disks.
func (t Type) mediaEntry() uint16 {
	if t == FAT12 {
		return 0xFF8
	}
	return 0xFFF8
}

// maxClusters is the highest number of data clusters the type may have.
func (t Type) maxClusters() uint32 {
	if t == FAT12 {
		return 4084
	}
	return 65524
}

var (
	ErrNoSpace   = errors.New("image geometry is too small for the entries")
	ErrBadName   = errors.New("name is not a valid 8.3 name")
	ErrBadLayout = errors.New("invalid image layout")
)

// Attributes used by entries.
const (
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = 0x0F
)

// Entry is a root directory entry.
type Entry struct {
	// Name is "NAME.EXT". It is stored upper case.
	Name string
	Data []byte
	Attr byte

	// Deleted entries get 0xE5 as first name byte but keep their data.
	Deleted bool

	// Clusters is the chain of the file. If empty, the next free clusters
	// are used.
	Clusters []uint16

	// Size overrides the size stored in the entry if not nil.
	Size *uint32

	// WriteDate and WriteTime are stored as they are.
	WriteDate uint16
	WriteTime uint16
}

// Image describes the volume to build. Zero fields get the defaults of
// DefaultImage.
type Image struct {
	Type              Type
	PartitionOffset   uint32
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntries       uint16

	// SectorsPerFAT and DataClusters are computed from the entries if 0.
	SectorsPerFAT uint16
	DataClusters  uint32

	Label string
	OEM   string

	Entries []Entry
}

// DefaultImage returns a FAT16 volume at sector 2048 with 512 byte clusters.
func DefaultImage() Image {
	return Image{
		Type:              FAT16,
		PartitionOffset:   2048,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumFATs:           2,
		RootEntries:       64,
		Label:             "KFAT",
		OEM:               "KFAT",
	}
}

// Layout tells where the regions of a built image are. Sectors are absolute.
type Layout struct {
	Type              Type
	SectorsPerCluster uint8
	FATStart          uint32
	SectorsPerFAT     uint32
	NumFATs           uint8
	RootStart         uint32
	DataStart         uint32
	TotalSectors      uint32
	DataClusters      uint32
}

// ClusterOffset returns the byte offset of cluster c in the image.
func (l Layout) ClusterOffset(c uint16) int64 {
	sector := l.DataStart + uint32(c-2)*uint32(l.SectorsPerCluster)
	return int64(sector) * SectorSize
}

// ClusterSize returns the size of a cluster in bytes.
func (l Layout) ClusterSize() int {
	return int(l.SectorsPerCluster) * SectorSize
}

// SetFATEntry stores value for cluster in every table copy of raw.
func (l Layout) SetFATEntry(raw []byte, cluster, value uint16) {
	for i := uint32(0); i < uint32(l.NumFATs); i++ {
		table := raw[int64(l.FATStart+i*l.SectorsPerFAT)*SectorSize:]
		setEntry(l.Type, table, cluster, value)
	}
}

func setEntry(t Type, table []byte, cluster, value uint16) {
	if t == FAT12 {
		offset := int(cluster) + int(cluster)/2
		word := binary.LittleEndian.Uint16(table[offset:])
		if cluster&1 == 1 {
			word = word&0x000F | value<<4
		} else {
			word = word&0xF000 | value&0x0FFF
		}
		binary.LittleEndian.PutUint16(table[offset:], word)
		return
	}
	binary.LittleEndian.PutUint16(table[2*int(cluster):], value)
}

func (img Image) withDefaults() Image {
	def := DefaultImage()
	if img.SectorsPerCluster == 0 {
		img.SectorsPerCluster = def.SectorsPerCluster
	}
	if img.ReservedSectors == 0 {
		img.ReservedSectors = def.ReservedSectors
	}
	if img.NumFATs == 0 {
		img.NumFATs = def.NumFATs
	}
	if img.RootEntries == 0 {
		img.RootEntries = def.RootEntries
	}
	if img.Label == "" {
		img.Label = def.Label
	}
	if img.OEM == "" {
		img.OEM = def.OEM
	}
	return img
}

// Build returns the raw bytes of the image, starting at sector 0 of the disk.
func (img Image) Build() ([]byte, Layout, error) {
	img = img.withDefaults()
	clusterSize := int(img.SectorsPerCluster) * SectorSize

	if len(img.Entries) > int(img.RootEntries) {
		return nil, Layout{}, fmt.Errorf("%w: %d entries, root holds %d", ErrNoSpace, len(img.Entries), img.RootEntries)
	}

	// Assign chains first to know how many clusters are needed.
	chains := make([][]uint16, len(img.Entries))
	highest := uint16(1)
	for _, e := range img.Entries {
		for _, c := range e.Clusters {
			if c > highest {
				highest = c
			}
		}
	}
	next := highest + 1
	for i, e := range img.Entries {
		if len(e.Clusters) > 0 {
			chains[i] = e.Clusters
			continue
		}
		needed := (len(e.Data) + clusterSize - 1) / clusterSize
		for j := 0; j < needed; j++ {
			chains[i] = append(chains[i], next)
			next++
		}
	}
	for _, chain := range chains {
		for _, c := range chain {
			if c < 2 {
				return nil, Layout{}, fmt.Errorf("%w: cluster %d is reserved", ErrBadLayout, c)
			}
			if c > highest {
				highest = c
			}
		}
	}

	clusters := img.DataClusters
	if clusters == 0 {
		clusters = uint32(highest) - 1
	}
	if clusters < uint32(highest)-1 {
		return nil, Layout{}, fmt.Errorf("%w: cluster %d needs %d data clusters", ErrNoSpace, highest, highest-1)
	}
	if clusters > img.Type.maxClusters() {
		return nil, Layout{}, fmt.Errorf("%w: %d clusters are too many for the type", ErrNoSpace, clusters)
	}

	spf := uint32(img.SectorsPerFAT)
	needed := tableSectors(img.Type, clusters+2)
	if spf == 0 {
		spf = needed
	}
	if spf < needed {
		return nil, Layout{}, fmt.Errorf("%w: table needs %d sectors", ErrNoSpace, needed)
	}

	rootSectors := (uint32(img.RootEntries)*32 + SectorSize - 1) / SectorSize
	l := Layout{
		Type:              img.Type,
		SectorsPerCluster: img.SectorsPerCluster,
		FATStart:          img.PartitionOffset + uint32(img.ReservedSectors),
		SectorsPerFAT:     spf,
		NumFATs:           img.NumFATs,
		DataClusters:      clusters,
	}
	l.RootStart = l.FATStart + uint32(img.NumFATs)*spf
	l.DataStart = l.RootStart + rootSectors
	l.TotalSectors = l.DataStart - img.PartitionOffset + clusters*uint32(img.SectorsPerCluster)
	if l.TotalSectors > 0xFFFF {
		return nil, Layout{}, fmt.Errorf("%w: %d sectors do not fit the 16 bit total", ErrBadLayout, l.TotalSectors)
	}

	raw := make([]byte, int64(img.PartitionOffset+l.TotalSectors)*SectorSize)
	img.writeBootSector(raw[int64(img.PartitionOffset)*SectorSize:], l)

	// Media descriptor and end of chain in the two reserved entries.
	l.SetFATEntry(raw, 0, img.Type.mediaEntry())
	l.SetFATEntry(raw, 1, img.Type.endOfChain())

	root := raw[int64(l.RootStart)*SectorSize:]
	for i, e := range img.Entries {
		if err := writeEntry(root[i*32:], e, chains[i]); err != nil {
			return nil, Layout{}, err
		}

		chain := chains[i]
		for j, c := range chain {
			value := img.Type.endOfChain()
			if j+1 < len(chain) {
				value = chain[j+1]
			}
			l.SetFATEntry(raw, c, value)

			start := j * clusterSize
			if start < len(e.Data) {
				end := start + clusterSize
				if end > len(e.Data) {
					end = len(e.Data)
				}
				copy(raw[l.ClusterOffset(c):], e.Data[start:end])
			}
		}
	}

	return raw, l, nil
}

// tableSectors returns the sectors needed for entries table entries.
func tableSectors(t Type, entries uint32) uint32 {
	var size uint32
	if t == FAT12 {
		size = (entries*3 + 1) / 2
	} else {
		size = entries * 2
	}
	return (size + SectorSize - 1) / SectorSize
}

func (img Image) writeBootSector(sector []byte, l Layout) {
	sector[0], sector[1], sector[2] = 0xEB, 0x3C, 0x90
	copy(sector[3:11], pad(img.OEM, 8))
	binary.LittleEndian.PutUint16(sector[11:], SectorSize)
	sector[13] = img.SectorsPerCluster
	binary.LittleEndian.PutUint16(sector[14:], img.ReservedSectors)
	sector[16] = img.NumFATs
	binary.LittleEndian.PutUint16(sector[17:], img.RootEntries)
	binary.LittleEndian.PutUint16(sector[19:], uint16(l.TotalSectors))
	sector[21] = 0xF8
	binary.LittleEndian.PutUint16(sector[22:], uint16(l.SectorsPerFAT))
	binary.LittleEndian.PutUint16(sector[24:], 63)
	binary.LittleEndian.PutUint16(sector[26:], 255)
	binary.LittleEndian.PutUint32(sector[28:], img.PartitionOffset)

	sector[36] = 0x80
	sector[38] = 0x29
	binary.LittleEndian.PutUint32(sector[39:], 0x4B464154)
	copy(sector[43:54], pad(img.Label, 11))
	copy(sector[54:62], img.Type.tag())

	sector[510], sector[511] = 0x55, 0xAA
}

func writeEntry(raw []byte, e Entry, chain []uint16) error {
	name, err := shortName(e.Name)
	if err != nil {
		return err
	}
	if e.Deleted {
		name[0] = 0xE5
	} else if name[0] == 0xE5 {
		name[0] = 0x05
	}

	copy(raw[0:11], name[:])
	raw[11] = e.Attr
	binary.LittleEndian.PutUint16(raw[22:], e.WriteTime)
	binary.LittleEndian.PutUint16(raw[24:], e.WriteDate)
	if len(chain) > 0 {
		binary.LittleEndian.PutUint16(raw[26:], chain[0])
	}

	size := uint32(len(e.Data))
	if e.Size != nil {
		size = *e.Size
	}
	binary.LittleEndian.PutUint32(raw[28:], size)
	return nil
}

// shortName encodes "NAME.EXT" into the 11 bytes of an entry.
func shortName(name string) ([11]byte, error) {
	var key [11]byte
	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		base, ext = name[:dot], name[dot+1:]
	}
	if base == "" || len(base) > 8 || len(ext) > 3 || strings.ContainsAny(base+ext, ". /") {
		return key, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	copy(key[:], pad(strings.ToUpper(base), 8))
	copy(key[8:], pad(strings.ToUpper(ext), 3))
	return key, nil
}

func pad(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}
