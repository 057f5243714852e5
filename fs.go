// Package kfat is a read only FAT12 and FAT16 driver for the root directory of
// a single partition. It reads through a SectorReader and exposes the volume
// as afero.Fs and, via GoFs, as fs.FS.
package kfat

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aligator/kfat/checkpoint"
	"github.com/golang/glog"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// DefaultPartitionOffset is the sector of the first partition on the disks
// the kernel boots from.
const DefaultPartitionOffset = 2048

// Options configure an Fs.
type Options struct {
	// PartitionOffset is the sector holding the boot sector.
	PartitionOffset uint32

	// MaxFATSectors and MaxRootSectors cap the memory used to cache the
	// table and the root directory. 0 means no cap. A volume which needs more
	// fails Init with ErrTruncated.
	MaxFATSectors  uint32
	MaxRootSectors uint32

	// MaxOpenFiles is the size of the handle pool. 0 means DefaultMaxOpenFiles.
	MaxOpenFiles int
}

// DefaultOptions returns the options the kernel uses.
func DefaultOptions() Options {
	return Options{
		PartitionOffset: DefaultPartitionOffset,
		MaxOpenFiles:    DefaultMaxOpenFiles,
	}
}

// Info contains all information about the geometry of the volume.
// All sector numbers are absolute, the partition offset is already added.
type Info struct {
	FSType            FATType
	PartitionOffset   uint32
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	SectorsPerFAT     uint16
	RootEntryCount    uint16

	FATStart     uint32
	RootStart    uint32
	RootSectors  uint32
	DataStart    uint32
	TotalSectors uint32
	ClusterCount uint32
}

// ClusterSize returns the size of a cluster in bytes.
func (i Info) ClusterSize() uint32 {
	return uint32(i.SectorsPerCluster) * uint32(i.BytesPerSector)
}

// clusterSector returns the first sector of data cluster c.
func (i Info) clusterSector(c fatEntry) uint32 {
	return i.DataStart + uint32(c-firstDataCluster)*uint32(i.SectorsPerCluster)
}

// Fs is a FAT volume. The zero value and a Fs from Attach are uninitialized
// and every operation but Init fails with ErrNotInitialized.
type Fs struct {
	lock sync.Mutex

	device SectorReader
	opts   Options

	initialized bool
	generation  uint64
	bootSector  BootSector
	info        Info
	table       fatTable
	root        []EntryHeader
	handles     *handlePool

	// clusterBuf holds the data of cluster cached, 0 if it is empty.
	clusterBuf []byte
	cached     fatEntry
}

// Attach creates an uninitialized Fs for the volume on device.
func Attach(device SectorReader, opts Options) *Fs {
	return &Fs{device: device, opts: opts}
}

// New opens the FAT volume at DefaultPartitionOffset of device.
func New(device SectorReader) (*Fs, error) {
	return NewWithOptions(device, DefaultOptions())
}

// NewWithOptions opens the FAT volume on device.
func NewWithOptions(device SectorReader, opts Options) (*Fs, error) {
	fs := Attach(device, opts)
	if err := fs.Init(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Init reads the boot sector, validates it and caches the first FAT and the
// root directory. Files opened before a repeated Init must not be used anymore.
func (fs *Fs) Init() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.initialized = false
	fs.generation++
	fs.cached = 0

	if fs.device == nil {
		return checkpoint.From(fmt.Errorf("%w: no device attached", ErrIO))
	}

	offset := fs.opts.PartitionOffset
	raw := make([]byte, sectorSize)
	if err := fs.device.ReadSectors(offset, raw, 1); err != nil {
		glog.Errorf("kfat: could not read the boot sector at %d: %v", offset, err)
		return checkpoint.Wrap(err, ErrIO)
	}

	bs, err := parseBootSector(raw)
	if err != nil {
		return checkpoint.Wrap(err, ErrInvalidBootSector)
	}
	info, err := geometry(bs, offset)
	if err != nil {
		return err
	}

	fat, err := fs.loadRegion(info.FATStart, uint32(info.SectorsPerFAT), fs.opts.MaxFATSectors, "file allocation table")
	if err != nil {
		return err
	}
	rootRaw, err := fs.loadRegion(info.RootStart, info.RootSectors, fs.opts.MaxRootSectors, "root directory")
	if err != nil {
		return err
	}
	root, err := parseRoot(rootRaw)
	if err != nil {
		return err
	}

	fs.bootSector = bs
	fs.info = info
	fs.table = newFATTable(info.FSType, fat, info.ClusterCount)
	fs.root = root
	fs.handles = newHandlePool(fs.opts.MaxOpenFiles, fs.generation)
	fs.clusterBuf = make([]byte, info.ClusterSize())
	fs.initialized = true

	glog.V(1).Infof("kfat: %v volume %q, fat at %d, root at %d (%d sectors), data at %d, %d bytes per cluster",
		info.FSType, bs.VolumeLabel(), info.FATStart, info.RootStart, info.RootSectors, info.DataStart, info.ClusterSize())
	return nil
}

// geometry validates bs and computes where the regions of the volume start.
func geometry(bs BootSector, offset uint32) (Info, error) {
	if bs.Signature != bootSignature {
		return Info{}, checkpoint.From(fmt.Errorf("%w: found %#04x", ErrInvalidSignature, bs.Signature))
	}

	typ, ok := fatTypeFromTag(bs.FileSystemType())
	if !ok {
		return Info{}, checkpoint.From(fmt.Errorf("%w: type tag %q", ErrUnsupportedFilesystem, bs.FileSystemType()))
	}

	switch {
	case bs.BytesPerSector != sectorSize:
		return Info{}, checkpoint.From(fmt.Errorf("%w: %d bytes per sector", ErrInvalidBootSector, bs.BytesPerSector))
	case bs.SectorsPerCluster == 0:
		return Info{}, checkpoint.From(fmt.Errorf("%w: no sectors per cluster", ErrInvalidBootSector))
	case bs.ReservedSectorCount == 0:
		return Info{}, checkpoint.From(fmt.Errorf("%w: no reserved sectors", ErrInvalidBootSector))
	case bs.NumFATs == 0:
		return Info{}, checkpoint.From(fmt.Errorf("%w: no file allocation table", ErrInvalidBootSector))
	case bs.FATSize16 == 0:
		return Info{}, checkpoint.From(fmt.Errorf("%w: empty file allocation table", ErrInvalidBootSector))
	case bs.RootEntryCount == 0:
		return Info{}, checkpoint.From(fmt.Errorf("%w: no root directory entries", ErrInvalidBootSector))
	}

	info := Info{
		FSType:            typ,
		PartitionOffset:   offset,
		BytesPerSector:    bs.BytesPerSector,
		SectorsPerCluster: bs.SectorsPerCluster,
		ReservedSectors:   bs.ReservedSectorCount,
		NumFATs:           bs.NumFATs,
		SectorsPerFAT:     bs.FATSize16,
		RootEntryCount:    bs.RootEntryCount,
	}

	info.FATStart = offset + uint32(bs.ReservedSectorCount)
	info.RootStart = info.FATStart + uint32(bs.NumFATs)*uint32(bs.FATSize16)
	info.RootSectors = (uint32(bs.RootEntryCount)*entrySize + sectorSize - 1) / sectorSize
	info.DataStart = info.RootStart + info.RootSectors

	info.TotalSectors = uint32(bs.TotalSectors16)
	if info.TotalSectors == 0 {
		info.TotalSectors = bs.TotalSectors32
	}
	// Volumes without a usable total are only bounded by their table.
	if metadata := info.DataStart - offset; info.TotalSectors > metadata {
		info.ClusterCount = (info.TotalSectors - metadata) / uint32(bs.SectorsPerCluster)
	}

	return info, nil
}

// loadRegion reads count sectors starting at start. A count above limit
// fails with ErrTruncated unless limit is 0.
func (fs *Fs) loadRegion(start, count, limit uint32, what string) ([]byte, error) {
	if limit > 0 && count > limit {
		return nil, checkpoint.From(fmt.Errorf("%w: %s needs %d sectors, only %d allowed", ErrTruncated, what, count, limit))
	}

	buf := make([]byte, count*sectorSize)
	if err := fs.device.ReadSectors(start, buf, count); err != nil {
		glog.Errorf("kfat: could not read the %s at %d: %v", what, start, err)
		return nil, checkpoint.Wrap(err, ErrIO)
	}
	return buf, nil
}

// BootSector returns a copy of the parsed boot sector.
func (fs *Fs) BootSector() (BootSector, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if !fs.initialized {
		return BootSector{}, checkpoint.From(ErrNotInitialized)
	}
	return fs.bootSector, nil
}

// Info returns the geometry of the volume.
func (fs *Fs) Info() (Info, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if !fs.initialized {
		return Info{}, checkpoint.From(ErrNotInitialized)
	}
	return fs.info, nil
}

// FSType returns the type of the volume or 0 before Init.
func (fs *Fs) FSType() FATType {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return fs.info.FSType
}

// Label returns the volume label of the boot sector.
func (fs *Fs) Label() string {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return fs.bootSector.VolumeLabel()
}

// OpenFiles returns the number of handles currently in use.
func (fs *Fs) OpenFiles() int {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.handles == nil {
		return 0
	}
	return fs.handles.open()
}

// OpenHandle opens the file name of the root directory. The name is matched
// case insensitively against the 8.3 names of the entries. "/" opens the root
// directory itself.
func (fs *Fs) OpenHandle(name string) (*File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if !fs.initialized {
		return nil, checkpoint.From(ErrNotInitialized)
	}

	clean, isRoot, ok := cleanPath(name)
	if !ok {
		return nil, checkpoint.From(fmt.Errorf("%w: %q is not in the root directory", ErrNotFound, name))
	}

	var entry EntryHeader
	if !isRoot {
		var err error
		entry, err = fs.lookup(clean)
		if err != nil {
			return nil, err
		}
	}

	h, err := fs.handles.acquire()
	if err != nil {
		return nil, err
	}

	return &File{
		fs:          fs,
		handle:      h,
		path:        name,
		isDirectory: isRoot,
		entry:       entry,
		pos:         chainPos{cluster: entry.FirstCluster()},
	}, nil
}

// ReadFile returns the whole content of the file name.
func (fs *Fs) ReadFile(name string) (content []byte, err error) {
	f, err := fs.OpenHandle(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	if f.isDirectory {
		return nil, checkpoint.From(fmt.Errorf("%w: %q is a directory", ErrReadFile, name))
	}

	content = make([]byte, f.entry.FileSize)
	n, err := io.ReadFull(f, content)
	return content[:n], err
}

// readChain copies file content at off into p. The walk starts at pos, which
// must be the cluster holding off or one before it, and the returned position
// can be used to continue after the copied bytes. Only size bytes of the chain
// belong to the file.
//
// Bytes copied before an error are counted in n.
func (fs *Fs) readChain(pos chainPos, size, off int64, p []byte) (n int, next chainPos, err error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if !fs.initialized {
		return 0, pos, checkpoint.From(ErrNotInitialized)
	}
	if off >= size {
		return 0, pos, io.EOF
	}
	if off < pos.base {
		return 0, pos, checkpoint.From(fmt.Errorf("%w: offset %d is before the cluster at %d", ErrReadFile, off, pos.base))
	}
	if remaining := size - off; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	clusterSize := int64(fs.info.ClusterSize())
	for n < len(p) {
		for off >= pos.base+clusterSize {
			following, eoc, err := fs.table.next(pos.cluster)
			if err != nil {
				return n, pos, err
			}
			if eoc {
				return n, pos, checkpoint.Wrap(io.ErrUnexpectedEOF, fmt.Errorf("%w: chain ends at cluster %d before byte %d of %d", ErrReadFile, pos.cluster, off, size))
			}
			pos = chainPos{cluster: following, base: pos.base + clusterSize}
		}

		if err := fs.loadCluster(pos.cluster); err != nil {
			return n, pos, err
		}

		start := off - pos.base
		copied := copy(p[n:], fs.clusterBuf[start:])
		n += copied
		off += int64(copied)
	}

	return n, pos, nil
}

// loadCluster reads cluster c into the cluster buffer.
func (fs *Fs) loadCluster(c fatEntry) error {
	if !fs.table.valid(c) {
		return checkpoint.From(fmt.Errorf("%w: cluster %d is not a data cluster", ErrBadCluster, c))
	}
	if fs.cached == c {
		return nil
	}

	sector := fs.info.clusterSector(c)
	glog.V(2).Infof("kfat: reading cluster %d from sector %d", c, sector)
	if err := fs.device.ReadSectors(sector, fs.clusterBuf, uint32(fs.info.SectorsPerCluster)); err != nil {
		fs.cached = 0
		glog.Warningf("kfat: could not read cluster %d: %v", c, err)
		return checkpoint.Wrap(err, ErrIO)
	}
	fs.cached = c
	return nil
}

// readRoot returns all files of the root directory.
func (fs *Fs) readRoot() ([]EntryHeader, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if !fs.initialized {
		return nil, checkpoint.From(ErrNotInitialized)
	}
	return fs.files(), nil
}

// release gives the slot of h back to the pool.
func (fs *Fs) release(h handle) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.handles != nil {
		fs.handles.release(h)
	}
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return nil, checkpoint.From(ErrReadOnly)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return checkpoint.From(ErrReadOnly)
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	return checkpoint.From(ErrReadOnly)
}

func (fs *Fs) Open(name string) (afero.File, error) {
	f, err := fs.OpenHandle(name)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

// OpenFile opens name for reading. Any flag which would modify the volume
// fails with ErrReadOnly.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: checkpoint.From(ErrReadOnly)}
	}
	return fs.Open(name)
}

func (fs *Fs) Remove(name string) error {
	return checkpoint.From(ErrReadOnly)
}

func (fs *Fs) RemoveAll(path string) error {
	return checkpoint.From(ErrReadOnly)
}

func (fs *Fs) Rename(oldname, newname string) error {
	return checkpoint.From(ErrReadOnly)
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if !fs.initialized {
		return nil, &os.PathError{Op: "stat", Path: name, Err: checkpoint.From(ErrNotInitialized)}
	}

	clean, isRoot, ok := cleanPath(name)
	switch {
	case isRoot:
		return rootFileInfo{}, nil
	case !ok:
		return nil, &os.PathError{Op: "stat", Path: name, Err: checkpoint.From(ErrNotFound)}
	}

	entry, err := fs.lookup(clean)
	if err != nil {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	return entry.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "kfat"
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return checkpoint.From(ErrReadOnly)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return checkpoint.From(ErrReadOnly)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return checkpoint.From(ErrReadOnly)
}
