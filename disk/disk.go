// Package disk provides the sector readers the FAT driver reads volumes from.
//
// Reads are never retried. A backing store which blocks forever blocks the
// caller forever.
package disk

import (
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// SectorSize is the only sector size the devices support.
const SectorSize = 512

var (
	// ErrBufferSize indicates a buffer which cannot hold the requested sectors.
	ErrBufferSize = errors.New("buffer is smaller than the requested sectors")

	// ErrOutOfBounds indicates a read past the end of the device.
	ErrOutOfBounds = errors.New("sector range is out of bounds")

	// ErrShortRead indicates that the backing store returned less data than
	// requested.
	ErrShortRead = errors.New("short read")
)

func check(buf []byte, lba, count uint32, sectors int64) error {
	if int64(len(buf)) < int64(count)*SectorSize {
		return errors.Wrapf(ErrBufferSize, "%d bytes for %d sectors", len(buf), count)
	}
	if int64(lba)+int64(count) > sectors {
		return errors.Wrapf(ErrOutOfBounds, "[%v, %v) of %v", lba, int64(lba)+int64(count), sectors)
	}
	return nil
}

// Memory is a device backed by a []byte.
type Memory []byte

// Sectors returns the number of whole sectors of the device.
func (m Memory) Sectors() int64 {
	return int64(len(m)) / SectorSize
}

// ReadSectors copies count sectors starting at lba into buf.
func (m Memory) ReadSectors(lba uint32, buf []byte, count uint32) error {
	if err := check(buf, lba, count, m.Sectors()); err != nil {
		return err
	}
	off := int64(lba) * SectorSize
	copy(buf[:int64(count)*SectorSize], m[off:])
	return nil
}

// Image is a device backed by an image file.
type Image struct {
	f       afero.File
	name    string
	sectors int64
}

// Open opens the image file path of fs.
func Open(fs afero.Fs, path string) (*Image, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open image")
	}

	img, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return img, nil
}

// New creates an Image reading from f. Trailing bytes which do not fill a
// whole sector are ignored.
func New(f afero.File) (*Image, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, &os.PathError{
			Op:   "New",
			Path: f.Name(),
			Err:  err,
		}
	}

	if glog.V(2) {
		glog.Info("Image name: ", info.Name())
		glog.Info("      size: ", info.Size())
	}

	return &Image{
		f:       f,
		name:    f.Name(),
		sectors: info.Size() / SectorSize,
	}, nil
}

// Name returns the name of the image file.
func (img *Image) Name() string {
	return img.name
}

// Sectors returns the number of whole sectors of the image.
func (img *Image) Sectors() int64 {
	return img.sectors
}

// ReadSectors reads count sectors starting at lba into buf.
func (img *Image) ReadSectors(lba uint32, buf []byte, count uint32) error {
	if err := check(buf, lba, count, img.sectors); err != nil {
		return err
	}

	off := int64(lba) * SectorSize
	size := int(count) * SectorSize
	if glog.V(2) {
		glog.Infof("ReadSectors: reading %v sectors from %#x", count, off)
	}

	n, err := img.f.ReadAt(buf[:size], off)
	if n == size {
		// A ReadAt hitting the end exactly may report io.EOF.
		return nil
	}
	if err == nil || err == io.EOF {
		err = ErrShortRead
	}
	return errors.Wrapf(err, "sector %d of %s, got %d of %d bytes", lba, img.name, n, size)
}

// Close closes the image file.
func (img *Image) Close() error {
	return errors.Wrap(img.f.Close(), "could not close image")
}
