package kfat

import (
	"bytes"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"testing"
	"testing/iotest"

	"github.com/aligator/kfat/disk"
	"github.com/aligator/kfat/internal/fatimage"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

var errDevice = errors.New("device failure")

// pattern returns n bytes which differ between neighbouring clusters.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// sampleImage is a FAT16 volume with 2 KiB clusters and a root directory
// mixing files with entries which are no files.
func sampleImage() fatimage.Image {
	img := fatimage.DefaultImage()
	img.SectorsPerCluster = 4
	img.Entries = []fatimage.Entry{
		{Name: "KFATVOL", Attr: fatimage.AttrVolumeID},
		{Name: "OLD.TXT", Data: []byte("old"), Deleted: true},
		{Name: "A.TXT", Data: pattern(5000), Clusters: []uint16{5, 3, 9}},
		{Name: "OLD2.TXT", Deleted: true},
		{Name: "SUBDIR", Attr: fatimage.AttrDirectory},
		{Name: "TEST.TXT", Data: []byte("hello kernel\n"), WriteDate: 0x5A21, WriteTime: 0x6C2F},
		{Name: "EMPTY.DAT"},
	}
	return img
}

func buildImage(t *testing.T, img fatimage.Image) ([]byte, fatimage.Layout) {
	t.Helper()
	raw, layout, err := img.Build()
	if err != nil {
		t.Fatalf("could not build the image: %v", err)
	}
	return raw, layout
}

func openImage(t *testing.T, raw []byte, opts Options) *Fs {
	t.Helper()
	fs, err := NewWithOptions(disk.Memory(raw), opts)
	if err != nil {
		t.Fatalf("NewWithOptions() error = %v", err)
	}
	return fs
}

// failingDevice fails every read touching sector failAt while fail is set.
type failingDevice struct {
	disk.Memory
	failAt uint32
	fail   bool
}

func (d *failingDevice) ReadSectors(lba uint32, buf []byte, count uint32) error {
	if d.fail && lba <= d.failAt && d.failAt < lba+count {
		return errDevice
	}
	return d.Memory.ReadSectors(lba, buf, count)
}

func TestNewWithOptions(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	fs := openImage(t, raw, DefaultOptions())

	info, err := fs.Info()
	if err != nil {
		t.Fatal(err)
	}
	want := Info{
		FSType:            FAT16,
		PartitionOffset:   2048,
		BytesPerSector:    512,
		SectorsPerCluster: 4,
		ReservedSectors:   1,
		NumFATs:           2,
		SectorsPerFAT:     1,
		RootEntryCount:    64,
		FATStart:          2049,
		RootStart:         2051,
		RootSectors:       4,
		DataStart:         2055,
		TotalSectors:      47,
		ClusterCount:      10,
	}
	if d := cmp.Diff(want, info); d != "" {
		t.Errorf("Info() mismatch (-want +got):\n%s", d)
	}

	if got := fs.FSType(); got != FAT16 {
		t.Errorf("FSType() = %v, want %v", got, FAT16)
	}
	if got := fs.Label(); got != "KFAT" {
		t.Errorf("Label() = %q, want %q", got, "KFAT")
	}
	bs, err := fs.BootSector()
	if err != nil {
		t.Fatal(err)
	}
	if bs.Signature != 0xAA55 || bs.FileSystemType() != "FAT16" {
		t.Errorf("BootSector() = %+v, want a FAT16 boot sector", bs)
	}
}

func TestNewWithOptions_Errors(t *testing.T) {
	bootSector := int64(DefaultPartitionOffset) * sectorSize

	tests := []struct {
		name    string
		modify  func(raw []byte, l fatimage.Layout)
		opts    Options
		wantErr error
	}{
		{
			name: "broken signature",
			modify: func(raw []byte, l fatimage.Layout) {
				raw[bootSector+511] = 0
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "fat32 tag",
			modify: func(raw []byte, l fatimage.Layout) {
				copy(raw[bootSector+54:], "FAT32   ")
			},
			wantErr: ErrUnsupportedFilesystem,
		},
		{
			name: "1024 bytes per sector",
			modify: func(raw []byte, l fatimage.Layout) {
				raw[bootSector+11], raw[bootSector+12] = 0x00, 0x04
			},
			wantErr: ErrInvalidBootSector,
		},
		{
			name: "no sectors per cluster",
			modify: func(raw []byte, l fatimage.Layout) {
				raw[bootSector+13] = 0
			},
			wantErr: ErrInvalidBootSector,
		},
		{
			name: "no reserved sectors",
			modify: func(raw []byte, l fatimage.Layout) {
				raw[bootSector+14], raw[bootSector+15] = 0, 0
			},
			wantErr: ErrInvalidBootSector,
		},
		{
			name: "no fats",
			modify: func(raw []byte, l fatimage.Layout) {
				raw[bootSector+16] = 0
			},
			wantErr: ErrInvalidBootSector,
		},
		{
			name: "no root entries",
			modify: func(raw []byte, l fatimage.Layout) {
				raw[bootSector+17], raw[bootSector+18] = 0, 0
			},
			wantErr: ErrInvalidBootSector,
		},
		{
			name:    "root directory above the cap",
			opts:    Options{PartitionOffset: DefaultPartitionOffset, MaxRootSectors: 2},
			wantErr: ErrTruncated,
		},
		{
			name: "table above the cap",
			modify: func(raw []byte, l fatimage.Layout) {
				raw[bootSector+22] = 3
			},
			opts:    Options{PartitionOffset: DefaultPartitionOffset, MaxFATSectors: 2},
			wantErr: ErrTruncated,
		},
		{
			name:    "wrong partition offset",
			opts:    Options{PartitionOffset: 0, MaxOpenFiles: 1},
			wantErr: ErrInvalidSignature,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, layout := buildImage(t, sampleImage())
			if tt.modify != nil {
				tt.modify(raw, layout)
			}
			opts := tt.opts
			if opts == (Options{}) {
				opts = DefaultOptions()
			}

			fs, err := NewWithOptions(disk.Memory(raw), opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewWithOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if fs != nil {
				t.Errorf("NewWithOptions() = %v, want nil", fs)
			}
		})
	}
}

func TestFs_Init_DeviceErrors(t *testing.T) {
	t.Run("boot sector", func(t *testing.T) {
		mockCtrl := gomock.NewController(t)
		defer mockCtrl.Finish()

		device := NewMockSectorReader(mockCtrl)
		device.EXPECT().
			ReadSectors(uint32(DefaultPartitionOffset), gomock.Any(), uint32(1)).
			Return(errDevice)

		fs := Attach(device, DefaultOptions())
		err := fs.Init()
		if !errors.Is(err, ErrIO) || !errors.Is(err, errDevice) {
			t.Errorf("Init() error = %v, want %v caused by %v", err, ErrIO, errDevice)
		}
	})

	t.Run("file allocation table", func(t *testing.T) {
		raw, layout := buildImage(t, sampleImage())
		device := &failingDevice{Memory: raw, failAt: layout.FATStart, fail: true}

		err := Attach(device, DefaultOptions()).Init()
		if !errors.Is(err, ErrIO) {
			t.Errorf("Init() error = %v, want %v", err, ErrIO)
		}
	})

	t.Run("no device", func(t *testing.T) {
		var fs Fs
		if err := fs.Init(); !errors.Is(err, ErrIO) {
			t.Errorf("Init() error = %v, want %v", err, ErrIO)
		}
	})
}

func TestFs_NotInitialized(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	fs := Attach(disk.Memory(raw), DefaultOptions())

	if _, err := fs.OpenHandle("test.txt"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("OpenHandle() error = %v, want %v", err, ErrNotInitialized)
	}
	if _, err := fs.Info(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Info() error = %v, want %v", err, ErrNotInitialized)
	}
	if _, err := fs.BootSector(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("BootSector() error = %v, want %v", err, ErrNotInitialized)
	}
	if _, err := fs.Stat("test.txt"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Stat() error = %v, want %v", err, ErrNotInitialized)
	}

	if err := fs.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := fs.ReadFile("test.txt"); err != nil {
		t.Errorf("ReadFile() after Init() error = %v", err)
	}
}

func TestFs_OpenHandle(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	fs := openImage(t, raw, DefaultOptions())

	tests := []struct {
		name     string
		file     string
		wantSize uint32
		wantErr  error
	}{
		{name: "lower case", file: "test.txt", wantSize: 13},
		{name: "upper case", file: "TEST.TXT", wantSize: 13},
		{name: "mixed case with slash", file: "/Test.Txt", wantSize: 13},
		{name: "behind deleted entries", file: "a.txt", wantSize: 5000},
		{name: "empty file", file: "empty.dat", wantSize: 0},
		{name: "deleted file", file: "old.txt", wantErr: ErrNotFound},
		{name: "directory", file: "subdir", wantErr: ErrNotFound},
		{name: "volume label", file: "kfatvol", wantErr: ErrNotFound},
		{name: "missing", file: "missing.txt", wantErr: ErrNotFound},
		{name: "subdirectory path", file: "subdir/a.txt", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := fs.OpenHandle(tt.file)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("OpenHandle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, iofs.ErrNotExist) {
					t.Errorf("OpenHandle() error = %v, want it to match fs.ErrNotExist", err)
				}
				return
			}
			defer f.Close()

			if f.entry.FileSize != tt.wantSize {
				t.Errorf("OpenHandle() size = %v, want %v", f.entry.FileSize, tt.wantSize)
			}
		})
	}

	if got := fs.OpenFiles(); got != 0 {
		t.Errorf("OpenFiles() = %v after closing everything, want 0", got)
	}
}

func TestFs_OpenHandle_EndMarker(t *testing.T) {
	raw, layout := buildImage(t, sampleImage())
	// Entry 3 becomes the end of the directory, hiding everything behind it.
	raw[int64(layout.RootStart)*sectorSize+3*entrySize] = 0x00
	fs := openImage(t, raw, DefaultOptions())

	if _, err := fs.OpenHandle("a.txt"); err != nil {
		t.Errorf("OpenHandle() before the end marker error = %v", err)
	}
	if _, err := fs.OpenHandle("test.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenHandle() behind the end marker error = %v, want %v", err, ErrNotFound)
	}
}

func TestFs_OpenHandle_Pool(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	fs := openImage(t, raw, Options{PartitionOffset: DefaultPartitionOffset, MaxOpenFiles: 2})

	first, err := fs.OpenHandle("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.OpenHandle("a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.OpenHandle("test.txt"); !errors.Is(err, ErrTooManyOpenFiles) {
		t.Fatalf("OpenHandle() with a full pool error = %v, want %v", err, ErrTooManyOpenFiles)
	}

	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); !errors.Is(err, ErrFileClosed) {
		t.Errorf("second Close() error = %v, want %v", err, ErrFileClosed)
	}
	if _, err := fs.OpenHandle("test.txt"); err != nil {
		t.Errorf("OpenHandle() after Close() error = %v", err)
	}
}

func TestFile_Read_Sequential(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	fs := openImage(t, raw, DefaultOptions())

	t.Run("one read", func(t *testing.T) {
		f, err := fs.OpenHandle("A.TXT")
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		buf := make([]byte, 8192)
		n, err := f.Read(buf)
		if err != nil || n != 5000 {
			t.Fatalf("Read() = %v, %v, want 5000, nil", n, err)
		}
		if !bytes.Equal(buf[:n], pattern(5000)) {
			t.Error("Read() returned wrong content")
		}

		n, err = f.Read(buf)
		if n != 0 || err != io.EOF {
			t.Errorf("Read() at the end = %v, %v, want 0, io.EOF", n, err)
		}
	})

	t.Run("small reads", func(t *testing.T) {
		f, err := fs.OpenHandle("a.txt")
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		got, err := io.ReadAll(iotest.OneByteReader(f))
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if !bytes.Equal(got, pattern(5000)) {
			t.Error("byte wise reads returned wrong content")
		}
		if pos, err := f.Seek(0, io.SeekCurrent); pos != 5000 || err != nil {
			t.Errorf("Seek() = %v, %v, want 5000, nil", pos, err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		f, err := fs.OpenHandle("empty.dat")
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		if n, err := f.Read(make([]byte, 16)); n != 0 || err != io.EOF {
			t.Errorf("Read() = %v, %v, want 0, io.EOF", n, err)
		}
	})
}

func TestFile_Read_FAT12(t *testing.T) {
	img := fatimage.DefaultImage()
	img.Type = fatimage.FAT12
	img.Entries = []fatimage.Entry{
		{Name: "ODD.BIN", Data: pattern(1536), Clusters: []uint16{3, 5, 4}},
		{Name: "EVEN.BIN", Data: pattern(700)},
	}
	raw, _ := buildImage(t, img)
	fs := openImage(t, raw, DefaultOptions())

	if got := fs.FSType(); got != FAT12 {
		t.Fatalf("FSType() = %v, want %v", got, FAT12)
	}

	for name, size := range map[string]int{"odd.bin": 1536, "even.bin": 700} {
		got, err := fs.ReadFile(name)
		if err != nil {
			t.Fatalf("ReadFile(%q) error = %v", name, err)
		}
		if !bytes.Equal(got, pattern(size)) {
			t.Errorf("ReadFile(%q) returned wrong content", name)
		}
	}
}

func TestFile_Read_DeviceError(t *testing.T) {
	img := fatimage.DefaultImage()
	img.Entries = []fatimage.Entry{{Name: "PART.BIN", Data: pattern(1500)}}
	raw, layout := buildImage(t, img)

	// Cluster 4 is the third cluster of the file.
	device := &failingDevice{Memory: raw, failAt: layout.DataStart + 2, fail: true}
	fs, err := NewWithOptions(device, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	f, err := fs.OpenHandle("part.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, 1500)
	n, err := f.Read(buf)
	if n != 1024 || !errors.Is(err, ErrIO) || !errors.Is(err, errDevice) {
		t.Fatalf("Read() = %v, %v, want 1024 and %v", n, err, ErrIO)
	}
	if !bytes.Equal(buf[:n], pattern(1500)[:n]) {
		t.Error("Read() did not keep the bytes copied before the failure")
	}
	if pos, _ := f.Seek(0, io.SeekCurrent); pos != 1024 {
		t.Errorf("position after the failed Read() = %v, want 1024", pos)
	}

	device.fail = false
	n, err = f.Read(buf)
	if n != 476 || err != nil {
		t.Fatalf("Read() after recovery = %v, %v, want 476, nil", n, err)
	}
	if !bytes.Equal(buf[:n], pattern(1500)[1024:]) {
		t.Error("Read() after recovery returned wrong content")
	}
}

func TestFile_Read_CorruptChain(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(raw []byte, l fatimage.Layout)
		wantN   int
		wantErr error
	}{
		{
			name: "free cluster in chain",
			modify: func(raw []byte, l fatimage.Layout) {
				l.SetFATEntry(raw, 3, 0)
			},
			wantN:   1024,
			wantErr: ErrBadCluster,
		},
		{
			name: "bad cluster in chain",
			modify: func(raw []byte, l fatimage.Layout) {
				l.SetFATEntry(raw, 2, 0xFFF7)
			},
			wantN:   512,
			wantErr: ErrBadCluster,
		},
		{
			name: "link out of the volume",
			modify: func(raw []byte, l fatimage.Layout) {
				l.SetFATEntry(raw, 2, 0x0100)
			},
			wantN:   512,
			wantErr: ErrBadCluster,
		},
		{
			name: "chain shorter than the file",
			modify: func(raw []byte, l fatimage.Layout) {
				l.SetFATEntry(raw, 3, 0xFFFF)
			},
			wantN:   1024,
			wantErr: io.ErrUnexpectedEOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := fatimage.DefaultImage()
			img.Entries = []fatimage.Entry{{Name: "BAD.BIN", Data: pattern(1500)}}
			raw, layout := buildImage(t, img)
			tt.modify(raw, layout)
			fs := openImage(t, raw, DefaultOptions())

			f, err := fs.OpenHandle("bad.bin")
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()

			n, err := f.Read(make([]byte, 1500))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Read() error = %v, wantErr %v", err, tt.wantErr)
			}
			if n != tt.wantN {
				t.Errorf("Read() = %v, want %v", n, tt.wantN)
			}
		})
	}
}

func TestFs_ReadAt(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	fs := openImage(t, raw, DefaultOptions())

	f, err := fs.OpenHandle("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Across the boundary of the second and third cluster.
	buf := make([]byte, 100)
	n, err := f.ReadAt(buf, 4050)
	if n != 100 || err != nil {
		t.Fatalf("ReadAt() = %v, %v, want 100, nil", n, err)
	}
	if !bytes.Equal(buf, pattern(5000)[4050:4150]) {
		t.Error("ReadAt() returned wrong content")
	}

	n, err = f.ReadAt(buf, 4950)
	if n != 50 || err != io.EOF {
		t.Errorf("ReadAt() over the end = %v, %v, want 50, io.EOF", n, err)
	}

	if pos, _ := f.Seek(0, io.SeekCurrent); pos != 0 {
		t.Errorf("ReadAt() moved the position to %v", pos)
	}
}

func TestFs_ReadFile(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	fs := openImage(t, raw, DefaultOptions())

	got, err := fs.ReadFile("/test.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello kernel\n" {
		t.Errorf("ReadFile() = %q, want %q", got, "hello kernel\n")
	}

	if _, err := fs.ReadFile("/"); !errors.Is(err, ErrReadFile) {
		t.Errorf("ReadFile() of the root error = %v, want %v", err, ErrReadFile)
	}
	if got := fs.OpenFiles(); got != 0 {
		t.Errorf("ReadFile() leaked %d handles", got)
	}
}

func TestFs_Afero(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	var fs afero.Fs = openImage(t, raw, DefaultOptions())

	content, err := afero.ReadFile(fs, "test.txt")
	if err != nil || string(content) != "hello kernel\n" {
		t.Errorf("afero.ReadFile() = %q, %v", content, err)
	}

	names, err := afero.ReadDir(fs, "/")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, info := range names {
		got = append(got, info.Name())
	}
	if d := cmp.Diff([]string{"A.TXT", "EMPTY.DAT", "TEST.TXT"}, got); d != "" {
		t.Errorf("afero.ReadDir() mismatch (-want +got):\n%s", d)
	}

	info, err := fs.Stat("a.txt")
	if err != nil || info.Size() != 5000 || info.IsDir() {
		t.Errorf("Stat() = %v, %v", info, err)
	}
	if info, err := fs.Stat("/"); err != nil || !info.IsDir() {
		t.Errorf("Stat(/) = %v, %v, want a directory", info, err)
	}
	if _, err := fs.Stat("missing"); !errors.Is(err, iofs.ErrNotExist) {
		t.Errorf("Stat() of a missing file error = %v, want not exist", err)
	}

	if _, err := fs.OpenFile("test.txt", os.O_RDWR, 0); !errors.Is(err, ErrReadOnly) {
		t.Errorf("OpenFile(O_RDWR) error = %v, want %v", err, ErrReadOnly)
	}
	if f, err := fs.OpenFile("test.txt", os.O_RDONLY, 0); err != nil {
		t.Errorf("OpenFile(O_RDONLY) error = %v", err)
	} else {
		f.Close()
	}
	if _, err := fs.Create("new.txt"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Create() error = %v, want %v", err, ErrReadOnly)
	}
	if err := fs.Remove("test.txt"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Remove() error = %v, want %v", err, ErrReadOnly)
	}
}

func TestFs_Reinit(t *testing.T) {
	raw, _ := buildImage(t, sampleImage())
	fs := openImage(t, raw, Options{PartitionOffset: DefaultPartitionOffset, MaxOpenFiles: 1})

	stale, err := fs.OpenHandle("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Init(); err != nil {
		t.Fatal(err)
	}

	fresh, err := fs.OpenHandle("a.txt")
	if err != nil {
		t.Fatalf("OpenHandle() after Init() error = %v", err)
	}
	// Closing the stale handle must not free the slot of the fresh one.
	stale.Close()
	if _, err := fs.OpenHandle("test.txt"); !errors.Is(err, ErrTooManyOpenFiles) {
		t.Errorf("OpenHandle() error = %v, want %v", err, ErrTooManyOpenFiles)
	}
	fresh.Close()
}
