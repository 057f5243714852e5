// Package kernel wires the frame allocator, the page mapper and the FAT
// driver together and runs the boot sequence of the kernel.
package kernel

import (
	"errors"
	"fmt"
	"io"

	"github.com/aligator/kfat"
	"github.com/aligator/kfat/checkpoint"
	"github.com/aligator/kfat/mem"
	"github.com/aligator/kfat/paging"
	"github.com/aligator/kfat/pfa"
	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"go.uber.org/multierr"
)

// These errors tell which stage of the boot failed. The cause is wrapped.
var (
	ErrConfig     = errors.New("invalid kernel configuration")
	ErrAllocate   = errors.New("could not allocate frames")
	ErrMap        = errors.New("could not map memory")
	ErrFilesystem = errors.New("could not initialize the boot filesystem")
	ErrDemoFile   = errors.New("could not read the demo file")
)

// Config describes the memory layout of the machine and what to do after
// paging is up. All physical structures must lie in the frames starting at
// address 0, which the kernel claims first.
type Config struct {
	FrameCount int
	FrameSize  mem.Size

	KernelStart mem.PhysAddr
	KernelEnd   mem.PhysAddr
	StackTop    mem.PhysAddr
	StackSize   mem.Size
	VideoBase   mem.PhysAddr
	VideoSize   mem.Size

	// DirectoryBase is the page directory, followed by TableCount page tables
	// at TableBase.
	DirectoryBase mem.PhysAddr
	TableBase     mem.PhysAddr
	TableCount    int

	// HeapFrames frames are mapped at HeapBase.
	HeapBase   mem.VirtAddr
	HeapFrames int

	FAT kfat.Options

	// DemoFile is read and printed after the filesystem is up. Empty skips it.
	DemoFile string
}

// DefaultConfig returns the layout of the reference machine: a kernel loaded
// at 1 MiB, VGA text memory at 0xB8000 and a heap in the upper gigabyte.
func DefaultConfig() Config {
	return Config{
		FrameCount:    pfa.DefaultFrameCount,
		FrameSize:     pfa.FrameSize,
		KernelStart:   0x00100000,
		KernelEnd:     0x00140000,
		StackTop:      0x00190000,
		StackSize:     0x8000,
		VideoBase:     0x000B8000,
		VideoSize:     80 * 25 * 2,
		DirectoryBase: 0x001A0000,
		TableBase:     0x001A1000,
		TableCount:    8,
		HeapBase:      0xC0000000,
		HeapFrames:    1,
		FAT:           kfat.DefaultOptions(),
		DemoFile:      "testfile.txt",
	}
}

func (c Config) kernelRegion() paging.Region {
	return paging.Region{Base: mem.VirtAddr(c.KernelStart), Size: mem.Size(c.KernelEnd - c.KernelStart)}
}

func (c Config) stackRegion() paging.Region {
	return paging.Region{Base: mem.VirtAddr(c.StackTop) - mem.VirtAddr(c.StackSize), Size: c.StackSize}
}

func (c Config) videoRegion() paging.Region {
	return paging.Region{Base: mem.VirtAddr(c.VideoBase), Size: c.VideoSize}
}

// pageStructures covers the directory and all page tables.
func (c Config) pageStructures() paging.Region {
	end := c.TableBase + mem.PhysAddr(uint32(c.TableCount)<<mem.PageShift)
	if c.DirectoryBase >= end {
		end = c.DirectoryBase + mem.PhysAddr(mem.PageSize)
	}
	return paging.Region{Base: mem.VirtAddr(c.DirectoryBase), Size: mem.Size(end - c.DirectoryBase)}
}

// identityRegions are mapped one to one and must stay reachable when paging
// is switched on.
func (c Config) identityRegions() []paging.Region {
	return []paging.Region{c.kernelRegion(), c.stackRegion(), c.videoRegion(), c.pageStructures()}
}

// reservedFrames returns how many frames from address 0 hold the regions.
func (c Config) reservedFrames() int {
	var end uint64
	for _, r := range c.identityRegions() {
		if e := uint64(r.Base) + uint64(r.Size); e > end {
			end = e
		}
	}
	return int((end + uint64(c.FrameSize) - 1) / uint64(c.FrameSize))
}

func (c Config) validate() error {
	switch {
	case c.FrameCount <= 0:
		return fmt.Errorf("%w: no frames", ErrConfig)
	case c.FrameSize == 0 || c.FrameSize%mem.PageSize != 0:
		return fmt.Errorf("%w: frame size %v is no multiple of the page size", ErrConfig, c.FrameSize)
	case c.KernelEnd <= c.KernelStart:
		return fmt.Errorf("%w: empty kernel image", ErrConfig)
	case uint64(c.StackSize) > uint64(c.StackTop):
		return fmt.Errorf("%w: stack below address 0", ErrConfig)
	case !c.DirectoryBase.IsPageAligned() || !c.TableBase.IsPageAligned():
		return fmt.Errorf("%w: page structures are not page aligned", ErrConfig)
	case !c.HeapBase.IsPageAligned():
		return fmt.Errorf("%w: heap is not page aligned", ErrConfig)
	case c.reservedFrames() > c.FrameCount:
		return fmt.Errorf("%w: reserved regions need %d frames, only %d exist", ErrConfig, c.reservedFrames(), c.FrameCount)
	}
	return nil
}

// Kernel owns the state which the boot sequence sets up.
type Kernel struct {
	cfg     Config
	console io.Writer

	frames *pfa.Allocator
	mapper *paging.Mapper
	fat    *kfat.Fs
	device kfat.SectorReader

	reserved pfa.List
	heap     pfa.List
}

// Boot brings the machine up: it initializes the frame allocator, claims the
// frames holding the kernel, identity maps the kernel image, the stack, the
// video memory and the page structures, maps the heap, enables paging and
// mounts the FAT volume on device. Progress is written to console.
//
// If the directory would not keep the running code reachable, Boot panics
// with a *paging.Fault, just like the machine would fault.
func Boot(cfg Config, device kfat.SectorReader, cpu paging.CPU, console io.Writer) (*Kernel, error) {
	if err := cfg.validate(); err != nil {
		return nil, checkpoint.From(err)
	}

	k := &Kernel{
		cfg:     cfg,
		console: console,
		frames:  pfa.New(cfg.FrameCount, cfg.FrameSize),
		device:  device,
	}
	k.printf("Free frame list initialized: %d frames of %s.\n", k.frames.FrameCount(), humanize.IBytes(uint64(cfg.FrameSize)))

	if err := k.claimReserved(); err != nil {
		return nil, err
	}

	mapper, err := paging.NewMapper(paging.NewDirectory(cfg.DirectoryBase), paging.StaticTables(cfg.TableBase, cfg.TableCount), cpu)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrMap)
	}
	k.mapper = mapper

	k.printf("\nSetting up paging...\n")
	for _, region := range cfg.identityRegions() {
		if _, err := k.mapper.Map(region.Base, region.Identity()); err != nil {
			return nil, checkpoint.Wrap(err, ErrMap)
		}
	}
	if err := k.mapHeap(); err != nil {
		return nil, err
	}

	k.printf("Loading page directory...\n")
	k.mapper.LoadDirectory()
	k.printf("Enabling paging...\n")
	k.mapper.EnablePaging(cfg.identityRegions()...)
	k.printf("Paging enabled successfully!\n")

	k.printf("\nInitializing the FAT filesystem...\n")
	k.fat = kfat.Attach(device, cfg.FAT)
	if err := k.fat.Init(); err != nil {
		k.printf("FAILED: %s\n", describe(err))
		return nil, checkpoint.Wrap(err, ErrFilesystem)
	}
	info, err := k.fat.Info()
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrFilesystem)
	}
	k.printf("Mounted %v volume %q, %s clusters.\n", info.FSType, k.fat.Label(), humanize.IBytes(uint64(info.ClusterSize())))

	if cfg.DemoFile != "" {
		if err := k.showDemoFile(); err != nil {
			return nil, err
		}
	}

	glog.Info("kernel: boot complete")
	return k, nil
}

// claimReserved allocates the frames from address 0 on, which already hold
// the kernel and its page structures.
func (k *Kernel) claimReserved() error {
	list, err := k.frames.Allocate(k.cfg.reservedFrames())
	if err != nil {
		return checkpoint.Wrap(err, ErrAllocate)
	}
	for i, addr := range k.frames.Addresses(list) {
		if addr != mem.PhysAddr(uint64(i)*uint64(k.cfg.FrameSize)) {
			return checkpoint.From(fmt.Errorf("%w: frame at %v is not part of the kernel", ErrAllocate, addr))
		}
		k.printf("Reserved frame %d at: %v\n", i+1, addr)
	}
	k.reserved = list
	return nil
}

// mapHeap backs the heap with fresh frames. Every frame is split into pages.
func (k *Kernel) mapHeap() error {
	if k.cfg.HeapFrames == 0 {
		return nil
	}

	list, err := k.frames.Allocate(k.cfg.HeapFrames)
	if err != nil {
		return checkpoint.Wrap(err, ErrAllocate)
	}

	var pages []mem.PhysAddr
	for _, addr := range k.frames.Addresses(list) {
		pages = append(pages, paging.Pages(addr, k.cfg.FrameSize)...)
	}
	if _, err := k.mapper.Map(k.cfg.HeapBase, pages); err != nil {
		// Map stops at the first missing table, the pages before it are live.
		err = multierr.Append(checkpoint.Wrap(err, ErrMap), k.unmapInstalled(k.cfg.HeapBase, pages))
		return multierr.Append(err, k.frames.Free(list))
	}

	k.heap = list
	k.printf("Mapped %s of heap at %v.\n", humanize.IBytes(uint64(k.HeapSize())), k.cfg.HeapBase)
	return nil
}

// unmapInstalled removes the pages at virt which still point to the
// expected physical pages.
func (k *Kernel) unmapInstalled(virt mem.VirtAddr, pages []mem.PhysAddr) error {
	var err error
	for i, want := range pages {
		page := virt + mem.VirtAddr(uint32(i)<<mem.PageShift)
		if phys, tErr := k.mapper.Translate(page); tErr != nil || phys != want {
			continue
		}
		if _, uErr := k.mapper.Unmap(page, 1); uErr != nil {
			err = multierr.Append(err, uErr)
		}
	}
	return err
}

func (k *Kernel) showDemoFile() error {
	name := k.cfg.DemoFile
	k.printf("Opening %q...\n", name)
	content, err := k.ReadFile(name)
	if err != nil {
		k.printf("FAILED: %s\n", describe(err))
		return checkpoint.Wrap(err, ErrDemoFile)
	}

	k.printf("Read %s.\n\n", humanize.IBytes(uint64(len(content))))
	k.printf("========================================\n")
	k.printf("%s", content)
	if len(content) > 0 && content[len(content)-1] != '\n' {
		k.printf("\n")
	}
	k.printf("========================================\n")
	return nil
}

// describe turns the known failures into a message for the console.
func describe(err error) string {
	switch {
	case errors.Is(err, kfat.ErrIO):
		return "sector read failed, check the disk driver"
	case errors.Is(err, kfat.ErrInvalidSignature):
		return "boot signature invalid, check the partition offset"
	case errors.Is(err, kfat.ErrUnsupportedFilesystem):
		return "volume is neither FAT12 nor FAT16"
	case errors.Is(err, kfat.ErrNotFound):
		return "file not found in the root directory"
	}
	return err.Error()
}

func (k *Kernel) printf(format string, args ...interface{}) {
	if k.console == nil {
		return
	}
	// The console is best effort, there is nobody to report a failure to.
	_, _ = fmt.Fprintf(k.console, format, args...)
}

// ReadFile returns the content of a file in the root directory of the boot
// volume.
func (k *Kernel) ReadFile(name string) ([]byte, error) {
	if k.fat == nil {
		return nil, checkpoint.From(kfat.ErrNotInitialized)
	}
	return k.fat.ReadFile(name)
}

// Allocator returns the frame allocator.
func (k *Kernel) Allocator() *pfa.Allocator {
	return k.frames
}

// Mapper returns the page mapper.
func (k *Kernel) Mapper() *paging.Mapper {
	return k.mapper
}

// FS returns the boot volume.
func (k *Kernel) FS() *kfat.Fs {
	return k.fat
}

// HeapBase returns where the heap is mapped.
func (k *Kernel) HeapBase() mem.VirtAddr {
	return k.cfg.HeapBase
}

// HeapSize returns the size of the mapped heap.
func (k *Kernel) HeapSize() mem.Size {
	return mem.Size(k.heap.Len()) * k.cfg.FrameSize
}

// Shutdown unmaps the heap, returns its frames and closes the device if it
// can be closed.
func (k *Kernel) Shutdown() error {
	var err error

	if !k.heap.IsEmpty() {
		pages := int(k.HeapSize() / mem.PageSize)
		if _, unmapErr := k.mapper.Unmap(k.cfg.HeapBase, pages); unmapErr != nil {
			err = multierr.Append(err, checkpoint.Wrap(unmapErr, ErrMap))
		} else {
			err = multierr.Append(err, k.frames.Free(k.heap))
			k.heap = pfa.List{}
		}
	}

	if closer, ok := k.device.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}

	return err
}
