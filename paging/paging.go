// Package paging installs virtual to physical translations into a two level
// x86 page directory.
//
// A Mapper owns exactly one Directory. Page tables are created on demand, one
// per directory slot, from a TableAllocator. Nothing in this package locks;
// a Mapper must only be used from one execution context.
package paging

import (
	"errors"
	"fmt"

	"github.com/aligator/kfat/mem"
	"github.com/golang/glog"
)

// These errors may be returned by a Mapper.
var (
	ErrUnaligned             = errors.New("address is not page aligned")
	ErrAddressSpaceExhausted = errors.New("mapping exceeds the 4 GiB address space")
	ErrInvalidMapping        = errors.New("virtual address does not point to a mapped physical page")
	ErrNoTables              = errors.New("no memory left for page tables")

	errMissingDependency = errors.New("mapper needs a directory, a table allocator and a cpu")
)

// Region is a range of virtual memory.
type Region struct {
	Base mem.VirtAddr
	Size mem.Size
}

// Pages returns the addresses of all pages touched by the region.
func (r Region) Pages() []mem.VirtAddr {
	start := mem.AlignDown(uint32(r.Base))
	end := uint64(r.Base) + uint64(r.Size)
	var pages []mem.VirtAddr
	for addr := uint64(start); addr < end; addr += uint64(mem.PageSize) {
		pages = append(pages, mem.VirtAddr(addr))
	}
	return pages
}

// Identity returns the physical pages backing the region when it is mapped
// one to one.
func (r Region) Identity() []mem.PhysAddr {
	pages := r.Pages()
	frames := make([]mem.PhysAddr, len(pages))
	for i, page := range pages {
		frames[i] = mem.PhysAddr(page)
	}
	return frames
}

// Pages splits the physical range [base, base+size) into page addresses.
func Pages(base mem.PhysAddr, size mem.Size) []mem.PhysAddr {
	return Region{Base: mem.VirtAddr(base), Size: size}.Identity()
}

// Fault is the panic value of EnablePaging when the directory could not keep
// the running code alive. There is no recovery from it on real hardware.
type Fault struct {
	Addr   mem.VirtAddr
	Reason string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("page fault at %v: %s", f.Addr, f.Reason)
}

// TableAllocator returns the physical address of a zeroed 4 KiB frame which
// will hold a new page table.
type TableAllocator func() (mem.PhysAddr, error)

// StaticTables hands out count consecutive table frames starting at base.
func StaticTables(base mem.PhysAddr, count int) TableAllocator {
	next := 0
	return func() (mem.PhysAddr, error) {
		if next >= count {
			return 0, ErrNoTables
		}
		addr := base + mem.PhysAddr(uint32(next)<<mem.PageShift)
		next++
		return addr, nil
	}
}

// Directory is a page directory together with the page tables it points to.
type Directory struct {
	phys    mem.PhysAddr
	entries [entryCount]DirectoryEntry
	tables  [entryCount]*Table
}

// NewDirectory creates an empty directory which lives at physical address phys.
func NewDirectory(phys mem.PhysAddr) *Directory {
	return &Directory{phys: phys}
}

// PhysAddr returns the physical address of the directory.
func (d *Directory) PhysAddr() mem.PhysAddr {
	return d.phys
}

// Entry returns the directory entry at index i.
func (d *Directory) Entry(i int) DirectoryEntry {
	return d.entries[i]
}

// Table returns the page table for directory slot i or nil if none exists.
func (d *Directory) Table(i int) *Table {
	return d.tables[i]
}

// Mapper installs mappings into its Directory.
type Mapper struct {
	dir    *Directory
	tables TableAllocator
	cpu    CPU

	loaded  bool
	enabled bool
}

// NewMapper creates a mapper for dir which takes new page tables from tables
// and activates the directory through cpu.
func NewMapper(dir *Directory, tables TableAllocator, cpu CPU) (*Mapper, error) {
	if dir == nil || tables == nil || cpu == nil {
		return nil, errMissingDependency
	}
	return &Mapper{dir: dir, tables: tables, cpu: cpu}, nil
}

// Directory returns the directory owned by the mapper.
func (m *Mapper) Directory() *Directory {
	return m.dir
}

// PagingEnabled returns true after a successful EnablePaging.
func (m *Mapper) PagingEnabled() bool {
	return m.enabled
}

// Map installs one table entry per frame starting at virt. Entries are
// present, writable and supervisor only. A run crossing a 4 MiB boundary
// continues in the next directory slot. Map returns virt on success.
//
// Alignment and range are checked before anything is written. If a page table
// cannot be allocated, the pages before it stay mapped.
func (m *Mapper) Map(virt mem.VirtAddr, frames []mem.PhysAddr) (mem.VirtAddr, error) {
	if !virt.IsPageAligned() {
		return 0, fmt.Errorf("%w: virtual %v", ErrUnaligned, virt)
	}
	for _, frame := range frames {
		if !frame.IsPageAligned() {
			return 0, fmt.Errorf("%w: physical %v", ErrUnaligned, frame)
		}
	}
	if uint64(virt)+uint64(len(frames))<<mem.PageShift > 1<<32 {
		return 0, fmt.Errorf("%w: %d pages at %v", ErrAddressSpaceExhausted, len(frames), virt)
	}

	for i, frame := range frames {
		page := virt + mem.VirtAddr(uint32(i)<<mem.PageShift)
		table, err := m.tableFor(directoryIndex(page))
		if err != nil {
			return 0, err
		}

		pte := &table[tableIndex(page)]
		wasPresent := pte.HasFlags(FlagPresent)
		*pte = 0
		pte.SetFrame(frame)
		pte.SetFlags(FlagPresent | FlagRW)

		if wasPresent && m.enabled {
			m.cpu.FlushTLBEntry(page)
		}
	}

	glog.V(2).Infof("paging: mapped %d pages at %v", len(frames), virt)
	return virt, nil
}

// tableFor marks the directory entry at index present and returns its page
// table, allocating it first if needed.
func (m *Mapper) tableFor(index int) (*Table, error) {
	pde := &m.dir.entries[index]
	table := m.dir.tables[index]
	if table == nil {
		addr, err := m.tables()
		if err != nil {
			return nil, err
		}
		if !addr.IsPageAligned() {
			return nil, fmt.Errorf("%w: page table at %v", ErrUnaligned, addr)
		}
		table = &Table{}
		m.dir.tables[index] = table
		*pde = 0
		pde.SetFrame(addr)
		glog.V(1).Infof("paging: new page table for slot %d at %v", index, addr)
	}

	pde.SetFlags(FlagPresent | FlagRW)
	pde.ClearFlags(FlagUser)
	return table, nil
}

// Unmap clears the present bit of pages consecutive entries starting at virt
// and returns the physical pages which were mapped there, so the caller can
// give them back to its allocator. Nothing is changed if any of the pages is
// not mapped.
func (m *Mapper) Unmap(virt mem.VirtAddr, pages int) ([]mem.PhysAddr, error) {
	if pages < 0 {
		return nil, fmt.Errorf("%w: negative page count %d", ErrInvalidMapping, pages)
	}
	if !virt.IsPageAligned() {
		return nil, fmt.Errorf("%w: virtual %v", ErrUnaligned, virt)
	}
	if uint64(virt)+uint64(pages)<<mem.PageShift > 1<<32 {
		return nil, fmt.Errorf("%w: %d pages at %v", ErrAddressSpaceExhausted, pages, virt)
	}

	entries := make([]*TableEntry, pages)
	for i := range entries {
		page := virt + mem.VirtAddr(uint32(i)<<mem.PageShift)
		pte, err := m.pte(page)
		if err != nil {
			return nil, err
		}
		entries[i] = pte
	}

	released := make([]mem.PhysAddr, pages)
	for i, pte := range entries {
		pte.ClearFlags(FlagPresent)
		released[i] = pte.Address()
		if m.enabled {
			m.cpu.FlushTLBEntry(virt + mem.VirtAddr(uint32(i)<<mem.PageShift))
		}
	}

	glog.V(2).Infof("paging: unmapped %d pages at %v", pages, virt)
	return released, nil
}

// pte returns the present table entry for the page containing virt.
func (m *Mapper) pte(virt mem.VirtAddr) (*TableEntry, error) {
	index := directoryIndex(virt)
	table := m.dir.tables[index]
	if table == nil || !m.dir.entries[index].HasFlags(FlagPresent) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, virt)
	}
	pte := &table[tableIndex(virt)]
	if !pte.HasFlags(FlagPresent) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, virt)
	}
	return pte, nil
}

// Translate returns the physical address virt is mapped to.
func (m *Mapper) Translate(virt mem.VirtAddr) (mem.PhysAddr, error) {
	pte, err := m.pte(virt)
	if err != nil {
		return 0, err
	}
	return pte.Address() | mem.PhysAddr(uint32(virt)&uint32(mem.PageSize-1)), nil
}

// Lookup returns the raw directory and table entry for virt. The table entry
// is zero if the slot has no page table.
func (m *Mapper) Lookup(virt mem.VirtAddr) (DirectoryEntry, TableEntry) {
	index := directoryIndex(virt)
	pde := m.dir.entries[index]
	table := m.dir.tables[index]
	if table == nil {
		return pde, 0
	}
	return pde, table[tableIndex(virt)]
}

// LoadDirectory makes the directory the active translation root.
func (m *Mapper) LoadDirectory() {
	m.cpu.LoadPageDirectory(m.dir.phys)
	m.loaded = true
}

// EnablePaging turns on address translation. Every page of the required
// regions must be identity mapped, because the CPU keeps executing at the
// same addresses. If that does not hold, EnablePaging panics with a *Fault
// before touching the CPU.
func (m *Mapper) EnablePaging(required ...Region) {
	if !m.loaded {
		panic(&Fault{Reason: "no page directory loaded"})
	}

	for _, region := range required {
		for _, page := range region.Pages() {
			phys, err := m.Translate(page)
			if err != nil {
				panic(&Fault{Addr: page, Reason: "required page is not mapped"})
			}
			if phys != mem.PhysAddr(page) {
				panic(&Fault{Addr: page, Reason: fmt.Sprintf("required page is mapped to %v instead of itself", phys)})
			}
		}
	}

	m.cpu.EnablePaging()
	m.enabled = true
	glog.Info("paging: enabled")
}
