package paging

import "github.com/aligator/kfat/mem"

// EntryFlag describes a flag that can be applied to a directory or table entry.
type EntryFlag uint32

// Flags shared by page directory and page table entries.
const (
	FlagPresent EntryFlag = 1 << iota
	FlagRW
	FlagUser
	FlagWriteThrough
	FlagCacheDisabled
	FlagAccessed

	// FlagDirty is only meaningful for table entries. For directory entries
	// the same bit selects 4 MiB pages which this package never sets.
	FlagDirty
)

const (
	entryCount = 1024

	frameShift = mem.PageShift
	frameMask  = 0xFFFFF000
)

// entry is the common 32-bit layout of a page directory and page table entry:
// flag bits 0-11 and a 20-bit frame number in bits 12-31.
type entry uint32

func (e entry) hasFlags(flags EntryFlag) bool {
	return uint32(e)&uint32(flags) == uint32(flags)
}

func (e *entry) setFlags(flags EntryFlag) {
	*e = entry(uint32(*e) | uint32(flags))
}

func (e *entry) clearFlags(flags EntryFlag) {
	*e = entry(uint32(*e) &^ uint32(flags))
}

func (e entry) frame() uint32 {
	return (uint32(e) & frameMask) >> frameShift
}

func (e *entry) setFrame(addr mem.PhysAddr) {
	*e = entry((uint32(*e) &^ frameMask) | (uint32(addr) & frameMask))
}

// DirectoryEntry points to a page table.
type DirectoryEntry entry

// HasFlags returns true if all input flags are set.
func (e DirectoryEntry) HasFlags(flags EntryFlag) bool { return entry(e).hasFlags(flags) }

// SetFlags sets the input flags.
func (e *DirectoryEntry) SetFlags(flags EntryFlag) { (*entry)(e).setFlags(flags) }

// ClearFlags unsets the input flags.
func (e *DirectoryEntry) ClearFlags(flags EntryFlag) { (*entry)(e).clearFlags(flags) }

// Frame returns the 20-bit frame number of the page table.
func (e DirectoryEntry) Frame() uint32 { return entry(e).frame() }

// SetFrame points the entry to the page table at addr.
func (e *DirectoryEntry) SetFrame(addr mem.PhysAddr) { (*entry)(e).setFrame(addr) }

// Address returns the physical address of the page table.
func (e DirectoryEntry) Address() mem.PhysAddr { return mem.PhysAddr(e.Frame() << frameShift) }

// TableEntry points to a 4 KiB physical page.
type TableEntry entry

// HasFlags returns true if all input flags are set.
func (e TableEntry) HasFlags(flags EntryFlag) bool { return entry(e).hasFlags(flags) }

// SetFlags sets the input flags.
func (e *TableEntry) SetFlags(flags EntryFlag) { (*entry)(e).setFlags(flags) }

// ClearFlags unsets the input flags.
func (e *TableEntry) ClearFlags(flags EntryFlag) { (*entry)(e).clearFlags(flags) }

// Frame returns the 20-bit frame number of the mapped page.
func (e TableEntry) Frame() uint32 { return entry(e).frame() }

// SetFrame points the entry to the page at addr.
func (e *TableEntry) SetFrame(addr mem.PhysAddr) { (*entry)(e).setFrame(addr) }

// Address returns the physical address of the mapped page.
func (e TableEntry) Address() mem.PhysAddr { return mem.PhysAddr(e.Frame() << frameShift) }

// Table is one page table covering a 4 MiB window.
type Table [entryCount]TableEntry

// directoryIndex returns the top 10 bits of a virtual address.
func directoryIndex(virt mem.VirtAddr) int {
	return int(uint32(virt) >> 22)
}

// tableIndex returns the middle 10 bits of a virtual address.
func tableIndex(virt mem.VirtAddr) int {
	return int((uint32(virt) >> 12) & 0x3FF)
}
