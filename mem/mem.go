// Package mem contains the address and size types shared by the frame
// allocator and the page mapper.
package mem

import "fmt"

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

const (
	// PageShift is equal to log2(PageSize) for the 4 KiB pages used by the MMU.
	PageShift = 12

	// PageSize is the size of a page mapped by a single page table entry.
	PageSize = Size(1 << PageShift)
)

// PhysAddr is a 32-bit physical memory address.
type PhysAddr uint32

// VirtAddr is a 32-bit virtual memory address.
type VirtAddr uint32

// IsPageAligned returns true if the address is a multiple of PageSize.
func (a PhysAddr) IsPageAligned() bool {
	return uint32(a)&uint32(PageSize-1) == 0
}

func (a PhysAddr) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// IsPageAligned returns true if the address is a multiple of PageSize.
func (a VirtAddr) IsPageAligned() bool {
	return uint32(a)&uint32(PageSize-1) == 0
}

func (a VirtAddr) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// AlignDown rounds v down to a multiple of PageSize.
func AlignDown(v uint32) uint32 {
	return v &^ uint32(PageSize-1)
}

// AlignUp rounds v up to a multiple of PageSize.
func AlignUp(v uint32) uint32 {
	return (v + uint32(PageSize-1)) &^ uint32(PageSize-1)
}
