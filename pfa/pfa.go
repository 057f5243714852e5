// Package pfa contains the physical frame allocator.
//
// The allocator keeps its frames in an arena and links them by index instead
// of by pointer. A frame is a member of exactly one list at any time: either
// the free list owned by the Allocator or a List returned to a caller.
// Ownership moves at the granularity of a call: after Allocate the caller owns
// the returned List, after Free the allocator owns those frames again.
//
// The allocator does no locking. All calls must come from a single execution
// context.
package pfa

import (
	"errors"
	"fmt"
	"math"

	"github.com/aligator/kfat/mem"
	"github.com/bits-and-blooms/bitset"
	"github.com/golang/glog"
)

const (
	// DefaultFrameCount is the number of frames managed by NewDefault.
	DefaultFrameCount = 128

	// FrameSize is the size of a frame handed out by NewDefault.
	// It is unrelated to mem.PageSize which is used by the page mapper.
	FrameSize = 2 * mem.Mb
)

// These errors may be returned by the allocator.
var (
	ErrInvalidCount = errors.New("frame count must be greater than zero")
	ErrOutOfMemory  = errors.New("not enough free frames")
	ErrStaleList    = errors.New("list was allocated before the allocator was reset")
	ErrDoubleFree   = errors.New("list contains frames which are not allocated")
)

// Frame is the index of a frame inside of the allocator arena.
type Frame int

// InvalidFrame terminates a list and is used as the prev link of a list head.
const InvalidFrame = Frame(-1)

// IsValid returns true if this is not InvalidFrame.
func (f Frame) IsValid() bool {
	return f != InvalidFrame
}

type node struct {
	next Frame
	prev Frame

	// owner is the id of the List holding this frame, 0 while free.
	owner uint64
}

// List is a run of frames owned by a caller of Allocate.
// The zero List is empty.
type List struct {
	head       Frame
	tail       Frame
	length     int
	id         uint64
	generation uint64
}

// IsEmpty returns true if the list holds no frames.
func (l List) IsEmpty() bool {
	return l.length == 0
}

// Len returns the number of frames in the list.
func (l List) Len() int {
	return l.length
}

// Head returns the first frame of the list or InvalidFrame if it is empty.
func (l List) Head() Frame {
	if l.IsEmpty() {
		return InvalidFrame
	}
	return l.head
}

// Allocator hands out runs of physical frames from a doubly linked free list.
type Allocator struct {
	frameSize mem.Size
	nodes     []node
	allocated *bitset.BitSet

	head      Frame
	freeCount int

	// generation is bumped on every Init so lists from before a reset
	// can be detected.
	generation uint64
	lastID     uint64
}

// New creates an allocator for count frames of frameSize bytes each and
// initializes its free list. Frames which would start beyond the 32-bit
// physical address space are dropped, so count may shrink.
func New(count int, frameSize mem.Size) *Allocator {
	if count < 0 {
		count = 0
	}
	if limit := maxFrames(frameSize); uint64(count) > limit {
		glog.Warningf("pfa: %d frames of %d bytes exceed the physical address space, using %d", count, frameSize, limit)
		count = int(limit)
	}

	alloc := &Allocator{
		frameSize: frameSize,
		nodes:     make([]node, count),
		allocated: bitset.New(uint(count)),
	}
	alloc.Init()
	return alloc
}

// maxFrames returns how many frames of frameSize fit below 4 GiB.
func maxFrames(frameSize mem.Size) uint64 {
	if frameSize == 0 {
		return math.MaxInt32
	}
	return uint64(1<<32) / uint64(frameSize)
}

// NewDefault creates an allocator for DefaultFrameCount frames of FrameSize.
func NewDefault() *Allocator {
	return New(DefaultFrameCount, FrameSize)
}

// Init links all frames in index order and makes frame 0 the head of the
// free list. Calling Init again resets every outstanding allocation; lists
// handed out before are rejected by Free afterwards.
func (a *Allocator) Init() {
	count := len(a.nodes)
	for i := range a.nodes {
		a.nodes[i].prev = Frame(i - 1)
		a.nodes[i].next = Frame(i + 1)
		a.nodes[i].owner = 0
	}

	a.head = InvalidFrame
	if count > 0 {
		a.nodes[count-1].next = InvalidFrame
		a.head = 0
	}

	a.freeCount = count
	a.allocated.ClearAll()
	a.generation++

	glog.V(1).Infof("pfa: initialized %d frames of %d bytes", count, a.frameSize)
}

// Allocate detaches exactly n frames from the head of the free list.
// If fewer than n frames are free, ErrOutOfMemory is returned and the free
// list is left untouched.
func (a *Allocator) Allocate(n int) (List, error) {
	if n <= 0 {
		return List{}, ErrInvalidCount
	}
	if a.freeCount < n {
		return List{}, fmt.Errorf("%w: requested %d, free %d", ErrOutOfMemory, n, a.freeCount)
	}
	return a.detach(n), nil
}

// AllocateUpTo detaches up to n frames from the head of the free list.
// A free list shorter than n yields all remaining frames. It only fails if
// n is not positive or no frame is free at all.
func (a *Allocator) AllocateUpTo(n int) (List, error) {
	if n <= 0 {
		return List{}, ErrInvalidCount
	}
	if a.freeCount == 0 {
		return List{}, ErrOutOfMemory
	}
	if n > a.freeCount {
		n = a.freeCount
	}
	return a.detach(n), nil
}

// detach removes n frames from the head of the free list.
// n must be in [1, freeCount].
func (a *Allocator) detach(n int) List {
	a.lastID++
	list := List{
		head:       a.head,
		length:     n,
		id:         a.lastID,
		generation: a.generation,
	}

	current := a.head
	a.claim(current, list.id)
	for i := 1; i < n; i++ {
		current = a.nodes[current].next
		a.claim(current, list.id)
	}
	list.tail = current

	a.head = a.nodes[current].next
	if a.head.IsValid() {
		a.nodes[a.head].prev = InvalidFrame
	}
	a.nodes[current].next = InvalidFrame
	a.nodes[list.head].prev = InvalidFrame
	a.freeCount -= n

	glog.V(2).Infof("pfa: allocated %d frames starting at %d, %d free", n, list.head, a.freeCount)
	return list
}

func (a *Allocator) claim(f Frame, id uint64) {
	a.allocated.Set(uint(f))
	a.nodes[f].owner = id
}

// Free gives all frames of list back to the allocator by splicing the list in
// front of the free list. Freeing an empty list is a no-op.
func (a *Allocator) Free(list List) error {
	if list.IsEmpty() {
		return nil
	}
	if list.generation != a.generation {
		return ErrStaleList
	}

	// Validate first so that a rejected list leaves everything untouched.
	tail := list.head
	for i := 1; ; i++ {
		if !a.IsAllocated(tail) || a.nodes[tail].owner != list.id {
			return fmt.Errorf("%w: frame %d", ErrDoubleFree, tail)
		}
		next := a.nodes[tail].next
		if !next.IsValid() {
			break
		}
		if i >= list.length {
			return fmt.Errorf("%w: list is longer than %d frames", ErrDoubleFree, list.length)
		}
		tail = next
	}
	if tail != list.tail {
		return fmt.Errorf("%w: list ends at frame %d instead of %d", ErrDoubleFree, tail, list.tail)
	}

	for f := list.head; f.IsValid(); f = a.nodes[f].next {
		a.allocated.Clear(uint(f))
		a.nodes[f].owner = 0
	}

	a.nodes[tail].next = a.head
	if a.head.IsValid() {
		a.nodes[a.head].prev = tail
	}
	a.head = list.head
	a.nodes[list.head].prev = InvalidFrame
	a.freeCount += list.length

	glog.V(2).Infof("pfa: freed %d frames starting at %d, %d free", list.length, list.head, a.freeCount)
	return nil
}

// FreeCount returns the number of frames on the free list.
func (a *Allocator) FreeCount() int {
	return a.freeCount
}

// FrameCount returns the number of frames managed by the allocator.
func (a *Allocator) FrameCount() int {
	return len(a.nodes)
}

// FrameSize returns the size of a single frame.
func (a *Allocator) FrameSize() mem.Size {
	return a.frameSize
}

// Address returns the physical base address of a frame.
func (a *Allocator) Address(f Frame) mem.PhysAddr {
	return mem.PhysAddr(uint64(f) * uint64(a.frameSize))
}

// Next returns the frame following f in its list.
func (a *Allocator) Next(f Frame) Frame {
	return a.nodes[f].next
}

// Prev returns the frame preceding f in its list.
func (a *Allocator) Prev(f Frame) Frame {
	return a.nodes[f].prev
}

// IsAllocated returns true if f is currently owned by a caller.
func (a *Allocator) IsAllocated(f Frame) bool {
	if f < 0 || int(f) >= len(a.nodes) {
		return false
	}
	return a.allocated.Test(uint(f))
}

// FreeFrames returns the frames of the free list in list order.
func (a *Allocator) FreeFrames() []Frame {
	return a.walk(a.head)
}

// Frames returns the frames of list in list order. A list which was freed
// or reset by Init is no longer owned and gives nil.
func (a *Allocator) Frames(list List) []Frame {
	if !a.owns(list) {
		return nil
	}
	return a.walk(list.head)
}

// owns reports whether list still holds its frames.
func (a *Allocator) owns(list List) bool {
	if list.IsEmpty() || list.generation != a.generation {
		return false
	}
	return a.IsAllocated(list.head) && a.nodes[list.head].owner == list.id
}

// Addresses returns the physical base addresses of all frames of list.
func (a *Allocator) Addresses(list List) []mem.PhysAddr {
	frames := a.Frames(list)
	addrs := make([]mem.PhysAddr, len(frames))
	for i, f := range frames {
		addrs[i] = a.Address(f)
	}
	return addrs
}

func (a *Allocator) walk(head Frame) []Frame {
	var frames []Frame
	for f := head; f.IsValid() && len(frames) <= len(a.nodes); f = a.nodes[f].next {
		frames = append(frames, f)
	}
	return frames
}
