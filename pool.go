package kfat

import (
	"fmt"

	"github.com/aligator/kfat/checkpoint"
	"github.com/bits-and-blooms/bitset"
)

// DefaultMaxOpenFiles is the number of file handles if Options does not set it.
const DefaultMaxOpenFiles = 8

// handle identifies a pool slot. gen ties it to the Init which handed it out,
// so handles from before a re-Init cannot release new slots.
type handle struct {
	slot uint
	gen  uint64
}

// handlePool is a fixed number of file handle slots.
type handlePool struct {
	used *bitset.BitSet
	size uint
	gen  uint64
}

func newHandlePool(size int, gen uint64) *handlePool {
	if size <= 0 {
		size = DefaultMaxOpenFiles
	}
	return &handlePool{
		used: bitset.New(uint(size)),
		size: uint(size),
		gen:  gen,
	}
}

func (p *handlePool) acquire() (handle, error) {
	slot, ok := p.used.NextClear(0)
	if !ok || slot >= p.size {
		return handle{}, checkpoint.From(fmt.Errorf("%w: all %d handles are open", ErrTooManyOpenFiles, p.size))
	}
	p.used.Set(slot)
	return handle{slot: slot, gen: p.gen}, nil
}

// release frees the slot of h. Stale or unknown handles are ignored.
func (p *handlePool) release(h handle) {
	if h.gen != p.gen || h.slot >= p.size {
		return
	}
	p.used.Clear(h.slot)
}

func (p *handlePool) open() int {
	return int(p.used.Count())
}
