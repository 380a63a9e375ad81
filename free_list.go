package refsync

import (
	"fmt"
	"sync/atomic"

	"github.com/pdkcore/refsync/internal/opt"
)

// FreeList is a lock-free pool of T slots addressed by index.
//
// Slots live in four blocks of growing size that are allocated on first
// touch and never freed. Alloc pops a free index, Release pushes it back.
// The slot value is never reset by the list: whatever the previous user
// left in it is still there on reuse, which is what lets a stale holder
// of an index keep touching the slot (a mutex, say) without a
// use-after-free.
//
// Features:
//   - Lock-free Alloc and Release (CAS on a single head word).
//   - ABA protection via a serial number in the high 8 bits of the head.
//   - No ordering guarantee across goroutines beyond atomicity.
//
// It is zero-value usable with the default block sizes
// {16, 128, 1024, 0xffffff-1168}.
type FreeList[T any] struct {
	_      noCopy
	next   opt.Uint32Stripe_
	sizes  [freeListBlockCount]int
	blocks [freeListBlockCount]atomic.Pointer[[]freeListSlot[T]]
}

const (
	freeListBlockCount    = 4
	freeListIndexMask     = 0x00ffffff
	freeListSerialMask    = ^uint32(freeListIndexMask)
	freeListSerialCounter = freeListIndexMask + 1
	freeListMaxIndex      = freeListIndexMask
)

type freeListSlot[T any] struct {
	next  atomic.Uint32
	value T
}

// FreeListConfig defines the block layout of a FreeList.
type FreeListConfig struct {
	sizes [freeListBlockCount]int
}

// WithMaxIndex bounds the number of slots to n. The first three blocks
// keep their default sizes (16, 128, 1024) and the last one takes the
// rest, so n must be larger than 1168.
func WithMaxIndex(n int) func(*FreeListConfig) {
	return func(c *FreeListConfig) {
		c.sizes = [freeListBlockCount]int{16, 128, 1024, n - (16 + 128 + 1024)}
	}
}

// WithBlockSizes sets all four block sizes explicitly.
func WithBlockSizes(sizes [freeListBlockCount]int) func(*FreeListConfig) {
	return func(c *FreeListConfig) {
		c.sizes = sizes
	}
}

var defaultFreeListSizes = [freeListBlockCount]int{
	16, 128, 1024, freeListMaxIndex - (16 + 128 + 1024),
}

// NewFreeList creates a FreeList with the given options.
func NewFreeList[T any](options ...func(*FreeListConfig)) *FreeList[T] {
	c := &FreeListConfig{sizes: defaultFreeListSizes}
	for _, o := range options {
		o(c)
	}
	total := 0
	for _, n := range c.sizes {
		if n <= 0 {
			panic(fmt.Sprintf("refsync: invalid FreeList block sizes %v", c.sizes))
		}
		total += n
	}
	if total > freeListMaxIndex {
		panic(fmt.Sprintf("refsync: FreeList capacity %d exceeds %d", total, freeListMaxIndex))
	}
	return &FreeList[T]{sizes: c.sizes}
}

func (f *FreeList[T]) size(block int) int {
	if f.sizes[0] == 0 {
		return defaultFreeListSizes[block]
	}
	return f.sizes[block]
}

// Cap returns the total number of slots the list can hand out.
func (f *FreeList[T]) Cap() int {
	n := 0
	for i := range freeListBlockCount {
		n += f.size(i)
	}
	return n
}

// blockFor maps a global index to its block and the index inside it.
func (f *FreeList[T]) blockFor(x int) (block, at int) {
	for i := range freeListBlockCount {
		size := f.size(i)
		if x < size {
			return i, x
		}
		x -= size
	}
	panic(fmt.Sprintf("refsync: FreeList exhausted (%d slots)", f.Cap()))
}

// grow installs the block that starts at global index offset. Losing
// racers drop their copy and use the winner's.
func (f *FreeList[T]) grow(block, offset int) *[]freeListSlot[T] {
	v := make([]freeListSlot[T], f.size(block))
	for i := range v {
		v[i].next.Store(uint32(offset + i + 1))
	}
	if f.blocks[block].CompareAndSwap(nil, &v) {
		return &v
	}
	return f.blocks[block].Load()
}

// Alloc claims a free slot and returns its index.
// It panics when every slot is in use.
func (f *FreeList[T]) Alloc() int {
	for {
		id := f.next.V.Load()
		at := int(id & freeListIndexMask)
		block, local := f.blockFor(at)
		v := f.blocks[block].Load()
		if v == nil {
			v = f.grow(block, at-local)
		}
		newID := (*v)[local].next.Load() | (id & freeListSerialMask)
		if f.next.V.CompareAndSwap(id, newID) {
			return at
		}
	}
}

// At returns the slot of an index obtained from Alloc.
func (f *FreeList[T]) At(i int) *T {
	block, local := f.blockFor(i)
	v := f.blocks[block].Load()
	if v == nil {
		panic(fmt.Sprintf("refsync: FreeList index %d was never allocated", i))
	}
	return &(*v)[local].value
}

// Release returns index i to the list. The slot value is left as is.
func (f *FreeList[T]) Release(i int) {
	block, local := f.blockFor(i)
	v := f.blocks[block].Load()
	if v == nil {
		panic(fmt.Sprintf("refsync: FreeList index %d was never allocated", i))
	}
	for {
		x := f.next.V.Load()
		(*v)[local].next.Store(x & freeListIndexMask)
		newID := uint32(i)&freeListIndexMask | ((x + freeListSerialCounter) & freeListSerialMask)
		if f.next.V.CompareAndSwap(x, newID) {
			return
		}
	}
}
