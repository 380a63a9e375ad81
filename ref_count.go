package refsync

import (
	"fmt"
	"sync/atomic"
)

// Destroyer is implemented by payloads that need explicit teardown.
//
// When the last Shared handle to a payload created with NewShared or
// MakeShared goes away, Destroy is called exactly once. Payloads with a
// custom deleter (NewSharedFunc) are handed to the deleter instead.
// An embedded EnableSharedFromThis has already expired by then.
type Destroyer interface {
	Destroy()
}

// destroyer tears down a payload without knowing its static type.
type destroyer interface {
	destroy()
}

// refCountBlock is the control block shared by every Shared and Weak
// handle of one payload.
//
//   - strongref: live Shared handles. The payload is alive iff > 0.
//   - weakref: live Weak handles, plus one slot held jointly by all
//     Shared handles while strongref > 0.
//
// The payload is destroyed by the strong decrement that reaches zero and
// the block is released by the weak decrement that reaches zero.
type refCountBlock struct {
	strongref atomic.Int32
	weakref   atomic.Int32
	destroyer destroyer
}

// blockFreeHook observes block release. Tests set it before starting any
// goroutine.
var blockFreeHook func(*refCountBlock)

func newRefCountBlock(d destroyer) *refCountBlock {
	b := &refCountBlock{destroyer: d}
	b.strongref.Store(1)
	b.weakref.Store(1)
	return b
}

// deref drops one strong reference together with the weak slot that
// comes with it.
func (b *refCountBlock) deref() {
	if b == nil {
		return
	}
	if n := b.strongref.Add(-1); n == 0 {
		b.destroy()
	} else if n < 0 {
		panic(fmt.Sprintf("refsync: negative strong reference count %d", n))
	}
	b.derefWeak()
}

func (b *refCountBlock) derefWeak() {
	if b == nil {
		return
	}
	if n := b.weakref.Add(-1); n == 0 {
		b.free()
	} else if n < 0 {
		panic(fmt.Sprintf("refsync: negative weak reference count %d", n))
	}
}

func (b *refCountBlock) destroy() {
	b.destroyer.destroy()
}

func (b *refCountBlock) free() {
	b.destroyer = nil
	if blockFreeHook != nil {
		blockFreeHook(b)
	}
}

// tryRef increments strongref unless it already dropped to zero.
func (b *refCountBlock) tryRef() bool {
	n := b.strongref.Load()
	for n > 0 {
		if b.strongref.CompareAndSwap(n, n+1) {
			b.weakref.Add(1)
			return true
		}
		n = b.strongref.Load()
	}
	return false
}

func (b *refCountBlock) ref() {
	b.strongref.Add(1)
	b.weakref.Add(1)
}

// defaultDeleter is the destroyer of NewShared. It stores nothing beyond
// the payload pointer.
type defaultDeleter[T any] struct {
	ptr *T
}

func (d *defaultDeleter[T]) destroy() {
	p := d.ptr
	d.ptr = nil
	destroyPayload(p)
}

// customDeleter is the destroyer of NewSharedFunc.
type customDeleter[T any] struct {
	ptr     *T
	deleter func(*T)
}

func (d *customDeleter[T]) destroy() {
	p, fn := d.ptr, d.deleter
	d.ptr, d.deleter = nil, nil
	// The self reference expires before the deleter may hand p elsewhere.
	releaseWeakThis(p)
	fn(p)
}

// contiguousBlock carries the payload inside the control block, so
// MakeShared costs one allocation. Destroying it tears the payload down
// in place; the memory goes with the block.
type contiguousBlock[T any] struct {
	refCountBlock
	payload T
}

func newContiguousBlock[T any]() *contiguousBlock[T] {
	b := &contiguousBlock[T]{}
	b.destroyer = b
	b.strongref.Store(1)
	b.weakref.Store(1)
	return b
}

func (b *contiguousBlock[T]) destroy() {
	destroyPayload(&b.payload)
	var zero T
	b.payload = zero
}

func destroyPayload[T any](p *T) {
	releaseWeakThis(p)
	callDestroy(p)
}

// callDestroy runs Destroy on the payload, looking through interface and
// pointer payloads to the value they hold.
func callDestroy[T any](p *T) {
	if d, ok := any(p).(Destroyer); ok {
		d.Destroy()
	} else if d, ok := any(*p).(Destroyer); ok {
		d.Destroy()
	}
}
