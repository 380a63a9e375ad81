package refsync

import (
	"cmp"
	"reflect"
	"unsafe"
)

// Shared is a reference-counted owning handle to a payload of type T.
//
// The payload is torn down exactly once, when the last Shared handle
// referencing it is released. Weak handles observe the payload without
// keeping it alive (see Weak).
//
// Properties:
//   - The zero value is an empty handle. A nil pointer never gets a
//     control block.
//   - Plain Go assignment copies the handle without taking a reference.
//     Use Clone to obtain an additional owner and Move to transfer one.
//   - Distinct handles to one payload may be used from any number of
//     goroutines. A single handle must not be mutated concurrently.
//
// Size: 2 words.
type Shared[T any] struct {
	ptr *T
	d   *refCountBlock
}

// NewShared takes ownership of p. When the last owner goes away, Destroy
// is called on p if *T implements Destroyer.
func NewShared[T any](p *T) Shared[T] {
	if p == nil {
		return Shared[T]{}
	}
	s := Shared[T]{ptr: p, d: newRefCountBlock(&defaultDeleter[T]{ptr: p})}
	enableSharedFromThis(s)
	return s
}

// NewSharedFunc takes ownership of p and arranges for deleter(p) to run
// when the last owner goes away. A nil deleter behaves like NewShared.
func NewSharedFunc[T any](p *T, deleter func(*T)) Shared[T] {
	if p == nil {
		return Shared[T]{}
	}
	if deleter == nil {
		return NewShared(p)
	}
	s := Shared[T]{ptr: p, d: newRefCountBlock(&customDeleter[T]{ptr: p, deleter: deleter})}
	enableSharedFromThis(s)
	return s
}

// MakeShared stores a copy of v and its control block in one allocation.
func MakeShared[T any](v T) Shared[T] {
	b := newContiguousBlock[T]()
	b.payload = v
	s := Shared[T]{ptr: &b.payload, d: &b.refCountBlock}
	enableSharedFromThis(s)
	return s
}

// MakeSharedFunc is like MakeShared but constructs the payload in place:
// init receives a pointer to the zeroed payload inside the block.
func MakeSharedFunc[T any](init func(*T)) Shared[T] {
	b := newContiguousBlock[T]()
	if init != nil {
		init(&b.payload)
	}
	s := Shared[T]{ptr: &b.payload, d: &b.refCountBlock}
	enableSharedFromThis(s)
	return s
}

// Get returns the payload pointer, or nil for an empty handle.
func (s Shared[T]) Get() *T {
	return s.ptr
}

// IsNull reports whether the handle points to nothing.
func (s Shared[T]) IsNull() bool {
	return s.ptr == nil
}

// Clone returns a new owner of the same payload.
func (s Shared[T]) Clone() Shared[T] {
	if s.d != nil {
		s.d.ref()
	}
	return s
}

// Move transfers ownership out of s, leaving it empty. No reference
// counts are touched.
func (s *Shared[T]) Move() Shared[T] {
	m := *s
	*s = Shared[T]{}
	return m
}

// Swap exchanges the contents of two handles.
func (s *Shared[T]) Swap(o *Shared[T]) {
	*s, *o = *o, *s
}

// Assign makes s another owner of o's payload, releasing what s held.
func (s *Shared[T]) Assign(o Shared[T]) {
	tmp := o.Clone()
	s.Swap(&tmp)
	tmp.Reset()
}

// Reset releases the payload reference and empties the handle.
func (s *Shared[T]) Reset() {
	d := s.d
	*s = Shared[T]{}
	d.deref()
}

// Release is Reset; it reads better at the end of a handle's life:
//
//	s := refsync.MakeShared(conn)
//	defer s.Release()
func (s *Shared[T]) Release() {
	s.Reset()
}

// ResetTo releases the current payload and takes ownership of p, as
// NewSharedFunc(p, deleter) would.
func (s *Shared[T]) ResetTo(p *T, deleter func(*T)) {
	tmp := NewSharedFunc(p, deleter)
	s.Swap(&tmp)
	tmp.Reset()
}

// ToWeak returns a weak handle observing the payload.
func (s Shared[T]) ToWeak() Weak[T] {
	return NewWeak(s)
}

// Equal reports whether both handles point to the same payload.
func (s Shared[T]) Equal(o Shared[T]) bool {
	return s.ptr == o.ptr
}

// useCount returns the number of live owners. Only meaningful in tests.
func (s Shared[T]) useCount() int32 {
	if s.d == nil {
		return 0
	}
	return s.d.strongref.Load()
}

// Compare orders handles by payload address, empty handles first.
func Compare[T any](a, b Shared[T]) int {
	return cmp.Compare(uintptr(unsafe.Pointer(a.ptr)), uintptr(unsafe.Pointer(b.ptr)))
}

// StaticCast returns a handle that shares ownership with s but points to
// conv(s.Get()), typically a field of the payload or the payload viewed
// through another type. An empty s, or a nil result of conv, yields an
// empty handle.
func StaticCast[U, T any](s Shared[T], conv func(*T) *U) Shared[U] {
	if s.ptr == nil {
		return Shared[U]{}
	}
	u := conv(s.ptr)
	if u == nil {
		return Shared[U]{}
	}
	s.d.ref()
	return Shared[U]{ptr: u, d: s.d}
}

// DynamicCast returns a handle to the payload as a *U if it is one.
//
// The payload matches when *T is *U, or when T is an interface or pointer
// type whose current value is a *U:
//
//	var s refsync.Shared[io.Reader] = refsync.MakeShared[io.Reader](f)
//	fs := refsync.DynamicCast[os.File](s) // shares s's block
//
// On mismatch an empty handle is returned and no reference is taken.
func DynamicCast[U, T any](s Shared[T]) Shared[U] {
	if s.ptr == nil {
		return Shared[U]{}
	}
	var u *U
	if p, ok := any(s.ptr).(*U); ok {
		u = p
	} else if k := reflect.TypeFor[T]().Kind(); k == reflect.Interface || k == reflect.Pointer {
		u, _ = any(*s.ptr).(*U)
	}
	if u == nil {
		return Shared[U]{}
	}
	s.d.ref()
	return Shared[U]{ptr: u, d: s.d}
}
