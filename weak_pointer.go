package refsync

// Weak observes a payload owned by Shared handles without keeping it
// alive. It keeps only the control block alive, so it can tell whether
// the payload is gone.
//
// Promotion with ToStrong never resurrects a payload: once the last
// Shared owner has released it, every ToStrong returns an empty handle,
// even when racing with that final release.
//
// Like Shared, plain assignment does not take a reference; use Clone.
type Weak[T any] struct {
	ptr *T
	d   *refCountBlock
}

// NewWeak returns a weak handle observing the payload of s.
func NewWeak[T any](s Shared[T]) Weak[T] {
	if s.d == nil {
		return Weak[T]{}
	}
	s.d.weakref.Add(1)
	return Weak[T]{ptr: s.ptr, d: s.d}
}

// IsNull reports whether the payload is gone or was never there.
func (w Weak[T]) IsNull() bool {
	return w.d == nil || w.d.strongref.Load() == 0 || w.ptr == nil
}

// ToStrong returns an owning handle to the payload, or an empty handle
// if the payload has already been destroyed.
func (w Weak[T]) ToStrong() Shared[T] {
	if w.d == nil || !w.d.tryRef() {
		return Shared[T]{}
	}
	return Shared[T]{ptr: w.ptr, d: w.d}
}

// Clone returns another weak handle to the same control block.
func (w Weak[T]) Clone() Weak[T] {
	if w.d != nil {
		w.d.weakref.Add(1)
	}
	return w
}

// Assign makes w observe s's payload, releasing what w observed.
func (w *Weak[T]) Assign(s Shared[T]) {
	tmp := NewWeak(s)
	w.Swap(&tmp)
	tmp.Release()
}

// Swap exchanges the contents of two handles.
func (w *Weak[T]) Swap(o *Weak[T]) {
	*w, *o = *o, *w
}

// Release drops the weak reference and empties the handle.
func (w *Weak[T]) Release() {
	d := w.d
	*w = Weak[T]{}
	d.derefWeak()
}

// Equal reports whether both handles observe the same payload address.
func (w Weak[T]) Equal(o Weak[T]) bool {
	return w.ptr == o.ptr
}
