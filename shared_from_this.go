package refsync

// EnableSharedFromThis lets a payload obtain owning handles to itself.
//
// Embed it in the payload type, parameterized with that same type:
//
//	type Session struct {
//		refsync.EnableSharedFromThis[Session]
//		id string
//	}
//
//	s := refsync.MakeShared(Session{id: "a"})
//	self := s.Get().SharedFromThis() // another owner of s's payload
//
// Every Shared constructor detects the embedding and records a weak
// self-reference, which is dropped when the payload is torn down.
// The embedded value is overwritten at construction, so copying a payload
// before wrapping it is harmless.
type EnableSharedFromThis[T any] struct {
	weakThis Weak[T]
}

// SharedFromThis returns a new owner of the enclosing payload, or an
// empty handle if it is not (or no longer) owned by a Shared.
func (e *EnableSharedFromThis[T]) SharedFromThis() Shared[T] {
	return e.weakThis.ToStrong()
}

// WeakFromThis returns a weak handle to the enclosing payload.
func (e *EnableSharedFromThis[T]) WeakFromThis() Weak[T] {
	return e.weakThis.Clone()
}

func (e *EnableSharedFromThis[T]) initWeakThis(s Shared[T]) {
	e.weakThis = NewWeak(s)
}

func (e *EnableSharedFromThis[T]) releaseWeakThis() {
	e.weakThis.Release()
}

type weakThisInitializer[T any] interface {
	initWeakThis(Shared[T])
}

type weakThisReleaser interface {
	releaseWeakThis()
}

// enableSharedFromThis is a no-op unless *T embeds EnableSharedFromThis[T].
func enableSharedFromThis[T any](s Shared[T]) {
	if e, ok := any(s.ptr).(weakThisInitializer[T]); ok {
		e.initWeakThis(s)
	}
}

func releaseWeakThis[T any](p *T) {
	if e, ok := any(p).(weakThisReleaser); ok {
		e.releaseWeakThis()
	}
}
