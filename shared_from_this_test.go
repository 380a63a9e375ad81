package refsync

import (
	"sync/atomic"
	"testing"
)

type session struct {
	EnableSharedFromThis[session]
	id        string
	destroyed *atomic.Int32
}

func (s *session) Destroy() {
	s.destroyed.Add(1)
}

func TestEnableSharedFromThis_MakeShared(t *testing.T) {
	freed := trackBlocks(t)
	var destroyed atomic.Int32

	s := MakeShared(session{id: "a", destroyed: &destroyed})
	self := s.Get().SharedFromThis()
	if self.Get() != s.Get() {
		t.Fatal("SharedFromThis returned a different payload")
	}
	if s.useCount() != 2 {
		t.Fatalf("useCount=%d, want 2", s.useCount())
	}
	w := s.Get().WeakFromThis()
	self.Release()
	s.Release()

	if destroyed.Load() != 1 {
		t.Fatalf("destroyed=%d, want 1", destroyed.Load())
	}
	if !w.IsNull() {
		t.Fatal("WeakFromThis outlived the payload")
	}
	if freed.Load() != 0 {
		t.Fatal("block freed while WeakFromThis handle remains")
	}
	w.Release()
	if freed.Load() != 1 {
		t.Fatal("self reference kept the block alive")
	}
}

func TestEnableSharedFromThis_NewShared(t *testing.T) {
	freed := trackBlocks(t)
	var destroyed atomic.Int32
	p := &session{id: "b", destroyed: &destroyed}

	s := NewShared(p)
	if got := p.SharedFromThis(); got.Get() != p {
		t.Fatal("SharedFromThis returned a different payload")
	} else {
		got.Release()
	}
	s.Release()

	if destroyed.Load() != 1 || freed.Load() != 1 {
		t.Fatalf("destroyed=%d freed=%d, want 1 and 1", destroyed.Load(), freed.Load())
	}
	if !p.SharedFromThis().IsNull() {
		t.Fatal("SharedFromThis after destruction must be empty")
	}
}

func TestEnableSharedFromThis_CustomDeleter(t *testing.T) {
	freed := trackBlocks(t)
	p := &session{id: "c"}
	var deleted int
	s := NewSharedFunc(p, func(*session) { deleted++ })
	s.Release()
	if deleted != 1 || freed.Load() != 1 {
		t.Fatalf("deleted=%d freed=%d, want 1 and 1", deleted, freed.Load())
	}
}

func TestEnableSharedFromThis_Unowned(t *testing.T) {
	var s session
	if !s.SharedFromThis().IsNull() || !s.WeakFromThis().IsNull() {
		t.Fatal("unowned payload must have no self reference")
	}
}

// A deleter may hand the payload to a new owner; the old teardown must
// not touch the new owner's self reference.
func TestEnableSharedFromThis_DeleterRewraps(t *testing.T) {
	p := &session{id: "pooled"}
	var recycled Shared[session]
	s := NewSharedFunc(p, func(q *session) {
		recycled = NewShared(q)
	})
	oldBlock := s.d
	s.Release()

	if recycled.Get() != p {
		t.Fatal("deleter did not re-wrap the payload")
	}
	if got := oldBlock.weakref.Load(); got != 0 {
		t.Fatalf("old block weakref=%d, want 0", got)
	}
	if got := recycled.d.weakref.Load(); got != 2 {
		t.Fatalf("new block weakref=%d, want 2", got)
	}
	self := p.SharedFromThis()
	if self.Get() != p || self.d != recycled.d {
		t.Fatal("self reference lost across re-wrapping")
	}
	self.Release()

	var destroyed atomic.Int32
	p.destroyed = &destroyed
	recycled.Release()
	if destroyed.Load() != 1 || !p.SharedFromThis().IsNull() {
		t.Fatal("new owner did not tear the payload down")
	}
}
