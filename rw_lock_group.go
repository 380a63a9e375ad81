package refsync

import (
	"time"

	"github.com/llxisdsh/pb"
)

// RWLockGroup allows shared reader-writer locking on arbitrary keys.
//
// Features:
//   - RLock/RUnlock for shared read access.
//   - Lock/Unlock for exclusive write access.
//   - Timed variants that give up after a timeout.
//   - Infinite keys with auto-cleanup: an entry lives only while some
//     goroutine holds or waits for its lock.
//
// Usage:
//
//	var group RWLockGroup[string]
//
//	// Readers
//	group.RLock("config")
//	read(config)
//	group.RUnlock("config")
//
//	// Writer
//	group.Lock("config")
//	write(config)
//	group.Unlock("config")
type RWLockGroup[K comparable] struct {
	_ noCopy
	m pb.MapOf[K, *rwLockGroupEntry]
}

type rwLockGroupEntry struct {
	mu ReadWriteLock
	// ref is only touched inside ProcessEntry.
	ref int32
}

func (g *RWLockGroup[K]) acquire(k K) *rwLockGroupEntry {
	v, _ := g.m.ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *rwLockGroupEntry]) (*pb.EntryOf[K, *rwLockGroupEntry], *rwLockGroupEntry, bool) {
			if l != nil {
				l.Value.ref++
				return l, l.Value, true
			}
			e := &rwLockGroupEntry{ref: 1}
			return &pb.EntryOf[K, *rwLockGroupEntry]{Value: e}, e, false
		},
	)
	return v
}

func (g *RWLockGroup[K]) release(k K) {
	var dead *rwLockGroupEntry
	g.m.ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *rwLockGroupEntry]) (*pb.EntryOf[K, *rwLockGroupEntry], *rwLockGroupEntry, bool) {
			if l == nil {
				return nil, nil, false
			}
			l.Value.ref--
			if l.Value.ref <= 0 {
				dead = l.Value
				return nil, nil, false
			}
			return l, l.Value, true
		},
	)
	if dead != nil {
		dead.mu.Close()
	}
}

func (g *RWLockGroup[K]) Lock(k K) {
	g.acquire(k).mu.Lock()
}

// TryLockFor write-locks k, waiting at most timeout.
func (g *RWLockGroup[K]) TryLockFor(k K, timeout time.Duration) bool {
	if g.acquire(k).mu.TryLockFor(timeout) {
		return true
	}
	g.release(k)
	return false
}

func (g *RWLockGroup[K]) Unlock(k K) {
	v, ok := g.m.Load(k)
	if !ok {
		misuse("RWLockGroup: Unlock of unlocked key", "key", k)
		return
	}
	v.mu.Unlock()
	g.release(k)
}

func (g *RWLockGroup[K]) RLock(k K) {
	g.acquire(k).mu.RLock()
}

// TryRLockFor read-locks k, waiting at most timeout.
func (g *RWLockGroup[K]) TryRLockFor(k K, timeout time.Duration) bool {
	if g.acquire(k).mu.TryRLockFor(timeout) {
		return true
	}
	g.release(k)
	return false
}

func (g *RWLockGroup[K]) RUnlock(k K) {
	g.Unlock(k)
}

// Len returns the number of keys currently held or awaited.
func (g *RWLockGroup[K]) Len() int {
	return g.m.Size()
}
