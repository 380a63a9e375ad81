// Package refsync provides reference-counted ownership handles and a
// reader-writer lock that stays allocation-free until it is contended.
//
// # Shared and Weak
//
// Shared[T] owns a payload together with every other Shared handle
// cloned from it; Weak[T] observes the payload without owning it. Each
// payload has one control block with two counters:
//
//   - strong: live Shared handles. The payload is torn down (its
//     deleter runs, or Destroy if it implements Destroyer) by the
//     release that takes strong from 1 to 0, and only by that one.
//   - weak: live Weak handles plus one slot shared by all Shared
//     handles. The block is released when weak reaches 0, which can
//     only happen after strong has.
//
// Weak.ToStrong increments strong only while it observes it positive, so
// a Weak can never resurrect a payload that is being torn down.
//
// Go assignment copies handles bitwise without touching the counters.
// Clone, Move, Assign and Release are the ownership operations:
//
//	a := refsync.MakeShared(Buffer{})
//	b := a.Clone()   // two owners
//	w := b.ToWeak()  // one observer
//	a.Release()
//	b.Release()      // payload destroyed here
//	w.ToStrong()     // empty handle
//	w.Release()      // control block released here
//
// # ReadWriteLock
//
// ReadWriteLock keeps its whole state in one atomic word while at most
// one mode is in use and nobody waits. Once a goroutine must block, the
// word is switched to name a lock private (a mutex, counters and wait
// queues) drawn from a process-wide FreeList.
//
// Lock privates are created on first use and recycled for the life of
// the process; they are never torn down. This is what makes it safe for a
// goroutine that read a stale state word to lock a private that has
// since been released or even handed to another lock: it finds the
// state changed and retries.
//
// Recursive locks (WithRecursion) own a private of their own from the
// start, because the inline states cannot record which goroutine holds
// the lock.
//
// # Diagnostics
//
// Misuse that does not corrupt state, such as closing a locked lock, is
// logged through the logger set with SetLogger. Built with the
// refsync_debug tag, it panics instead of carrying on.
package refsync
