package refsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ReadWriteLock is a reader-writer lock that costs a single CAS while
// uncontended and only materializes a mutex and wait queues when
// goroutines actually have to block.
//
// Features:
//   - Uncontended read and write locking without allocation.
//   - Timed acquisition (TryLockFor / TryRLockFor) and context-aware
//     acquisition (LockContext / RLockContext).
//   - Writer-preferred once contended: new readers queue behind a
//     waiting writer.
//   - Optional recursive mode (WithRecursion) in which the owning
//     goroutine may re-acquire the lock.
//
// State word layout (non-recursive mode):
//   - 0:            unlocked
//   - low bits 01:  read-locked by (state>>2)+1 readers, nobody waiting
//   - 2:            write-locked, nobody waiting
//   - low bits 00:  contended; state>>2 - 1 indexes a lock private
//
// Unlike sync.RWMutex there is a single Unlock for both modes.
// The zero value is an unlocked, non-recursive lock.
//
// Size: 2 words.
type ReadWriteLock struct {
	_     noCopy
	state atomic.Uintptr
	rec   *lockPrivate
}

const (
	rwStateLockedForRead  = 1
	rwStateLockedForWrite = 2
	rwStateMask           = 3
	rwReaderUnit          = 4
)

func isUncontendedLocked(s uintptr) bool {
	return s&rwStateMask != 0
}

func privateState(p *lockPrivate) uintptr {
	return uintptr(p.id+1) << 2
}

func privateAt(s uintptr) *lockPrivate {
	return lockPrivates.At(int(s>>2) - 1)
}

// RWLockConfig defines configurable options for a ReadWriteLock.
type RWLockConfig struct {
	// recursive allows the goroutine holding the lock to acquire it again.
	// Recursive locks always use the contended representation.
	recursive bool
}

// WithRecursion makes the lock re-entrant for the goroutine holding it.
//
// A goroutine holding the write lock may take further write or read
// locks; a goroutine holding a read lock may take further read locks.
// Upgrading from read to write deadlocks, as with any rw-lock. Every
// acquisition needs its own Unlock.
func WithRecursion() func(*RWLockConfig) {
	return func(c *RWLockConfig) {
		c.recursive = true
	}
}

// NewReadWriteLock creates a ReadWriteLock with the given options.
func NewReadWriteLock(options ...func(*RWLockConfig)) *ReadWriteLock {
	c := &RWLockConfig{}
	for _, o := range options {
		o(c)
	}
	l := &ReadWriteLock{}
	if c.recursive {
		l.rec = newRecursiveLockPrivate()
	}
	return l
}

// Recursive reports whether the lock was created WithRecursion.
func (l *ReadWriteLock) Recursive() bool {
	return l.rec != nil
}

// RLock locks for reading, blocking while a writer holds or waits for
// the lock.
func (l *ReadWriteLock) RLock() {
	l.TryRLockFor(-1)
}

// TryRLock locks for reading if that is possible without blocking.
func (l *ReadWriteLock) TryRLock() bool {
	return l.TryRLockFor(0)
}

// TryRLockFor locks for reading, waiting at most timeout. A negative
// timeout waits forever. It reports whether the lock was acquired.
func (l *ReadWriteLock) TryRLockFor(timeout time.Duration) bool {
	if l.rec == nil && l.state.CompareAndSwap(0, rwStateLockedForRead) {
		return true
	}
	dl := newDeadline(timeout)
	return l.contendedRLock(&dl)
}

// RLockContext locks for reading or returns ctx.Err() once ctx is done.
func (l *ReadWriteLock) RLockContext(ctx context.Context) error {
	if l.rec == nil && l.state.CompareAndSwap(0, rwStateLockedForRead) {
		return nil
	}
	dl := deadline{done: ctx.Done()}
	if l.contendedRLock(&dl) {
		return nil
	}
	return ctx.Err()
}

// Lock locks for writing, blocking while anybody holds the lock.
func (l *ReadWriteLock) Lock() {
	l.TryLockFor(-1)
}

// TryLock locks for writing if that is possible without blocking.
func (l *ReadWriteLock) TryLock() bool {
	return l.TryLockFor(0)
}

// TryLockFor locks for writing, waiting at most timeout. A negative
// timeout waits forever. It reports whether the lock was acquired.
//
// A writer that gives up wakes readers that were queued only because of
// it.
func (l *ReadWriteLock) TryLockFor(timeout time.Duration) bool {
	if l.rec == nil && l.state.CompareAndSwap(0, rwStateLockedForWrite) {
		return true
	}
	dl := newDeadline(timeout)
	return l.contendedLock(&dl)
}

// LockContext locks for writing or returns ctx.Err() once ctx is done.
func (l *ReadWriteLock) LockContext(ctx context.Context) error {
	if l.rec == nil && l.state.CompareAndSwap(0, rwStateLockedForWrite) {
		return nil
	}
	dl := deadline{done: ctx.Done()}
	if l.contendedLock(&dl) {
		return nil
	}
	return ctx.Err()
}

func (l *ReadWriteLock) contendedRLock(dl *deadline) bool {
	if l.rec != nil {
		return l.rec.recursiveLockForRead(dl)
	}
	s := l.state.Load()
	for {
		switch {
		case s == 0:
			if l.state.CompareAndSwap(0, rwStateLockedForRead) {
				return true
			}
			s = l.state.Load()
			continue
		case s&rwStateMask == rwStateLockedForRead:
			if l.state.CompareAndSwap(s, s+rwReaderUnit) {
				return true
			}
			s = l.state.Load()
			continue
		case s == rwStateLockedForWrite:
			if dl.expired() {
				return false
			}
			p := allocLockPrivate()
			p.mu.Lock()
			p.writerCount = 1
			p.mu.Unlock()
			if !l.state.CompareAndSwap(s, privateState(p)) {
				p.mu.Lock()
				p.writerCount = 0
				p.release()
				p.mu.Unlock()
				s = l.state.Load()
				continue
			}
			s = privateState(p)
		}

		p := privateAt(s)
		p.mu.Lock()
		if cur := l.state.Load(); cur != s {
			// Unlocked (and maybe reused) before we got p.mu. Slots are
			// never freed, so holding a stale p.mu is harmless.
			p.mu.Unlock()
			s = cur
			continue
		}
		ok := p.lockForRead(dl)
		p.mu.Unlock()
		return ok
	}
}

func (l *ReadWriteLock) contendedLock(dl *deadline) bool {
	if l.rec != nil {
		return l.rec.recursiveLockForWrite(dl)
	}
	s := l.state.Load()
	for {
		if s == 0 {
			if l.state.CompareAndSwap(0, rwStateLockedForWrite) {
				return true
			}
			s = l.state.Load()
			continue
		}
		if isUncontendedLocked(s) {
			if dl.expired() {
				return false
			}
			p := allocLockPrivate()
			p.mu.Lock()
			if s == rwStateLockedForWrite {
				p.writerCount = 1
			} else {
				p.readerCount = int(s>>2) + 1
			}
			p.mu.Unlock()
			if !l.state.CompareAndSwap(s, privateState(p)) {
				p.mu.Lock()
				p.writerCount, p.readerCount = 0, 0
				p.release()
				p.mu.Unlock()
				s = l.state.Load()
				continue
			}
			s = privateState(p)
		}

		p := privateAt(s)
		p.mu.Lock()
		if cur := l.state.Load(); cur != s {
			p.mu.Unlock()
			s = cur
			continue
		}
		ok := p.lockForWrite(dl)
		p.mu.Unlock()
		return ok
	}
}

// Unlock releases a read or write lock held by the caller.
func (l *ReadWriteLock) Unlock() {
	if l.rec != nil {
		l.rec.recursiveUnlock()
		return
	}
	s := l.state.Load()
	for {
		if s == 0 {
			misuse("ReadWriteLock: Unlock of unlocked lock")
			return
		}
		if s <= rwStateLockedForWrite {
			// Sole reader or writer, nobody waiting.
			if l.state.CompareAndSwap(s, 0) {
				return
			}
			s = l.state.Load()
			continue
		}
		if s&rwStateMask == rwStateLockedForRead {
			if l.state.CompareAndSwap(s, s-rwReaderUnit) {
				return
			}
			s = l.state.Load()
			continue
		}

		// Contended. We are a holder, so the state cannot move away from
		// this private until we are done.
		p := privateAt(s)
		p.mu.Lock()
		switch {
		case p.writerCount > 0:
			p.writerCount = 0
		case p.readerCount > 0:
			p.readerCount--
			if p.readerCount > 0 {
				p.mu.Unlock()
				return
			}
		default:
			p.mu.Unlock()
			misuse("ReadWriteLock: Unlock of unlocked lock")
			return
		}
		if p.waitingReaders > 0 || p.waitingWriters > 0 {
			p.wake()
		} else {
			l.state.Store(0)
			p.release()
		}
		p.mu.Unlock()
		return
	}
}

// RUnlock is Unlock. It exists so ReadWriteLock can stand in for a
// sync.RWMutex.
func (l *ReadWriteLock) RUnlock() {
	l.Unlock()
}

// RLocker returns a sync.Locker whose Lock and Unlock take and release
// the read lock.
func (l *ReadWriteLock) RLocker() sync.Locker {
	return (*rlocker)(l)
}

type rlocker ReadWriteLock

func (r *rlocker) Lock()   { (*ReadWriteLock)(r).RLock() }
func (r *rlocker) Unlock() { (*ReadWriteLock)(r).Unlock() }

// Close retires the lock. It must not be called while the lock is held:
// doing so is reported and Close returns false, leaving the lock as it is.
// Closing an unlocked lock returns any lock private still parked on it.
func (l *ReadWriteLock) Close() bool {
	if l.rec != nil {
		l.rec.mu.Lock()
		idle := l.rec.idle()
		l.rec.mu.Unlock()
		if !idle {
			misuse("ReadWriteLock: destroying locked lock")
		}
		return idle
	}
	for {
		s := l.state.Load()
		if s == 0 {
			return true
		}
		if isUncontendedLocked(s) {
			misuse("ReadWriteLock: destroying locked lock")
			return false
		}
		p := privateAt(s)
		p.mu.Lock()
		if l.state.Load() != s {
			p.mu.Unlock()
			continue
		}
		if !p.idle() {
			p.mu.Unlock()
			misuse("ReadWriteLock: destroying locked lock")
			return false
		}
		// Every waiter timed out after the last unlock handed over.
		l.state.Store(0)
		p.release()
		p.mu.Unlock()
		return true
	}
}
