package refsync

import (
	"sync"
	"time"

	"github.com/pdkcore/refsync/internal/goid"
)

// lockPrivate is the contended representation of a ReadWriteLock.
//
// Non-recursive privates come from lockPrivates and are never freed, so a
// goroutine that read a stale state word can still lock mu safely and
// then notice the state moved on. Every field below mu is protected by mu.
type lockPrivate struct {
	mu sync.Mutex

	readerCount    int
	writerCount    int
	waitingReaders int
	waitingWriters int

	readerQ waitQueue
	writerQ waitQueue

	id int

	recursive      bool
	currentWriter  int64
	currentReaders map[int64]int
}

// lockPrivateMaxIndex bounds the number of simultaneously contended locks
// in the process.
const lockPrivateMaxIndex = 0xffff

// lockPrivates is initialized with the package but touches no memory until
// the first contended lock. Slots are recycled for the life of the
// process and never torn down.
var lockPrivates = NewFreeList[lockPrivate](WithMaxIndex(lockPrivateMaxIndex))

func allocLockPrivate() *lockPrivate {
	id := lockPrivates.Alloc()
	p := lockPrivates.At(id)
	p.mu.Lock()
	if p.readerCount != 0 || p.writerCount != 0 || p.waitingReaders != 0 || p.waitingWriters != 0 {
		misuse("reused lock private is not idle",
			"readers", p.readerCount, "writers", p.writerCount,
			"waitingReaders", p.waitingReaders, "waitingWriters", p.waitingWriters)
	}
	p.id = id
	p.mu.Unlock()
	return p
}

func (p *lockPrivate) release() {
	lockPrivates.Release(p.id)
}

func newRecursiveLockPrivate() *lockPrivate {
	return &lockPrivate{recursive: true, currentReaders: make(map[int64]int)}
}

func (p *lockPrivate) idle() bool {
	return p.readerCount == 0 && p.writerCount == 0 &&
		p.waitingReaders == 0 && p.waitingWriters == 0
}

// lockForRead blocks until no writer holds or waits for the lock.
// mu must be held.
func (p *lockPrivate) lockForRead(dl *deadline) bool {
	for p.waitingWriters > 0 || p.writerCount > 0 {
		if dl.expired() {
			return false
		}
		p.waitingReaders++
		p.readerQ.wait(&p.mu, dl)
		p.waitingReaders--
	}
	p.readerCount++
	return true
}

// lockForWrite blocks until nobody holds the lock. mu must be held.
func (p *lockPrivate) lockForWrite(dl *deadline) bool {
	for p.readerCount > 0 || p.writerCount > 0 {
		if dl.expired() {
			// Readers queued behind us alone have nothing left to wait for.
			if p.waitingReaders > 0 && p.waitingWriters == 0 && p.writerCount == 0 {
				p.readerQ.notifyAll()
			}
			return false
		}
		p.waitingWriters++
		p.writerQ.wait(&p.mu, dl)
		p.waitingWriters--
	}
	p.writerCount = 1
	return true
}

// wake hands the lock to the next waiters: one writer if any is waiting,
// otherwise every reader. mu must be held.
func (p *lockPrivate) wake() {
	if p.waitingWriters > 0 {
		p.writerQ.notifyOne()
	} else if p.waitingReaders > 0 {
		p.readerQ.notifyAll()
	}
}

// goroutineID identifies recursive lock holders. 0 means no holder.
var goroutineID = goid.Current

func currentGoroutine() int64 {
	id := goroutineID()
	if id == 0 {
		misuse("ReadWriteLock: cannot identify the calling goroutine")
		panic("refsync: goroutine id unavailable")
	}
	return id
}

func (p *lockPrivate) recursiveLockForRead(dl *deadline) bool {
	self := currentGoroutine()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentWriter == self {
		// A read under our own write lock nests as a write.
		p.writerCount++
		return true
	}
	if n, ok := p.currentReaders[self]; ok {
		p.currentReaders[self] = n + 1
		return true
	}
	if !p.lockForRead(dl) {
		return false
	}
	p.currentReaders[self] = 1
	return true
}

func (p *lockPrivate) recursiveLockForWrite(dl *deadline) bool {
	self := currentGoroutine()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentWriter == self {
		p.writerCount++
		return true
	}
	if !p.lockForWrite(dl) {
		return false
	}
	p.currentWriter = self
	return true
}

func (p *lockPrivate) recursiveUnlock() {
	self := currentGoroutine()
	p.mu.Lock()
	defer p.mu.Unlock()

	if self == p.currentWriter {
		p.writerCount--
		if p.writerCount > 0 {
			return
		}
		p.currentWriter = 0
	} else {
		n, ok := p.currentReaders[self]
		if !ok {
			misuse("ReadWriteLock: unlocking from a goroutine that did not lock", "goroutine", self)
			return
		}
		if n > 1 {
			p.currentReaders[self] = n - 1
			return
		}
		delete(p.currentReaders, self)
		p.readerCount--
		if p.readerCount > 0 {
			return
		}
	}
	p.wake()
}

// deadline bounds a blocking acquisition. The zero value never expires.
type deadline struct {
	done  <-chan struct{}
	at    time.Time
	timed bool
}

// newDeadline returns a deadline timeout from now; a negative timeout
// means forever.
func newDeadline(timeout time.Duration) deadline {
	if timeout < 0 {
		return deadline{}
	}
	return deadline{at: time.Now().Add(timeout), timed: true}
}

func (d *deadline) expired() bool {
	if d.done != nil {
		select {
		case <-d.done:
			return true
		default:
		}
	}
	return d.timed && !time.Now().Before(d.at)
}

// sleep blocks until ch fires or the deadline passes, reporting whether
// ch fired.
func (d *deadline) sleep(ch <-chan struct{}) bool {
	var timer <-chan time.Time
	if d.timed {
		t := time.NewTimer(time.Until(d.at))
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ch:
		return true
	case <-timer:
		return false
	case <-d.done:
		return false
	}
}

// waitQueue is a FIFO condition queue with deadline-bounded waits.
// All methods require the associated mutex to be held.
type waitQueue struct {
	head *lockWaiter
	tail *lockWaiter
}

type lockWaiter struct {
	next *lockWaiter
	ch   chan struct{}
}

// wait enqueues the caller, releases mu while sleeping and reacquires it.
// It reports whether the caller was notified; a notification that races
// with the deadline counts as received.
func (q *waitQueue) wait(mu *sync.Mutex, dl *deadline) bool {
	w := &lockWaiter{ch: make(chan struct{}, 1)}
	if q.tail == nil {
		q.head = w
	} else {
		q.tail.next = w
	}
	q.tail = w

	mu.Unlock()
	dl.sleep(w.ch)
	mu.Lock()

	return !q.remove(w)
}

func (q *waitQueue) remove(w *lockWaiter) bool {
	var prev *lockWaiter
	for curr := q.head; curr != nil; prev, curr = curr, curr.next {
		if curr != w {
			continue
		}
		if prev == nil {
			q.head = curr.next
		} else {
			prev.next = curr.next
		}
		if q.tail == curr {
			q.tail = prev
		}
		return true
	}
	return false
}

func (q *waitQueue) notifyOne() {
	w := q.head
	if w == nil {
		return
	}
	q.head = w.next
	if q.head == nil {
		q.tail = nil
	}
	w.ch <- struct{}{}
}

func (q *waitQueue) notifyAll() {
	for q.head != nil {
		q.notifyOne()
	}
}
