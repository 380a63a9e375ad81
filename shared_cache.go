package refsync

import "github.com/llxisdsh/pb"

// SharedCache maps keys to objects that stay cached exactly as long as
// somebody owns them.
//
// The cache holds only weak references. Get hands out Shared handles;
// once the last of them for a key is released the payload is torn down
// (Destroy is honored) and its entry evicted.
//
// Concurrent Get calls for the same key construct at most one object:
// the constructor runs while the key's bucket is locked, so it must be
// quick and must not call back into the cache.
type SharedCache[K comparable, T any] struct {
	_ noCopy
	m pb.MapOf[K, *sharedCacheEntry[T]]
}

type sharedCacheEntry[T any] struct {
	weak Weak[T]
}

// Get returns an owner of the live object cached under key, constructing
// it with ctor if there is none. A nil object from ctor is not cached and
// yields an empty handle.
func (c *SharedCache[K, T]) Get(key K, ctor func() *T) Shared[T] {
	var got Shared[T]
	c.m.ProcessEntry(
		key,
		func(l *pb.EntryOf[K, *sharedCacheEntry[T]]) (*pb.EntryOf[K, *sharedCacheEntry[T]], *sharedCacheEntry[T], bool) {
			if l != nil {
				if got = l.Value.weak.ToStrong(); !got.IsNull() {
					return l, l.Value, true
				}
			}
			p := ctor()
			if p == nil {
				return l, nil, false
			}
			e := &sharedCacheEntry[T]{}
			got = NewSharedFunc(p, func(p *T) {
				c.evict(key, e)
				callDestroy(p)
			})
			e.weak = got.ToWeak()
			return &pb.EntryOf[K, *sharedCacheEntry[T]]{Value: e}, e, false
		},
	)
	return got
}

// Load returns an owner of the live object cached under key, or an empty
// handle.
func (c *SharedCache[K, T]) Load(key K) Shared[T] {
	e, ok := c.m.Load(key)
	if !ok {
		return Shared[T]{}
	}
	return e.weak.ToStrong()
}

// Delete forgets key. Owners of the object keep it alive; the next Get
// constructs a fresh one.
func (c *SharedCache[K, T]) Delete(key K) {
	c.m.Delete(key)
}

// Len returns the number of cached entries, including ones whose object
// is being torn down right now.
func (c *SharedCache[K, T]) Len() int {
	return c.m.Size()
}

// evict runs from the deleter of the object behind e.
func (c *SharedCache[K, T]) evict(key K, e *sharedCacheEntry[T]) {
	c.m.ProcessEntry(
		key,
		func(l *pb.EntryOf[K, *sharedCacheEntry[T]]) (*pb.EntryOf[K, *sharedCacheEntry[T]], *sharedCacheEntry[T], bool) {
			if l != nil && l.Value == e {
				return nil, nil, false
			}
			return l, nil, false
		},
	)
	// Release a copy: lock-free Load may still be reading e.weak.
	w := e.weak
	w.Release()
}
