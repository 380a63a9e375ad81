package refsync

import (
	"slices"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestFreeList_ZeroValue(t *testing.T) {
	var f FreeList[int]
	if f.Cap() != freeListMaxIndex {
		t.Fatalf("Cap=%d, want %d", f.Cap(), freeListMaxIndex)
	}
	a := f.Alloc()
	b := f.Alloc()
	if a == b {
		t.Fatalf("Alloc returned %d twice", a)
	}
	*f.At(a) = 1
	*f.At(b) = 2
	if *f.At(a) != 1 || *f.At(b) != 2 {
		t.Fatal("slots alias each other")
	}
}

func TestFreeList_ReuseKeepsValue(t *testing.T) {
	f := NewFreeList[string]()
	i := f.Alloc()
	*f.At(i) = "left behind"
	f.Release(i)
	j := f.Alloc()
	if j != i {
		t.Fatalf("Alloc after Release got %d, want %d", j, i)
	}
	if *f.At(j) != "left behind" {
		t.Fatalf("slot value was reset: %q", *f.At(j))
	}
}

func TestFreeList_GrowsAcrossBlocks(t *testing.T) {
	f := NewFreeList[int](WithBlockSizes([4]int{2, 3, 4, 5}))
	if f.Cap() != 14 {
		t.Fatalf("Cap=%d, want 14", f.Cap())
	}
	var got []int
	for range 14 {
		i := f.Alloc()
		*f.At(i) = i * 10
		got = append(got, i)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("fresh list handed out %v, want ascending indices", got)
		}
		if *f.At(v) != v*10 {
			t.Fatalf("slot %d holds %d", v, *f.At(v))
		}
	}
	for b := range freeListBlockCount {
		if f.blocks[b].Load() == nil {
			t.Fatalf("block %d never allocated", b)
		}
	}
}

func TestFreeList_Exhausted(t *testing.T) {
	f := NewFreeList[int](WithBlockSizes([4]int{1, 1, 1, 1}))
	for range 4 {
		f.Alloc()
	}
	defer func() {
		if recover() == nil {
			t.Fatal("Alloc on an exhausted list did not panic")
		}
	}()
	f.Alloc()
}

func TestFreeList_InvalidSizes(t *testing.T) {
	for _, sizes := range [][4]int{
		{0, 1, 1, 1},
		{1, 1, -1, 1},
		{freeListMaxIndex, 1, 1, 1},
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("NewFreeList(%v) did not panic", sizes)
				}
			}()
			NewFreeList[int](WithBlockSizes(sizes))
		}()
	}
}

func TestFreeList_WithMaxIndex(t *testing.T) {
	f := NewFreeList[int](WithMaxIndex(0xffff))
	if f.Cap() != 0xffff {
		t.Fatalf("Cap=%d, want %d", f.Cap(), 0xffff)
	}
	if f.size(3) != 0xffff-1168 {
		t.Fatalf("last block size=%d", f.size(3))
	}
}

func TestFreeList_ConcurrentAllocDistinct(t *testing.T) {
	const workers, per = 8, 200
	f := NewFreeList[int](WithBlockSizes([4]int{16, 128, 1024, 1024}))

	allocAll := func() []int {
		var mu sync.Mutex
		var all []int
		var g errgroup.Group
		for range workers {
			g.Go(func() error {
				local := make([]int, 0, per)
				for range per {
					local = append(local, f.Alloc())
				}
				mu.Lock()
				all = append(all, local...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
		slices.Sort(all)
		return all
	}

	first := allocAll()
	if n := len(slices.Compact(slices.Clone(first))); n != workers*per {
		t.Fatalf("%d distinct indices out of %d", n, workers*per)
	}

	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			for _, i := range first[w*per : (w+1)*per] {
				f.Release(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	second := allocAll()
	if !slices.Equal(first, second) {
		t.Fatal("reallocation did not hand back the released indices")
	}
}

func TestFreeList_ConcurrentChurn(t *testing.T) {
	const workers, loops = 8, 2000
	f := NewFreeList[int](WithBlockSizes([4]int{4, 4, 4, 4}))
	owner := make([]int32, f.Cap())
	var mu sync.Mutex

	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			for range loops {
				i := f.Alloc()
				mu.Lock()
				if owner[i] != 0 {
					mu.Unlock()
					t.Errorf("index %d handed out twice", i)
					return nil
				}
				owner[i] = int32(w + 1)
				mu.Unlock()

				*f.At(i) = w

				mu.Lock()
				owner[i] = 0
				mu.Unlock()
				f.Release(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
