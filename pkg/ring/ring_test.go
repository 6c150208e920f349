package ring

import (
	"reflect"
	"sync"
	"testing"
)

func TestRingSnapshotOrder(t *testing.T) {
	r := New[int](3)
	for _, v := range []int{1, 2, 3, 4, 5} {
		r.Push(v)
	}

	got := r.Snapshot()
	want := []int{3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestRingUnderCapacity(t *testing.T) {
	r := New[string](10)
	r.Push("a")
	r.Push("b")

	got := r.Snapshot()
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRingCapInvariant(t *testing.T) {
	r := New[int](5)
	for i := 0; i < 100; i++ {
		r.Push(i)
	}
	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}
	want := []int{95, 96, 97, 98, 99}
	if got := r.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestRingConcurrentPush(t *testing.T) {
	r := New[int](50)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			r.Push(v)
		}(i)
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Len() = %d, want 50", r.Len())
	}
}

func TestRingZeroCapacityClampedToOne(t *testing.T) {
	r := New[int](0)
	r.Push(1)
	r.Push(2)
	if got := r.Snapshot(); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("Snapshot() = %v, want [2]", got)
	}
}
