package batch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitFlushesAtMaxSize(t *testing.T) {
	var calls int32
	var seenSizes []int
	var mu sync.Mutex
	b := New(&Config{MaxSize: 4, FlushInterval: -1, MaxConcurrency: 1}, func(jobs []int) error {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		seenSizes = append(seenSizes, len(jobs))
		mu.Unlock()
		return nil
	})
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := b.Submit(n).Wait(); err != nil {
				t.Errorf("Wait: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seenSizes) != 1 || seenSizes[0] != 4 {
		t.Fatalf("seenSizes = %v, want [4]", seenSizes)
	}
}

func TestFlushIntervalFiresIncompleteBatch(t *testing.T) {
	var calls int32
	b := New(&Config{MaxSize: 100, FlushInterval: 10 * time.Millisecond}, func(jobs []int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	defer b.Close()

	if err := b.Submit(1).Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestFlushForcesPartialBatch(t *testing.T) {
	var calls int32
	b := New(&Config{MaxSize: 100, FlushInterval: -1}, func(jobs []int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	defer b.Close()

	result := b.Submit(1)
	b.Flush()
	if err := result.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestSubmitAfterCloseErrors(t *testing.T) {
	b := New(&Config{MaxSize: 4}, func(jobs []int) error { return nil })
	b.Close()
	if err := b.Submit(1).Wait(); err == nil {
		t.Fatal("expected error submitting after Close")
	}
}
