package longwait

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestUntilReceivesWantValues(t *testing.T) {
	ch := make(chan int, 4)
	ch <- 1
	ch <- 2
	ch <- 3
	var sum int
	err := Until(context.Background(), &Config{PollInterval: time.Millisecond}, ch, 3, func(v int) { sum += v }, nil)
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if sum != 6 {
		t.Fatalf("sum = %d, want 6", sum)
	}
}

func TestUntilInvokesProgressWhileWaiting(t *testing.T) {
	ch := make(chan int)
	var ticks int32
	go func() {
		time.Sleep(5 * time.Millisecond)
		ch <- 1
	}()
	err := Until(context.Background(), &Config{PollInterval: time.Millisecond}, ch, 1, nil, func() {
		atomic.AddInt32(&ticks, 1)
	})
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatal("expected at least one progress tick while waiting")
	}
}

func TestUntilReturnsErrClosed(t *testing.T) {
	ch := make(chan int)
	close(ch)
	err := Until(context.Background(), nil, ch, 1, nil, nil)
	if err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestUntilContextCancel(t *testing.T) {
	ch := make(chan int)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Until(ctx, nil, ch, 1, nil, nil)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDrainNonBlocking(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	var got []int
	n := Drain(ch, func(v int) { got = append(got, v) })
	if n != 2 || len(got) != 2 {
		t.Fatalf("Drain returned n=%d got=%v, want 2 values", n, got)
	}
	if n2 := Drain(ch, nil); n2 != 0 {
		t.Fatalf("second Drain n=%d, want 0", n2)
	}
}
