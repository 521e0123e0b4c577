package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolRunsEveryJob(t *testing.T) {
	var sum atomic.Int64
	p := New("sum", 3, 100, func(_ context.Context, n int) {
		sum.Add(int64(n))
	})
	p.Start(context.Background())
	for i := 1; i <= 100; i++ {
		if err := p.TrySubmit(i); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	p.Close()
	if got := sum.Load(); got != 5050 {
		t.Fatalf("sum = %d, want 5050", got)
	}
}

func TestTrySubmitReportsFullQueue(t *testing.T) {
	release := make(chan struct{})
	running := make(chan struct{})
	p := New("blocked", 1, 1, func(_ context.Context, _ int) {
		running <- struct{}{}
		<-release
	})
	p.Start(context.Background())

	if err := p.TrySubmit(1); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	<-running
	if err := p.TrySubmit(2); err != nil {
		t.Fatalf("second submit should fill the queue: %v", err)
	}
	if err := p.TrySubmit(3); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third submit err = %v, want ErrQueueFull", err)
	}

	close(release)
	<-running
	p.Close()
	if err := p.TrySubmit(4); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close err = %v, want ErrClosed", err)
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	p := New("panicky", 1, 4, func(_ context.Context, n int) {
		if n == 1 {
			panic("boom")
		}
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})
	p.Start(context.Background())
	p.TrySubmit(1)
	p.TrySubmit(2)
	p.Close()
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("seen = %v, want [2]", seen)
	}
}

func TestOnDepth(t *testing.T) {
	var peak atomic.Int64
	p := New("depth", 1, 8, func(context.Context, int) {})
	p.OnDepth = func(d int) {
		if int64(d) > peak.Load() {
			peak.Store(int64(d))
		}
	}
	for i := 0; i < 5; i++ {
		p.TrySubmit(i)
	}
	p.Start(context.Background())
	p.Close()
	if peak.Load() != 5 {
		t.Fatalf("peak depth = %d, want 5", peak.Load())
	}
}

func TestCloseWithoutStartDropsJobs(t *testing.T) {
	ran := false
	p := New("idle", 1, 2, func(context.Context, int) { ran = true })
	p.TrySubmit(1)
	p.Close()
	if ran {
		t.Fatal("job ran on a pool that was never started")
	}
}
