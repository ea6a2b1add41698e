package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
)

func TestAcquireReleaseCycle(t *testing.T) {
	g := NewMemoryGuard(time.Hour)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, _ = g.Acquire(ctx, 1)
	if ok {
		t.Fatal("second acquire should be refused")
	}
	if err := g.Release(ctx, 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = g.Acquire(ctx, 1)
	if !ok {
		t.Fatal("acquire after explicit clear should succeed")
	}
}

func TestAcquireIndependentPerOrder(t *testing.T) {
	g := NewMemoryGuard(time.Hour)
	ctx := context.Background()
	if ok, _ := g.Acquire(ctx, 1); !ok {
		t.Fatal("order 1")
	}
	if ok, _ := g.Acquire(ctx, 2); !ok {
		t.Fatal("order 2 must not be blocked by order 1")
	}
}

func TestExpiryReopensWindow(t *testing.T) {
	g := NewMemoryGuard(time.Hour)
	base := time.Now()
	g.now = func() time.Time { return base }
	ctx := context.Background()

	if ok, _ := g.Acquire(ctx, 1); !ok {
		t.Fatal("first acquire")
	}
	base = base.Add(2 * time.Hour)
	if ok, _ := g.Acquire(ctx, 1); !ok {
		t.Fatal("acquire after TTL expiry should succeed")
	}
}

// The guard's whole point: N concurrent triggers for one fresh order yield
// exactly one winner. A check-then-set without the lock loses this.
func TestConcurrentAcquireSingleWinner(t *testing.T) {
	g := NewMemoryGuard(time.Hour)
	ctx := context.Background()
	const n = 64

	var wins atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := g.Acquire(ctx, 77); ok {
				wins.Inc()
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}
