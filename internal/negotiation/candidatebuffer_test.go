package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

type recorder struct {
	mu      sync.Mutex
	applied []string
}

func (r *recorder) apply(c signalling.ICECandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, c.Candidate)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func TestCandidateBufferReplaysQueueBeforeLive(t *testing.T) {
	b := newCandidateBuffer()
	for i := range 3 {
		if b.enqueueOrForward(candidate(fmt.Sprintf("queued-%d", i))) {
			t.Fatalf("candidate forwarded before drain started")
		}
	}

	r := &recorder{}
	drained := make(chan int, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.drainAndSwitchToLive(ctx, r.apply, func(n int) { drained <- n })
	}()

	if n := receive(t, drained); n != 3 {
		t.Fatalf("expected 3 replayed candidates, got %d", n)
	}
	if !b.enqueueOrForward(candidate("live")) {
		t.Fatalf("candidate queued after drain started")
	}
	eventually(t, func() bool { return len(r.snapshot()) == 4 })

	cancel()
	if err := receive(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	want := []string{"queued-0", "queued-1", "queued-2", "live"}
	got := r.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	// Once the drain ends the buffer queues again.
	if b.enqueueOrForward(candidate("after")) {
		t.Fatalf("candidate forwarded after drain ended")
	}
	if n := b.queued(); n != 1 {
		t.Fatalf("expected 1 queued candidate, got %d", n)
	}
}

// Candidates pushed while the drain starts are each applied exactly once,
// and every candidate pushed by one producer keeps its relative order.
func TestCandidateBufferConcurrentEnqueue(t *testing.T) {
	const producers = 4
	const perProducer = 200

	b := newCandidateBuffer()
	r := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				b.enqueueOrForward(candidate(fmt.Sprintf("%d/%d", p, i)))
				if i == perProducer/4 {
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}

	done := make(chan error, 1)
	go func() {
		done <- b.drainAndSwitchToLive(ctx, r.apply, nil)
	}()

	wg.Wait()
	eventually(t, func() bool { return len(r.snapshot())+b.queued() == producers*perProducer })
	// Anything queued now arrived before the drain took the queue, which cannot happen
	// once the drain is running.
	eventually(t, func() bool { return len(r.snapshot()) == producers*perProducer })

	seen := make(map[string]bool)
	next := make([]int, producers)
	for _, c := range r.snapshot() {
		if seen[c] {
			t.Fatalf("candidate %s applied twice", c)
		}
		seen[c] = true
		var p, i int
		if _, err := fmt.Sscanf(c, "%d/%d", &p, &i); err != nil {
			t.Fatalf("unexpected candidate %q", c)
		}
		if i != next[p] {
			t.Fatalf("producer %d: got candidate %d, want %d", p, i, next[p])
		}
		next[p]++
	}

	cancel()
	receive(t, done)
}

func TestCandidateBufferApplyErrorEndsDrain(t *testing.T) {
	b := newCandidateBuffer()
	b.enqueueOrForward(candidate("bad"))

	applyErr := errors.New("malformed candidate")
	err := b.drainAndSwitchToLive(context.Background(), func(signalling.ICECandidate) error {
		return applyErr
	}, nil)
	if !errors.Is(err, applyErr) {
		t.Fatalf("expected apply error, got %v", err)
	}
}

func TestCandidateBufferReset(t *testing.T) {
	b := newCandidateBuffer()
	b.enqueueOrForward(candidate("stale-1"))
	b.enqueueOrForward(candidate("stale-2"))
	b.reset()

	if n := b.queued(); n != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", n)
	}

	r := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	drained := make(chan int, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.drainAndSwitchToLive(ctx, r.apply, func(n int) { drained <- n })
	}()
	if n := receive(t, drained); n != 0 {
		t.Fatalf("expected nothing to replay, got %d", n)
	}
	cancel()
	receive(t, done)
	if got := r.snapshot(); len(got) != 0 {
		t.Fatalf("reset candidates were applied: %v", got)
	}
}
