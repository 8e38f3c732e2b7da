package negotiation

import (
	"context"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

// Holds remote ICE candidates until the remote description is set.
//
// Candidates arriving before the drain starts are queued in arrival order.
// drainAndSwitchToLive takes the queue and opens a live stream under the same lock,
// so every candidate lands either in the taken queue or in the live stream, never both
// and never neither. The drain replays the queue before reading the live stream,
// so queued candidates always reach the engine before live ones.
type candidateBuffer struct {
	mu      sync.Mutex
	pending []signalling.ICECandidate
	live    *stream[signalling.ICECandidate]
}

func newCandidateBuffer() *candidateBuffer {
	return &candidateBuffer{}
}

// Queue the candidate, or hand it to the live drain if one is running.
// Returns true if the candidate went to the live drain.
func (b *candidateBuffer) enqueueOrForward(candidate signalling.ICECandidate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.live != nil && b.live.push(candidate) {
		return true
	}
	b.pending = append(b.pending, candidate)
	return false
}

// Drop all queued candidates and return to buffering mode.
func (b *candidateBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = nil
	if b.live != nil {
		b.live.close()
		b.live = nil
	}
}

func (b *candidateBuffer) queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Replay the queued candidates through apply in arrival order, then keep applying
// newly arriving candidates until ctx is done or apply fails.
//
// onDrained, if not nil, is called with the number of replayed candidates once the
// replay completes.
func (b *candidateBuffer) drainAndSwitchToLive(
	ctx context.Context,
	apply func(signalling.ICECandidate) error,
	onDrained func(int),
) error {
	live := newStream[signalling.ICECandidate]()

	b.mu.Lock()
	queued := b.pending
	b.pending = nil
	if b.live != nil {
		b.live.close()
	}
	b.live = live
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.live == live {
			b.live = nil
		}
		b.mu.Unlock()
		live.close()
	}()

	for _, candidate := range queued {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := apply(candidate); err != nil {
			return err
		}
	}
	if onDrained != nil {
		onDrained(len(queued))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case candidate, ok := <-live.channel():
			if !ok {
				return ctx.Err()
			}
			if err := apply(candidate); err != nil {
				return err
			}
		}
	}
}
