package negotiation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

const testTimeout = 2 * time.Second

type fakeEngine struct {
	mu     sync.Mutex
	pcs    []*fakePeerConnection
	newErr error
}

func (e *fakeEngine) NewPeerConnection(config PeerConnectionConfig, events Events) (PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		return nil, e.newErr
	}
	pc := &fakePeerConnection{
		index:  len(e.pcs),
		config: config,
		events: events,
		state:  ConnectionStateNew,
	}
	e.pcs = append(e.pcs, pc)
	return pc, nil
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pcs)
}

func (e *fakeEngine) pc(t *testing.T, i int) *fakePeerConnection {
	t.Helper()
	eventually(t, func() bool { return e.count() > i })
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pcs[i]
}

type fakePeerConnection struct {
	index  int
	config PeerConnectionConfig
	events Events

	mu         sync.Mutex
	state      ConnectionState
	local      *SessionDescription
	remote     *SessionDescription
	candidates []string
	tracks     []LocalTrack
	sent       []string
	closes     int

	offerErr error
}

func (pc *fakePeerConnection) AddLocalTrack(track LocalTrack) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.tracks = append(pc.tracks, track)
	return nil
}

func (pc *fakePeerConnection) CreateOffer() (SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.offerErr != nil {
		return SessionDescription{}, pc.offerErr
	}
	return SessionDescription{Type: SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", pc.index)}, nil
}

func (pc *fakePeerConnection) CreateAnswer() (SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.remote == nil {
		return SessionDescription{}, errors.New("no remote description")
	}
	return SessionDescription{Type: SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", pc.index)}, nil
}

func (pc *fakePeerConnection) SetLocalDescription(desc SessionDescription) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.local = &desc
	return nil
}

func (pc *fakePeerConnection) SetRemoteDescription(desc SessionDescription) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closes > 0 {
		return errors.New("peer connection closed")
	}
	pc.remote = &desc
	return nil
}

func (pc *fakePeerConnection) LocalDescription() (SessionDescription, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.local == nil {
		return SessionDescription{}, false
	}
	return *pc.local, true
}

func (pc *fakePeerConnection) RemoteDescriptionSet() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.remote != nil
}

func (pc *fakePeerConnection) AddICECandidate(candidate signalling.ICECandidate) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.remote == nil {
		return errors.New("remote description not set")
	}
	pc.candidates = append(pc.candidates, candidate.Candidate)
	return nil
}

func (pc *fakePeerConnection) ConnectionState() ConnectionState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

func (pc *fakePeerConnection) SendText(text string) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.sent = append(pc.sent, text)
	return nil
}

func (pc *fakePeerConnection) Close() error {
	pc.mu.Lock()
	pc.closes++
	pc.mu.Unlock()
	pc.setState(ConnectionStateClosed)
	return nil
}

// Simulate the engine reporting a connection state change.
func (pc *fakePeerConnection) setState(state ConnectionState) {
	pc.mu.Lock()
	pc.state = state
	pc.mu.Unlock()
	if pc.events.OnConnectionStateChange != nil {
		pc.events.OnConnectionStateChange(state)
	}
}

func (pc *fakePeerConnection) closeCount() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closes
}

func (pc *fakePeerConnection) appliedCandidates() []string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]string(nil), pc.candidates...)
}

func (pc *fakePeerConnection) remoteDescription() (SessionDescription, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.remote == nil {
		return SessionDescription{}, false
	}
	return *pc.remote, true
}

type fakeCapture struct {
	mu     sync.Mutex
	tracks []*fakeTrack
}

func (c *fakeCapture) NewTrack() (CaptureTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	track := &fakeTrack{id: fmt.Sprintf("track-%d", len(c.tracks)), started: make(chan context.Context, 1)}
	c.tracks = append(c.tracks, track)
	return track, nil
}

type fakeTrack struct {
	id      string
	started chan context.Context
}

func (t *fakeTrack) ID() string       { return t.id }
func (t *fakeTrack) StreamID() string { return "stream" }

func (t *fakeTrack) StartCapture(ctx context.Context) error {
	t.started <- ctx
	return nil
}

// A writer safe for concurrent use, so tests can inspect log output while the session runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func candidate(text string) signalling.ICECandidate {
	return signalling.ICECandidate{Candidate: text}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed unexpectedly")
		}
		return v
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for a value")
	}
	var zero T
	return zero
}

func expectNothing[T any](t *testing.T, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(wait):
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", testTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Run the session in the background. The returned channel yields Run's result.
func startSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()
	t.Cleanup(s.Stop)
	return done
}
