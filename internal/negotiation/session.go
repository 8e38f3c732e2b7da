package negotiation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

// Session negotiates and supervises a peer connection with a single remote peer,
// starting over after every failed attempt until it is stopped.
//
// Signalling messages are passed in through the On* methods. Everything the session
// produces, for the signalling channel and for the user interface, is read from its
// output channels. Each output channel should have exactly one reader; values are queued
// until read, so a slow reader never blocks negotiation. The channels are closed once
// Run has returned after Stop.
type Session struct {
	engine  Engine
	capture MediaCapture
	config  Config
	logger  *slog.Logger

	mu         sync.Mutex
	running    bool
	stopped    bool
	cancelRun  context.CancelFunc
	runDone    chan struct{}
	current    *attempt
	candidates *candidateBuffer

	connMu    sync.Mutex
	connected bool

	isConnected         *stream[bool]
	connectionStates    *stream[ConnectionState]
	iceConnectionStates *stream[ICEConnectionState]
	readyToConnect      *stream[struct{}]
	offers              *stream[string]
	answers             *stream[string]
	iceCandidates       *stream[signalling.ICECandidate]
	textReceived        *stream[string]
	closeStreamsOnce    sync.Once
}

// NewSession creates a session that creates its peer connections with engine.
// capture may be nil, in which case no local media is sent.
func NewSession(engine Engine, capture MediaCapture, config Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		engine:     engine,
		capture:    capture,
		config:     config.WithDefaults(),
		logger:     logger.With("component", "session"),
		candidates: newCandidateBuffer(),

		isConnected:         newStream[bool](),
		connectionStates:    newStream[ConnectionState](),
		iceConnectionStates: newStream[ICEConnectionState](),
		readyToConnect:      newStream[struct{}](),
		offers:              newStream[string](),
		answers:             newStream[string](),
		iceCandidates:       newStream[signalling.ICECandidate](),
		textReceived:        newStream[string](),
	}
}

// Run negotiates with the remote peer until Stop is called or ctx is canceled,
// starting a new attempt as soon as the previous one fails or disconnects.
//
// Returns nil once stopped. Returns ErrAlreadyRunning if another Run is active,
// and ErrSessionStopped if the session has already been stopped.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancelRun = cancel
	s.runDone = make(chan struct{})
	runDone := s.runDone
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.stopped = true
		s.mu.Unlock()
		s.closeStreams()
		close(runDone)
	}()

	s.logger.Info("running session")
	for {
		err := s.runAttempt(runCtx)
		if runCtx.Err() != nil {
			s.logger.Info("session was canceled")
			return nil
		}
		s.logger.Error("negotiation attempt ended, retrying", "err", err)
	}
}

// Stop cancels the in-flight attempt and waits for Run to return.
// Calling Stop more than once, or before Run, is allowed.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancelRun
	runDone := s.runDone
	running := s.running
	s.mu.Unlock()

	if !running {
		s.closeStreams()
		return
	}
	cancel()
	<-runDone
}

func (s *Session) closeStreams() {
	s.closeStreamsOnce.Do(func() {
		s.isConnected.close()
		s.connectionStates.close()
		s.iceConnectionStates.close()
		s.readyToConnect.close()
		s.offers.close()
		s.answers.close()
		s.iceCandidates.close()
		s.textReceived.close()
	})
}

// Publish connectivity, once per change.
func (s *Session) setConnected(connected bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.connected == connected {
		return
	}
	s.connected = connected
	s.isConnected.push(connected)
}

func (s *Session) currentAttempt() *attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnRoleAssigned delivers the role assigned by the signalling server to the current attempt.
// RoleUnknown fails the attempt with ErrRoleAssignmentFailed.
// A role arriving when one is already set is ignored.
func (s *Session) OnRoleAssigned(role Role) {
	a := s.currentAttempt()
	if a == nil {
		s.logger.Warn("dropping role, no negotiation attempt in progress", "role", role)
		return
	}
	if !a.role.set(role) {
		assigned, _ := a.role.peek()
		a.logger.Warn("ignoring role reassignment", "role", role, "assigned", assigned)
	}
}

func (s *Session) OnOfferReceived(sdp string) {
	s.onRemoteDescription(SessionDescription{Type: SDPTypeOffer, SDP: sdp})
}

func (s *Session) OnAnswerReceived(sdp string) {
	s.onRemoteDescription(SessionDescription{Type: SDPTypeAnswer, SDP: sdp})
}

func (s *Session) onRemoteDescription(desc SessionDescription) {
	a := s.currentAttempt()
	if a == nil {
		s.logger.Warn("dropping remote SDP, no negotiation attempt in progress", "type", desc.Type)
		return
	}
	if !a.remoteDescription.set(desc) {
		a.logger.Warn("ignoring remote SDP, one was already received", "type", desc.Type)
	}
}

// OnICECandidateReceived queues a remote candidate until the remote description is set,
// or applies it straight away once it has been.
func (s *Session) OnICECandidateReceived(candidate signalling.ICECandidate) {
	if s.candidates.enqueueOrForward(candidate) {
		s.logger.Debug("forwarded remote ICE candidate")
		return
	}
	s.logger.Debug("received and enqueued remote ICE candidate")
}

// SendText sends text to the remote peer over the data channel of the current attempt.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	a := s.current
	var pc PeerConnection
	if a != nil {
		pc = a.pc
	}
	s.mu.Unlock()

	if pc == nil || a.closed.Load() {
		return ErrNoActiveAttempt
	}
	return pc.SendText(text)
}

// Emits true once the peer connection is established and false once it is lost.
// Consecutive values always differ.
func (s *Session) IsConnected() <-chan bool {
	return s.isConnected.channel()
}

func (s *Session) ConnectionStates() <-chan ConnectionState {
	return s.connectionStates.channel()
}

func (s *Session) ICEConnectionStates() <-chan ICEConnectionState {
	return s.iceConnectionStates.channel()
}

// Emits once per attempt when the session is ready for the signalling server to assign a role.
func (s *Session) ReadyToConnect() <-chan struct{} {
	return s.readyToConnect.channel()
}

// SDP of local offers to relay to the remote peer.
func (s *Session) OffersToSend() <-chan string {
	return s.offers.channel()
}

// SDP of local answers to relay to the remote peer.
func (s *Session) AnswersToSend() <-chan string {
	return s.answers.channel()
}

func (s *Session) ICECandidatesToSend() <-chan signalling.ICECandidate {
	return s.iceCandidates.channel()
}

// Text received from the remote peer over the data channel.
func (s *Session) TextReceived() <-chan string {
	return s.textReceived.channel()
}
