package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

// One run of the negotiation protocol, from setup to teardown.
type attempt struct {
	id     uuid.UUID
	logger *slog.Logger

	pc    PeerConnection
	track CaptureTrack

	// Written once by the signalling side, read by the exchange activities.
	role              *promise[Role]
	remoteDescription *promise[SessionDescription]

	// Connection states as seen by the lifecycle watcher.
	states *stream[ConnectionState]

	exchanged atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func newAttempt(logger *slog.Logger) *attempt {
	id := uuid.New()
	return &attempt{
		id:                id,
		logger:            logger.With("attemptUUID", id.String()),
		role:              newPromise[Role](),
		remoteDescription: newPromise[SessionDescription](),
		states:            newStream[ConnectionState](),
	}
}

// Close the peer connection. Safe to call any number of times, only the first call has an effect.
func (a *attempt) close() {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.states.close()
		if a.pc == nil {
			return
		}
		if err := a.pc.Close(); err != nil {
			a.logger.Warn("error closing peer connection", "err", err)
		}
	})
}

// A canceled context is how abandoned siblings unwind once the scope they run in is done.
// As long as parent is alive that is not a failure of the attempt.
func abandoned(parent context.Context, err error) error {
	if errors.Is(err, context.Canceled) && parent.Err() == nil {
		return nil
	}
	return err
}

func (s *Session) runAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a, err := s.beginAttempt()
	if err != nil {
		return err
	}
	defer s.endAttempt(a)

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.setupAttempt(a); err != nil {
		return err
	}

	if err := s.exchange(attemptCtx, a); err != nil {
		return err
	}
	a.logger.Info("SDP exchanged")

	return s.supervise(attemptCtx, a)
}

// Register a fresh attempt as the current one. Candidates left from a previous attempt are dropped.
func (s *Session) beginAttempt() (*attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, ErrAttemptInProgress
	}
	s.candidates.reset()

	a := newAttempt(s.logger)
	s.current = a
	return a, nil
}

func (s *Session) endAttempt(a *attempt) {
	a.close()

	s.mu.Lock()
	if s.current == a {
		s.current = nil
	}
	s.mu.Unlock()

	s.setConnected(false)
	a.logger.Debug("attempt torn down")
}

func (s *Session) setupAttempt(a *attempt) error {
	a.logger.Info("creating peer connection")

	pc, err := s.engine.NewPeerConnection(s.config.peerConnectionConfig(), s.eventsFor(a))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToCreatePeerConnection, err)
	}
	s.mu.Lock()
	a.pc = pc
	s.mu.Unlock()

	if s.capture == nil {
		return nil
	}
	track, err := s.capture.NewTrack()
	if err != nil {
		return fmt.Errorf("failed to create local track: %w", err)
	}
	if err := pc.AddLocalTrack(track); err != nil {
		return fmt.Errorf("failed to add local track %s: %w", track.ID(), err)
	}
	a.track = track
	return nil
}

// Engine callbacks for one attempt. Events arriving after the attempt is torn down are dropped.
func (s *Session) eventsFor(a *attempt) Events {
	return Events{
		OnConnectionStateChange: func(state ConnectionState) {
			if a.closed.Load() {
				return
			}
			a.logger.Info("connection state has changed", "state", state)
			s.connectionStates.push(state)
			a.states.push(state)
			s.setConnected(state == ConnectionStateConnected)
		},
		OnICEConnectionStateChange: func(state ICEConnectionState) {
			if a.closed.Load() {
				return
			}
			a.logger.Info("ICE connection state has changed", "state", state)
			s.iceConnectionStates.push(state)
		},
		OnICECandidate: func(candidate signalling.ICECandidate) {
			if a.closed.Load() {
				return
			}
			a.logger.Debug("generated local ICE candidate", "candidate", candidate.Candidate)
			s.iceCandidates.push(candidate)
		},
		OnTextMessage: func(text string) {
			s.textReceived.push(text)
		},
	}
}

// Role wait and SDP exchange. Succeeds once a remote description has been set
// and, for the responder, the answer has been sent.
func (s *Session) exchange(ctx context.Context, a *attempt) error {
	exchangeCtx, finish := context.WithCancel(ctx)
	defer finish()

	p := pool.New().WithContext(exchangeCtx).WithCancelOnError().WithFirstError()
	p.Go(func(poolCtx context.Context) error {
		return abandoned(ctx, s.announceAndOffer(poolCtx, a))
	})
	p.Go(func(poolCtx context.Context) error {
		err := s.acceptRemoteDescription(poolCtx, a)
		if err == nil {
			finish()
		}
		return abandoned(ctx, err)
	})
	p.Go(func(poolCtx context.Context) error {
		return abandoned(ctx, s.exchangeGuard(poolCtx, a))
	})

	if err := p.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.exchanged.Load() {
		return ErrSdpExchangeTimedOut
	}
	return nil
}

func (s *Session) announceAndOffer(ctx context.Context, a *attempt) error {
	s.readyToConnect.push(struct{}{})
	a.logger.Info("ready to start connection process")

	role, err := a.role.wait(ctx)
	if err != nil {
		return err
	}
	if role == RoleUnknown {
		return ErrRoleAssignmentFailed
	}
	a.logger.Info("received role", "role", role)

	if role != RoleInitiator {
		return nil
	}

	offer, err := a.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToCreateOfferSdp, err)
	}
	if err := a.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToCreateOfferSdp, err)
	}
	local, ok := a.pc.LocalDescription()
	if !ok || local.SDP == "" {
		return ErrFailedToCreateLocalSdpString
	}

	s.offers.push(local.SDP)
	a.logger.Info("sent offer")
	return nil
}

func (s *Session) acceptRemoteDescription(ctx context.Context, a *attempt) error {
	a.logger.Info("waiting for remote SDP")

	remote, err := a.remoteDescription.wait(ctx)
	if err != nil {
		return err
	}
	if err := a.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFailedToSetRemoteSdp, remote.Type, err)
	}
	a.logger.Info("received remote SDP", "type", remote.Type)

	role, err := a.role.wait(ctx)
	if err != nil {
		return err
	}
	switch role {
	case RoleResponder:
		if err := s.createAndSendAnswer(a); err != nil {
			return err
		}
	case RoleUnknown:
		return ErrRoleAssignmentFailed
	}

	a.exchanged.Store(true)
	return nil
}

func (s *Session) createAndSendAnswer(a *attempt) error {
	answer, err := a.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToCreateAnswerSdp, err)
	}
	if err := a.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToCreateAnswerSdp, err)
	}
	local, ok := a.pc.LocalDescription()
	if !ok || local.SDP == "" {
		return ErrFailedToCreateLocalSdpString
	}

	s.answers.push(local.SDP)
	a.logger.Info("sent answer")
	return nil
}

// Poll until the exchange has completed or its deadline passes.
// The deadline covers everything up to the answer being sent, so a remote
// description that arrives without a role still times out.
func (s *Session) exchangeGuard(ctx context.Context, a *attempt) error {
	deadline := time.NewTimer(s.config.SDPExchangeTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if a.exchanged.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if a.exchanged.Load() {
				return nil
			}
			a.logger.Warn(
				"timed out waiting for SDP exchange",
				"timeout", s.config.SDPExchangeTimeout,
				"remoteDescriptionSet", a.pc.RemoteDescriptionSet(),
			)
			return ErrSdpExchangeTimedOut
		case <-ticker.C:
		}
	}
}

// Connection supervision. Only returns once an activity fails or ctx is done.
func (s *Session) supervise(ctx context.Context, a *attempt) error {
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(poolCtx context.Context) error {
		return abandoned(ctx, s.connectGuard(poolCtx, a))
	})
	p.Go(func(poolCtx context.Context) error {
		return abandoned(ctx, s.watchLifecycle(poolCtx, ctx, a))
	})
	p.Go(func(poolCtx context.Context) error {
		return abandoned(ctx, s.drainCandidates(poolCtx, a))
	})

	if err := p.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Session) connectGuard(ctx context.Context, a *attempt) error {
	timer := time.NewTimer(s.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if state := a.pc.ConnectionState(); state != ConnectionStateConnected {
		a.logger.Warn("peer connection did not connect in time", "state", state, "timeout", s.config.ConnectTimeout)
		return ErrPeerConnectionTimedOut
	}
	return nil
}

// Start capture once connected, then fail the attempt on the first disconnect.
// Capture runs under captureCtx so that it lives as long as the attempt.
func (s *Session) watchLifecycle(ctx, captureCtx context.Context, a *attempt) error {
	connected := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-a.states.channel():
			if !ok {
				return ctx.Err()
			}
			switch state {
			case ConnectionStateConnected:
				if connected {
					continue
				}
				connected = true
				if a.track == nil {
					continue
				}
				if err := a.track.StartCapture(captureCtx); err != nil {
					return fmt.Errorf("failed to start capture on track %s: %w", a.track.ID(), err)
				}
				a.logger.Info("started media capture", "trackID", a.track.ID())
			case ConnectionStateDisconnected, ConnectionStateFailed:
				if connected {
					return fmt.Errorf("%w: connection state %s", ErrPeerDisconnected, state)
				}
			}
		}
	}
}

func (s *Session) drainCandidates(ctx context.Context, a *attempt) error {
	apply := func(candidate signalling.ICECandidate) error {
		if err := a.pc.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToAddICECandidate, err)
		}
		return nil
	}
	onDrained := func(n int) {
		a.logger.Info("processed enqueued ICE candidates", "count", n)
	}
	return s.candidates.drainAndSwitchToLive(ctx, apply, onDrained)
}
