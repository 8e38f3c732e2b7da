package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

const (
	DefaultHeartbeatPeriod time.Duration = 5 * time.Second

	dataChannelLabel      = "data"
	heartbeatChannelLabel = "heartbeat"

	// Both channels are negotiated out of band, so each side creates them with fixed IDs
	// before the offer/answer exchange and neither waits on OnDataChannel.
	dataChannelID      uint16 = 0
	heartbeatChannelID uint16 = 1
)

var (
	ErrDataChannelNotOpen = errors.New("data channel is not open")
	ErrUnsupportedTrack   = errors.New("local track is not a pion track")
)

// peerCore wraps a single pion PeerConnection for the lifetime of one negotiation attempt.
//
// The negotiator sees it only through negotiation.PeerConnection. Engine notifications
// are forwarded to the negotiation.Events given at creation; the heartbeat channel is
// handled entirely here and only ever logged.
type peerCore struct {
	logger *slog.Logger

	uuid uuid.UUID

	// Canceled on Close. Heartbeats and RTCP readers stop once it is done.
	ctx           context.Context
	ctxCancelFunc context.CancelFunc

	shutdownOnce sync.Once

	events negotiation.Events

	heartbeatPeriod time.Duration

	// --------------------------------------------------------------------------------
	// Connection related fields

	connection *webrtc.PeerConnection

	// Application text between the two peers
	connectionDataChannel *webrtc.DataChannel

	// Timestamps sent back and forth to measure latency
	connectionHeartbeatDataChannel *webrtc.DataChannel
}

func newPeerCore(
	connection *webrtc.PeerConnection,
	events negotiation.Events,
	heartbeatPeriod time.Duration,
	logger *slog.Logger,
) *peerCore {
	ctx, cancelFunc := context.WithCancel(context.Background())
	core := &peerCore{
		uuid:            uuid.New(),
		connection:      connection,
		events:          events,
		heartbeatPeriod: heartbeatPeriod,
		ctx:             ctx,
		ctxCancelFunc:   cancelFunc,
	}
	core.logger = logger.With(
		"peer uuid", core.uuid,
	)

	connection.OnConnectionStateChange(core.connectionStateChangeHandler)
	connection.OnICEConnectionStateChange(core.iceConnectionStateChangeHandler)
	connection.OnICECandidate(core.iceCandidateHandler)
	connection.OnTrack(core.onTrackHandler)

	return core
}

// Create the negotiated data and heartbeat channels. Must run before the offer or answer is created.
func (core *peerCore) createDataChannels() error {
	negotiated := true

	id := dataChannelID
	dc, err := core.connection.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return fmt.Errorf("error creating %s channel: %w", dataChannelLabel, err)
	}
	core.connectionDataChannel = dc
	dc.OnOpen(func() {
		core.logger.Info("data channel open", "label", dc.Label())
	})
	dc.OnMessage(core.dataOnMessageHandler)

	heartbeatID := heartbeatChannelID
	heartbeat, err := core.connection.CreateDataChannel(heartbeatChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &heartbeatID,
	})
	if err != nil {
		return fmt.Errorf("error creating %s channel: %w", heartbeatChannelLabel, err)
	}
	core.connectionHeartbeatDataChannel = heartbeat
	heartbeat.OnOpen(core.heartbeatOnOpenHandler)
	heartbeat.OnMessage(core.heartbeatOnMessageHandler)

	return nil
}

// --------------------------------------------------------------------------------
// negotiation.PeerConnection

func (core *peerCore) AddLocalTrack(track negotiation.LocalTrack) error {
	trackLocal, ok := track.(webrtc.TrackLocal)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedTrack, track)
	}

	sender, err := core.connection.AddTrack(trackLocal)
	if err != nil {
		return err
	}
	core.logger.Debug("added local track", "track ID", track.ID(), "stream ID", track.StreamID())

	// RTCP must be read for interceptors (NACK, reports) to run
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (core *peerCore) CreateOffer() (negotiation.SessionDescription, error) {
	offer, err := core.connection.CreateOffer(nil)
	if err != nil {
		return negotiation.SessionDescription{}, err
	}
	return fromWebRTCSessionDescription(offer)
}

func (core *peerCore) CreateAnswer() (negotiation.SessionDescription, error) {
	answer, err := core.connection.CreateAnswer(nil)
	if err != nil {
		return negotiation.SessionDescription{}, err
	}
	return fromWebRTCSessionDescription(answer)
}

func (core *peerCore) SetLocalDescription(desc negotiation.SessionDescription) error {
	sd, err := toWebRTCSessionDescription(desc)
	if err != nil {
		return err
	}
	return core.connection.SetLocalDescription(sd)
}

func (core *peerCore) SetRemoteDescription(desc negotiation.SessionDescription) error {
	sd, err := toWebRTCSessionDescription(desc)
	if err != nil {
		return err
	}
	return core.connection.SetRemoteDescription(sd)
}

func (core *peerCore) LocalDescription() (negotiation.SessionDescription, bool) {
	sd := core.connection.LocalDescription()
	if sd == nil {
		return negotiation.SessionDescription{}, false
	}
	desc, err := fromWebRTCSessionDescription(*sd)
	if err != nil {
		return negotiation.SessionDescription{}, false
	}
	return desc, true
}

func (core *peerCore) RemoteDescriptionSet() bool {
	return core.connection.RemoteDescription() != nil
}

func (core *peerCore) AddICECandidate(candidate signalling.ICECandidate) error {
	return core.connection.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (core *peerCore) ConnectionState() negotiation.ConnectionState {
	return fromWebRTCConnectionState(core.connection.ConnectionState())
}

func (core *peerCore) SendText(text string) error {
	dc := core.connectionDataChannel
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrDataChannelNotOpen
	}
	return dc.SendText(text)
}

func (core *peerCore) Close() error {
	var err error
	core.shutdownOnce.Do(func() {
		core.ctxCancelFunc()
		err = core.connection.Close()
	})
	return err
}

// --------------------------------------------------------------------------------
// CONNECTION HANDLERS

func (core *peerCore) connectionStateChangeHandler(pcs webrtc.PeerConnectionState) {
	core.logger.Debug("peer connection state change", "new state", pcs.String())
	if core.events.OnConnectionStateChange != nil {
		core.events.OnConnectionStateChange(fromWebRTCConnectionState(pcs))
	}
}

func (core *peerCore) iceConnectionStateChangeHandler(state webrtc.ICEConnectionState) {
	core.logger.Debug("ICE connection state change", "new state", state.String())
	if core.events.OnICEConnectionStateChange != nil {
		core.events.OnICEConnectionStateChange(fromWebRTCICEConnectionState(state))
	}
}

// A nil candidate marks the end of gathering and is not relayed.
func (core *peerCore) iceCandidateHandler(c *webrtc.ICECandidate) {
	if c == nil {
		core.logger.Debug("ICE gathering complete")
		return
	}
	if core.events.OnICECandidate == nil {
		return
	}
	candidateInit := c.ToJSON()
	core.events.OnICECandidate(signalling.ICECandidate{
		Candidate:     candidateInit.Candidate,
		SDPMLineIndex: candidateInit.SDPMLineIndex,
		SDPMid:        candidateInit.SDPMid,
	})
}

// Remote media is received but not played back, packets are read and discarded.
func (core *peerCore) onTrackHandler(tr *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
	core.logger.Debug(
		"received track",
		"track ID", tr.ID(),
		"track kind", tr.Kind().String(),
		"codec", tr.Codec().MimeType,
	)

	buf := make([]byte, 1500)
	for {
		if _, _, err := tr.Read(buf); err != nil {
			core.logger.Debug("remote track ended", "track ID", tr.ID(), "err", err)
			return
		}
	}
}

func (core *peerCore) dataOnMessageHandler(msg webrtc.DataChannelMessage) {
	if !msg.IsString {
		core.logger.Warn("dropping binary message on data channel", "length", len(msg.Data))
		return
	}
	if core.events.OnTextMessage != nil {
		core.events.OnTextMessage(string(msg.Data))
	}
}

// heartbeat onOpen handler
// Once opened, send a heartbeat message occasionally on the channel
func (core *peerCore) heartbeatOnOpenHandler() {
	heartbeatTicker := time.NewTicker(core.heartbeatPeriod)
	defer heartbeatTicker.Stop()
	for {
		var sendingTimestamp time.Time
		select {
		case <-core.ctx.Done():
			return
		case sendingTimestamp = <-heartbeatTicker.C:
		}

		msg, err := sendingTimestamp.MarshalBinary()
		if err != nil {
			core.logger.Error("error while marshalling sending timestamp to binary", "err", err)
			continue
		}
		core.logger.Debug("sending heartbeat", "sendingTimestamp", sendingTimestamp)
		if err := core.connectionHeartbeatDataChannel.Send(msg); err != nil {
			core.logger.Error("error when sending heartbeat", "err", err)
		}
	}
}

// heartbeat onMessage handler
// Both sides send heartbeats, so a received timestamp is the remote clock at send time.
func (core *peerCore) heartbeatOnMessageHandler(msg webrtc.DataChannelMessage) {
	currentTime := time.Now()

	var sendingTime time.Time
	if err := sendingTime.UnmarshalBinary(msg.Data); err != nil {
		core.logger.Warn("malformed heartbeat", "err", err)
		return
	}

	networkLatency := currentTime.Sub(sendingTime)

	core.logger.Debug(
		"received heartbeat",
		"networkLatency", networkLatency,
		"currentTime", currentTime,
		"sendingTime", sendingTime,
	)
}
