package negotiation

import (
	"context"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

// The kind of a session description.
type SDPType int

const (
	SDPTypeOffer SDPType = iota + 1
	SDPTypeAnswer
)

func (t SDPType) String() string {
	switch t {
	case SDPTypeOffer:
		return "offer"
	case SDPTypeAnswer:
		return "answer"
	default:
		return "unknown"
	}
}

// An SDP offer or answer.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// A NAT traversal (STUN/TURN) server handed to the engine when a peer connection is created.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

type PeerConnectionConfig struct {
	ICEServers []ICEServer
}

// Notifications pushed by the engine. Callbacks may be invoked from any goroutine
// and must not block. Nil callbacks are allowed.
type Events struct {
	OnConnectionStateChange    func(ConnectionState)
	OnICEConnectionStateChange func(ICEConnectionState)

	// Called for each locally generated candidate that should be relayed to the remote peer.
	OnICECandidate func(signalling.ICECandidate)

	// Called for each text message arriving on the application data channel.
	OnTextMessage func(string)
}

// Engine creates peer connections. It is the entry point of the peer connection capability:
// ICE gathering, codecs and transport security all stay behind this interface.
type Engine interface {
	NewPeerConnection(config PeerConnectionConfig, events Events) (PeerConnection, error)
}

// PeerConnection is the handle for a single negotiation attempt.
//
// The negotiator never depends on how the engine gathers candidates, negotiates codecs,
// or secures the transport. It only drives the offer/answer exchange, feeds remote
// candidates, watches the connection state, and closes the handle.
type PeerConnection interface {
	AddLocalTrack(track LocalTrack) error

	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error

	// The local description currently applied, if any.
	LocalDescription() (SessionDescription, bool)
	RemoteDescriptionSet() bool

	AddICECandidate(candidate signalling.ICECandidate) error
	ConnectionState() ConnectionState

	// Send text to the remote peer on the application data channel.
	SendText(text string) error

	Close() error
}

// A local media track. Engines accept only the track implementations they know about.
type LocalTrack interface {
	ID() string
	StreamID() string
}

// MediaCapture is the media collaborator. A track is created for every attempt and
// attached before the offer/answer exchange; capture only starts once the peer
// connection reaches the connected state.
type MediaCapture interface {
	NewTrack() (CaptureTrack, error)
}

type CaptureTrack interface {
	LocalTrack

	// Begin feeding the track. Capture continues in the background until ctx is done.
	StartCapture(ctx context.Context) error
}
