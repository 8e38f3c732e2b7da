package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
)

func toWebRTCSessionDescription(desc negotiation.SessionDescription) (webrtc.SessionDescription, error) {
	switch desc.Type {
	case negotiation.SDPTypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}, nil
	case negotiation.SDPTypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported session description type %s", desc.Type)
	}
}

func fromWebRTCSessionDescription(sd webrtc.SessionDescription) (negotiation.SessionDescription, error) {
	switch sd.Type {
	case webrtc.SDPTypeOffer:
		return negotiation.SessionDescription{Type: negotiation.SDPTypeOffer, SDP: sd.SDP}, nil
	case webrtc.SDPTypeAnswer:
		return negotiation.SessionDescription{Type: negotiation.SDPTypeAnswer, SDP: sd.SDP}, nil
	default:
		return negotiation.SessionDescription{}, fmt.Errorf("unsupported session description type %s", sd.Type)
	}
}

func fromWebRTCConnectionState(pcs webrtc.PeerConnectionState) negotiation.ConnectionState {
	switch pcs {
	case webrtc.PeerConnectionStateConnecting:
		return negotiation.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return negotiation.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return negotiation.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return negotiation.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return negotiation.ConnectionStateClosed
	default:
		return negotiation.ConnectionStateNew
	}
}

func fromWebRTCICEConnectionState(state webrtc.ICEConnectionState) negotiation.ICEConnectionState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return negotiation.ICEConnectionStateChecking
	case webrtc.ICEConnectionStateConnected:
		return negotiation.ICEConnectionStateConnected
	case webrtc.ICEConnectionStateCompleted:
		return negotiation.ICEConnectionStateCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return negotiation.ICEConnectionStateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return negotiation.ICEConnectionStateFailed
	case webrtc.ICEConnectionStateClosed:
		return negotiation.ICEConnectionStateClosed
	default:
		return negotiation.ICEConnectionStateNew
	}
}

func toWebRTCICEServers(servers []negotiation.ICEServer) []webrtc.ICEServer {
	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		iceServer := webrtc.ICEServer{URLs: server.URLs, Username: server.Username}
		if server.Credential != "" {
			iceServer.Credential = server.Credential
		}
		iceServers = append(iceServers, iceServer)
	}
	return iceServers
}
