package signalling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrUnknownMessageType = errors.New("unknown signalling message type")
	ErrInvalidMessage     = errors.New("invalid signalling message")
)

// The discriminator carried in the "type" field of every signalling message.
type MessageType string

const (
	MessageTypeHello          MessageType = "HelloMessage"
	MessageTypeRole           MessageType = "RoleMessage"
	MessageTypeReadyToConnect MessageType = "ReadyToConnectMessage"
	MessageTypePeerConnected  MessageType = "PeerConnectedMessage"
	MessageTypeOffer          MessageType = "OfferMessage"
	MessageTypeAnswer         MessageType = "AnswerMessage"
	MessageTypeICECandidate   MessageType = "ICECandidateMessage"
)

// The role strings carried by a RoleMessage.
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"
)

// Message is implemented by every typed signalling message.
type Message interface {
	Type() MessageType
}

// Informational greeting. Intercepted by the signalling transport and never passed on to the negotiator.
type HelloMessage struct {
	Message string
}

// Role assignment, sent by the signalling server once both peers are ready to connect.
type RoleMessage struct {
	Role string
}

// Sent by a peer once it wants to begin negotiation.
type ReadyToConnectMessage struct{}

// Sent by the signalling server when both peers are present.
type PeerConnectedMessage struct{}

// Carries an offer, JSON encoded (see EncodeSDP).
type OfferMessage struct {
	Data string
}

// Carries an answer, JSON encoded (see EncodeSDP).
type AnswerMessage struct {
	Data string
}

// Carries an ICE candidate, itself JSON encoded (see EncodeCandidate).
type ICECandidateMessage struct {
	Data string
}

func (HelloMessage) Type() MessageType          { return MessageTypeHello }
func (RoleMessage) Type() MessageType           { return MessageTypeRole }
func (ReadyToConnectMessage) Type() MessageType { return MessageTypeReadyToConnect }
func (PeerConnectedMessage) Type() MessageType  { return MessageTypePeerConnected }
func (OfferMessage) Type() MessageType          { return MessageTypeOffer }
func (AnswerMessage) Type() MessageType         { return MessageTypeAnswer }
func (ICECandidateMessage) Type() MessageType   { return MessageTypeICECandidate }

// The flat JSON shape shared by all messages on the wire.
type wireMessage struct {
	Type    MessageType `json:"type"`
	Message *string     `json:"message,omitempty"`
	Role    *string     `json:"role,omitempty"`
	Data    *string     `json:"data,omitempty"`
}

// Encode a message into the JSON text sent over the signalling channel.
func Encode(msg Message) (string, error) {
	wire := wireMessage{Type: msg.Type()}
	switch m := msg.(type) {
	case HelloMessage:
		wire.Message = &m.Message
	case RoleMessage:
		wire.Role = &m.Role
	case ReadyToConnectMessage, PeerConnectedMessage:
	case OfferMessage:
		wire.Data = &m.Data
	case AnswerMessage:
		wire.Data = &m.Data
	case ICECandidateMessage:
		wire.Data = &m.Data
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
	}

	encoded, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Decode the JSON text of a single signalling message into its typed form.
//
// Messages with an unrecognized type return an error wrapping ErrUnknownMessageType,
// so transports may choose to ignore them. Messages missing a required field
// return an error wrapping ErrInvalidMessage.
func Decode(text string) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))

	var wire wireMessage
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrInvalidMessage)
	}

	switch wire.Type {
	case MessageTypeHello:
		if wire.Message == nil {
			return nil, fmt.Errorf("%w: hello message missing message", ErrInvalidMessage)
		}
		return HelloMessage{Message: *wire.Message}, nil
	case MessageTypeRole:
		if wire.Role == nil {
			return nil, fmt.Errorf("%w: role message missing role", ErrInvalidMessage)
		}
		return RoleMessage{Role: *wire.Role}, nil
	case MessageTypeReadyToConnect:
		return ReadyToConnectMessage{}, nil
	case MessageTypePeerConnected:
		return PeerConnectedMessage{}, nil
	case MessageTypeOffer:
		if wire.Data == nil {
			return nil, fmt.Errorf("%w: offer message missing data", ErrInvalidMessage)
		}
		return OfferMessage{Data: *wire.Data}, nil
	case MessageTypeAnswer:
		if wire.Data == nil {
			return nil, fmt.Errorf("%w: answer message missing data", ErrInvalidMessage)
		}
		return AnswerMessage{Data: *wire.Data}, nil
	case MessageTypeICECandidate:
		if wire.Data == nil {
			return nil, fmt.Errorf("%w: ice candidate message missing data", ErrInvalidMessage)
		}
		return ICECandidateMessage{Data: *wire.Data}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, wire.Type)
	}
}
