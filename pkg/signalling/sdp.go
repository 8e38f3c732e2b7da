package signalling

import (
	"encoding/json"
	"fmt"
)

// The data string of an OfferMessage or AnswerMessage is itself JSON: {"sdp": "<session description>"}.
type sessionDescription struct {
	SDP string `json:"sdp"`
}

func EncodeSDP(sdp string) (string, error) {
	encoded, err := json.Marshal(sessionDescription{SDP: sdp})
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func DecodeSDP(text string) (string, error) {
	var desc sessionDescription
	if err := json.Unmarshal([]byte(text), &desc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if desc.SDP == "" {
		return "", fmt.Errorf("%w: empty sdp", ErrInvalidMessage)
	}
	return desc.SDP, nil
}
