package signalling

import (
	"encoding/json"
	"fmt"
)

// An ICE candidate as exchanged between peers.
//
// On the wire this is the nested JSON object {candidate, sdpMLineIndex, sdpMid}
// carried as the data string of an ICECandidateMessage.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

func EncodeCandidate(candidate ICECandidate) (string, error) {
	encoded, err := json.Marshal(candidate)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Decode the data string of an ICECandidateMessage.
// An empty candidate string is accepted, it marks the end of the remote peer's candidates.
func DecodeCandidate(text string) (ICECandidate, error) {
	var candidate ICECandidate
	if err := json.Unmarshal([]byte(text), &candidate); err != nil {
		return ICECandidate{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return candidate, nil
}
