package signalling

import "github.com/google/uuid"

// Identifies one client of the signalling server.
//
// The Uuid is generated by the server when the client connects, so a client
// reconnecting is a new peer as far as role assignment is concerned.
type PeerIdentifier struct {
	Uuid     uuid.UUID
	PublicIP string
}

func NewPeerIdentifier(publicIP string) PeerIdentifier {
	return PeerIdentifier{
		Uuid:     uuid.New(),
		PublicIP: publicIP,
	}
}

func (id PeerIdentifier) String() string {
	return id.Uuid.String()
}
