package negotiation

import (
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

// Which side of the negotiation produces the offer.
// Roles are assigned by the signalling server, never chosen locally.
type Role int

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

// Parse the role string of a RoleMessage.
func ParseRole(role string) (Role, error) {
	switch role {
	case signalling.RoleInitiator:
		return RoleInitiator, nil
	case signalling.RoleResponder:
		return RoleResponder, nil
	default:
		return RoleUnknown, fmt.Errorf("unrecognized role %q", role)
	}
}

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return signalling.RoleInitiator
	case RoleResponder:
		return signalling.RoleResponder
	default:
		return "unknown"
	}
}
