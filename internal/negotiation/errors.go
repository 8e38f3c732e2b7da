package negotiation

import "errors"

// Errors that end a negotiation attempt. Any of these cause the Session to start a new attempt.
// Cancellation is reported as context.Canceled, and is the only outcome that stops retries.
var (
	ErrFailedToCreatePeerConnection = errors.New("failed to create peer connection object")
	ErrRoleAssignmentFailed         = errors.New("role assignment from signalling server failed")
	ErrSdpExchangeTimedOut          = errors.New("SDP exchange process timed out")
	ErrFailedToCreateOfferSdp       = errors.New("failed to create offer SDP")
	ErrFailedToCreateAnswerSdp      = errors.New("failed to create answer SDP")
	ErrFailedToCreateLocalSdpString = errors.New("failed to obtain local SDP and serialize it to a string")
	ErrFailedToSetRemoteSdp         = errors.New("failed to apply remote SDP")
	ErrFailedToAddICECandidate      = errors.New("failed to add remote ICE candidate")
	ErrPeerConnectionTimedOut       = errors.New("connection to peer timed out and could not be established")
	ErrPeerDisconnected             = errors.New("peer disconnected")
)

// Errors returned by the Session API itself.
var (
	ErrAlreadyRunning    = errors.New("session is already running")
	ErrSessionStopped    = errors.New("session has been stopped")
	ErrAttemptInProgress = errors.New("a negotiation attempt is already in progress")
	ErrNoActiveAttempt   = errors.New("no active negotiation attempt")
)
