package negotiation

import "time"

const (
	DefaultSDPExchangeTimeout = 10 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
	DefaultPollInterval       = 100 * time.Millisecond
)

type Config struct {
	// The relay/reflection servers every peer connection is bound to.
	ICEServers []ICEServer

	// How long an attempt waits for the remote description to be set
	// (role assignment included) before failing with ErrSdpExchangeTimedOut.
	SDPExchangeTimeout time.Duration

	// How long after the SDP exchange the peer connection has to reach the connected state.
	ConnectTimeout time.Duration

	// How often the SDP exchange guard checks for the remote description.
	PollInterval time.Duration
}

// WithDefaults returns a copy of the config with zero durations replaced by their defaults.
func (c Config) WithDefaults() Config {
	if c.SDPExchangeTimeout <= 0 {
		c.SDPExchangeTimeout = DefaultSDPExchangeTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

func (c Config) peerConnectionConfig() PeerConnectionConfig {
	servers := make([]ICEServer, len(c.ICEServers))
	copy(servers, c.ICEServers)
	return PeerConnectionConfig{ICEServers: servers}
}
