package utils

import (
	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/peer"
)

// Set the viper defaults for a peersession client
// For use in cmd/client, as well as the examples.
func SetViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("pionloglevel", "warn")
	viper.SetDefault("signallingserver", "ws://localhost:8000/ws")
	viper.SetDefault("codecs", []string{"CodecPCMU8000Mono"})
	viper.SetDefault("sdpexchangetimeout", negotiation.DefaultSDPExchangeTimeout)
	viper.SetDefault("connecttimeout", negotiation.DefaultConnectTimeout)
	viper.SetDefault("pollinterval", negotiation.DefaultPollInterval)
	viper.SetDefault("heartbeatperiod", peer.DefaultHeartbeatPeriod)
	viper.SetDefault("media.source", "tone")
	viper.SetDefault("media.wavfile", "")
}
