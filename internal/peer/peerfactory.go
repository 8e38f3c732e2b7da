package peer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
)

type PeerFactoryOptions struct {
	// Audio codecs offered on every peer connection, in order of preference.
	// If empty, pion's default codecs are registered.
	Codecs []webrtc.RTPCodecCapability

	// Period between heartbeats on the heartbeat channel. Defaults to DefaultHeartbeatPeriod.
	HeartbeatPeriod time.Duration

	// Logger factory handed to pion. If nil, pion's default logger factory is used.
	LoggerFactory logging.LoggerFactory

	// Network used for ICE. If nil, the host network is used.
	// Tests use this to run peers over a pion/transport virtual network.
	Net transport.Net
}

// PeerFactory creates pion peer connections for the negotiator. It implements negotiation.Engine.
type PeerFactory struct {
	logger *slog.Logger

	api             *webrtc.API
	heartbeatPeriod time.Duration
}

// Create a new PeerFactory.
//
// See https://github.com/pion/webrtc for details on the codec options.
//
// logger allows for a child logger to be used specifically for this factory. Create a child logger like:
// ```go
// childLogger := slog.Default().With(
//
//	slog.Group("PeerFactory"),
//
// )
// ```
// If no logger is given, slog.Default() is used.
func NewPeerFactory(options PeerFactoryOptions, logger *slog.Logger) (*PeerFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine, options.Codecs); err != nil {
		return nil, err
	}

	settingEngine := webrtc.SettingEngine{}
	if options.LoggerFactory != nil {
		settingEngine.LoggerFactory = options.LoggerFactory
	}
	if options.Net != nil {
		settingEngine.SetNet(options.Net)
	}

	heartbeatPeriod := options.HeartbeatPeriod
	if heartbeatPeriod <= 0 {
		heartbeatPeriod = DefaultHeartbeatPeriod
	}

	factory := &PeerFactory{
		logger: logger,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		heartbeatPeriod: heartbeatPeriod,
	}
	return factory, nil
}

// PCMU keeps its static payload type; every other codec gets a dynamic one.
func registerCodecs(mediaEngine *webrtc.MediaEngine, codecs []webrtc.RTPCodecCapability) error {
	if len(codecs) == 0 {
		return mediaEngine.RegisterDefaultCodecs()
	}

	dynamicPayloadType := webrtc.PayloadType(111)
	for _, codec := range codecs {
		payloadType := dynamicPayloadType
		if strings.EqualFold(codec.MimeType, webrtc.MimeTypePCMU) {
			payloadType = 0
		} else {
			dynamicPayloadType++
		}

		err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: codec,
			PayloadType:        payloadType,
		}, webrtc.RTPCodecTypeAudio)
		if err != nil {
			return fmt.Errorf("error registering codec %s/%d/%d: %w", codec.MimeType, codec.ClockRate, codec.Channels, err)
		}
	}
	return nil
}

// NewPeerConnection creates a peer connection with its data and heartbeat channels.
// If anything goes wrong, the connection is closed and a non-nil error is returned.
func (factory *PeerFactory) NewPeerConnection(
	config negotiation.PeerConnectionConfig,
	events negotiation.Events,
) (negotiation.PeerConnection, error) {
	connection, err := factory.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: toWebRTCICEServers(config.ICEServers),
	})
	if err != nil {
		factory.logger.Error("error while creating peer connection", "err", err)
		return nil, err
	}

	core := newPeerCore(connection, events, factory.heartbeatPeriod, factory.logger)
	if err := core.createDataChannels(); err != nil {
		factory.logger.Error("error while creating data channels", "err", err)
		_ = core.Close()
		return nil, err
	}

	return core, nil
}
