package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/cmd/client/config"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/peer"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/utils"
)

func initializePeerFactory(pionLogWriter io.Writer) (*peer.PeerFactory, error) {
	// avoid polluting the main namespace with the options structs

	codecs, err := utils.GetUserAuthorizedCodecs(viper.GetStringSlice("codecs"))
	if err != nil {
		return nil, err
	}
	pionLoggerFactory, err := utils.PionLoggerFactory(viper.GetString("pionloglevel"), pionLogWriter)
	if err != nil {
		return nil, err
	}

	return peer.NewPeerFactory(
		peer.PeerFactoryOptions{
			Codecs:          codecs,
			HeartbeatPeriod: viper.GetDuration("heartbeatperiod"),
			LoggerFactory:   pionLoggerFactory,
		},
		slog.Default().With("component", "peer"),
	)
}

func initializeMediaCapture() (negotiation.MediaCapture, error) {
	logger := slog.Default().With("component", "media")

	switch source := viper.GetString("media.source"); source {
	case "none":
		return nil, nil
	case "tone":
		return media.NewCapture(media.NewToneSource(440), logger), nil
	case "wav":
		wavSource, err := media.NewWAVSource(viper.GetString("media.wavfile"), logger)
		if err != nil {
			return nil, err
		}
		return media.NewCapture(wavSource, logger), nil
	default:
		return nil, fmt.Errorf("unexpected media source %q", source)
	}
}

func initializeSession(pionLogWriter io.Writer) (*negotiation.Session, error) {
	iceServers, err := utils.GetICEServers(viper.GetStringSlice("ICEServers"))
	if err != nil {
		return nil, err
	}
	peerFactory, err := initializePeerFactory(pionLogWriter)
	if err != nil {
		return nil, err
	}
	capture, err := initializeMediaCapture()
	if err != nil {
		return nil, err
	}

	return negotiation.NewSession(
		peerFactory,
		capture,
		negotiation.Config{
			ICEServers:         iceServers,
			SDPExchangeTimeout: viper.GetDuration("sdpexchangetimeout"),
			ConnectTimeout:     viper.GetDuration("connecttimeout"),
			PollInterval:       viper.GetDuration("pollinterval"),
		},
		slog.Default(),
	), nil
}

// Print everything the remote peer says, and changes in connectivity.
func printSessionEvents(session *negotiation.Session) {
	textReceived := session.TextReceived()
	isConnected := session.IsConnected()
	for textReceived != nil || isConnected != nil {
		select {
		case text, ok := <-textReceived:
			if !ok {
				textReceived = nil
				continue
			}
			fmt.Printf("peer: %s\n", text)
		case connected, ok := <-isConnected:
			if !ok {
				isConnected = nil
				continue
			}
			if connected {
				fmt.Println("* connected to peer")
			} else {
				fmt.Println("* not connected to peer")
			}
		}
	}
}

// Send every line typed on stdin to the remote peer.
func sendStdin(session *negotiation.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := session.SendText(line); err != nil {
			fmt.Printf("* message not sent: %v\n", err)
		}
	}
}

func main() {
	pflag.String("config", "config.yaml", "Set the file path to the config file.")
	pflag.Parse()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		panic(err)
	}

	if err := config.LoadConfig(viper.GetString("config")); err != nil {
		slog.Error("error while loading config", "err", err)
		os.Exit(1)
	}
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		os.Exit(1)
	}
	// pion's logs go to the same file as ours, or to stderr
	var pionLogWriter io.Writer
	if logFilePointer != nil {
		defer logFilePointer.Close()
		pionLogWriter = logFilePointer
	}

	// --------------------------------------------------------------------------------

	session, err := initializeSession(pionLogWriter)
	if err != nil {
		slog.Error("error while creating session", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signallingClient, err := networking.DialSignallingServer(
		ctx,
		viper.GetString("signallingserver"),
		"peersession client",
		slog.Default().With("component", "signalling"),
	)
	if err != nil {
		slog.Error("error while connecting to signalling server", "err", err)
		os.Exit(1)
	}

	go printSessionEvents(session)
	go sendStdin(session)

	p := pool.New().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		return session.Run(ctx)
	})
	p.Go(func(ctx context.Context) error {
		err := signallingClient.Run(ctx, session)
		// Without signalling no attempt can succeed
		session.Stop()
		return err
	})
	if err := p.Wait(); err != nil {
		slog.Error("client stopped", "err", err)
		os.Exit(1)
	}
}
