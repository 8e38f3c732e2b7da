package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pion/logging"
)

// Log levels accepted by the loglevel config key.
var slogLevels = map[string]slog.Level{
	"error": slog.LevelError,
	"warn":  slog.LevelWarn,
	"info":  slog.LevelInfo,
	"debug": slog.LevelDebug,
}

// Log levels accepted by the pionloglevel config key.
var pionLogLevels = map[string]logging.LogLevel{
	"none":  logging.LogLevelDisabled,
	"error": logging.LogLevelError,
	"warn":  logging.LogLevelWarn,
	"info":  logging.LogLevelInfo,
	"debug": logging.LogLevelDebug,
	"trace": logging.LogLevelTrace,
}

// ConfigureDefaultLogger installs the process-wide slog logger that the session,
// peer factory and signalling components derive their child loggers from.
//
// logLevel is one of "none", "error", "warn", "info", "debug"; "none" discards everything.
// With an empty logFile the logger writes text to stdout. Otherwise logFile is truncated
// and the logger writes JSON to it, and the open file is returned so the caller can close it
// and hand it to PionLoggerFactory, keeping pion's ICE/DTLS/SCTP output next to ours:
//
//	logFilePointer, err := utils.ConfigureDefaultLogger(level, file, slog.HandlerOptions{})
//	...
//	var pionWriter io.Writer
//	if logFilePointer != nil {
//		defer logFilePointer.Close()
//		pionWriter = logFilePointer
//	}
//	pionLoggerFactory, err := utils.PionLoggerFactory(pionLevel, pionWriter)
func ConfigureDefaultLogger(logLevel string, logFile string, loggerOptions slog.HandlerOptions) (*os.File, error) {
	if logLevel == "none" {
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return nil, nil
	}
	level, ok := slogLevels[logLevel]
	if !ok {
		return nil, fmt.Errorf("unexpected log level %q", logLevel)
	}
	loggerOptions.Level = level

	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &loggerOptions)))
		return nil, nil
	}

	logFilePointer, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(logFilePointer, &loggerOptions)))
	return logFilePointer, nil
}

// PionLoggerFactory builds the logger factory handed to peer.PeerFactoryOptions.
//
// pion does not log through slog, so its level is configured separately with one of
// "none", "error", "warn", "info", "debug", "trace". If w is nil, pion writes to stderr.
func PionLoggerFactory(logLevel string, w io.Writer) (logging.LoggerFactory, error) {
	level, ok := pionLogLevels[logLevel]
	if !ok {
		return nil, fmt.Errorf("unexpected pion log level %q", logLevel)
	}

	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = level
	if w != nil {
		factory.Writer = w
	}
	return factory, nil
}
