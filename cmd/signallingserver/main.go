package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/cmd/signallingserver/config"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/utils"
)

const shutdownTimeout = 5 * time.Second

func main() {
	pflag.String("config", "config.yaml", "Set the file path to the config file.")
	pflag.String("localaddress", ":8000", "Address the signalling server listens on.")
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
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	mux := http.NewServeMux()
	mux.Handle("GET /ws", networking.NewSignallingRelay(slog.Default().With("component", "relay")))

	listenAddress := viper.GetString("localaddress")
	server := &http.Server{
		Addr:              listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "err", err)
		}
	}()

	slog.Info("starting signalling server", "listenAddress", listenAddress)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error during listen and serve", "err", err)
	}
}
