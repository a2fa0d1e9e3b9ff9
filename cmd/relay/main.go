package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydrodrone/mission/internal/bus"
	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/node"
)

var (
	BuildVersion = "0.0.1"
	BuildDate    = "unknown"
)

const NodeName = "relay"

var (
	configDir = flag.String("config", ".", "Directory containing "+config.FileName)
	listen    = flag.String("listen", "", "HTTP listen address, overrides bus.listen")
)

func main() {
	flag.Parse()

	n := node.Start(NodeName, *configDir)
	n.Logger.Info("Starting up", "version", BuildVersion, "buildDate", BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := serve(ctx, n)
	stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closeErr := n.Close(closeCtx); closeErr != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", closeErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, n *node.Node) error {
	cfg := config.GetBusConfig()
	addr := cfg.Listen
	if *listen != "" {
		addr = *listen
	}

	relay := bus.NewRelay(cfg.Secret, n.Logger)
	server := &http.Server{
		Addr:              addr,
		Handler:           newMux(relay),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		n.Logger.Info("Relay listening", "addr", addr, "secret", cfg.Secret != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		relay.Close()
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	n.Logger.Info("Shutting down relay", "clients", relay.Clients())
	// hijacked websocket connections are not tracked by Shutdown
	relay.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		n.Logger.Warn("HTTP server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			n.Logger.Warn("HTTP server force close error", "error", err)
		}
	}
	return nil
}
