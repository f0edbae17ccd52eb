// Command bridged runs the gateway bridge daemon: it keeps the websocket
// connection to the remote gateway alive and serves the local HTTP API the
// UI talks to.
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

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clawdesk/clawdesk/internal/api"
	"github.com/clawdesk/clawdesk/internal/bridge"
	"github.com/clawdesk/clawdesk/internal/config"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8400", "local API listen address")
	configDir := flag.String("config-dir", config.DefaultBaseDir(), "config directory")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger, err := buildLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*addr, *configDir, logger); err != nil {
		logger.Fatal("bridged exited", zap.Error(err))
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

func run(addr, configDir string, logger *zap.Logger) error {
	cfgStore, err := config.NewStore(configDir, logger.Named("config"))
	if err != nil {
		return err
	}

	b := bridge.New(cfgStore, logger.Named("bridge"))
	defer b.Close()
	if err := b.Start(); err != nil {
		return err
	}

	r := chi.NewRouter()
	api.NewHandler(b, logger.Named("api")).Mount(r)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("local api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
