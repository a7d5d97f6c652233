package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/onvifeye/onvifeye/internal/api"
	"github.com/onvifeye/onvifeye/internal/camera"
	"github.com/onvifeye/onvifeye/internal/capture"
	"github.com/onvifeye/onvifeye/internal/config"
	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/platform/paths"
	"github.com/onvifeye/onvifeye/internal/publish"
)

const shutdownTimeout = 20 * time.Second

func main() {
	configDir := flag.String("config-dir", paths.ResolveConfigDir(), "directory holding onvifeyed.yaml and cameras/*.yaml")
	flag.Parse()

	if err := run(*configDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	appCfg, err := config.LoadApp(filepath.Join(configDir, "onvifeyed.yaml"))
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: appCfg.LogLevel})
	logger := log.WithComponent("main")

	cameraDir := filepath.Join(configDir, "cameras")
	cams, errs := config.LoadCameraDir(cameraDir)
	for _, loadErr := range errs {
		logger.Error().Err(loadErr).Msg("camera config rejected")
	}
	if len(cams) == 0 {
		logger.Warn().Str("dir", cameraDir).Msg("no camera configs loaded; waiting for config changes")
	}
	// Event sinks: in-memory history and the websocket hub always; NATS
	// only when configured, and its absence is never fatal.
	history := api.NewHistory(200)
	hub := api.NewHub()
	defer hub.Close()
	sinks := publish.Fanout{history, hub}
	if appCfg.NatsURL != "" {
		nc, err := nats.Connect(appCfg.NatsURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Warn().Err(err).Str("url", appCfg.NatsURL).Msg("NATS unavailable, lifecycle events stay local")
		} else {
			defer nc.Close()
			sinks = append(sinks, publish.NewNATSPublisher(nc, appCfg.NatsSubject, 3))
			logger.Info().Str("url", appCfg.NatsURL).Str("subject", appCfg.NatsSubject).Msg("publishing lifecycle events to NATS")
		}
	}

	fleet := camera.NewFleet(capture.NewSupervisor(), sinks)
	fleet.Apply(withSaveFolder(cams, appCfg.SaveFolder))
	defer fleet.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	config.WatchCameraDir(ctx, cameraDir, func() {
		cams, errs := config.LoadCameraDir(cameraDir)
		for _, loadErr := range errs {
			logger.Error().Err(loadErr).Msg("camera config rejected on reload")
		}
		logger.Info().Int("cameras", len(cams)).Msg("camera configuration reloaded")
		fleet.Apply(withSaveFolder(cams, appCfg.SaveFolder))
	})

	srv := &http.Server{
		Addr:    appCfg.ListenAddr,
		Handler: api.NewServer(fleet, history, hub).Router(),
	}
	go func() {
		logger.Info().Str("addr", appCfg.ListenAddr).Msg("status API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("status API failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	fleet.Stop()
	return nil
}

// withSaveFolder fills the daemon-wide artifact root into cameras that do
// not override it.
func withSaveFolder(cams []*config.Camera, root string) []*config.Camera {
	for _, cam := range cams {
		if cam.SaveFolder == "" {
			cam.SaveFolder = root
		}
	}
	return cams
}
