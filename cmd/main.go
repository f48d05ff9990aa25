// Package main provides the entry point for the fireboard2mqtt bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/resident-x/fireboard2mqtt/internal/api"
	"github.com/resident-x/fireboard2mqtt/internal/availability"
	"github.com/resident-x/fireboard2mqtt/internal/config"
	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/resident-x/fireboard2mqtt/internal/fireboard"
	"github.com/resident-x/fireboard2mqtt/internal/homeassistant"
	"github.com/resident-x/fireboard2mqtt/internal/pubsub"
	"github.com/resident-x/fireboard2mqtt/internal/topics"
	"github.com/resident-x/fireboard2mqtt/internal/watcher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

// Process exit codes.
const (
	exitOK          = 0
	exitConfigError = 1
	exitSourceError = 2
	exitSinkError   = 3
)

func main() {
	code := run() // run() returns an int
	os.Exit(code) // os.Exit is called after deferred functions in run() execute
}

func run() int {
	// Parse command line flags
	configFile := flag.String("config", "", "Path to configuration file (environment only when empty)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fireboard2mqtt %s\n", Version)
		return exitOK
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return exitConfigError
	}

	initLogger(cfg.LogLevel)

	log.Info().Str("version", Version).Msg("Starting fireboard2mqtt")
	cfg.Print()

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	go func() {
		select {
		case sig := <-signalChan:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	return serve(ctx, cfg)
}

// serve wires the bridge together and runs it until ctx is done or the sink fails.
func serve(ctx context.Context, cfg *config.Config) int {
	client, err := fireboard.NewClient(fireboard.Config{
		BaseURL:   cfg.Fireboard.APIURL,
		Email:     cfg.FireboardAccount.Email,
		Password:  cfg.FireboardAccount.Password,
		Timeout:   cfg.Fireboard.RequestTimeout,
		UserAgent: "fireboard2mqtt/" + Version,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Fireboard client")
		return exitSourceError
	}

	if err := client.Login(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to log in to Fireboard")
		return exitSourceError
	}
	log.Info().Msg("Logged in to Fireboard")

	namer := topics.New(cfg.MQTT.BaseTopic, cfg.MQTT.DiscoveryTopic)

	discovery, err := homeassistant.New(homeassistant.Config{
		DriveEnabled: cfg.Fireboard.EnableDrive,
		ExpireAfter:  cfg.HomeAssistant.ChannelExpireAfter,
	}, namer)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize Home Assistant discovery")
		return exitConfigError
	}

	transport := pubsub.NewTransport(cfg, namer.BridgeAvailability())
	if err := transport.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to connect to MQTT broker")
		return exitSinkError
	}

	queue := pubsub.NewQueue(transport, cfg.MQTT.QueueSize)
	registry := domain.NewDeviceRegistry()

	poller := watcher.New(watcher.Config{
		DriveEnabled:    cfg.Fireboard.EnableDrive,
		FreshnessWindow: cfg.Poll.FreshnessWindow,
		BaseInterval:    cfg.Poll.BaseInterval,
		IdleInterval:    cfg.Poll.IdleInterval,
	}, namer, client, queue, discovery, registry)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, registry, poller, Version)
		if err := apiServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start HTTP API server")
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return queue.Run(egCtx) })
	eg.Go(func() error { return poller.Run(egCtx) })

	runErr := eg.Wait()

	// Create context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping HTTP API server")
		}
	}

	if runErr == nil {
		// A clean disconnect suppresses the last will, so announce it ourselves.
		offline := domain.Publish(namer.BridgeAvailability(), domain.AtLeastOnce, true, []byte(availability.Offline))
		if err := transport.Execute(shutdownCtx, offline); err != nil {
			log.Error().Err(err).Msg("Failed to announce bridge offline")
		}
	}

	if err := transport.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing MQTT transport")
	}

	if runErr != nil {
		var sinkErr *pubsub.SinkError
		if errors.As(runErr, &sinkErr) {
			log.Error().Err(sinkErr).Msg("MQTT sink failed")
		} else {
			log.Error().Err(runErr).Msg("Bridge stopped with error")
		}
		return exitSinkError
	}

	log.Info().Msg("Bridge stopped")
	return exitOK
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	// Set up pretty console logging for development
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// Parse the log level
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	// Configure global logger
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}
