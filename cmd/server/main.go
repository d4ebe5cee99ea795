package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tts-batch/internal/batch"
	"tts-batch/internal/config"
	"tts-batch/internal/export"
	"tts-batch/internal/server"
	"tts-batch/internal/snapshot"
	"tts-batch/internal/synth"
	"tts-batch/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	snapshots, closeSnapshots, err := snapshot.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open snapshot backend: %v", err)
	}

	var recorder telemetry.Recorder = telemetry.Nop{}
	var influx *telemetry.Influx
	if cfg.InfluxDB.Enabled() {
		influx, err = telemetry.NewInflux(cfg.InfluxDB.URL, cfg.InfluxDB.Token, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
		if err != nil {
			log.Fatalf("Failed to initialize InfluxDB telemetry: %v", err)
		}
		recorder = influx
	}

	sink, err := newSink(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize export sink: %v", err)
	}

	pollInterval := time.Duration(cfg.TTS.PollIntervalMS) * time.Millisecond
	client := synth.NewClient(cfg.TTS.APIBaseURL, nil, pollInterval)
	batches := batch.NewManager(batch.ManagerOptions{
		Client:       client,
		Snapshots:    snapshots,
		PollInterval: pollInterval,
		MaxRetries:   cfg.TTS.MaxRetries,
		Recorder:     recorder,
	}, batch.NewEventBus(1000))

	if state, resumed, err := batches.Resume(); err != nil {
		log.Printf("[BATCH] Failed to resume persisted batch: %v", err)
	} else if resumed {
		log.Printf("[BATCH] Resumed batch %s with %d tasks", state.ID, len(state.Tasks))
	}

	router := server.SetupRoutes(
		server.NewHandlers(batches, sink),
		server.NewProxy(cfg.TTS.APIBaseURL, nil),
	)

	setupGracefulShutdown(func() {
		batches.Close()
		if influx != nil {
			influx.Close()
		}
		if err := closeSnapshots(); err != nil {
			log.Printf("Failed to close snapshot backend: %v", err)
		}
	})

	addr := cfg.Address()
	log.Printf("Starting server on %s (tts api %s)", addr, cfg.TTS.APIBaseURL)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// newSink uploads archives to S3 when a bucket is configured and writes
// them to the export directory otherwise.
func newSink(cfg *config.ServerConfig) (export.Sink, error) {
	if !cfg.S3.Enabled() {
		return export.NewLocalSink(cfg.ExportDir), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return export.NewS3Sink(ctx, cfg.S3)
}

// setupGracefulShutdown handles cleanup on application termination
func setupGracefulShutdown(cleanup func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down gracefully...")
		cleanup()
		os.Exit(0)
	}()
}
