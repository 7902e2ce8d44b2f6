package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
)

const shutdownGrace = 30 * time.Second

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	bootstrapLogger := log.New(os.Stdout, "", log.LstdFlags)
	bootstrapLogger.Printf("GOMAXPROCS=%d", runtime.GOMAXPROCS(0))

	cfg, err := LoadConfig(nil)
	if err != nil {
		bootstrapLogger.Fatalf("config: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	cfg.Print()

	logger := NewLogger(LoggerConfig{Level: LogLevel(cfg.LogLevel), Format: LogFormat(cfg.LogFormat)})
	cfg.LogConfig(logger)

	// The admin store's own persistence is out of scope (spec.md §4.8); a
	// single domain is seeded from config so the engine is usable standalone.
	adminStore := NewMemoryAdminStore(Domain{
		ID:     "default",
		Name:   "*",
		APIKey: cfg.AppKey,
		Active: true,
	})

	server, err := NewServer(cfg, logger, adminStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct server")
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("signal received, shutting down")
	if err := server.Shutdown(shutdownGrace); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
