package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/protoscope/internal/analyzer"
	"github.com/danmuck/protoscope/internal/catalog"
	"github.com/danmuck/protoscope/internal/config"
	"github.com/danmuck/protoscope/internal/fuzzer"
	"github.com/danmuck/protoscope/internal/observability"
	"github.com/danmuck/protoscope/internal/server"
)

func main() {
	var (
		addr    = flag.String("addr", ":9000", "HTTP listen address")
		cfgPath = flag.String("config", "", "path to TOML config (defaults when empty)")
		target  = flag.String("target", "", "host:port of the live endpoint for fuzz probes")
		dataDir = flag.String("data", "", "badger directory for catalog snapshots (no persistence when empty)")
	)
	flag.Parse()

	logger := observability.InitLogger("protoscope")

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("config")
		}
		cfg = loaded
	}

	cat := catalog.New(catalog.Options{
		SampleLimit: cfg.SampleLimit,
		Classify:    cfg.Classifier(),
	})

	var store *catalog.Store
	if *dataDir != "" {
		var err error
		store, err = catalog.OpenStore(catalog.StoreConfig{Path: *dataDir})
		if err != nil {
			logger.Fatal().Err(err).Msg("store.open")
		}
		defer store.Close()
		switch err := store.Load(cat); {
		case err == nil:
			logger.Info().Int("actions", cat.Len()).Msg("store.loaded")
		case errors.Is(err, catalog.ErrNoSnapshot):
			logger.Info().Msg("store.empty")
		default:
			logger.Fatal().Err(err).Msg("store.load")
		}
	}

	an := analyzer.New(cat, analyzer.Options{
		ActionKeys: cfg.ActionKeys,
		Classify:   cfg.Classifier(),
	})

	var send fuzzer.Sender
	if *target != "" {
		send = newTCPSender(*target)
	}
	sess := fuzzer.New(cat, send, fuzzer.Options{
		Prefixes:         cfg.Fuzz.Prefixes,
		Suffixes:         cfg.Fuzz.Suffixes,
		FailureThreshold: cfg.Fuzz.FailureThreshold,
		AnomalyThreshold: cfg.Fuzz.AnomalyThreshold,
	})

	srv := server.New(cfg, cat, an, sess)

	errc := make(chan error, 1)
	go func() { errc <- srv.Run(*addr) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errc:
		logger.Fatal().Err(err).Msg("server")
	case <-ctx.Done():
	}

	sess.Stop()
	if store != nil {
		if err := store.Save(cat); err != nil {
			logger.Error().Err(err).Msg("store.save")
			os.Exit(1)
		}
	}
	log.Info().Msg("shutdown")
}
