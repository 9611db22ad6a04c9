package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vibecoderz/mentor/internal/cache"
	"github.com/vibecoderz/mentor/internal/config"
	"github.com/vibecoderz/mentor/internal/core"
	"github.com/vibecoderz/mentor/internal/core/decide"
	"github.com/vibecoderz/mentor/internal/core/throttle"
	"github.com/vibecoderz/mentor/internal/driver"
	"github.com/vibecoderz/mentor/internal/generator"
	"github.com/vibecoderz/mentor/internal/logger"
	"github.com/vibecoderz/mentor/internal/memory"
	"github.com/vibecoderz/mentor/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	log, logErr := logger.New(cfg.Server.Mode)
	if logErr != nil {
		panic(logErr)
	}
	defer log.Sync()
	if err != nil {
		log.Info("config file not found, using defaults", "path", cfgPath)
	}

	store := memory.New(cfg.Intervention, log)
	defer store.Close()

	// Redis backs the rolling intervention counter when available; a
	// single instance can run on the in-process counter alone.
	counter := cache.NewMemoryCounter()
	if cfg.Redis.Addr != "" {
		if rc, err := cache.NewRedisCounter(cfg.Redis.Addr, log); err != nil {
			log.Warn("redis unavailable, using in-process counter", "addr", cfg.Redis.Addr, "error", err)
		} else {
			counter = rc
		}
	}
	defer counter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := generator.NewClient(ctx, cfg.Generator)
	if err != nil {
		log.Fatal("failed to initialize generator client", "provider", cfg.Generator.Provider, "error", err)
	}
	retrying := generator.NewRetrying(client, cfg.Generator, log)
	fallbacks := generator.NewFallbacks(cfg.Generator.Fallbacks)

	gate := throttle.New(cfg.Intervention, counter, log)
	decider := decide.New(cfg.Intervention, retrying, fallbacks, nil, log)
	agent := core.NewAgent(cfg, store, gate, decider, log)

	// Knowledge-graph persistence is optional; the core runs without it.
	if cfg.Graph.URI != "" {
		d, err := driver.NewMemgraphDriver(cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, log)
		if err != nil {
			log.Warn("graph database unavailable, concept persistence disabled", "uri", cfg.Graph.URI, "error", err)
		} else {
			defer d.Close(ctx)
			if err := d.BuildIndices(ctx); err != nil {
				log.Warn("failed to build graph indices", "error", err)
			}
			agent.Graph = d
		}
	}

	sweeper := memory.NewSweeper(store, cfg.Retention, log)
	if err := sweeper.Start(); err != nil {
		log.Fatal("failed to start retention sweeper", "error", err)
	}
	defer sweeper.Stop()

	go func() {
		if err := agent.Run(ctx); err != nil {
			log.Warn("agent shutdown incomplete", "error", err)
		}
	}()

	srv := server.New(cfg, agent, store, log)
	r := srv.SetupRouter()

	log.Info("starting server", "port", cfg.Server.Port, "provider", cfg.Generator.Provider)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatal("server exited", "error", err)
	}
}
