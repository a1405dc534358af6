// Package main provides the group-sketch server binary. It seeds the room
// registry from configuration and serves websocket game sessions.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/marvindv/group-sketch/internal/config"
	"github.com/marvindv/group-sketch/internal/frontend/ws"
	"github.com/marvindv/group-sketch/internal/game/room"
	"github.com/marvindv/group-sketch/internal/game/words"
	"github.com/marvindv/group-sketch/internal/observability"
	"github.com/marvindv/group-sketch/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting group-sketch server",
		zap.String("ws_addr", cfg.Websocket.Addr()),
		zap.String("ws_path", cfg.Websocket.Path),
	)

	// Load the guess-word list, falling back to the embedded default.
	list := words.DefaultList()
	if cfg.Game.WordsFile != "" {
		wordsStart := time.Now()
		list, err = words.LoadListFromFile(cfg.Game.WordsFile)
		if err != nil {
			logger.Fatal("loading guess words", zap.Error(err))
		}
		logger.Info("guess words loaded",
			zap.String("file", cfg.Game.WordsFile),
			zap.Int("count", len(list)),
			zap.Duration("elapsed", time.Since(wordsStart)),
		)
	}

	registry, err := room.NewRegistry(cfg.Game.Rooms, list, words.NewCryptoSource(), logger)
	if err != nil {
		logger.Fatal("seeding room registry", zap.Error(err))
	}
	logger.Info("room registry seeded",
		zap.Strings("rooms", registry.IDs()),
		zap.Int("words", len(list)),
	)

	acceptor := ws.NewAcceptor(cfg.Websocket, registry, logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			acceptor.Stop()
		},
	})

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("ws_addr", cfg.Websocket.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
