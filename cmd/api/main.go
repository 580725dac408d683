package main

import (
	"context"
	"log"

	"harbor-chat/config"
	"harbor-chat/internal/redis"
	"harbor-chat/internal/repository"
	"harbor-chat/internal/server"
	"harbor-chat/internal/services"
	"harbor-chat/pkg/database"
	"harbor-chat/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	defer l.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	roomCache := redis.NewRoomCacheStore(redisClient, cfg.HistoryTailLimit)
	presenceStore := redis.NewPresenceStore(redisClient)
	verifier := services.NewJWTVerifier(cfg.JWTSecret)

	roomRepo := repository.NewRoomRepository(db)
	participantRepo := repository.NewParticipantRepository(db)

	hub := server.NewHub()

	gateway := services.NewGatewayService(
		roomCache,
		presenceStore,
		verifier,
		hub,
		roomRepo,
		participantRepo,
		services.GatewayConfig{
			FlushBatchSize:      cfg.FlushBatchSize,
			InitialHistoryLimit: cfg.InitialHistoryLimit,
		},
		l,
	)

	// Presence from a previous incarnation is never valid.
	if err := gateway.Reset(context.Background()); err != nil {
		log.Fatalf("Failed to reset presence registry: %v", err)
	}

	srv := server.New(cfg, l, gateway)
	wsHandler := server.NewWebSocketHandler(gateway, hub, l)
	srv.SetupRoutes(wsHandler, verifier, db)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
