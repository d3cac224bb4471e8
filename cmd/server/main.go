package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/api"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/config"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/events"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/idempotency"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/repository"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/service"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/utils"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/wallet"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	logger := utils.NewLogger()

	// Set up database connection
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to set up database: %v", err)
	}
	defer db.Close()

	// Create repository
	repo := repository.NewPostgresRepository(db)

	// Create the shared idempotency store
	idem := idempotency.NewStore(repo, cfg.Points.IdempotencyRetention)

	// Balance-changed events fan out to the log and the wallet cache;
	// the cache is the reconciliation counterparty, never authoritative.
	walletCache := wallet.NewCache()
	publisher := events.Fanout{events.NewLogPublisher(logger), walletCache}

	// Create service
	svc := service.NewDefaultService(repo, idem, publisher, walletCache, logger, service.Options{
		DefaultReservationTTL: cfg.Points.DefaultReservationTTL,
		MaxReservationTTL:     cfg.Points.MaxReservationTTL,
		IdempotencyRetention:  cfg.Points.IdempotencyRetention,
	})

	// Start the background expiry sweep
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.NewSweeper(svc, cfg.Points.SweepInterval).Run(ctx)

	// Create API handler
	handler := api.NewHandler(svc, logger)

	// Set up Gin router
	router := gin.Default()
	router.Use(api.RequestIDMiddleware())

	// Set up routes
	handler.SetupRoutes(router)

	// Start server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", serverAddr)
	if err := http.ListenAndServe(serverAddr, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
