package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay-service/internal/api/routes"
	"relay-service/internal/config"
	"relay-service/internal/database"
	"relay-service/internal/relay"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present; environment variables win either way
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting relay server")

	// Initialize Redis connection
	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the relay core: hub <-> bridge, presence tracker with sweeper
	hub := relay.NewHub()
	backbone := relay.NewRedisBackbone(ctx, redisClient.GetClient())
	bridge := relay.NewBridge(backbone, hub)
	hub.SetBridge(bridge)
	go bridge.Run()

	presence := relay.NewPresence(hub, cfg.Presence.OfflineThreshold)
	hub.SetPresence(presence)
	go presence.Run(ctx, cfg.Presence.SweepInterval)

	// Initialize router
	router := routes.NewRouter(hub, bridge, presence, redisClient.GetClient())
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	// Stop the sweeper and the bridge, then drain HTTP
	cancel()
	bridge.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
