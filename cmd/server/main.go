package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memoryvault.app/memory-vault/internal/api"
	"memoryvault.app/memory-vault/internal/config"
	"memoryvault.app/memory-vault/internal/core"
	"memoryvault.app/memory-vault/internal/gateway"
	"memoryvault.app/memory-vault/internal/media"
	"memoryvault.app/memory-vault/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	preloadFlag := flag.Bool("preload", false, "Load the model at startup instead of on first use")
	flag.Parse()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize media storage
	mediaManager, err := media.NewManager(config.AppConfig.MediaDir)
	if err != nil {
		log.Fatalf("Failed to initialize media storage: %v", err)
	}

	// Initialize model gateway
	gw := gateway.NewGemini(config.AppConfig.GeminiAPIKey)
	defer gw.UnloadModel(context.Background())

	if *preloadFlag {
		log.Printf("Preloading model %s...", config.AppConfig.ModelName)
		if err := gw.LoadModel(context.Background(), config.AppConfig.ModelName, config.AppConfig.UseGPU); err != nil {
			log.Fatalf("Failed to preload model: %v", err)
		}
	}

	// Initialize services
	notesService := core.NewNotesService(dbStore, mediaManager)
	chatService := core.NewChatService(dbStore, gw, config.AppConfig.ModelName, config.AppConfig.UseGPU)
	gamesService := core.NewGamesService(dbStore, gw, config.AppConfig.ModelName, config.AppConfig.UseGPU, nil)
	reminiscenceService := core.NewReminiscenceService(dbStore, gw, config.AppConfig.ModelName, config.AppConfig.UseGPU)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(dbStore, gw, notesService, chatService, gamesService, reminiscenceService,
		config.AppConfig.ModelName, config.AppConfig.UseGPU)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // Generations can take a while
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
