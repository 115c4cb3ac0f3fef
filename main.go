package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gosens/adapters/api"
	"gosens/internal/config"
	"gosens/internal/container"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	gin.SetMode(appConfig.Server.GinMode)

	appContainer, err := container.New(appConfig)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}
	defer appContainer.Shutdown()

	server := api.NewServer(appContainer.Service, api.RunDefaults{
		Samples:       appConfig.Run.Samples,
		ProgressEvery: appConfig.Run.ProgressEvery,
		Seed:          appConfig.Run.Seed,
		VariableRange: appConfig.Model.VariableRange,
		OutputRange:   appConfig.Model.OutputRange,
	})

	// Start pprof server for performance profiling
	if appConfig.Server.PprofPort != "" {
		go func() {
			log.Printf("Performance profiling server starting on :%s", appConfig.Server.PprofPort)
			if err := http.ListenAndServe(":"+appConfig.Server.PprofPort, nil); err != nil {
				log.Printf("pprof server failed: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting sensitivity server on port %s (model %s)", appConfig.Server.Port, appConfig.Model.Workbook)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	if appConfig.Run.SaveModel {
		if err := appContainer.SaveModel(); err != nil {
			log.Printf("Failed to save model workbook: %v", err)
		}
	}
}
