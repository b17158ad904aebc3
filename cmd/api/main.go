package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tienlen-server/internal/config"
	"tienlen-server/internal/server"
)

func gracefulShutdown(gameServer *server.Server, httpServer *http.Server, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("Shutdown signal received, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gameServer.Shutdown(ctx); err != nil && err != context.DeadlineExceeded {
		log.Printf("Error during game server shutdown: %v", err)
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server forced to shutdown with error: %v", err)
	}

	done <- true
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	port, err := cmd.Flags().GetInt("port")
	if err == nil && port != 0 {
		cfg.Port = port
	}

	gameServer := server.New(cfg)
	gameServer.Start(cmd.Context())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      gameServer.Handler(),
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  time.Minute,
		WriteTimeout: 30 * time.Second,
	}

	done := make(chan bool, 1)
	go gracefulShutdown(gameServer, httpServer, done)

	log.Printf("Listening on :%d", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}

	<-done
	log.Println("Graceful shutdown complete.")
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "tienlen-server",
		Short:        "WebSocket game server for Tien Len",
		RunE:         run,
		SilenceUsage: true,
	}
	rootCmd.Flags().Int("port", 0, "listen port (overrides PORT)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
