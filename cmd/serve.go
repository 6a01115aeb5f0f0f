package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/roll-call/internal/attendance"
	"github.com/kozaktomas/roll-call/internal/config"
	"github.com/kozaktomas/roll-call/internal/database/postgres"
	"github.com/kozaktomas/roll-call/internal/recognize"
	"github.com/kozaktomas/roll-call/internal/vision"
	"github.com/kozaktomas/roll-call/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the Roll Call API server.
The server accepts camera frames for active sessions, matches detected
faces against the enrolled signature gallery and records attendance.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	sigRepo := postgres.NewSignatureRepository(pool)
	sessRepo := postgres.NewSessionRepository(pool)

	client := vision.NewClient(cfg.Vision.URL, cfg.Vision.Model)
	fmt.Printf("Vision service at %s (model %s)\n", cfg.Vision.URL, client.Model())

	gallery := recognize.NewGallery(sigRepo, client.Model())
	fmt.Printf("Loading signature gallery...\n")
	if err := gallery.Refresh(context.Background()); err != nil {
		return fmt.Errorf("building signature gallery: %w", err)
	}
	stats := gallery.Stats()
	fmt.Printf("Gallery ready: %d signatures (%d skipped, indexed=%t)\n",
		stats.Signatures, stats.Skipped, stats.Indexed)

	engine := recognize.NewEngine(gallery, client, client, cfg.ModelCalibration(client.Model()))
	svc := attendance.NewService(sessRepo)

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(host, port, engine, svc, sigRepo, sigRepo, client.Model())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		if path := cfg.Database.HNSWIndexPath; path != "" {
			if err := gallery.SaveIndex(path); err != nil {
				fmt.Printf("Warning: failed to save gallery index: %v\n", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Roll Call API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
