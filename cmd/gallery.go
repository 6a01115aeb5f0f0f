package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/roll-call/internal/config"
	"github.com/kozaktomas/roll-call/internal/constants"
	"github.com/kozaktomas/roll-call/internal/database/postgres"
	"github.com/kozaktomas/roll-call/internal/recognize"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect the signature gallery",
}

var galleryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print gallery statistics",
	Long: `Load the enrolled signatures the way the server does at startup and
print what the gallery would contain: accepted signatures, skipped rows
and whether the snapshot is large enough for an HNSW index.`,
	RunE: runGalleryStats,
}

func init() {
	galleryCmd.AddCommand(galleryStatsCmd)
	rootCmd.AddCommand(galleryCmd)

	galleryStatsCmd.Flags().String("model", "", "Signature version to accept (defaults to the configured vision model)")
}

func runGalleryStats(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	model := mustGetString(cmd, "model")
	if model == "" {
		model = cfg.Vision.Model
	}
	if model == "" {
		model = constants.SignatureVersion
	}

	gallery := recognize.NewGallery(postgres.NewSignatureRepository(pool), model)
	if err := gallery.Refresh(context.Background()); err != nil {
		return fmt.Errorf("loading gallery: %w", err)
	}

	stats := gallery.Stats()
	fmt.Printf("Model:      %s\n", model)
	fmt.Printf("Identities: %d\n", stats.Identities)
	fmt.Printf("Signatures: %d\n", stats.Signatures)
	fmt.Printf("Skipped:    %d\n", stats.Skipped)
	fmt.Printf("Indexed:    %t\n", stats.Indexed)
	return nil
}
