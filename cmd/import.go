package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/roll-call/internal/config"
	"github.com/kozaktomas/roll-call/internal/database/legacy"
	"github.com/kozaktomas/roll-call/internal/database/postgres"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the student roster from the legacy school database",
	Long: `Read the student roster from the legacy MySQL school database and
upsert it into the identities table. Imported identities start untrained;
signatures are captured separately through the enrollment endpoint.

Existing identities are updated in place, so the command is safe to re-run
after roster changes.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Bool("dry-run", false, "List what would be imported without writing")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Legacy.DSN == "" {
		return errors.New("LEGACY_DATABASE_DSN environment variable is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	dryRun := mustGetBool(cmd, "dry-run")

	legacyPool, err := legacy.NewPool(cfg.Legacy.DSN)
	if err != nil {
		return fmt.Errorf("connecting to legacy database: %w", err)
	}
	defer legacyPool.Close()

	ctx := context.Background()
	students, err := legacyPool.Students(ctx)
	if err != nil {
		return fmt.Errorf("reading legacy roster: %w", err)
	}
	fmt.Printf("Found %d students in the legacy roster\n", len(students))

	// Flag duplicate names within one class/division; they import fine but
	// teachers reviewing summaries will want to know.
	seen := make(map[string]string)
	for _, st := range students {
		key := st.ClassYear + "/" + st.Division + "/" + legacy.NormalizeName(st.Name)
		if other, ok := seen[key]; ok {
			fmt.Printf("Warning: %q (%s) shares a normalized name with %s in %s/%s\n",
				st.Name, st.ID, other, st.ClassYear, st.Division)
			continue
		}
		seen[key] = st.ID
	}

	if dryRun {
		for _, st := range students {
			fmt.Printf("  %s  %-30s %s/%s roll %s\n", st.ID, st.Name, st.ClassYear, st.Division, st.RollNumber)
		}
		return nil
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	repo := postgres.NewSignatureRepository(pool)

	bar := progressbar.NewOptions(len(students),
		progressbar.OptionSetDescription("Importing students"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	imported, failed := 0, 0
	for i := range students {
		if err := repo.UpsertIdentity(ctx, &students[i]); err != nil {
			fmt.Printf("\nError importing %s: %v\n", students[i].ID, err)
			failed++
		} else {
			imported++
		}
		bar.Add(1)
	}

	fmt.Printf("\nImported %d students (%d failed)\n", imported, failed)
	return nil
}
