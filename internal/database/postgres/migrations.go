package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/roll-call/internal/constants"
)

// Migrate creates the schema. Statements are idempotent so the command can
// run on every startup.
func Migrate(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createIdentities := `
		CREATE TABLE IF NOT EXISTS identities (
			id           VARCHAR(64) PRIMARY KEY,
			name         VARCHAR(255) NOT NULL,
			roll_number  VARCHAR(32) NOT NULL DEFAULT '',
			class_year   VARCHAR(8) NOT NULL,
			division     VARCHAR(8) NOT NULL,
			is_trained   BOOLEAN NOT NULL DEFAULT FALSE,
			is_active    BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createIdentities); err != nil {
		return fmt.Errorf("failed to create identities table: %w", err)
	}

	createSignatures := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS signatures (
			id           BIGSERIAL PRIMARY KEY,
			identity_id  VARCHAR(64) NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			embedding    vector(%d) NOT NULL,
			version      VARCHAR(32) NOT NULL,
			is_active    BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, constants.SignatureDim)
	if _, err := pool.Exec(ctx, createSignatures); err != nil {
		return fmt.Errorf("failed to create signatures table: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS signatures_active_idx ON signatures(is_active, version)
	`); err != nil {
		return fmt.Errorf("failed to create signatures index: %w", err)
	}

	createSessions := `
		CREATE TABLE IF NOT EXISTS sessions (
			id             UUID PRIMARY KEY,
			class_year     VARCHAR(8) NOT NULL,
			division       VARCHAR(8) NOT NULL,
			subject        VARCHAR(64) NOT NULL,
			period         VARCHAR(64) NOT NULL,
			date           DATE NOT NULL,
			status         VARCHAR(10) NOT NULL DEFAULT 'active',
			started_at     TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			ended_at       TIMESTAMP WITH TIME ZONE,
			total_students INTEGER NOT NULL DEFAULT 0,
			present_count  INTEGER NOT NULL DEFAULT 0,
			absent_count   INTEGER NOT NULL DEFAULT 0,
			notes          TEXT NOT NULL DEFAULT ''
		)
	`
	if _, err := pool.Exec(ctx, createSessions); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS sessions_scope_idx ON sessions(date, class_year, division)
	`); err != nil {
		return fmt.Errorf("failed to create sessions index: %w", err)
	}

	createRecords := `
		CREATE TABLE IF NOT EXISTS attendance_records (
			id             BIGSERIAL PRIMARY KEY,
			session_id     UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			identity_id    VARCHAR(64) NOT NULL REFERENCES identities(id),
			status         VARCHAR(10) NOT NULL,
			confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
			marked_by_face BOOLEAN NOT NULL DEFAULT FALSE,
			marked_at      TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createRecords); err != nil {
		return fmt.Errorf("failed to create attendance_records table: %w", err)
	}

	// The engine's core uniqueness guarantee. The in-process check before
	// insert is advisory only; this index is the actual enforcement across
	// processes sharing one session.
	if _, err := pool.Exec(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS attendance_present_unique_idx
		ON attendance_records(session_id, identity_id) WHERE status = 'present'
	`); err != nil {
		return fmt.Errorf("failed to create present uniqueness index: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS attendance_session_idx ON attendance_records(session_id, status)
	`); err != nil {
		return fmt.Errorf("failed to create attendance index: %w", err)
	}

	return nil
}
