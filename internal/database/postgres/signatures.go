package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/roll-call/internal/database"
)

// SignatureRepository provides signature and identity storage.
type SignatureRepository struct {
	pool *Pool
}

// NewSignatureRepository creates a new PostgreSQL signature repository.
func NewSignatureRepository(pool *Pool) *SignatureRepository {
	return &SignatureRepository{pool: pool}
}

// ActiveSignatures returns every active signature row. Version filtering is
// left to the gallery so it can count and log skipped rows.
func (r *SignatureRepository) ActiveSignatures(ctx context.Context) ([]database.StoredSignature, error) {
	query := `
		SELECT id, identity_id, embedding, version, is_active, created_at
		FROM signatures
		WHERE is_active = TRUE
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	defer rows.Close()

	var sigs []database.StoredSignature
	for rows.Next() {
		var sig database.StoredSignature
		var embedding pgvector.Vector
		if err := rows.Scan(&sig.ID, &sig.IdentityID, &embedding, &sig.Version, &sig.IsActive, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		sig.Embedding = embedding.Slice()
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signatures: %w", err)
	}

	return sigs, nil
}

// AddSignature retires any active signatures for the identity and inserts a
// new active row, as one transaction. Re-enrollment therefore replaces the
// old signature without deleting history.
func (r *SignatureRepository) AddSignature(ctx context.Context, identityID string, embedding []float32, version string) (int64, error) {
	tx, err := r.pool.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE signatures SET is_active = FALSE WHERE identity_id = $1 AND is_active = TRUE",
		identityID,
	); err != nil {
		return 0, fmt.Errorf("retire signatures: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO signatures (identity_id, embedding, version, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id
	`, identityID, pgvector.NewVector(embedding), version).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert signature: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit signature: %w", err)
	}
	return id, nil
}

// GetIdentity returns one identity by ID.
func (r *SignatureRepository) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	query := `
		SELECT id, name, roll_number, class_year, division, is_trained, is_active, created_at
		FROM identities
		WHERE id = $1
	`

	var ident database.Identity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ident.ID,
		&ident.Name,
		&ident.RollNumber,
		&ident.ClassYear,
		&ident.Division,
		&ident.IsTrained,
		&ident.IsActive,
		&ident.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}

	return &ident, nil
}

// SetTrained flips the enrollment flag for an identity.
func (r *SignatureRepository) SetTrained(ctx context.Context, id string, trained bool) error {
	result, err := r.pool.Exec(ctx, "UPDATE identities SET is_trained = $2 WHERE id = $1", id, trained)
	if err != nil {
		return fmt.Errorf("set trained: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	return nil
}

// CountActive returns the number of active identities in a class/division scope.
func (r *SignatureRepository) CountActive(ctx context.Context, classYear, division string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM identities WHERE is_active = TRUE AND class_year = $1 AND division = $2",
		classYear, division,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// UpsertIdentity inserts or updates an identity row (used by roster import).
func (r *SignatureRepository) UpsertIdentity(ctx context.Context, ident *database.Identity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (id, name, roll_number, class_year, division, is_trained, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			roll_number = EXCLUDED.roll_number,
			class_year = EXCLUDED.class_year,
			division = EXCLUDED.division,
			is_active = EXCLUDED.is_active
	`, ident.ID, ident.Name, ident.RollNumber, ident.ClassYear, ident.Division, ident.IsTrained, ident.IsActive)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}
