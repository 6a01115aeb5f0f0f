package recognize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/kozaktomas/roll-call/internal/database"
	"github.com/kozaktomas/roll-call/internal/database/mock"
)

func TestGalleryEmptyBeforeRefresh(t *testing.T) {
	g := NewGallery(mock.NewStore(), "sface-v1")

	if size := g.Snapshot().Size(); size != 0 {
		t.Errorf("Size = %d, want 0", size)
	}
	if result := Match(unitVec(128, 0), g.Snapshot(), 0.4); result.IdentityID != "" {
		t.Errorf("match against empty gallery = %q, want none", result.IdentityID)
	}
}

func TestRefreshFiltersRows(t *testing.T) {
	store := mock.NewStore()
	store.SeedSignature(database.StoredSignature{
		IdentityID: "S1", Embedding: unitVec(128, 0), Version: "sface-v1", IsActive: true,
	})
	store.SeedSignature(database.StoredSignature{
		IdentityID: "S2", Embedding: unitVec(128, 1), Version: "arcface-v1", IsActive: true,
	})
	store.SeedSignature(database.StoredSignature{
		IdentityID: "S3", Embedding: unitVec(64, 0), Version: "sface-v1", IsActive: true,
	})
	store.SeedSignature(database.StoredSignature{
		IdentityID: "S4", Embedding: make([]float32, 128), Version: "sface-v1", IsActive: true,
	})
	store.SeedSignature(database.StoredSignature{
		IdentityID: "S5", Embedding: unitVec(128, 2), Version: "sface-v1", IsActive: false,
	})

	g := NewGallery(store, "sface-v1")
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	stats := g.Stats()
	if stats.Signatures != 1 {
		t.Errorf("Signatures = %d, want 1", stats.Signatures)
	}
	if stats.Identities != 1 {
		t.Errorf("Identities = %d, want 1", stats.Identities)
	}
	if stats.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3 (stale version, wrong dim, zero vector)", stats.Skipped)
	}
	if stats.Indexed {
		t.Error("small snapshot must not build an index")
	}

	if result := Match(unitVec(128, 0), g.Snapshot(), 0.4); result.IdentityID != "S1" {
		t.Errorf("match = %q, want S1", result.IdentityID)
	}
}

func TestRefreshNormalizesStoredVectors(t *testing.T) {
	vec := make([]float32, 128)
	vec[0] = 5 // stored un-normalized

	store := mock.NewStore()
	store.SeedSignature(database.StoredSignature{
		IdentityID: "S1", Embedding: vec, Version: "sface-v1", IsActive: true,
	})

	g := NewGallery(store, "sface-v1")
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	result := Match(unitVec(128, 0), g.Snapshot(), 0.4)
	if result.IdentityID != "S1" {
		t.Fatalf("match = %q, want S1", result.IdentityID)
	}
	if math.Abs(result.Score-1) > 1e-6 {
		t.Errorf("Score = %f, want 1 (stored vector must be unit length)", result.Score)
	}
}

func TestRefreshKeepsOldSnapshotOnError(t *testing.T) {
	store := mock.NewStore()
	store.SeedSignature(database.StoredSignature{
		IdentityID: "S1", Embedding: unitVec(128, 0), Version: "sface-v1", IsActive: true,
	})

	g := NewGallery(store, "sface-v1")
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	before := g.Snapshot()

	store.SignaturesError = errors.New("connection refused")
	if err := g.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	if g.Snapshot() != before {
		t.Error("failed refresh must leave the previous snapshot in place")
	}
	if result := Match(unitVec(128, 0), g.Snapshot(), 0.4); result.IdentityID != "S1" {
		t.Errorf("match after failed refresh = %q, want S1", result.IdentityID)
	}
}

func TestRefreshSwapsSnapshot(t *testing.T) {
	store := mock.NewStore()
	store.SeedSignature(database.StoredSignature{
		IdentityID: "S1", Embedding: unitVec(128, 0), Version: "sface-v1", IsActive: true,
	})

	g := NewGallery(store, "sface-v1")
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// A reader holding the old snapshot keeps a consistent view across a
	// concurrent refresh.
	held := g.Snapshot()

	store.SeedSignature(database.StoredSignature{
		IdentityID: "S2", Embedding: unitVec(128, 1), Version: "sface-v1", IsActive: true,
	})
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}

	if held.Size() != 1 {
		t.Errorf("held snapshot size = %d, want 1", held.Size())
	}
	if g.Snapshot().Size() != 2 {
		t.Errorf("current snapshot size = %d, want 2", g.Snapshot().Size())
	}
}

func TestRefreshBuildsIndexAboveCutoff(t *testing.T) {
	store := mock.NewStore()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 600; i++ {
		vec := make([]float32, 128)
		for j := range vec {
			vec[j] = float32(rng.NormFloat64())
		}
		store.SeedSignature(database.StoredSignature{
			IdentityID: fmt.Sprintf("S%03d", i), Embedding: vec, Version: "sface-v1", IsActive: true,
		})
	}

	g := NewGallery(store, "sface-v1")
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	stats := g.Stats()
	if !stats.Indexed {
		t.Fatalf("snapshot with %d signatures must be indexed", stats.Signatures)
	}

	// Querying with a stored vector must find its own identity.
	snap := g.Snapshot()
	query := snap.byID["S123"]
	result := Match(query, snap, 0.4)
	if result.IdentityID != "S123" {
		t.Errorf("indexed match = %q (score %f), want S123", result.IdentityID, result.Score)
	}
	if result.Score < 0.999 {
		t.Errorf("self-match score = %f, want ~1", result.Score)
	}
}
