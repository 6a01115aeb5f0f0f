package recognize

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/roll-call/internal/constants"
	"github.com/kozaktomas/roll-call/internal/database"
	"github.com/kozaktomas/roll-call/internal/vision"
)

const (
	// hnswMaxNeighbors is the M parameter of the HNSW graph.
	hnswMaxNeighbors = 16

	// hnswSearchK is how many approximate candidates are pulled from the
	// graph before exact rescoring.
	hnswSearchK = 8
)

type galleryEntry struct {
	identityID string
	vector     []float32 // unit length
}

// Snapshot is one immutable view of the enrolled signatures. Matching always
// runs against a single snapshot, so a refresh can never mix old and new
// signatures within one frame.
type Snapshot struct {
	entries []galleryEntry
	byID    map[string][]float32
	index   *hnsw.Graph[string] // nil below the brute-force cutoff
	builtAt time.Time
	skipped int
}

// Size returns the number of signatures in the snapshot.
func (s *Snapshot) Size() int {
	return len(s.entries)
}

// Stats describes the current gallery snapshot.
type Stats struct {
	Identities int       `json:"identities"`
	Signatures int       `json:"signatures"`
	Skipped    int       `json:"skipped"`
	Indexed    bool      `json:"indexed"`
	BuiltAt    time.Time `json:"built_at"`
}

// Gallery holds the current signature snapshot behind an atomic pointer.
// Readers load the pointer once per frame and never block; Refresh builds a
// complete replacement off to the side and swaps it in.
type Gallery struct {
	reader  database.SignatureReader
	version string
	current atomic.Pointer[Snapshot]
}

// NewGallery creates an empty gallery accepting the given signature version.
// The gallery is usable immediately; matching against it yields no matches
// until the first Refresh.
func NewGallery(reader database.SignatureReader, version string) *Gallery {
	g := &Gallery{reader: reader, version: version}
	g.current.Store(&Snapshot{byID: map[string][]float32{}, builtAt: time.Now()})
	return g
}

// Snapshot returns the current snapshot. Never nil.
func (g *Gallery) Snapshot() *Snapshot {
	return g.current.Load()
}

// Refresh reloads all active signatures and atomically replaces the snapshot.
// Rows with a stale version tag, a wrong dimension or a zero vector are
// skipped and counted; they need re-enrollment, not a crash. On error the
// previous snapshot stays in place.
func (g *Gallery) Refresh(ctx context.Context) error {
	sigs, err := g.reader.ActiveSignatures(ctx)
	if err != nil {
		return fmt.Errorf("loading signatures: %w", err)
	}

	snap := &Snapshot{
		entries: make([]galleryEntry, 0, len(sigs)),
		byID:    make(map[string][]float32, len(sigs)),
		builtAt: time.Now(),
	}

	for _, sig := range sigs {
		if sig.Version != g.version {
			log.Printf("gallery: skipping signature %d (identity %s): version %q, want %q",
				sig.ID, sig.IdentityID, sig.Version, g.version)
			snap.skipped++
			continue
		}
		if len(sig.Embedding) != constants.SignatureDim {
			log.Printf("gallery: skipping signature %d (identity %s): dimension %d, want %d",
				sig.ID, sig.IdentityID, len(sig.Embedding), constants.SignatureDim)
			snap.skipped++
			continue
		}
		vec := vision.Normalize(sig.Embedding)
		if vec == nil {
			log.Printf("gallery: skipping signature %d (identity %s): zero vector", sig.ID, sig.IdentityID)
			snap.skipped++
			continue
		}
		snap.entries = append(snap.entries, galleryEntry{identityID: sig.IdentityID, vector: vec})
		snap.byID[sig.IdentityID] = vec
	}

	if len(snap.entries) >= constants.GalleryHNSWMinSize {
		graph := hnsw.NewGraph[string]()
		graph.M = hnswMaxNeighbors
		graph.Ml = 1.0 / float64(hnswMaxNeighbors)
		graph.Distance = hnsw.CosineDistance
		for _, e := range snap.entries {
			graph.Add(hnsw.MakeNode(e.identityID, e.vector))
		}
		snap.index = graph
	}

	g.current.Store(snap)
	log.Printf("gallery: refreshed with %d signatures (%d skipped, indexed=%t)",
		len(snap.entries), snap.skipped, snap.index != nil)
	return nil
}

// Stats returns statistics of the current snapshot. One active signature per
// identity is the invariant of the enrollment writer, so identity and
// signature counts coincide unless the store is inconsistent.
func (g *Gallery) Stats() Stats {
	snap := g.current.Load()
	return Stats{
		Identities: len(snap.byID),
		Signatures: len(snap.entries),
		Skipped:    snap.skipped,
		Indexed:    snap.index != nil,
		BuiltAt:    snap.builtAt,
	}
}

// SaveIndex exports the current HNSW graph to a file for warm starts. A
// snapshot below the index cutoff has nothing to save.
func (g *Gallery) SaveIndex(path string) error {
	snap := g.current.Load()
	if snap.index == nil {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer f.Close()

	if err := snap.index.Export(f); err != nil {
		return fmt.Errorf("exporting index: %w", err)
	}
	return nil
}
